package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	principal.Roles = normalizeRoles(principal.Roles)
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ActorID returns the principal's user id, or "" for anonymous contexts.
func ActorID(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ""
	}
	return p.UserID
}
