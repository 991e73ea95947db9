package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"starterkit.dev/internal/auth"
)

const authHeader = "Authorization"

// withAuth admits requests carrying a valid bearer token for an active user
// and attaches the caller's principal to the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			a.fail(w, r, auth.ErrNoToken)
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			var terr *auth.TokenError
			if errors.As(err, &terr) {
				err = auth.ErrInvalidToken
			}
			a.fail(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole admits callers holding at least one of roles. With no roles any
// authenticated caller passes. It must run after withAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeFailure(w, r, auth.ErrNoToken, false)
				return
			}
			if !principal.HasAnyRole(roles...) {
				writeFailure(w, r, auth.ErrInsufficientRole, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken accepts exactly "Bearer <token>", scheme case-insensitive.
func extractBearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
