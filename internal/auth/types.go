package auth

import (
	"slices"
	"strings"
	"time"
)

// Role names seeded at initialization.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a stored account. PasswordHash never leaves the process.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the client-facing view of a User.
type PublicUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Public strips the credential fields.
func (u *User) Public() PublicUser {
	if u == nil {
		return PublicUser{}
	}
	return PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Role groups users for access checks.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// HasAnyRole reports whether the principal holds at least one of roles.
// An empty set matches any principal.
func (p Principal) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if slices.Contains(p.Roles, strings.ToLower(strings.TrimSpace(r))) {
			return true
		}
	}
	return false
}

// Session is what Register and Login hand back to the client.
type Session struct {
	User      PublicUser `json:"user"`
	Roles     []string   `json:"roles"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// RoleNames extracts names in order.
func RoleNames(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

// normalizeRoles lower-cases, trims and de-duplicates role names.
func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
