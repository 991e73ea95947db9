package auth

import (
	"errors"
	"net/http"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("auth: not found")

// AuthError is a credential, token or role failure. Status is the HTTP status
// the caller should see.
type AuthError struct {
	Message string
	Status  int
}

func (e *AuthError) Error() string { return e.Message }

func unauthorized(msg string) *AuthError {
	return &AuthError{Message: msg, Status: http.StatusUnauthorized}
}

func forbidden(msg string) *AuthError {
	return &AuthError{Message: msg, Status: http.StatusForbidden}
}

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = unauthorized("Invalid credentials")
	ErrAccountDeactivated = forbidden("Account is deactivated")
	ErrNoToken            = unauthorized("No token provided")
	ErrInvalidToken       = unauthorized("Invalid or expired token")
	ErrInsufficientRole   = forbidden("Insufficient role")
)

// ConflictError means a uniqueness rule is already satisfied by another row.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError is the client-facing form of ErrNotFound.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConfigurationError is an operator problem: missing seed data or secret.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Message }

// TokenErrorKind distinguishes expiry from everything else.
type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota
	TokenExpired
)

func (k TokenErrorKind) String() string {
	if k == TokenExpired {
		return "expired"
	}
	return "malformed"
}

// TokenError is returned by TokenService.Verify.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + e.Kind.String()
	}
	return "token " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error { return e.Err }

// ConstraintKind classifies store integrity violations.
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota + 1
	ConstraintForeignKey
	ConstraintNotNull
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign key"
	case ConstraintNotNull:
		return "not null"
	default:
		return "unknown"
	}
}

// ConstraintError is how stores report integrity violations without leaking
// driver error codes.
type ConstraintError struct {
	Kind       ConstraintKind
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	msg := e.Kind.String() + " constraint violated"
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	return msg
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// IsUniqueViolation reports whether err carries a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Kind == ConstraintUnique
}
