// Package validate holds the request field checks shared by the auth and user
// services. Every check is synchronous and stops at the first violation.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	msgInvalidEmail    = "Invalid email format"
	msgWeakPassword    = "Password must be at least 8 characters and include uppercase, lowercase and number"
	msgPasswordTooLong = "Password must be at most 72 bytes"
	msgInvalidIdentity = "Invalid UUID format"

	// MaxPasswordBytes is the longest input bcrypt will hash.
	MaxPasswordBytes = 72
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	lowerPattern = regexp.MustCompile(`[a-z]`)
	upperPattern = regexp.MustCompile(`[A-Z]`)
	digitPattern = regexp.MustCompile(`[0-9]`)
)

// ValidationError reports malformed or missing client input. The message is
// safe to return to the caller as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Errorf builds a ValidationError from a format string.
func Errorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// RequireFields fails on the first field that is absent, nil or empty.
func RequireFields(payload map[string]any, fields ...string) error {
	for _, field := range fields {
		value, ok := payload[field]
		if !ok {
			return Errorf("%s is required", field)
		}
		if err := validation.Validate(value, validation.Required); err != nil {
			return Errorf("%s is required", field)
		}
	}
	return nil
}

// Email checks the local@domain.tld shape.
func Email(value string) error {
	return check(value,
		validation.Required.Error(msgInvalidEmail),
		validation.Match(emailPattern).Error(msgInvalidEmail),
	)
}

// Password requires at least 8 characters with one lowercase letter, one
// uppercase letter and one digit, and at most MaxPasswordBytes bytes.
func Password(value string) error {
	return check(value,
		validation.Required.Error(msgWeakPassword),
		validation.RuneLength(8, 0).Error(msgWeakPassword),
		validation.Length(0, MaxPasswordBytes).Error(msgPasswordTooLong),
		validation.Match(lowerPattern).Error(msgWeakPassword),
		validation.Match(upperPattern).Error(msgWeakPassword),
		validation.Match(digitPattern).Error(msgWeakPassword),
	)
}

// Identifier accepts the canonical lower-case UUID v4 text form.
func Identifier(value string) error {
	return check(value,
		validation.Required.Error(msgInvalidIdentity),
		is.UUIDv4.Error(msgInvalidIdentity),
	)
}

// Length checks that value has between min and max characters inclusive.
func Length(value string, min, max int, label string) error {
	if label == "" {
		label = "Field"
	}
	msg := fmt.Sprintf("%s must be between %d and %d characters", label, min, max)
	// ozzo skips empty values, so the lower bound needs its own rule.
	if min > 0 && utf8.RuneCountInString(value) == 0 {
		return &ValidationError{Message: msg}
	}
	return check(value, validation.RuneLength(min, max).Error(msg))
}

// SanitizeString trims surrounding whitespace.
func SanitizeString(value string) string {
	return strings.TrimSpace(value)
}

// Sanitize trims strings and returns any other value unchanged.
func Sanitize(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return SanitizeString(s)
}

func check(value string, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}
