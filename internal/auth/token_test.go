package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTokenServiceIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewTokenService("test-secret", WithIssuer("test-issuer"), WithTokenClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, exp, err := svc.Issue("user-42", []string{"Admin", "user", "admin"}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected default 1h ttl, got %v", exp)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" || claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "user") {
		t.Fatalf("roles not normalized: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
}

func TestTokenServiceExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	svc, _ := NewTokenService("test-secret", WithTokenClock(func() time.Time { return clock }))

	token, _, err := svc.Issue("user-1", nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = now.Add(59 * time.Second)
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("expected valid token before expiry: %v", err)
	}

	clock = now.Add(time.Minute)
	_, err = svc.Verify(token)
	var terr *TokenError
	if !errors.As(err, &terr) || terr.Kind != TokenExpired {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestTokenServiceRejectsTampering(t *testing.T) {
	svc, _ := NewTokenService("test-secret")
	other, _ := NewTokenService("other-secret")

	token, _, err := svc.Issue("user-1", []string{"user"}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	foreign, _, _ := other.Issue("user-1", []string{"admin"}, 0)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"tampered":  tampered,
		"foreign":   foreign,
		"alg none":  unsigned,
		"truncated": parts[0] + "." + parts[1],
	} {
		_, err := svc.Verify(tok)
		var terr *TokenError
		if !errors.As(err, &terr) || terr.Kind != TokenMalformed {
			t.Fatalf("%s: expected malformed token error, got %v", name, err)
		}
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("  ")
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
