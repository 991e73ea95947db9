package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = time.Hour
	defaultIssuer   = "starterkit"
)

// Claims are the verified contents of an access token.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithDefaultTTL sets the lifetime used when Issue gets a non-positive ttl.
func WithDefaultTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService fails with a ConfigurationError when secret is empty.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, &ConfigurationError{Message: "token signing secret is not set"}
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultTTL reports the lifetime used when Issue is given none.
func (s *TokenService) DefaultTTL() time.Duration { return s.ttl }

// Issue signs a token for subject carrying roles. ttl <= 0 uses the default.
func (s *TokenService) Issue(subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("auth: token subject is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry. Claims are only
// returned when every check passed.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &TokenError{Kind: TokenMalformed, Err: errors.New("empty token")}
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &TokenError{Kind: TokenExpired, Err: err}
		}
		return nil, &TokenError{Kind: TokenMalformed, Err: err}
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, &TokenError{Kind: TokenMalformed, Err: errors.New("missing subject")}
	}
	return claims, nil
}
