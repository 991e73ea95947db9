package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"starterkit.dev/internal/audit"
	"starterkit.dev/internal/obs"
	"starterkit.dev/internal/validate"
)

// msgEmailTaken is shared by the pre-check and the lost-race path.
const msgEmailTaken = "Email already registered"

// Service runs registration, login and bearer token authentication against
// the credential store.
type Service struct {
	store  Store
	hasher *Hasher
	tokens *TokenService
	now    func() time.Time
	newID  func() string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock must not be nil")
		}
		s.now = now
		return nil
	}
}

// WithIDGenerator overrides how user identifiers are minted.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) error {
		if fn == nil {
			return errors.New("auth: id generator must not be nil")
		}
		s.newID = fn
		return nil
	}
}

// NewService wires the pipeline. All three collaborators are required.
func NewService(store Store, hasher *Hasher, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, &ConfigurationError{Message: "auth service requires a store, hasher and token service"}
	}
	s := &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the token service, e.g. for issuing seed credentials.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Hasher exposes the password hasher.
func (s *Service) Hasher() *Hasher { return s.hasher }

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput is the login payload.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an active user holding the default role, records
// USER_REGISTERED and returns a session. User, role link and audit entry are
// written in one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	session, err := s.register(ctx, in)
	obs.RecordAuthEvent("register", outcome(err))
	return session, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := validate.RequireFields(map[string]any{
		"name":     in.Name,
		"email":    in.Email,
		"password": in.Password,
	}, "name", "email", "password"); err != nil {
		return nil, err
	}
	name := validate.SanitizeString(in.Name)
	email := NormalizeEmail(in.Email)
	if err := validate.Length(name, 1, 100, "Name"); err != nil {
		return nil, err
	}
	if err := validate.Email(email); err != nil {
		return nil, err
	}
	if err := validate.Password(in.Password); err != nil {
		return nil, err
	}

	_, err := s.store.Users().FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, &ConflictError{Message: msgEmailTaken}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("auth: lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		session *Session
		entry   *audit.Entry
	)
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			// Lost the race against a concurrent registration.
			if IsUniqueViolation(err) {
				return &ConflictError{Message: msgEmailTaken}
			}
			return fmt.Errorf("auth: create user: %w", err)
		}
		role, err := tx.Roles().FindByName(ctx, RoleUser)
		if errors.Is(err, ErrNotFound) {
			return &ConfigurationError{Message: fmt.Sprintf("default role %q is not seeded", RoleUser)}
		}
		if err != nil {
			return fmt.Errorf("auth: load default role: %w", err)
		}
		if err := tx.Roles().Assign(ctx, user.ID, role.ID); err != nil {
			return fmt.Errorf("auth: assign default role: %w", err)
		}
		entry = audit.NewEntry(ctx, user.ID, audit.ActionUserRegistered, map[string]any{"email": email})
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return fmt.Errorf("auth: append audit entry: %w", err)
		}
		roles := []string{role.Name}
		token, exp, err := s.tokens.Issue(user.ID, roles, 0)
		if err != nil {
			return err
		}
		session = &Session{User: user.Public(), Roles: roles, Token: token, ExpiresAt: exp}
		return nil
	})
	if err != nil {
		return nil, err
	}
	audit.LogEvent(ctx, entry)
	return session, nil
}

// Login checks credentials and returns a session carrying the user's roles.
// Unknown email and wrong password fail identically.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	session, err := s.login(ctx, in)
	obs.RecordAuthEvent("login", outcome(err))
	return session, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*Session, error) {
	if err := validate.RequireFields(map[string]any{
		"email":    in.Email,
		"password": in.Password,
	}, "email", "password"); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)
	if err := validate.Email(email); err != nil {
		return nil, err
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Burn(in.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup email: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	roles, err := s.store.Roles().ForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: load roles: %w", err)
	}
	names := normalizeRoles(RoleNames(roles))
	token, exp, err := s.tokens.Issue(user.ID, names, 0)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.store.Audit(), audit.NewEntry(ctx, user.ID, audit.ActionUserLoggedIn, map[string]any{"email": user.Email}))

	return &Session{User: user.Public(), Roles: names, Token: token, ExpiresAt: exp}, nil
}

// Authenticate verifies a bearer token and resolves the caller's current
// roles from the store. Role claims inside the token are not trusted.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		obs.RecordAuthEvent("authenticate", "denied")
		return Principal{}, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		obs.RecordAuthEvent("authenticate", "denied")
		return Principal{}, &TokenError{Kind: TokenMalformed, Err: errors.New("subject no longer exists")}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("auth: load subject: %w", err)
	}
	if !user.IsActive {
		obs.RecordAuthEvent("authenticate", "denied")
		return Principal{}, ErrAccountDeactivated
	}
	roles, err := s.store.Roles().ForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: load roles: %w", err)
	}
	return Principal{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  normalizeRoles(RoleNames(roles)),
	}, nil
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(validate.SanitizeString(email))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		verr *validate.ValidationError
		aerr *AuthError
		cerr *ConflictError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &cerr):
		return "rejected"
	case errors.As(err, &aerr):
		return "denied"
	default:
		return "error"
	}
}
