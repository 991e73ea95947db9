// Package users implements account administration on top of the credential
// store. Every mutation writes its audit entry in the same transaction.
package users

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"starterkit.dev/internal/audit"
	"starterkit.dev/internal/auth"
	"starterkit.dev/internal/validate"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	DefaultAuditLimit = 50
	MaxAuditLimit     = 500

	msgUserNotFound = "User not found"
)

// Service administers user accounts.
type Service struct {
	store auth.Store
}

// NewService returns a Service over store.
func NewService(store auth.Store) *Service {
	return &Service{store: store}
}

// Page is one slice of the user list.
type Page struct {
	Users      []auth.PublicUser
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// UpdateInput replaces name and email; IsActive is left unchanged when nil.
type UpdateInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive *bool  `json:"is_active"`
}

// List returns users newest first. page and limit are clamped to sane values;
// a page whose offset would overflow is rejected.
func (s *Service) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page-1 > math.MaxInt/limit {
		return nil, validate.Errorf("page must be at most %d", math.MaxInt/limit+1)
	}
	total, err := s.store.Users().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("users: count: %w", err)
	}
	rows, err := s.store.Users().List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	out := make([]auth.PublicUser, 0, len(rows))
	for _, u := range rows {
		out = append(out, u.Public())
	}
	return &Page{
		Users:      out,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

// Get returns one user by id.
func (s *Service) Get(ctx context.Context, id string) (*auth.PublicUser, error) {
	if err := validate.Identifier(id); err != nil {
		return nil, err
	}
	u, err := s.store.Users().Find(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	pub := u.Public()
	return &pub, nil
}

// Update replaces name, email and optionally the active flag.
func (s *Service) Update(ctx context.Context, actorID, id string, in UpdateInput) (*auth.PublicUser, error) {
	if err := validate.Identifier(id); err != nil {
		return nil, err
	}
	if err := validate.RequireFields(map[string]any{
		"name":  in.Name,
		"email": in.Email,
	}, "name", "email"); err != nil {
		return nil, err
	}
	name := validate.SanitizeString(in.Name)
	email := auth.NormalizeEmail(in.Email)
	if err := validate.Length(name, 1, 100, "Name"); err != nil {
		return nil, err
	}
	if err := validate.Email(email); err != nil {
		return nil, err
	}

	var updated *auth.User
	err := s.store.WithTx(ctx, func(tx auth.Store) error {
		cur, err := tx.Users().Find(ctx, id)
		if err != nil {
			return notFound(err)
		}
		changed := changedFields(cur, name, email, in.IsActive)
		cur.Name = name
		cur.Email = email
		if in.IsActive != nil {
			cur.IsActive = *in.IsActive
		}
		if err := tx.Users().Update(ctx, cur); err != nil {
			if auth.IsUniqueViolation(err) {
				return &auth.ConflictError{Message: "Email already registered"}
			}
			return notFound(err)
		}
		entry := audit.NewEntry(ctx, actorID, audit.ActionUserUpdated, map[string]any{
			"user_id": id,
			"changed": changed,
		})
		if err := tx.Audit().Append(ctx, entry); err != nil {
			return fmt.Errorf("users: append audit entry: %w", err)
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	pub := updated.Public()
	return &pub, nil
}

// Deactivate clears the active flag; the user can no longer log in.
func (s *Service) Deactivate(ctx context.Context, actorID, id string) error {
	if err := validate.Identifier(id); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx auth.Store) error {
		if err := tx.Users().Deactivate(ctx, id); err != nil {
			return notFound(err)
		}
		return tx.Audit().Append(ctx, audit.NewEntry(ctx, actorID, audit.ActionUserDeactivated, map[string]any{"user_id": id}))
	})
}

// Delete removes a user and its role links. Audit history is kept.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if err := validate.Identifier(id); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx auth.Store) error {
		u, err := tx.Users().Find(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if err := tx.Users().Delete(ctx, id); err != nil {
			return notFound(err)
		}
		// A self-delete leaves no actor row to reference.
		if actorID == id {
			actorID = ""
		}
		return tx.Audit().Append(ctx, audit.NewEntry(ctx, actorID, audit.ActionUserDeleted, map[string]any{
			"user_id": id,
			"email":   u.Email,
		}))
	})
}

// AssignRole links an existing role to a user.
func (s *Service) AssignRole(ctx context.Context, actorID, id, roleName string) error {
	if err := validate.Identifier(id); err != nil {
		return err
	}
	roleName = strings.ToLower(validate.SanitizeString(roleName))
	if err := validate.RequireFields(map[string]any{"role": roleName}, "role"); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx auth.Store) error {
		if _, err := tx.Users().Find(ctx, id); err != nil {
			return notFound(err)
		}
		role, err := tx.Roles().FindByName(ctx, roleName)
		if errors.Is(err, auth.ErrNotFound) {
			return validate.Errorf("Unknown role")
		}
		if err != nil {
			return fmt.Errorf("users: load role: %w", err)
		}
		if err := tx.Roles().Assign(ctx, id, role.ID); err != nil {
			return fmt.Errorf("users: assign role: %w", err)
		}
		return tx.Audit().Append(ctx, audit.NewEntry(ctx, actorID, audit.ActionRoleAssigned, map[string]any{
			"user_id": id,
			"role":    role.Name,
		}))
	})
}

// Roles returns the role names currently linked to a user.
func (s *Service) Roles(ctx context.Context, id string) ([]string, error) {
	roles, err := s.store.Roles().ForUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return auth.RoleNames(roles), nil
}

// AuditLog returns the most recent audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit < 1 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	entries, err := s.store.Audit().Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("users: read audit log: %w", err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return entries, nil
}

func notFound(err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		return &auth.NotFoundError{Message: msgUserNotFound}
	}
	return err
}

func changedFields(cur *auth.User, name, email string, active *bool) []string {
	var changed []string
	if cur.Name != name {
		changed = append(changed, "name")
	}
	if cur.Email != email {
		changed = append(changed, "email")
	}
	if active != nil && cur.IsActive != *active {
		changed = append(changed, "is_active")
	}
	return changed
}
