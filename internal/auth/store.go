package auth

import (
	"context"

	"starterkit.dev/internal/audit"
)

// Store is the credential store boundary. Users, Roles and Audit return views
// bound to the same connection or transaction as the receiver.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Audit() AuditStore
	// WithTx runs fn inside one transaction. fn receives a Store bound to it;
	// returning an error rolls every write back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

// UserStore manages users. Emails are compared case-insensitively.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]*User, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, u *User) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// RoleStore manages roles and user-role links.
type RoleStore interface {
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	// Assign links a role to a user; linking an existing pair is a no-op.
	Assign(ctx context.Context, userID, roleID string) error
	ForUser(ctx context.Context, userID string) ([]Role, error)
}

// AuditStore appends and reads audit entries.
type AuditStore interface {
	audit.Appender
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}
