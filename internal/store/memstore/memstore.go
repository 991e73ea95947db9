// Package memstore is an in-memory auth.Store. It enforces the same integrity
// rules as the PostgreSQL schema and is meant for tests and local demos.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"starterkit.dev/internal/audit"
	"starterkit.dev/internal/auth"
)

type dataset struct {
	users map[string]auth.User
	roles map[string]auth.Role
	links map[string]map[string]struct{} // user id -> role ids
	audit []audit.Entry
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		users: make(map[string]auth.User, len(d.users)),
		roles: make(map[string]auth.Role, len(d.roles)),
		links: make(map[string]map[string]struct{}, len(d.links)),
		audit: make([]audit.Entry, len(d.audit)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.roles {
		c.roles[k] = v
	}
	for k, set := range d.links {
		cs := make(map[string]struct{}, len(set))
		for r := range set {
			cs[r] = struct{}{}
		}
		c.links[k] = cs
	}
	copy(c.audit, d.audit)
	return c
}

type state struct {
	txMu sync.Mutex // serializes writers, transactional or not
	mu   sync.RWMutex
	data *dataset

	failAppend error
	pingErr    error
}

// Store implements auth.Store. The zero value is not usable; call New.
type Store struct {
	st *state
	tx *dataset
}

var _ auth.Store = (*Store)(nil)

// New returns a store seeded with the user and admin roles.
func New() *Store {
	now := time.Now().UTC()
	d := &dataset{
		users: map[string]auth.User{},
		roles: map[string]auth.Role{},
		links: map[string]map[string]struct{}{},
	}
	for _, name := range []string{auth.RoleUser, auth.RoleAdmin} {
		id := uuid.NewString()
		d.roles[id] = auth.Role{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	}
	return &Store{st: &state{data: d}}
}

// DropRole removes a role and its links, e.g. to simulate a missing seed.
func (s *Store) DropRole(name string) {
	_ = s.write(func(d *dataset) error {
		for id, r := range d.roles {
			if r.Name == name {
				delete(d.roles, id)
				for _, set := range d.links {
					delete(set, id)
				}
			}
		}
		return nil
	})
}

// FailAuditAppends makes every subsequent audit append fail with err. Pass nil
// to restore normal behavior.
func (s *Store) FailAuditAppends(err error) {
	s.st.mu.Lock()
	s.st.failAppend = err
	s.st.mu.Unlock()
}

// SetPingError controls the result of Ping.
func (s *Store) SetPingError(err error) {
	s.st.mu.Lock()
	s.st.pingErr = err
	s.st.mu.Unlock()
}

func (s *Store) Users() auth.UserStore { return userStore{s} }
func (s *Store) Roles() auth.RoleStore { return roleStore{s} }
func (s *Store) Audit() auth.AuditStore { return auditStore{s} }

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	return s.st.pingErr
}

// WithTx runs fn against a private copy of the data and publishes it only when
// fn succeeds. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	s.st.mu.RLock()
	work := s.st.data.clone()
	s.st.mu.RUnlock()

	if err := fn(&Store{st: s.st, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.mu.Lock()
	s.st.data = work
	s.st.mu.Unlock()
	return nil
}

func (s *Store) read(fn func(d *dataset) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	return fn(s.st.data)
}

// write applies fn to a copy so a failing statement leaves no partial change,
// the way a single SQL statement behaves.
func (s *Store) write(fn func(d *dataset) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	work := s.st.data.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st.data = work
	return nil
}

func uniqueEmail(err error) error {
	return &auth.ConstraintError{Kind: auth.ConstraintUnique, Constraint: "users_email_lower_key", Err: err}
}

func emailTaken(d *dataset, email, exceptID string) bool {
	for id, u := range d.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

type userStore struct{ s *Store }

func (us userStore) Create(ctx context.Context, u *auth.User) error {
	if u == nil {
		return errors.New("memstore: nil user")
	}
	if u.ID == "" || u.Email == "" || u.Name == "" || u.PasswordHash == "" {
		return &auth.ConstraintError{Kind: auth.ConstraintNotNull, Constraint: "users"}
	}
	return us.s.write(func(d *dataset) error {
		if _, ok := d.users[u.ID]; ok {
			return &auth.ConstraintError{Kind: auth.ConstraintUnique, Constraint: "users_pkey"}
		}
		if emailTaken(d, u.Email, "") {
			return uniqueEmail(errors.New("duplicate email"))
		}
		now := time.Now().UTC()
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = u.CreatedAt
		}
		d.users[u.ID] = *u
		return nil
	})
}

func (us userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	var out *auth.User
	err := us.s.read(func(d *dataset) error {
		u, ok := d.users[id]
		if !ok {
			return auth.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (us userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	var out *auth.User
	err := us.s.read(func(d *dataset) error {
		for _, u := range d.users {
			if strings.EqualFold(u.Email, email) {
				u := u
				out = &u
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (us userStore) List(ctx context.Context, limit, offset int) ([]*auth.User, error) {
	var out []*auth.User
	err := us.s.read(func(d *dataset) error {
		all := make([]auth.User, 0, len(d.users))
		for _, u := range d.users {
			all = append(all, u)
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.After(all[j].CreatedAt)
			}
			return all[i].ID < all[j].ID
		})
		if offset < 0 {
			offset = 0
		}
		if offset > len(all) {
			offset = len(all)
		}
		end := len(all)
		if limit > 0 && limit < end-offset {
			end = offset + limit
		}
		for i := offset; i < end; i++ {
			u := all[i]
			out = append(out, &u)
		}
		return nil
	})
	return out, err
}

func (us userStore) Count(ctx context.Context) (int, error) {
	var n int
	err := us.s.read(func(d *dataset) error {
		n = len(d.users)
		return nil
	})
	return n, err
}

func (us userStore) Update(ctx context.Context, u *auth.User) error {
	if u == nil {
		return errors.New("memstore: nil user")
	}
	return us.s.write(func(d *dataset) error {
		cur, ok := d.users[u.ID]
		if !ok {
			return auth.ErrNotFound
		}
		if emailTaken(d, u.Email, u.ID) {
			return uniqueEmail(errors.New("duplicate email"))
		}
		cur.Name = u.Name
		cur.Email = u.Email
		cur.IsActive = u.IsActive
		cur.UpdatedAt = time.Now().UTC()
		d.users[u.ID] = cur
		*u = cur
		return nil
	})
}

func (us userStore) Deactivate(ctx context.Context, id string) error {
	return us.s.write(func(d *dataset) error {
		cur, ok := d.users[id]
		if !ok {
			return auth.ErrNotFound
		}
		cur.IsActive = false
		cur.UpdatedAt = time.Now().UTC()
		d.users[id] = cur
		return nil
	})
}

func (us userStore) Delete(ctx context.Context, id string) error {
	return us.s.write(func(d *dataset) error {
		if _, ok := d.users[id]; !ok {
			return auth.ErrNotFound
		}
		delete(d.users, id)
		delete(d.links, id)
		for i := range d.audit {
			if d.audit[i].ActorUserID == id {
				d.audit[i].ActorUserID = ""
			}
		}
		return nil
	})
}

type roleStore struct{ s *Store }

func (rs roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	var out *auth.Role
	err := rs.s.read(func(d *dataset) error {
		for _, r := range d.roles {
			if r.Name == name {
				r := r
				out = &r
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (rs roleStore) List(ctx context.Context) ([]auth.Role, error) {
	var out []auth.Role
	err := rs.s.read(func(d *dataset) error {
		for _, r := range d.roles {
			out = append(out, r)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

func (rs roleStore) Assign(ctx context.Context, userID, roleID string) error {
	return rs.s.write(func(d *dataset) error {
		if _, ok := d.users[userID]; !ok {
			return &auth.ConstraintError{Kind: auth.ConstraintForeignKey, Constraint: "user_roles_user_id_fkey"}
		}
		if _, ok := d.roles[roleID]; !ok {
			return &auth.ConstraintError{Kind: auth.ConstraintForeignKey, Constraint: "user_roles_role_id_fkey"}
		}
		set, ok := d.links[userID]
		if !ok {
			set = map[string]struct{}{}
			d.links[userID] = set
		}
		set[roleID] = struct{}{}
		return nil
	})
}

func (rs roleStore) ForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	var out []auth.Role
	err := rs.s.read(func(d *dataset) error {
		for roleID := range d.links[userID] {
			if r, ok := d.roles[roleID]; ok {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

type auditStore struct{ s *Store }

func (as auditStore) Append(ctx context.Context, e *audit.Entry) error {
	if e == nil {
		return errors.New("memstore: nil audit entry")
	}
	as.s.st.mu.RLock()
	failErr := as.s.st.failAppend
	as.s.st.mu.RUnlock()
	if failErr != nil {
		return failErr
	}
	return as.s.write(func(d *dataset) error {
		if e.ActorUserID != "" {
			if _, ok := d.users[e.ActorUserID]; !ok {
				return &auth.ConstraintError{Kind: auth.ConstraintForeignKey, Constraint: "audit_log_actor_user_id_fkey"}
			}
		}
		entry := *e
		entry.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			entry.Metadata[k] = v
		}
		d.audit = append(d.audit, entry)
		return nil
	})
}

func (as auditStore) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	var out []audit.Entry
	err := as.s.read(func(d *dataset) error {
		for i := len(d.audit) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			out = append(out, d.audit[i])
		}
		return nil
	})
	return out, err
}
