package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"starterkit.dev/internal/auth"
)

const userColumns = `id, name, email, password_hash, is_active, created_at, updated_at`

type userStore struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	row := s.q.QueryRowContext(ctx, `
		insert into users (id, name, email, password_hash, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, coalesce($6, now()), coalesce($7, now()))
		returning created_at, updated_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.IsActive, nullTime(u.CreatedAt), nullTime(u.UpdatedAt))
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return classify(err)
	}
	return nil
}

func (s userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s userStore) List(ctx context.Context, limit, offset int) ([]*auth.User, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.q.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created_at desc, id
		limit $1 offset $2
	`, limitOrAll(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s userStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}

func (s userStore) Update(ctx context.Context, u *auth.User) error {
	row := s.q.QueryRowContext(ctx, `
		update users
		set name = $2, email = $3, is_active = $4, updated_at = now()
		where id = $1
		returning created_at, updated_at
	`, u.ID, u.Name, u.Email, u.IsActive)
	err := row.Scan(&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return classify(err)
}

func (s userStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `update users set is_active = false, updated_at = now() where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s userStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
