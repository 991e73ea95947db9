package pg

import (
	"context"
	"database/sql"
	"errors"

	"starterkit.dev/internal/auth"
)

type roleStore struct {
	q querier
}

func (s roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	var r auth.Role
	err := s.q.QueryRowContext(ctx, `
		select id, name, created_at, updated_at
		from roles
		where name = $1
	`, name).Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s roleStore) List(ctx context.Context) ([]auth.Role, error) {
	return s.query(ctx, `
		select id, name, created_at, updated_at
		from roles
		order by name
	`)
}

func (s roleStore) Assign(ctx context.Context, userID, roleID string) error {
	_, err := s.q.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID)
	return classify(err)
}

func (s roleStore) ForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	return s.query(ctx, `
		select r.id, r.name, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
}

func (s roleStore) query(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
