package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"starterkit.dev/internal/audit"
)

type auditStore struct {
	q querier
}

func (s auditStore) Append(ctx context.Context, e *audit.Entry) error {
	if e == nil {
		return errors.New("nil audit entry")
	}
	metaJSON := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = b
	}
	_, err := s.q.ExecContext(ctx, `
		insert into audit_log (id, actor_user_id, action, metadata, created_at)
		values ($1, $2, $3, $4, $5)
	`, e.ID, nullIfEmpty(e.ActorUserID), string(e.Action), metaJSON, e.CreatedAt)
	return classify(err)
}

func (s auditStore) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, actor_user_id, action, metadata, created_at
		from audit_log
		order by id desc
		limit $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			actor   sql.NullString
			action  string
			rawMeta []byte
		)
		if err := rows.Scan(&e.ID, &actor, &action, &rawMeta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorUserID = actor.String
		e.Action = audit.Action(action)
		e.Metadata = map[string]any{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
