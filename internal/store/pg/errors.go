package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"starterkit.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrNotNullViolation    = "23502"
)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// classify turns integrity violations into auth.ConstraintError so callers
// never see driver codes. Other errors pass through.
func classify(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	var kind auth.ConstraintKind
	switch pgErr.Code {
	case pgErrUniqueViolation:
		kind = auth.ConstraintUnique
	case pgErrForeignKeyViolation:
		kind = auth.ConstraintForeignKey
	case pgErrNotNullViolation:
		kind = auth.ConstraintNotNull
	default:
		return err
	}
	constraint := pgErr.ConstraintName
	if constraint == "" {
		constraint = pgErr.ColumnName
	}
	return &auth.ConstraintError{Kind: kind, Constraint: constraint, Err: err}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
