package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"starterkit.dev/internal/auth"
)

// Options tunes the connection pool. Zero values fall back to defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 10
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = o.MaxOpenConns
	}
	if o.ConnMaxIdleTime <= 0 {
		o.ConnMaxIdleTime = 30 * time.Second
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	return o
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL credential store.
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

var _ auth.Store = (*Store)(nil)

// Open connects through the pgx driver, applies pool settings and pings the
// server within the connect timeout.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore { return userStore{q: s.q} }

func (s *Store) Roles() auth.RoleStore { return roleStore{q: s.q} }

func (s *Store) Audit() auth.AuditStore { return auditStore{q: s.q} }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction. The connection goes back to the pool on
// every path; a nested call joins the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}
