// Package migrate applies the SQL schema and seed files under ops/migrations
// and records what ran in bookkeeping tables.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"starterkit.dev/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNothingApplied is returned by Down when no migration has run.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager executes SQL migrations and seed files. Each file runs in its own
// transaction together with its bookkeeping row.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.migrations, upSuffix, m.migrationsTable)
}

// Seed applies pending seed files. Seeds are expected to be idempotent.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.seeds, ".sql", m.seedsTable)
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	applied, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNothingApplied
	}
	last := applied[len(applied)-1]
	downName := strings.TrimSuffix(last, upSuffix) + downSuffix
	body, err := readFile(m.migrations, downName)
	if err != nil {
		return "", fmt.Errorf("migrate: missing down migration for %s: %w", last, err)
	}
	deleteRecord := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	err = m.exec(ctx, body, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteRecord, last)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("migrate: rollback %s: %w", last, err)
	}
	obs.Logger().Info("migration rolled back", "name", last)
	return last, nil
}

// Status lists applied migrations in order, followed by pending ones.
func (m *Manager) Status(ctx context.Context) (applied, pending []string, err error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, nil, err
	}
	applied, err = m.history(ctx, m.migrationsTable)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	files, err := collectSQL(m.migrations, upSuffix)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range files {
		if !done[name] {
			pending = append(pending, name)
		}
	}
	return applied, pending, nil
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix, table string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	applied, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	insertRecord := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, table)

	var ran []string
	for _, name := range files {
		if done[name] {
			continue
		}
		body, err := readFile(fsys, name)
		if err != nil {
			return ran, err
		}
		err = m.exec(ctx, body, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insertRecord, name, m.now().UTC())
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		obs.Logger().Info("sql file applied", "table", table, "name", name)
		ran = append(ran, name)
	}
	return ran, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: ensure %s: %w", table, err)
		}
	}
	return nil
}

// exec runs every statement of body and then record inside one transaction.
func (m *Manager) exec(ctx context.Context, body string, record func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func readFile(fsys fs.FS, name string) (string, error) {
	if fsys == nil {
		return "", fs.ErrNotExist
	}
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// collectSQL returns the sorted names of top-level files ending in suffix. A
// missing directory yields nothing.
func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		// .down.sql also ends in .sql; seeds never use the up/down naming.
		if suffix == ".sql" && (strings.HasSuffix(e.Name(), upSuffix) || strings.HasSuffix(e.Name(), downSuffix)) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside quotes and -- comments.
// Empty statements are dropped.
func splitStatements(src string) []string {
	var (
		stmts     []string
		current   strings.Builder
		inString  bool
		inComment bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case !inString && r == ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
