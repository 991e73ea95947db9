package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"starterkit.dev/internal/audit"
	"starterkit.dev/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func userRow(id, email string, active bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "is_active", "created_at", "updated_at"}).
		AddRow(id, "Ann", email, "hash", active, now, now)
}

func TestFindByEmailIsCaseInsensitive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .* from users where lower\(email\) = lower\(\$1\)`).
		WithArgs("Ann@X.com").
		WillReturnRows(userRow("u-1", "ann@x.com", true))

	u, err := store.Users().FindByEmail(context.Background(), "Ann@X.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u-1" || !u.IsActive || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}
	expectationsMet(t, mock)
}

func TestFindMissingUserReturnsErrNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .* from users where id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Users().Find(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCreateUserClassifiesUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_email_lower_key"})

	err := store.Users().Create(context.Background(), &auth.User{ID: "u-1", Name: "Ann", Email: "ann@x.com", PasswordHash: "h", IsActive: true})
	var ce *auth.ConstraintError
	if !errors.As(err, &ce) || ce.Kind != auth.ConstraintUnique || ce.Constraint != "users_email_lower_key" {
		t.Fatalf("expected unique constraint error, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestClassify(t *testing.T) {
	cases := map[string]auth.ConstraintKind{
		pgErrUniqueViolation:     auth.ConstraintUnique,
		pgErrForeignKeyViolation: auth.ConstraintForeignKey,
		pgErrNotNullViolation:    auth.ConstraintNotNull,
	}
	for code, want := range cases {
		var ce *auth.ConstraintError
		if err := classify(&pgconn.PgError{Code: code}); !errors.As(err, &ce) || ce.Kind != want {
			t.Fatalf("code %s: expected %v, got %v", code, want, err)
		}
	}
	plain := errors.New("connection reset")
	if got := classify(plain); got != plain {
		t.Fatalf("expected passthrough, got %v", got)
	}
	if got := classify(&pgconn.PgError{Code: "40001"}); errors.As(got, new(*auth.ConstraintError)) {
		t.Fatalf("serialization failure must not be a constraint error: %v", got)
	}
}

func TestWithTxCommitsAndBindsQueries(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into users`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectQuery(`select id, name, created_at, updated_at\s+from roles\s+where name = \$1`).
		WithArgs(auth.RoleUser).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at", "updated_at"}).AddRow("r-1", auth.RoleUser, time.Now(), time.Now()))
	mock.ExpectExec(`insert into user_roles`).
		WithArgs("u-1", "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into audit_log`).
		WithArgs("a-1", "u-1", string(audit.ActionUserRegistered), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx auth.Store) error {
		u := &auth.User{ID: "u-1", Name: "Ann", Email: "ann@x.com", PasswordHash: "h", IsActive: true}
		if err := tx.Users().Create(ctx, u); err != nil {
			return err
		}
		role, err := tx.Roles().FindByName(ctx, auth.RoleUser)
		if err != nil {
			return err
		}
		if err := tx.Roles().Assign(ctx, u.ID, role.ID); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return tx.WithTx(ctx, func(inner auth.Store) error {
			return inner.Audit().Append(ctx, &audit.Entry{
				ID:          "a-1",
				ActorUserID: "u-1",
				Action:      audit.ActionUserRegistered,
				Metadata:    map[string]any{"email": "ann@x.com"},
				CreatedAt:   time.Now(),
			})
		})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`select id, name, created_at, updated_at\s+from roles`).
		WithArgs(auth.RoleUser).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx auth.Store) error {
		_, err := tx.Roles().FindByName(ctx, auth.RoleUser)
		return err
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestDeactivateMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`update users set is_active = false`).
		WithArgs("u-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Users().Deactivate(context.Background(), "u-9"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestAuditAppendStoresNullActor(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`insert into audit_log`).
		WithArgs("a-1", nil, string(audit.ActionUserDeleted), []byte("{}"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Audit().Append(context.Background(), &audit.Entry{ID: "a-1", Action: audit.ActionUserDeleted, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	expectationsMet(t, mock)
}

func TestAuditRecentDecodesRows(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "actor_user_id", "action", "metadata", "created_at"}).
		AddRow("a-2", nil, "USER_DELETED", []byte(`{"email":"ann@x.com"}`), time.Now()).
		AddRow("a-1", "u-1", "USER_REGISTERED", []byte(`{}`), time.Now())
	mock.ExpectQuery(`select id, actor_user_id, action, metadata, created_at\s+from audit_log`).
		WithArgs(5).
		WillReturnRows(rows)

	entries, err := store.Audit().Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ActorUserID != "" || entries[0].Metadata["email"] != "ann@x.com" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ActorUserID != "u-1" || entries[1].Action != audit.ActionUserRegistered {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	expectationsMet(t, mock)
}

func TestListUsesPaging(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .*\s+from users\s+order by created_at desc, id\s+limit \$1 offset \$2`).
		WithArgs(10, 20).
		WillReturnRows(userRow("u-1", "ann@x.com", true))

	users, err := store.Users().List(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	expectationsMet(t, mock)
}
