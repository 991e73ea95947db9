package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"starterkit.dev/internal/obs"
)

type appenderFunc func(ctx context.Context, e *Entry) error

func (f appenderFunc) Append(ctx context.Context, e *Entry) error { return f(ctx, e) }

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger(&buf, slog.LevelDebug))
	t.Cleanup(func() { obs.SetLogger(prev) })
	return &buf
}

func TestNewEntryCopiesMetadataAndRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	meta := map[string]any{"email": "ann@x.com"}

	e := NewEntry(ctx, " user-1 ", ActionUserRegistered, meta)
	if e.ID == "" || len(e.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", e.ID)
	}
	if e.ActorUserID != "user-1" {
		t.Fatalf("unexpected actor: %q", e.ActorUserID)
	}
	if e.Metadata["email"] != "ann@x.com" || e.Metadata["request_id"] != "req-123" {
		t.Fatalf("unexpected metadata: %v", e.Metadata)
	}
	if _, ok := meta["request_id"]; ok {
		t.Fatal("caller metadata was mutated")
	}
	if e.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
}

func TestRecordLogsEntry(t *testing.T) {
	buf := captureLogs(t)

	var stored *Entry
	app := appenderFunc(func(_ context.Context, e *Entry) error {
		stored = e
		return nil
	})
	ctx := WithRequestID(context.Background(), "req-9")
	Record(ctx, app, NewEntry(ctx, "user-42", ActionUserLoggedIn, nil))

	if stored == nil || stored.Action != ActionUserLoggedIn {
		t.Fatalf("entry not appended: %+v", stored)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["action"] != "USER_LOGGED_IN" || line["actor_user_id"] != "user-42" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestRecordSwallowsAppendFailure(t *testing.T) {
	buf := captureLogs(t)

	app := appenderFunc(func(context.Context, *Entry) error { return errors.New("disk full") })
	Record(context.Background(), app, NewEntry(context.Background(), "", ActionUserLoggedIn, nil))

	if !strings.Contains(buf.String(), "audit append failed") {
		t.Fatalf("expected warning, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("expected cause in log, got %q", buf.String())
	}
}
