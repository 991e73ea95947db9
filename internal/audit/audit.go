// Package audit defines the append-only audit trail written alongside every
// mutating action.
package audit

import (
	"context"
	"strings"
	"time"

	"starterkit.dev/internal/ids"
	"starterkit.dev/internal/obs"
)

// Action tags an audit entry.
type Action string

const (
	ActionUserRegistered  Action = "USER_REGISTERED"
	ActionUserLoggedIn    Action = "USER_LOGGED_IN"
	ActionUserUpdated     Action = "USER_UPDATED"
	ActionUserDeactivated Action = "USER_DEACTIVATED"
	ActionUserDeleted     Action = "USER_DELETED"
	ActionRoleAssigned    Action = "ROLE_ASSIGNED"
)

// Entry is one immutable audit record. ActorUserID is empty for system actions
// and for entries whose actor has since been deleted.
type Entry struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	Action      Action         `json:"action"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Appender persists entries. Store implementations satisfy it both inside and
// outside a transaction.
type Appender interface {
	Append(ctx context.Context, e *Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier so entries built from ctx can
// be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// NewEntry builds an entry with a fresh ULID and timestamp. Metadata is copied;
// the request id from ctx is added under "request_id".
func NewEntry(ctx context.Context, actorUserID string, action Action, metadata map[string]any) *Entry {
	now := time.Now().UTC()
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		meta["request_id"] = rid
	}
	return &Entry{
		ID:          ids.At(now),
		ActorUserID: strings.TrimSpace(actorUserID),
		Action:      action,
		Metadata:    meta,
		CreatedAt:   now,
	}
}

// LogEvent mirrors an entry to the structured log.
func LogEvent(ctx context.Context, e *Entry) {
	if e == nil {
		return
	}
	obs.Logger().InfoContext(ctx, "audit",
		"type", "audit",
		"audit_id", e.ID,
		"action", string(e.Action),
		"actor_user_id", e.ActorUserID,
		"metadata", e.Metadata,
	)
}

// Record appends e and logs it. A failed append is logged and swallowed; use
// it only where the audit write must not fail the surrounding operation.
func Record(ctx context.Context, app Appender, e *Entry) {
	if app == nil || e == nil {
		return
	}
	if err := app.Append(ctx, e); err != nil {
		obs.Logger().WarnContext(ctx, "audit append failed",
			"action", string(e.Action),
			"actor_user_id", e.ActorUserID,
			"error", err,
		)
		return
	}
	LogEvent(ctx, e)
}
