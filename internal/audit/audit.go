// Package audit is the fire-and-forget audit/exception sink. Events are
// appended to the audit_logs table; a failure to write an audit row is
// logged and swallowed so that observability can never break the operation
// it is observing.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/sqlc-dev/pqtype"
)

// Fields is the free-form payload attached to an event.
type Fields map[string]any

// Sink is what the queue, triggers, and handlers call at their defined audit
// points. Implementations must never return errors into the caller's control
// flow. Tests inject a recording stub.
type Sink interface {
	// Event appends one audit event. userID is nil for system-level events.
	Event(ctx context.Context, eventType string, userID *uuid.UUID, fields Fields)

	// Exception records an unexpected error with context.
	Exception(ctx context.Context, err error, fields Fields)
}

// Logger is the db-backed Sink.
type Logger struct {
	q      db.Querier
	logger *slog.Logger
}

// New creates the db-backed audit sink.
func New(q db.Querier, logger *slog.Logger) *Logger {
	return &Logger{q: q, logger: logger}
}

func (l *Logger) Event(ctx context.Context, eventType string, userID *uuid.UUID, fields Fields) {
	var uid uuid.NullUUID
	if userID != nil {
		uid = uuid.NullUUID{UUID: *userID, Valid: true}
	}

	payload := pqtype.NullRawMessage{}
	if len(fields) > 0 {
		raw, err := json.Marshal(fields)
		if err != nil {
			l.logger.Error("audit: marshal payload", "event_type", eventType, "error", err)
		} else {
			payload = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
		}
	}

	if _, err := l.q.InsertAuditEvent(ctx, db.InsertAuditEventParams{
		UserID:    uid,
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		l.logger.Error("audit: insert event failed", "event_type", eventType, "error", err)
	}
}

func (l *Logger) Exception(ctx context.Context, err error, fields Fields) {
	if err == nil {
		return
	}
	merged := Fields{"error": err.Error()}
	for k, v := range fields {
		merged[k] = v
	}
	l.Event(ctx, "error", nil, merged)
}
