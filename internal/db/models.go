package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// EmailJobStatus is the lifecycle state of a queued email. Transitions are
// forward-only: pending → sent, pending → failed. Failed rows stay failed
// until a human reprocesses them.
type EmailJobStatus string

const (
	EmailJobPending EmailJobStatus = "pending"
	EmailJobSent    EmailJobStatus = "sent"
	EmailJobFailed  EmailJobStatus = "failed"
)

// User mirrors a row in the users table. Identity itself is owned by the
// external auth provider — this table carries the profile and login
// bookkeeping the email triggers need.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         sql.NullString
	LoginCount   int32
	FirstLoginAt sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmailPreferences is the per-user opt-out record. Zero-or-one per user;
// absence means all-opted-in. Created at first login with every flag true.
type EmailPreferences struct {
	UserID           uuid.UUID
	WelcomeEmail     bool
	SummaryReady     bool
	UsageWarnings    bool
	MonthlyReset     bool
	EngagementEmails bool
	ProductUpdates   bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EmailJob is one durable row in email_queue: a single email to be delivered
// once. ToEmail and Subject are snapshots taken at enqueue time.
type EmailJob struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	EmailType    string
	ToEmail      string
	Subject      string
	Status       EmailJobStatus
	Metadata     pqtype.NullRawMessage
	ScheduledAt  time.Time
	CreatedAt    time.Time
	SentAt       sql.NullTime
	ErrorMessage sql.NullString
}

// Report is an uploaded Salesforce CSV export. Only the fields the email
// subsystem reads are modelled here.
type Report struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     sql.NullString
	CreatedAt time.Time
}

// Summary is an AI-generated summary of a report. SummaryStruct holds the
// structured JSON output (summary text, metrics, trends, recommendations).
type Summary struct {
	ID            uuid.UUID
	ReportID      uuid.UUID
	UserID        uuid.UUID
	SummaryStruct pqtype.NullRawMessage
	CreatedAt     time.Time
}

// Subscription is the latest known billing state for a user, kept in sync by
// the Stripe webhook. PriceID drives tier resolution.
type Subscription struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	StripeSubscriptionID string
	PriceID              sql.NullString
	Status               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Session is an auth-provider-issued session token. The api middleware looks
// tokens up here; issuing and refreshing them is outside this service.
type Session struct {
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuditLog is one append-only audit event. UserID is null for system-level
// events (cron sweeps, batch errors with no single owner).
type AuditLog struct {
	ID        uuid.UUID
	UserID    uuid.NullUUID
	EventType string
	Payload   pqtype.NullRawMessage
	CreatedAt time.Time
}

// StripeEvent records a processed webhook delivery for idempotency. Stripe
// retries on non-2xx, so duplicate event IDs must be cheap to detect.
type StripeEvent struct {
	StripeEventID string
	Type          string
	Payload       pqtype.NullRawMessage
	Status        string
	Error         sql.NullString
	CreatedAt     time.Time
}
