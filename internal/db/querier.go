// Package db is the hand-written data access layer. Every query lives behind
// the Querier interface so handlers, the queue, and the triggers can be
// tested against in-memory stubs, and so the sqlmock tests in this package
// can pin the SQL itself.
//
// Dependency rule: db imports nothing from internal/. Record-absent is always
// surfaced as sql.ErrNoRows — callers decide whether that is fatal.
package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// UpsertUserLoginParams carries the login bookkeeping written by the auth
// callback. FirstLogin marks whether first_login_at should be stamped.
type UpsertUserLoginParams struct {
	ID         uuid.UUID
	Email      string
	Name       string // empty means unknown, stored as NULL
	FirstLogin bool
}

// InsertEmailJobParams is everything captured at enqueue time.
type InsertEmailJobParams struct {
	UserID      uuid.UUID
	EmailType   string
	ToEmail     string
	Subject     string
	Metadata    pqtype.NullRawMessage
	ScheduledAt time.Time
}

// ListPendingEmailJobsParams bounds one processor batch.
type ListPendingEmailJobsParams struct {
	Now   time.Time
	Limit int32
}

type MarkEmailJobSentParams struct {
	ID     uuid.UUID
	SentAt time.Time
}

type MarkEmailJobFailedParams struct {
	ID           uuid.UUID
	ErrorMessage string
}

// ListUsersByFirstLoginParams selects users whose first_login_at falls in
// [Start, End).
type ListUsersByFirstLoginParams struct {
	Start time.Time
	End   time.Time
}

type UpsertSubscriptionParams struct {
	UserID               uuid.UUID
	StripeSubscriptionID string
	PriceID              string
	Status               string
}

type CountAuditEventsParams struct {
	UserID    uuid.UUID
	EventType string
	Since     time.Time
}

type InsertAuditEventParams struct {
	UserID    uuid.NullUUID
	EventType string
	Payload   pqtype.NullRawMessage
}

type UpsertStripeEventParams struct {
	StripeEventID string
	Type          string
	Payload       pqtype.NullRawMessage
}

type MarkStripeEventFailedParams struct {
	StripeEventID string
	Error         string
}

// Querier is the full query surface of the service. *Queries implements it
// against Postgres; tests implement the slices they need.
type Querier interface {
	// Users.
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	UpsertUserLogin(ctx context.Context, p UpsertUserLoginParams) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByFirstLogin(ctx context.Context, p ListUsersByFirstLoginParams) ([]User, error)
	ListInactiveUsers(ctx context.Context, cutoff time.Time) ([]User, error)

	// Email preferences.
	CreateDefaultEmailPreferences(ctx context.Context, userID uuid.UUID) (EmailPreferences, error)
	GetEmailPreferences(ctx context.Context, userID uuid.UUID) (EmailPreferences, error)

	// Email queue.
	InsertEmailJob(ctx context.Context, p InsertEmailJobParams) (EmailJob, error)
	ListPendingEmailJobs(ctx context.Context, p ListPendingEmailJobsParams) ([]EmailJob, error)
	MarkEmailJobSent(ctx context.Context, p MarkEmailJobSentParams) (EmailJob, error)
	MarkEmailJobFailed(ctx context.Context, p MarkEmailJobFailedParams) (EmailJob, error)

	// Reports and summaries.
	GetReportByID(ctx context.Context, id uuid.UUID) (Report, error)
	CountReportsByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	GetSummaryByID(ctx context.Context, id uuid.UUID) (Summary, error)

	// Subscriptions.
	GetLatestSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error)
	UpsertSubscription(ctx context.Context, p UpsertSubscriptionParams) (Subscription, error)

	// Audit log.
	CountAuditEvents(ctx context.Context, p CountAuditEventsParams) (int64, error)
	InsertAuditEvent(ctx context.Context, p InsertAuditEventParams) (AuditLog, error)

	// Sessions.
	GetSessionByToken(ctx context.Context, token string) (Session, error)

	// Stripe webhook idempotency.
	UpsertStripeEvent(ctx context.Context, p UpsertStripeEventParams) (StripeEvent, error)
	MarkStripeEventProcessed(ctx context.Context, stripeEventID string) (StripeEvent, error)
	MarkStripeEventFailed(ctx context.Context, p MarkStripeEventFailedParams) (StripeEvent, error)
}

var _ Querier = (*Queries)(nil)
