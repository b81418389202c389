package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTX is satisfied by *sql.DB and *sql.Tx, so the same Queries methods work
// inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries executes the hand-written SQL against a DBTX.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to the given connection or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries scoped to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ─── USERS ───────────────────────────────────────────────────────────────────

const userColumns = `id, email, name, login_count, first_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.LoginCount, &u.FirstLoginAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const getUserByID = `
SELECT ` + userColumns + `
FROM users
WHERE id = $1
`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const upsertUserLogin = `
INSERT INTO users (id, email, name, login_count, first_login_at, created_at, updated_at)
VALUES ($1, $2, $3, 1, CASE WHEN $4 THEN now() ELSE NULL END, now(), now())
ON CONFLICT (id) DO UPDATE SET
    email          = EXCLUDED.email,
    name           = COALESCE(EXCLUDED.name, users.name),
    login_count    = users.login_count + 1,
    first_login_at = COALESCE(users.first_login_at, EXCLUDED.first_login_at),
    updated_at     = now()
RETURNING ` + userColumns + `
`

func (q *Queries) UpsertUserLogin(ctx context.Context, p UpsertUserLoginParams) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, upsertUserLogin, p.ID, p.Email, nullString(p.Name), p.FirstLogin))
}

func (q *Queries) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const listUsers = `
SELECT ` + userColumns + `
FROM users
ORDER BY created_at
`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	return q.queryUsers(ctx, listUsers)
}

const listUsersByFirstLogin = `
SELECT ` + userColumns + `
FROM users
WHERE first_login_at >= $1 AND first_login_at < $2
ORDER BY first_login_at
`

func (q *Queries) ListUsersByFirstLogin(ctx context.Context, p ListUsersByFirstLoginParams) ([]User, error) {
	return q.queryUsers(ctx, listUsersByFirstLogin, p.Start, p.End)
}

const listInactiveUsers = `
SELECT ` + userColumns + `
FROM users
WHERE updated_at < $1
ORDER BY updated_at
`

func (q *Queries) ListInactiveUsers(ctx context.Context, cutoff time.Time) ([]User, error) {
	return q.queryUsers(ctx, listInactiveUsers, cutoff)
}

// ─── EMAIL PREFERENCES ───────────────────────────────────────────────────────

const preferenceColumns = `user_id, welcome_email, summary_ready, usage_warnings, monthly_reset, engagement_emails, product_updates, created_at, updated_at`

func scanPreferences(row interface{ Scan(...any) error }) (EmailPreferences, error) {
	var p EmailPreferences
	err := row.Scan(&p.UserID, &p.WelcomeEmail, &p.SummaryReady, &p.UsageWarnings,
		&p.MonthlyReset, &p.EngagementEmails, &p.ProductUpdates, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const createDefaultEmailPreferences = `
INSERT INTO email_preferences (user_id, welcome_email, summary_ready, usage_warnings, monthly_reset, engagement_emails, product_updates, created_at, updated_at)
VALUES ($1, true, true, true, true, true, true, now(), now())
ON CONFLICT (user_id) DO NOTHING
RETURNING ` + preferenceColumns + `
`

// CreateDefaultEmailPreferences inserts the all-opted-in row for a new user.
// A concurrent duplicate insert surfaces as sql.ErrNoRows via the ON CONFLICT
// DO NOTHING path; callers treat that as idempotent success.
func (q *Queries) CreateDefaultEmailPreferences(ctx context.Context, userID uuid.UUID) (EmailPreferences, error) {
	return scanPreferences(q.db.QueryRowContext(ctx, createDefaultEmailPreferences, userID))
}

const getEmailPreferences = `
SELECT ` + preferenceColumns + `
FROM email_preferences
WHERE user_id = $1
`

func (q *Queries) GetEmailPreferences(ctx context.Context, userID uuid.UUID) (EmailPreferences, error) {
	return scanPreferences(q.db.QueryRowContext(ctx, getEmailPreferences, userID))
}

// ─── EMAIL QUEUE ─────────────────────────────────────────────────────────────

const emailJobColumns = `id, user_id, email_type, to_email, subject, status, metadata, scheduled_at, created_at, sent_at, error_message`

func scanEmailJob(row interface{ Scan(...any) error }) (EmailJob, error) {
	var j EmailJob
	err := row.Scan(&j.ID, &j.UserID, &j.EmailType, &j.ToEmail, &j.Subject, &j.Status,
		&j.Metadata, &j.ScheduledAt, &j.CreatedAt, &j.SentAt, &j.ErrorMessage)
	return j, err
}

const insertEmailJob = `
INSERT INTO email_queue (user_id, email_type, to_email, subject, status, metadata, scheduled_at, created_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, now())
RETURNING ` + emailJobColumns + `
`

func (q *Queries) InsertEmailJob(ctx context.Context, p InsertEmailJobParams) (EmailJob, error) {
	return scanEmailJob(q.db.QueryRowContext(ctx, insertEmailJob,
		p.UserID, p.EmailType, p.ToEmail, p.Subject, p.Metadata, p.ScheduledAt))
}

const listPendingEmailJobs = `
SELECT ` + emailJobColumns + `
FROM email_queue
WHERE status = 'pending' AND scheduled_at <= $1
ORDER BY created_at
LIMIT $2
`

// ListPendingEmailJobs returns the oldest due pending jobs, bounded by Limit.
// There is no claim/lock step: two overlapping processor runs can both select
// the same rows, so delivery is at-least-once.
func (q *Queries) ListPendingEmailJobs(ctx context.Context, p ListPendingEmailJobsParams) ([]EmailJob, error) {
	rows, err := q.db.QueryContext(ctx, listPendingEmailJobs, p.Now, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []EmailJob
	for rows.Next() {
		j, err := scanEmailJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const markEmailJobSent = `
UPDATE email_queue
SET status = 'sent', sent_at = $2, error_message = NULL
WHERE id = $1
RETURNING ` + emailJobColumns + `
`

func (q *Queries) MarkEmailJobSent(ctx context.Context, p MarkEmailJobSentParams) (EmailJob, error) {
	return scanEmailJob(q.db.QueryRowContext(ctx, markEmailJobSent, p.ID, p.SentAt))
}

const markEmailJobFailed = `
UPDATE email_queue
SET status = 'failed', error_message = $2
WHERE id = $1
RETURNING ` + emailJobColumns + `
`

func (q *Queries) MarkEmailJobFailed(ctx context.Context, p MarkEmailJobFailedParams) (EmailJob, error) {
	return scanEmailJob(q.db.QueryRowContext(ctx, markEmailJobFailed, p.ID, p.ErrorMessage))
}

// ─── REPORTS & SUMMARIES ─────────────────────────────────────────────────────

const getReportByID = `
SELECT id, user_id, title, created_at
FROM reports
WHERE id = $1
`

func (q *Queries) GetReportByID(ctx context.Context, id uuid.UUID) (Report, error) {
	var r Report
	err := q.db.QueryRowContext(ctx, getReportByID, id).Scan(&r.ID, &r.UserID, &r.Title, &r.CreatedAt)
	return r, err
}

const countReportsByUser = `
SELECT count(*) FROM reports WHERE user_id = $1
`

func (q *Queries) CountReportsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countReportsByUser, userID).Scan(&n)
	return n, err
}

const getSummaryByID = `
SELECT id, report_id, user_id, summary_struct, created_at
FROM summaries
WHERE id = $1
`

func (q *Queries) GetSummaryByID(ctx context.Context, id uuid.UUID) (Summary, error) {
	var s Summary
	err := q.db.QueryRowContext(ctx, getSummaryByID, id).Scan(&s.ID, &s.ReportID, &s.UserID, &s.SummaryStruct, &s.CreatedAt)
	return s, err
}

// ─── SUBSCRIPTIONS ───────────────────────────────────────────────────────────

const subscriptionColumns = `id, user_id, stripe_subscription_id, price_id, status, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.StripeSubscriptionID, &s.PriceID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

const getLatestSubscription = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetLatestSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	return scanSubscription(q.db.QueryRowContext(ctx, getLatestSubscription, userID))
}

const upsertSubscription = `
INSERT INTO subscriptions (user_id, stripe_subscription_id, price_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (stripe_subscription_id) DO UPDATE SET
    price_id   = EXCLUDED.price_id,
    status     = EXCLUDED.status,
    updated_at = now()
RETURNING ` + subscriptionColumns + `
`

func (q *Queries) UpsertSubscription(ctx context.Context, p UpsertSubscriptionParams) (Subscription, error) {
	return scanSubscription(q.db.QueryRowContext(ctx, upsertSubscription,
		p.UserID, p.StripeSubscriptionID, nullString(p.PriceID), p.Status))
}

// ─── AUDIT LOG ───────────────────────────────────────────────────────────────

const countAuditEvents = `
SELECT count(*)
FROM audit_logs
WHERE user_id = $1 AND event_type = $2 AND created_at >= $3
`

func (q *Queries) CountAuditEvents(ctx context.Context, p CountAuditEventsParams) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countAuditEvents, p.UserID, p.EventType, p.Since).Scan(&n)
	return n, err
}

const insertAuditEvent = `
INSERT INTO audit_logs (user_id, event_type, payload, created_at)
VALUES ($1, $2, $3, now())
RETURNING id, user_id, event_type, payload, created_at
`

func (q *Queries) InsertAuditEvent(ctx context.Context, p InsertAuditEventParams) (AuditLog, error) {
	var a AuditLog
	err := q.db.QueryRowContext(ctx, insertAuditEvent, p.UserID, p.EventType, p.Payload).
		Scan(&a.ID, &a.UserID, &a.EventType, &a.Payload, &a.CreatedAt)
	return a, err
}

// ─── SESSIONS ────────────────────────────────────────────────────────────────

const getSessionByToken = `
SELECT token, user_id, expires_at, created_at
FROM sessions
WHERE token = $1
`

func (q *Queries) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	var s Session
	err := q.db.QueryRowContext(ctx, getSessionByToken, token).Scan(&s.Token, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

// ─── STRIPE EVENTS ───────────────────────────────────────────────────────────

const stripeEventColumns = `stripe_event_id, type, payload, status, error, created_at`

func scanStripeEvent(row interface{ Scan(...any) error }) (StripeEvent, error) {
	var e StripeEvent
	err := row.Scan(&e.StripeEventID, &e.Type, &e.Payload, &e.Status, &e.Error, &e.CreatedAt)
	return e, err
}

const upsertStripeEvent = `
INSERT INTO stripe_events (stripe_event_id, type, payload, status, created_at)
VALUES ($1, $2, $3, 'received', now())
ON CONFLICT (stripe_event_id) DO NOTHING
RETURNING ` + stripeEventColumns + `
`

// UpsertStripeEvent records a webhook delivery. A duplicate event_id takes
// the ON CONFLICT DO NOTHING path, which surfaces as sql.ErrNoRows; the
// webhook handler treats that as an already-processed delivery.
func (q *Queries) UpsertStripeEvent(ctx context.Context, p UpsertStripeEventParams) (StripeEvent, error) {
	return scanStripeEvent(q.db.QueryRowContext(ctx, upsertStripeEvent, p.StripeEventID, p.Type, p.Payload))
}

const markStripeEventProcessed = `
UPDATE stripe_events
SET status = 'processed'
WHERE stripe_event_id = $1
RETURNING ` + stripeEventColumns + `
`

func (q *Queries) MarkStripeEventProcessed(ctx context.Context, stripeEventID string) (StripeEvent, error) {
	return scanStripeEvent(q.db.QueryRowContext(ctx, markStripeEventProcessed, stripeEventID))
}

const markStripeEventFailed = `
UPDATE stripe_events
SET status = 'failed', error = $2
WHERE stripe_event_id = $1
RETURNING ` + stripeEventColumns + `
`

func (q *Queries) MarkStripeEventFailed(ctx context.Context, p MarkStripeEventFailedParams) (StripeEvent, error) {
	return scanStripeEvent(q.db.QueryRowContext(ctx, markStripeEventFailed, p.StripeEventID, p.Error))
}
