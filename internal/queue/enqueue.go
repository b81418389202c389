// Package queue owns the durable email pipeline: the enqueue service that
// decides whether a job row is created, and the processor that later renders
// and delivers pending rows. The email_queue table is the single source of
// truth — no component caches jobs in memory.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/audit"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/reportbrief/reportbrief-backend/internal/email"
	"github.com/reportbrief/reportbrief-backend/internal/metrics"
	"github.com/sqlc-dev/pqtype"
)

// ErrUserNotFound is returned when the enqueue target does not exist. Never
// silently defaulted — a missing user is the caller's bug.
var ErrUserNotFound = errors.New("queue: user not found")

// EnqueueResult reports the outcome of one enqueue call. Queued=false with a
// nil error means the user opted out — a normal outcome, not a failure.
type EnqueueResult struct {
	Queued bool
	JobID  *uuid.UUID
}

// Enqueuer is the narrow interface the triggers and api packages use.
// The concrete implementation is *Service; tests inject a stub.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID uuid.UUID, data email.Payload, scheduledAt *time.Time) (EnqueueResult, error)
}

// Service composes the preference gate with the queue store. One Service
// instance backs every enqueue site — the triggers, the direct enqueue
// endpoint, and the auth callback — so the kind→subject and kind→preference
// mappings cannot drift between call paths.
type Service struct {
	q      db.Querier
	audit  audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the enqueue service.
func NewService(q db.Querier, sink audit.Sink, logger *slog.Logger) *Service {
	return &Service{
		q:      q,
		audit:  sink,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue inserts one pending email job for userID, unless the user has
// opted out of the payload's kind. scheduledAt nil means dispatch as soon as
// the next processor run picks it up.
//
// Two identical calls create two distinct jobs — callers own dedup (the
// trigger engine's date windows and edge-triggered thresholds).
func (s *Service) Enqueue(ctx context.Context, userID uuid.UUID, data email.Payload, scheduledAt *time.Time) (EnqueueResult, error) {
	kind := data.Kind()

	// 1. Recipient snapshot. A missing user is fatal for this call.
	user, err := s.q.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		s.audit.Event(ctx, "email_failed", &userID, audit.Fields{
			"emailType": kind,
			"reason":    "user_not_found",
		})
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		s.audit.Event(ctx, "email_failed", &userID, audit.Fields{
			"emailType": kind,
			"error":     err.Error(),
		})
		return EnqueueResult{}, fmt.Errorf("queue: load user %s: %w", userID, err)
	}

	// 2. Preference gate. No preferences row means the user never opted out
	// of anything — fail open.
	allowed, err := s.shouldSend(ctx, userID, kind)
	if err != nil {
		return EnqueueResult{}, err
	}
	if !allowed {
		s.audit.Event(ctx, "email_processed", &userID, audit.Fields{
			"emailType": kind,
			"queued":    false,
			"reason":    "user_opted_out",
		})
		metrics.EmailsOptedOut.WithLabelValues(string(kind)).Inc()
		return EnqueueResult{Queued: false}, nil
	}

	// 3. Subject and metadata snapshots.
	subject, err := email.SubjectFor(data)
	if err != nil {
		return EnqueueResult{}, err
	}
	raw, err := email.EncodePayload(data)
	if err != nil {
		return EnqueueResult{}, err
	}

	schedAt := s.now()
	if scheduledAt != nil {
		schedAt = *scheduledAt
	}

	// 4. Insert the pending row. An insert failure is fatal for this call and
	// is the caller's decision to retry or not.
	job, err := s.q.InsertEmailJob(ctx, db.InsertEmailJobParams{
		UserID:      userID,
		EmailType:   string(kind),
		ToEmail:     user.Email,
		Subject:     subject,
		Metadata:    pqtype.NullRawMessage{RawMessage: raw, Valid: true},
		ScheduledAt: schedAt,
	})
	if err != nil {
		s.audit.Event(ctx, "email_failed", &userID, audit.Fields{
			"emailType": kind,
			"error":     err.Error(),
		})
		return EnqueueResult{}, fmt.Errorf("queue: insert job: %w", err)
	}

	s.audit.Event(ctx, "email_queued", &userID, audit.Fields{
		"emailType": kind,
		"emailId":   job.ID,
		"subject":   subject,
	})
	metrics.EmailsQueued.WithLabelValues(string(kind)).Inc()

	s.logger.Debug("queue: job enqueued",
		"job_id", job.ID,
		"user_id", userID,
		"kind", kind,
		"scheduled_at", schedAt,
	)

	return EnqueueResult{Queued: true, JobID: &job.ID}, nil
}

// shouldSend is the preference gate: deny only when a preferences row exists
// and the flag for kind is explicitly false.
func (s *Service) shouldSend(ctx context.Context, userID uuid.UUID, kind email.Kind) (bool, error) {
	prefs, err := s.q.GetEmailPreferences(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: load preferences for %s: %w", userID, err)
	}
	return email.Allowed(prefs, kind)
}
