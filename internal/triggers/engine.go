package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/audit"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/reportbrief/reportbrief-backend/internal/email"
	"github.com/reportbrief/reportbrief-backend/internal/queue"
)

// resetDateLayout is the human-readable long date used in usage emails,
// e.g. "September 1, 2026".
const resetDateLayout = "January 2, 2006"

// BatchResult is the count returned by each scheduled sweep.
type BatchResult struct {
	Processed int `json:"processed"`
}

// SummaryParams identifies the records behind one completed summary.
type SummaryParams struct {
	UserID         uuid.UUID
	ReportID       uuid.UUID
	SummaryID      uuid.UUID
	GenerationTime float64
}

// summaryStruct is the shape of summaries.summary_struct the trigger reads.
type summaryStruct struct {
	Summary         string   `json:"summary"`
	Metrics         []string `json:"metrics"`
	Trends          []string `json:"trends"`
	Recommendations []string `json:"recommendations"`
}

// Engine evaluates the four email triggers. Each method is one stateless
// invocation: read the store, enqueue what the rules require, return counts.
// None of the sweeps globally deduplicate already-sent reminders — the date
// windows are a single calendar day, which bounds the damage of a re-run.
type Engine struct {
	q      db.Querier
	enq    queue.Enqueuer
	tiers  *TierResolver
	audit  audit.Sink
	logger *slog.Logger

	// now is injectable for the date-window tests.
	now func() time.Time
}

// NewEngine constructs the trigger engine.
func NewEngine(q db.Querier, enq queue.Enqueuer, tiers *TierResolver, sink audit.Sink, logger *slog.Logger) *Engine {
	return &Engine{
		q:      q,
		enq:    enq,
		tiers:  tiers,
		audit:  sink,
		logger: logger,
		now:    time.Now,
	}
}

// ─── SUMMARY-COMPLETION TRIGGER ───────────────────────────────────────────────

// OnSummaryGenerated fires after a summary finishes: it always enqueues
// summary_ready, and on finite tiers adds usage_warning or usage_limit when
// the month's count lands exactly on the threshold.
//
// Every failure inside this trigger is caught, audited, and swallowed — a
// notification problem must never surface to the user whose summary just
// generated.
func (e *Engine) OnSummaryGenerated(ctx context.Context, p SummaryParams) {
	if err := e.summaryEmails(ctx, p); err != nil {
		e.logger.Error("triggers: summary emails failed",
			"user_id", p.UserID,
			"report_id", p.ReportID,
			"error", err,
		)
		e.audit.Exception(ctx, err, audit.Fields{
			"component": "emailTriggers",
			"action":    "triggerSummaryEmails",
			"reportId":  p.ReportID,
			"summaryId": p.SummaryID,
		})
	}
}

func (e *Engine) summaryEmails(ctx context.Context, p SummaryParams) error {
	user, err := e.q.GetUserByID(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("triggers: load user %s: %w", p.UserID, err)
	}
	report, err := e.q.GetReportByID(ctx, p.ReportID)
	if err != nil {
		return fmt.Errorf("triggers: load report %s: %w", p.ReportID, err)
	}
	summary, err := e.q.GetSummaryByID(ctx, p.SummaryID)
	if err != nil {
		return fmt.Errorf("triggers: load summary %s: %w", p.SummaryID, err)
	}

	// Highlights are best-effort: an empty or unparsable struct yields empty
	// strings, not an error.
	var ss summaryStruct
	if summary.SummaryStruct.Valid {
		if err := json.Unmarshal(summary.SummaryStruct.RawMessage, &ss); err != nil {
			e.logger.Warn("triggers: malformed summary_struct", "summary_id", p.SummaryID, "error", err)
		}
	}
	topMetric := first(ss.Metrics)
	notableTrend := first(ss.Trends)

	info, err := e.tiers.Resolve(ctx, p.UserID)
	if err != nil {
		return err
	}
	used := e.summariesThisMonth(ctx, p.UserID)

	var reportsRemaining *int
	if info.Limit != nil {
		rem := max(0, *info.Limit-used)
		reportsRemaining = &rem
	}

	reportName := "Untitled report"
	if report.Title.Valid && report.Title.String != "" {
		reportName = report.Title.String
	}

	if _, err := e.enq.Enqueue(ctx, p.UserID, email.SummaryReadyData{
		Name:             displayName(user),
		ReportName:       reportName,
		ReportID:         p.ReportID.String(),
		TopMetric:        topMetric,
		NotableTrend:     notableTrend,
		GenerationTime:   p.GenerationTime,
		ReportsRemaining: reportsRemaining,
		ReportsLimit:     info.Limit,
	}, nil); err != nil {
		return err
	}

	// Usage notifications only exist on finite tiers, and only when the count
	// lands exactly on the threshold. A count that jumps past the threshold
	// in one step (concurrent generation) skips the notification.
	if info.Limit == nil {
		return nil
	}

	warningThreshold := *info.Limit - 1
	limitThreshold := *info.Limit

	var usage email.Payload
	switch used {
	case warningThreshold:
		usage = email.UsageWarningData{
			Name:         displayName(user),
			ReportsUsed:  used,
			ReportsLimit: *info.Limit,
			ResetDate:    firstOfNextMonth(e.now()).Format(resetDateLayout),
		}
	case limitThreshold:
		usage = email.UsageLimitData{
			Name:         displayName(user),
			ReportsUsed:  used,
			ReportsLimit: *info.Limit,
			ResetDate:    firstOfNextMonth(e.now()).Format(resetDateLayout),
		}
	default:
		return nil
	}

	_, err = e.enq.Enqueue(ctx, p.UserID, usage, nil)
	return err
}

// summariesThisMonth counts report_summarized audit events since the first of
// the current UTC month. A counting error is audited and treated as zero so
// the summary-ready email still goes out without usage figures.
func (e *Engine) summariesThisMonth(ctx context.Context, userID uuid.UUID) int {
	count, err := e.q.CountAuditEvents(ctx, db.CountAuditEventsParams{
		UserID:    userID,
		EventType: "report_summarized",
		Since:     startOfMonth(e.now()),
	})
	if err != nil {
		e.logger.Error("triggers: count summaries this month", "user_id", userID, "error", err)
		e.audit.Exception(ctx, err, audit.Fields{
			"component": "emailTriggers",
			"action":    "getSummariesThisMonth",
		})
		return 0
	}
	return int(count)
}

// ─── MONTHLY RESET SWEEP ──────────────────────────────────────────────────────

// MonthlyResetEmails enqueues a monthly_reset email for every finite-tier
// user. The sweep is a no-op on any day other than the 1st (UTC), which makes
// a daily scheduler safe to point at it.
func (e *Engine) MonthlyResetEmails(ctx context.Context) (BatchResult, error) {
	now := e.now().UTC()
	if now.Day() != 1 {
		return BatchResult{}, nil
	}

	users, err := e.q.ListUsers(ctx)
	if err != nil {
		e.audit.Exception(ctx, err, audit.Fields{
			"component": "emailTriggers",
			"action":    "queueMonthlyResetEmails",
		})
		return BatchResult{}, fmt.Errorf("triggers: list users: %w", err)
	}

	var res BatchResult
	for _, user := range users {
		info, err := e.tiers.Resolve(ctx, user.ID)
		if err != nil {
			e.perUserFailure(ctx, user.ID, "queueMonthlyResetEmails", err)
			continue
		}
		if info.Unlimited() {
			continue
		}

		if _, err := e.enq.Enqueue(ctx, user.ID, email.MonthlyResetData{
			Name:         displayName(user),
			CurrentMonth: now.Month().String(),
			ReportsLimit: *info.Limit,
		}, nil); err != nil {
			e.perUserFailure(ctx, user.ID, "queueMonthlyResetEmails", err)
			continue
		}
		res.Processed++
	}
	return res, nil
}

// ─── FIRST-REPORT REMINDER SWEEP ──────────────────────────────────────────────

// FirstReportReminders nudges users whose first login was exactly three days
// ago (one UTC calendar day window) and who still have zero reports.
func (e *Engine) FirstReportReminders(ctx context.Context) (BatchResult, error) {
	now := e.now().UTC()
	day := now.AddDate(0, 0, -3)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	users, err := e.q.ListUsersByFirstLogin(ctx, db.ListUsersByFirstLoginParams{Start: start, End: end})
	if err != nil {
		e.audit.Exception(ctx, err, audit.Fields{
			"component": "emailTriggers",
			"action":    "queueFirstReportReminders",
		})
		return BatchResult{}, fmt.Errorf("triggers: list users by first login: %w", err)
	}

	var res BatchResult
	for _, user := range users {
		count, err := e.q.CountReportsByUser(ctx, user.ID)
		if err != nil {
			e.perUserFailure(ctx, user.ID, "checkReportsForFirstReminder", err)
			continue
		}
		if count > 0 {
			continue
		}

		if _, err := e.enq.Enqueue(ctx, user.ID, email.FirstReportReminderData{
			Name: displayName(user),
		}, nil); err != nil {
			e.perUserFailure(ctx, user.ID, "queueFirstReportReminders", err)
			continue
		}
		res.Processed++
	}
	return res, nil
}

// ─── INACTIVE-USER SWEEP ──────────────────────────────────────────────────────

// InactiveUserEmails re-engages users whose updated_at is older than 30 days.
// Users who never logged in are skipped — they were never active to begin
// with.
func (e *Engine) InactiveUserEmails(ctx context.Context) (BatchResult, error) {
	now := e.now().UTC()
	day := now.AddDate(0, 0, -30)
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	users, err := e.q.ListInactiveUsers(ctx, cutoff)
	if err != nil {
		e.audit.Exception(ctx, err, audit.Fields{
			"component": "emailTriggers",
			"action":    "queueInactiveUserEmails",
		})
		return BatchResult{}, fmt.Errorf("triggers: list inactive users: %w", err)
	}

	var res BatchResult
	for _, user := range users {
		if user.LoginCount <= 0 {
			continue
		}

		if _, err := e.enq.Enqueue(ctx, user.ID, email.InactiveUserData{
			Name: displayName(user),
		}, nil); err != nil {
			e.perUserFailure(ctx, user.ID, "queueInactiveUserEmails", err)
			continue
		}
		res.Processed++
	}
	return res, nil
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

func (e *Engine) perUserFailure(ctx context.Context, userID uuid.UUID, action string, err error) {
	e.logger.Warn("triggers: per-user failure", "user_id", userID, "action", action, "error", err)
	e.audit.Event(ctx, "email_failed", &userID, audit.Fields{
		"component": "emailTriggers",
		"action":    action,
		"error":     err.Error(),
	})
}

func displayName(u db.User) string {
	if u.Name.Valid && u.Name.String != "" {
		return u.Name.String
	}
	return u.Email
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func firstOfNextMonth(t time.Time) time.Time {
	return startOfMonth(t).AddDate(0, 1, 0)
}
