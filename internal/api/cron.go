package api

import (
	"net/http"

	"github.com/reportbrief/reportbrief-backend/internal/audit"
)

// Job names accepted by the cron manager. The external scheduler hits the
// manager once per schedule with the job it wants run; nothing is scheduled
// in-process.
const (
	jobEmailQueue          = "email_queue"
	jobMonthlyReset        = "monthly_reset"
	jobFirstReportReminder = "first_report_reminder"
	jobInactiveUser        = "inactive_user"
)

// ─── GET /api/cron/manager ────────────────────────────────────────────────────

// handleCronManager is the single entry point for all scheduled jobs. The
// scheduler passes ?job=<name>&secret=<CRON_SECRET>; the secret rides in the
// query string because some hosted cron services cannot set headers.
//
// Responses:
//
//	401 {error}                          bad or missing secret
//	400 {error}                          unknown job name
//	500 {success:false, error, details}  job ran and failed
//	200 {success:true, job, results}     job ran to completion
func (s *Server) handleCronManager(w http.ResponseWriter, r *http.Request) {
	if !secretEqual(r.URL.Query().Get("secret"), s.cfg.CronSecret) {
		respondErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	job := r.URL.Query().Get("job")

	var (
		results any
		err     error
	)

	switch job {
	case jobEmailQueue:
		results, err = s.processor.Process(r.Context())
	case jobMonthlyReset:
		results, err = s.triggers.MonthlyResetEmails(r.Context())
	case jobFirstReportReminder:
		results, err = s.triggers.FirstReportReminders(r.Context())
	case jobInactiveUser:
		results, err = s.triggers.InactiveUserEmails(r.Context())
	default:
		respondErr(w, http.StatusBadRequest, "invalid job: "+job)
		return
	}

	if err != nil {
		s.logger.Error("cron job failed", "job", job, "error", err, logField(r))
		respond(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "cron job failed",
			"details": err.Error(),
		})
		return
	}

	s.audit.Event(r.Context(), "email_processed", nil, audit.Fields{
		"job":     job,
		"results": results,
	})

	respond(w, http.StatusOK, map[string]any{
		"success": true,
		"job":     job,
		"results": results,
	})
}

// ─── POST /api/cron/process-email-queue ───────────────────────────────────────

// handleProcessEmailQueue drains one batch of pending jobs. Unlike the
// manager this endpoint takes the secret as a bearer token, for schedulers
// that can set headers.
func (s *Server) handleProcessEmailQueue(w http.ResponseWriter, r *http.Request) {
	if !secretEqual(bearerToken(r), s.cfg.CronSecret) {
		respondErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	results, err := s.processor.Process(r.Context())
	if err != nil {
		s.logger.Error("queue processing failed", "error", err, logField(r))
		respond(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "queue processing failed",
			"details": err.Error(),
		})
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
	})
}
