package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/email"
	"github.com/reportbrief/reportbrief-backend/internal/queue"
	"github.com/reportbrief/reportbrief-backend/internal/triggers"
)

// ─── POST /api/emails/on-summary-complete ─────────────────────────────────────

type onSummaryCompleteRequest struct {
	ReportID       string  `json:"reportId"`
	SummaryID      string  `json:"summaryId"`
	GenerationTime float64 `json:"generationTime"`
}

// handleOnSummaryComplete is called by the summarization pipeline the moment
// a summary lands. It enqueues the summary-ready email and, when the user has
// just hit their plan threshold, the matching usage email.
//
// Email trouble never fails this endpoint; the trigger engine records its own
// failures and the summary itself is already safely stored.
func (s *Server) handleOnSummaryComplete(w http.ResponseWriter, r *http.Request) {
	var req onSummaryCompleteRequest
	if !decode(w, r, &req) {
		return
	}

	reportID, err := uuid.Parse(req.ReportID)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid reportId")
		return
	}
	summaryID, err := uuid.Parse(req.SummaryID)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid summaryId")
		return
	}

	s.triggers.OnSummaryGenerated(r.Context(), triggers.SummaryParams{
		UserID:         sessionUserID(r),
		ReportID:       reportID,
		SummaryID:      summaryID,
		GenerationTime: req.GenerationTime,
	})

	respond(w, http.StatusOK, map[string]any{"success": true})
}

// ─── POST /api/emails/queue ───────────────────────────────────────────────────

type queueEmailRequest struct {
	UserID      string          `json:"userId"`
	EmailType   string          `json:"emailType"`
	Data        json.RawMessage `json:"data"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
}

// handleQueueEmail lets an authenticated caller queue any email kind
// directly. It runs through the same enqueue service as every trigger, so the
// preference gate, subject line, and audit trail are identical no matter who
// queued the job.
func (s *Server) handleQueueEmail(w http.ResponseWriter, r *http.Request) {
	var req queueEmailRequest
	if !decode(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid userId")
		return
	}

	kind, err := email.ParseKind(req.EmailType)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid emailType: "+req.EmailType)
		return
	}

	payload, err := email.DecodePayload(kind, req.Data)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid data for emailType "+req.EmailType)
		return
	}

	result, err := s.enqueue.Enqueue(r.Context(), userID, payload, req.ScheduledAt)
	if errors.Is(err, queue.ErrUserNotFound) {
		respondErr(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	resp := map[string]any{"queued": result.Queued}
	if result.JobID != nil {
		resp["emailId"] = result.JobID.String()
	}
	respond(w, http.StatusOK, resp)
}
