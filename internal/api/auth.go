package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/reportbrief/reportbrief-backend/internal/email"
)

// ─── POST /api/auth/callback ──────────────────────────────────────────────────

type authCallbackRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// handleAuthCallback records a sign-in. The auth provider in front of this
// service calls it after every successful login.
//
// Every call bumps login_count and refreshes the profile fields. The first
// login for a user additionally seeds their default email preferences (all
// on) and queues the welcome email. Preference seeding uses insert-or-ignore,
// so a replayed callback cannot clobber choices the user made in between.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req authCallbackRequest
	if !decode(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid userId")
		return
	}
	if req.Email == "" {
		respondErr(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := s.q.UpsertUserLogin(r.Context(), db.UpsertUserLoginParams{
		ID:         userID,
		Email:      req.Email,
		Name:       req.Name,
		FirstLogin: true,
	})
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}

	firstLogin := user.LoginCount == 1
	if firstLogin {
		if _, err := s.q.CreateDefaultEmailPreferences(r.Context(), user.ID); err != nil {
			s.logger.Error("create default preferences failed",
				"user_id", user.ID, "error", err, logField(r))
		}

		// Welcome email trouble is logged by the enqueue service; the login
		// itself already succeeded.
		name := req.Name
		if name == "" {
			name = req.Email
		}
		if _, err := s.enqueue.Enqueue(r.Context(), user.ID, email.WelcomeData{Name: name}, nil); err != nil {
			s.logger.Error("welcome email enqueue failed",
				"user_id", user.ID, "error", err, logField(r))
		}
	}

	respond(w, http.StatusOK, map[string]any{
		"success":    true,
		"firstLogin": firstLogin,
	})
}
