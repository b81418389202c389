package api

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/reportbrief/reportbrief-backend/internal/db"
	stripeinternal "github.com/reportbrief/reportbrief-backend/internal/stripe"
)

// ─── POST /api/webhooks/stripe ────────────────────────────────────────────────

// handleStripeWebhook keeps the local subscriptions table in sync with
// Stripe. Tier resolution reads that table, so the usage emails pick up plan
// changes without calling the Stripe API on the hot path.
//
// Stripe delivers events at-least-once and may retry on non-2xx responses.
// The handler must be idempotent: every operation it performs uses
// upsert/insert-or-ignore patterns so replays are safe.
//
// The only events we act on are:
//   - customer.subscription.created / .updated → upsert subscription row
//   - customer.subscription.deleted            → mark subscription canceled
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// ── 1. Read and size-limit the body ───────────────────────────────────────
	// Stripe recommends reading the raw body before any other processing so
	// the signature check runs against the exact bytes Stripe signed.
	r.Body = http.MaxBytesReader(w, r.Body, 65536) // 64 KB — generous for any Stripe event
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	// ── 2. Verify the Stripe-Signature header ─────────────────────────────────
	sig := r.Header.Get("Stripe-Signature")
	event, err := s.stripe.VerifyWebhook(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Warn("webhook: invalid signature", "error", err, logField(r))
		respondErr(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}

	// ── 3. Idempotency: record the event, skip if already processed ───────────
	// UpsertStripeEvent uses ON CONFLICT DO NOTHING. When a duplicate event_id
	// is received Postgres returns zero rows, surfaced as sql.ErrNoRows. We
	// treat that as an idempotent success and ack immediately so Stripe stops
	// retrying.
	_, err = s.q.UpsertStripeEvent(r.Context(), stripeinternal.ToUpsertParams(event, payload))
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("webhook: duplicate event, skipping", "event_id", event.ID, logField(r))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("upsert stripe event: %w", err))
		return
	}

	// ── 4. Dispatch by event type ─────────────────────────────────────────────
	var handlerErr error

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		handlerErr = s.onSubscriptionChanged(r, event, "")

	case "customer.subscription.deleted":
		handlerErr = s.onSubscriptionChanged(r, event, "canceled")

	default:
		// Unknown event type — ack immediately so Stripe stops retrying.
		s.logger.Debug("webhook: unhandled event type", "type", event.Type, logField(r))
	}

	// ── 5. Mark event processed (or failed) ───────────────────────────────────
	if handlerErr != nil {
		s.logger.Error("webhook: handler error",
			"event_id", event.ID,
			"type", event.Type,
			"error", handlerErr,
			logField(r),
		)
		// Record the failure in stripe_events so the poller can investigate.
		_, _ = s.q.MarkStripeEventFailed(r.Context(), stripeinternal.ToMarkFailedParams(event.ID, handlerErr))
		// Return 500 so Stripe retries delivery.
		respondErr(w, http.StatusInternalServerError, "webhook handler failed")
		return
	}

	_, _ = s.q.MarkStripeEventProcessed(r.Context(), event.ID)
	w.WriteHeader(http.StatusOK)
}

// onSubscriptionChanged upserts the subscription row carried by the event.
// statusOverride, when non-empty, replaces the status Stripe reports; the
// deleted event still carries the subscription's last active status.
func (s *Server) onSubscriptionChanged(r *http.Request, event stripeinternal.Event, statusOverride string) error {
	sub, err := stripeinternal.ExtractSubscription(event)
	if err != nil {
		return fmt.Errorf("onSubscriptionChanged: %w", err)
	}

	status := sub.Status
	if statusOverride != "" {
		status = statusOverride
	}

	_, err = s.q.UpsertSubscription(r.Context(), db.UpsertSubscriptionParams{
		UserID:               sub.UserID,
		StripeSubscriptionID: sub.SubscriptionID,
		PriceID:              sub.PriceID,
		Status:               status,
	})
	if err != nil {
		return fmt.Errorf("onSubscriptionChanged: upsert subscription: %w", err)
	}

	s.logger.Info("webhook: subscription synced",
		"user_id", sub.UserID,
		"subscription_id", sub.SubscriptionID,
		"status", status,
		logField(r),
	)
	return nil
}
