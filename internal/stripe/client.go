// Package stripe defines the interface for Stripe webhook verification and
// the helpers that turn subscription events into database writes. Checkout
// and payment collection live elsewhere — this service only consumes the
// subscription lifecycle events that keep tier resolution accurate.
package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/sqlc-dev/pqtype"
)

// Event is a parsed Stripe webhook event. DataRaw contains the raw JSON of
// the event's data.object so handlers unmarshal only what they need.
type Event struct {
	ID      string
	Type    string
	DataRaw json.RawMessage
}

// Client is the interface the api package uses for webhook verification.
// The concrete implementation wraps the official stripe-go SDK. Tests inject
// a stub.
type Client interface {
	// VerifyWebhook validates the Stripe-Signature header and returns the
	// parsed event. Returns an error if the signature is invalid or expired.
	VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error)
}

// ─── HELPERS USED BY api/ ────────────────────────────────────────────────────

// ToUpsertParams converts a parsed Event and its raw payload into the params
// for db.Querier.UpsertStripeEvent.
func ToUpsertParams(event Event, rawPayload []byte) db.UpsertStripeEventParams {
	return db.UpsertStripeEventParams{
		StripeEventID: event.ID,
		Type:          event.Type,
		Payload:       pqtype.NullRawMessage{RawMessage: rawPayload, Valid: true},
	}
}

// ToMarkFailedParams builds the params for db.Querier.MarkStripeEventFailed.
func ToMarkFailedParams(eventID string, err error) db.MarkStripeEventFailedParams {
	return db.MarkStripeEventFailedParams{
		StripeEventID: eventID,
		Error:         err.Error(),
	}
}

// SubscriptionUpdate is the subset of a customer.subscription.* event the
// sync handler writes to the subscriptions table.
type SubscriptionUpdate struct {
	UserID         uuid.UUID
	SubscriptionID string
	PriceID        string
	Status         string
}

// ExtractSubscription pulls the fields the sync handler needs from a
// customer.subscription.* event. The user is identified via metadata.user_id,
// which checkout stamps on every subscription it creates; events without it
// return an error and are skipped.
func ExtractSubscription(event Event) (SubscriptionUpdate, error) {
	var obj struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Metadata struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
		Items struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(event.DataRaw, &obj); err != nil {
		return SubscriptionUpdate{}, fmt.Errorf("stripe: unmarshal subscription: %w", err)
	}
	if obj.ID == "" {
		return SubscriptionUpdate{}, fmt.Errorf("stripe: subscription id is empty in event %s", event.ID)
	}

	userID, err := uuid.Parse(obj.Metadata.UserID)
	if err != nil {
		return SubscriptionUpdate{}, fmt.Errorf("stripe: event %s has no usable metadata.user_id: %w", event.ID, err)
	}

	var priceID string
	if len(obj.Items.Data) > 0 {
		priceID = obj.Items.Data[0].Price.ID
	}

	return SubscriptionUpdate{
		UserID:         userID,
		SubscriptionID: obj.ID,
		PriceID:        priceID,
		Status:         obj.Status,
	}, nil
}
