// Package triggers is the business-rule layer that decides when to enqueue
// which email kind for which user: the post-summary trigger and the three
// scheduled batch sweeps (monthly reset, first-report reminder, inactive
// re-engagement).
package triggers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/reportbrief/reportbrief-backend/internal/db"
)

// Tier is a user's subscription level.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// Monthly summary limits per tier. Pro is unlimited.
const (
	BasicLimit    = 5
	StandardLimit = 15
)

// TierInfo is derived per user from the latest subscription row. Limit nil
// means unlimited.
type TierInfo struct {
	Tier  Tier
	Limit *int
}

// Unlimited reports whether the tier has no monthly cap.
func (t TierInfo) Unlimited() bool { return t.Limit == nil }

// TierResolver maps a user's latest subscription to a TierInfo using the
// price-id allowlists from configuration. Unknown price ids and missing
// subscriptions both default to basic.
type TierResolver struct {
	q                db.Querier
	standardPriceIDs []string
	proPriceIDs      []string
}

// NewTierResolver constructs a resolver from the configured allowlists.
func NewTierResolver(q db.Querier, standardPriceIDs, proPriceIDs []string) *TierResolver {
	return &TierResolver{
		q:                q,
		standardPriceIDs: standardPriceIDs,
		proPriceIDs:      proPriceIDs,
	}
}

// Resolve computes the user's tier and monthly limit.
func (r *TierResolver) Resolve(ctx context.Context, userID uuid.UUID) (TierInfo, error) {
	sub, err := r.q.GetLatestSubscription(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return basicTier(), nil
	}
	if err != nil {
		return TierInfo{}, fmt.Errorf("triggers: load subscription for %s: %w", userID, err)
	}

	if sub.PriceID.Valid && len(r.proPriceIDs) > 0 && slices.Contains(r.proPriceIDs, sub.PriceID.String) {
		return TierInfo{Tier: TierPro, Limit: nil}, nil
	}

	if sub.PriceID.Valid && len(r.standardPriceIDs) > 0 && slices.Contains(r.standardPriceIDs, sub.PriceID.String) {
		limit := StandardLimit
		return TierInfo{Tier: TierStandard, Limit: &limit}, nil
	}

	// Unknown or legacy price ids fall back to basic rather than erroring.
	return basicTier(), nil
}

func basicTier() TierInfo {
	limit := BasicLimit
	return TierInfo{Tier: TierBasic, Limit: &limit}
}
