// Package promo implements promo code validation/redemption and the referral
// program.
package promo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paperplan/internal/types"
)

// PromoStore is the data access the resolver needs.
type PromoStore interface {
	// GetByCode returns the code (case-insensitive match) or (nil, nil)
	// when it does not exist.
	GetByCode(ctx context.Context, code string) (*types.PromoCode, error)

	// CountRedemptions returns how many times the user has redeemed the code.
	CountRedemptions(ctx context.Context, promoID, userID string) (int, error)

	// RecordRedemption increments the capped global counter and stores the
	// per-user redemption row.
	RecordRedemption(ctx context.Context, redemption *types.PromoRedemption) error
}

// Resolver validates promo codes and computes discounts.
type Resolver struct {
	store PromoStore
	nowFn func() time.Time
}

// NewResolver creates a Resolver. nowFn may be nil (time.Now); tests inject
// a fixed clock.
func NewResolver(store PromoStore, nowFn func() time.Time) *Resolver {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Resolver{store: store, nowFn: nowFn}
}

// Validate runs the ordered checks over a code for a user at a tier. The
// first failing check wins:
//
//  1. code exists and is active -- both failures return promo_invalid_code
//     so existing codes cannot be probed apart from disabled ones
//  2. now within [valid_from, valid_until]; either bound may be open
//  3. global use cap not reached (skipped when unlimited)
//  4. tier is among the code's applicable tiers (skipped when unrestricted)
//  5. per-user cap not reached (skipped when userID is empty)
//
// On success the returned Discount carries the code's terms; priceCents, when
// positive, is echoed with the discounted amount filled in.
func (r *Resolver) Validate(ctx context.Context, code string, tier types.Tier, userID string, priceCents int64) (*types.Discount, error) {
	promo, err := r.lookup(ctx, code, tier, userID)
	if err != nil {
		return nil, err
	}

	d := &types.Discount{
		Code:  promo.Code,
		Type:  promo.DiscountType,
		Value: promo.DiscountValue,
	}
	if priceCents > 0 {
		d.PriceCents = priceCents
		d.DiscountedTo = Apply(promo.DiscountType, promo.DiscountValue, priceCents)
	}
	return d, nil
}

// lookup loads the code and runs the ordered checks, returning the loaded
// promo row. Both Validate and Redeem go through this single load, so the
// promo they act on is the one that passed the checks.
func (r *Resolver) lookup(ctx context.Context, code string, tier types.Tier, userID string) (*types.PromoCode, error) {
	promo, err := r.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if promo == nil || !promo.IsActive {
		return nil, types.NewAppError(types.ErrCodePromoInvalidCode, "promo code is not valid", nil)
	}

	now := r.nowFn()
	if promo.ValidFrom != nil && now.Before(*promo.ValidFrom) {
		return nil, types.NewAppError(types.ErrCodePromoNotYetValid, "promo code is not yet valid", nil)
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return nil, types.NewAppError(types.ErrCodePromoExpired, "promo code has expired", nil)
	}

	if promo.MaxUses != nil && promo.UsesCount >= *promo.MaxUses {
		return nil, types.NewAppError(types.ErrCodePromoExhausted, "promo code has no uses remaining", nil)
	}

	if !promo.AppliesTo(tier) {
		return nil, types.NewAppError(types.ErrCodePromoWrongTier, "promo code does not apply to this tier", nil)
	}

	if userID != "" && promo.MaxUsesPerUser > 0 {
		used, err := r.store.CountRedemptions(ctx, promo.ID, userID)
		if err != nil {
			return nil, err
		}
		if used >= promo.MaxUsesPerUser {
			return nil, types.NewAppError(types.ErrCodePromoAlreadyUsed, "promo code already used by this user", nil)
		}
	}

	return promo, nil
}

// Redeem re-validates and records a redemption for the user, acting on the
// same promo row the checks ran against. The capped counter update in the
// store is the final arbiter under concurrency: a code exhausted between
// validation and redemption surfaces promo_exhausted here.
func (r *Resolver) Redeem(ctx context.Context, code string, tier types.Tier, userID string) (*types.Discount, error) {
	promo, err := r.lookup(ctx, code, tier, userID)
	if err != nil {
		return nil, err
	}

	redemption := &types.PromoRedemption{
		ID:      uuid.NewString(),
		PromoID: promo.ID,
		UserID:  userID,
	}
	if err := r.store.RecordRedemption(ctx, redemption); err != nil {
		return nil, err
	}
	return &types.Discount{
		Code:  promo.Code,
		Type:  promo.DiscountType,
		Value: promo.DiscountValue,
	}, nil
}

// Apply computes the discounted price in cents. Percentage discounts round
// down; fixed amounts floor at zero. free_months does not change a one-time
// price -- it shifts the subscription term, which the billing provider
// handles -- so the price passes through unchanged.
func Apply(dt types.DiscountType, value, priceCents int64) int64 {
	switch dt {
	case types.DiscountPercentage:
		if value >= 100 {
			return 0
		}
		return priceCents - priceCents*value/100
	case types.DiscountFixedAmount:
		if value >= priceCents {
			return 0
		}
		return priceCents - value
	case types.DiscountFreeMonths:
		return priceCents
	default:
		return priceCents
	}
}
