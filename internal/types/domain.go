// Package types defines the shared domain model for the PaperPlan entitlement
// service: entitlement records, access grants, promo and referral codes, and
// the error/context plumbing used across packages. It has no dependencies on
// other internal packages so any layer can import it.
package types

import "time"

// Entitlement is the per-user accounting record. One row per user, created
// lazily on the first authenticated action and never deleted.
//
// Invariants:
//   - FreeQuotaRemaining only decreases through the ledger's conditional
//     decrement; it is never reset on tier changes.
//   - TotalGenerated increases exactly once per successful generation,
//     regardless of whether the generation was free, one-time or included
//     in a subscription.
type Entitlement struct {
	UserID             string     `json:"user_id"`
	Email              string     `json:"email"`
	Tier               Tier       `json:"tier"`
	FreeQuotaRemaining int        `json:"free_quota_remaining"`
	TotalGenerated     int        `json:"total_generated"`
	StripeCustomerID   *string    `json:"stripe_customer_id,omitempty"`
	LastTierEventAt    *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AccessGrant records that a user has paid or earned access to one paper's
// business plan. At most one grant exists per (user, paper) pair; the
// database enforces this with a unique constraint so concurrent requests
// cannot double-charge.
//
// Grants are immutable after creation except for the pending -> succeeded/
// failed transition driven by the payment provider.
type AccessGrant struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	PaperID            string       `json:"paper_id"`
	PurchaseType       PurchaseType `json:"purchase_type"`
	Status             GrantStatus  `json:"status"`
	AmountPaidCents    int64        `json:"amount_paid_cents"`
	ExternalPaymentRef *string      `json:"external_payment_ref,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	FinalizedAt        *time.Time   `json:"finalized_at,omitempty"`
}

// Usable reports whether the grant confers access. Pending and failed
// grants do not unlock the resource.
func (g *AccessGrant) Usable() bool {
	return g != nil && g.Status == GrantSucceeded
}

// Decision is the result of evaluating whether a user may generate a
// business plan for a paper. It is a pure value; acting on it (consuming
// quota, charging) is the caller's responsibility.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// PriceCents is set when Kind is DecisionPaymentRequired.
	PriceCents int64 `json:"price_cents,omitempty"`

	// UpgradeSuggested accompanies PaymentRequired when subscribing would
	// also unlock the action. It is an alternative, not a replacement.
	UpgradeSuggested bool `json:"upgrade_suggested,omitempty"`

	// Reason is set when Kind is DecisionBlocked.
	Reason string `json:"reason,omitempty"`
}

// PromoCode is a discount code. Codes are matched case-insensitively.
type PromoCode struct {
	ID              string       `json:"id"`
	Code            string       `json:"code"`
	DiscountType    DiscountType `json:"discount_type"`
	DiscountValue   int64        `json:"discount_value"`
	MaxUses         *int         `json:"max_uses,omitempty"` // nil = unlimited
	UsesCount       int          `json:"uses_count"`
	MaxUsesPerUser  int          `json:"max_uses_per_user"`
	ApplicableTiers []Tier       `json:"applicable_tiers,omitempty"` // empty = all tiers
	ValidFrom       *time.Time   `json:"valid_from,omitempty"`
	ValidUntil      *time.Time   `json:"valid_until,omitempty"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
}

// AppliesTo reports whether the code is restricted to tiers and, if so,
// whether the given tier is among them.
func (p *PromoCode) AppliesTo(tier Tier) bool {
	if len(p.ApplicableTiers) == 0 {
		return true
	}
	for _, t := range p.ApplicableTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// PromoRedemption is one use of a promo code by one user. Per-user caps are
// enforced by counting these records, not by a counter on the code.
type PromoRedemption struct {
	ID        string    `json:"id"`
	PromoID   string    `json:"promo_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Discount is the descriptor returned by a successful promo validation.
type Discount struct {
	Code         string       `json:"code"`
	Type         DiscountType `json:"type"`
	Value        int64        `json:"value"`
	PriceCents   int64        `json:"price_cents,omitempty"`
	DiscountedTo int64        `json:"discounted_to,omitempty"`
}

// ReferralCode belongs to exactly one referring user and is created lazily
// on first request.
type ReferralCode struct {
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralRecord links a referrer to a referred email address. The record
// set is the source of truth; ReferralStats is a materialized projection
// refreshed on every write.
type ReferralRecord struct {
	ID            string         `json:"id"`
	ReferrerID    string         `json:"referrer_id"`
	ReferredEmail string         `json:"referred_email"`
	Status        ReferralStatus `json:"status"`
	RewardCents   int64          `json:"reward_cents"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ReferralStats are the cached aggregate counters for a referrer. They are
// recomputable from the ReferralRecord set at any time.
type ReferralStats struct {
	TotalReferrals          int   `json:"total_referrals"`
	SuccessfulReferrals     int   `json:"successful_referrals"`
	TotalRewardsEarnedCents int64 `json:"total_rewards_earned_cents"`
}

// UsageEvent is one entry in the append-only business event log. It is
// observability data, not correctness-critical state: writers swallow
// failures.
type UsageEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	EventType UsageEventType `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
