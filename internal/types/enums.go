package types

// Tier is the subscription level of a user. Tiers are ordered: free < basic
// < premium. Upgrades are the normal path but downgrades (subscription
// cancellation) are supported and must not reset historical counters.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// tierRank orders tiers for upgrade/downgrade comparisons.
var tierRank = map[Tier]int{
	TierFree:    0,
	TierBasic:   1,
	TierPremium: 2,
}

// Rank returns the ordinal position of the tier. Unknown tiers rank below
// free so enforcement fails safe.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// PurchaseType records how access to a resource was obtained.
type PurchaseType string

const (
	PurchaseFree         PurchaseType = "free"
	PurchaseOneTime      PurchaseType = "one_time"
	PurchaseSubscription PurchaseType = "subscription"
)

// GrantStatus is the lifecycle state of an access grant. Free and
// subscription grants are created directly in GrantSucceeded; one-time
// grants start pending and are finalized by the payment webhook.
type GrantStatus string

const (
	GrantPending   GrantStatus = "pending"
	GrantSucceeded GrantStatus = "succeeded"
	GrantFailed    GrantStatus = "failed"
)

// DiscountType classifies what a promo code takes off the price.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountFreeMonths  DiscountType = "free_months"
)

// ReferralStatus tracks a referred signup from invite to reward payout.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
	ReferralRewarded  ReferralStatus = "rewarded"
)

// DecisionKind is the outcome of an access evaluation for a (user, paper)
// pair. PaymentRequired decisions may additionally carry an upgrade
// suggestion; the two are alternatives the caller chooses between, never
// exclusive.
type DecisionKind string

const (
	DecisionAlreadyGranted  DecisionKind = "already_granted"
	DecisionFreeAllowed     DecisionKind = "free_allowed"
	DecisionPaymentRequired DecisionKind = "payment_required"
	DecisionBlocked         DecisionKind = "blocked"
)

// UsageEventType labels entries in the append-only usage event log.
type UsageEventType string

const (
	UsageGenerationStarted   UsageEventType = "generation_started"
	UsageGenerationCompleted UsageEventType = "generation_completed"
	UsagePromoApplied        UsageEventType = "promo_applied"
	UsageReferralCreated     UsageEventType = "referral_created"
	UsageCheckoutStarted     UsageEventType = "checkout_started"
)
