// Package entitlement holds the access-decision core: the plan catalog, the
// pure access evaluator, and the snapshot-gathering service that feeds it.
package entitlement

import "paperplan/internal/types"

// Plan defines the entitlement rules for one subscription tier.
// This is the single source of truth for quota allotments and pricing.
type Plan struct {
	Tier types.Tier

	// FreeGenerations is the starting free-quota allotment for new users on
	// this tier. Only the free tier grants any.
	FreeGenerations int

	// IncludesGenerations marks tiers whose subscription price covers
	// generations (premium). Such tiers never hit the payment path, only
	// the fair-use cap.
	IncludesGenerations bool

	// OneTimePriceCents is the price of a single business plan when the
	// evaluator decides PaymentRequired.
	OneTimePriceCents int64

	// MonthlyFairUseCap is the soft monthly ceiling on included
	// generations. Zero means the cap does not apply to this tier.
	MonthlyFairUseCap int

	// MonthlyPriceCents and StripePriceID describe the subscription
	// itself; free has neither.
	MonthlyPriceCents int64
	StripePriceID     string
}

// PlanRegistry resolves a tier to its plan definition. Unknown tiers resolve
// to the free plan so enforcement fails safe.
type PlanRegistry interface {
	GetPlan(tier types.Tier) Plan
}

// planDefaults is the hardcoded catalog:
//
//	| Tier    | Free gens | Per-plan price | Included | Fair-use cap |
//	|---------|-----------|----------------|----------|--------------|
//	| free    | 3         | $4.99          | no       | -            |
//	| basic   | 0         | $2.99          | no       | -            |
//	| premium | 0         | -              | yes      | 100/month    |
var planDefaults = map[types.Tier]Plan{
	types.TierFree: {
		Tier:              types.TierFree,
		FreeGenerations:   3,
		OneTimePriceCents: 499,
	},
	types.TierBasic: {
		Tier:              types.TierBasic,
		OneTimePriceCents: 299,
		MonthlyPriceCents: 900,
		StripePriceID:     "price_basic_monthly",
	},
	types.TierPremium: {
		Tier:                types.TierPremium,
		IncludesGenerations: true,
		MonthlyFairUseCap:   100,
		MonthlyPriceCents:   2900,
		StripePriceID:       "price_premium_monthly",
	},
}

var freePlan = planDefaults[types.TierFree]

// staticPlanRegistry is a compile-time registry backed by an in-memory map.
type staticPlanRegistry struct {
	plans map[types.Tier]Plan
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded
// catalog. No database or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy so callers cannot mutate the package-level defaults.
	m := make(map[types.Tier]Plan, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{plans: m}
}

// GetPlan returns the plan for the given tier, or the free plan for unknown
// tiers.
func (r *staticPlanRegistry) GetPlan(tier types.Tier) Plan {
	if p, ok := r.plans[tier]; ok {
		return p
	}
	return freePlan
}

// PriceToTier maps Stripe subscription price IDs back to domain tiers. Used
// when interpreting subscription webhook payloads.
var PriceToTier = map[string]types.Tier{
	"price_basic_monthly":   types.TierBasic,
	"price_premium_monthly": types.TierPremium,
}
