package entitlement

import "paperplan/internal/types"

// BlockedReasonFairUse is the reason string carried by Blocked decisions
// when a premium user exceeds the monthly fair-use cap.
const BlockedReasonFairUse = "fair_use_cap_exceeded"

// Snapshot is the point-in-time state the evaluator decides over. The caller
// reads it, decides, then acts; the read and the subsequent mutation are not
// atomic end-to-end. That race is closed at the ledger layer: the conditional
// decrement can still fail with QuotaExhausted after an optimistic
// FreeAllowed, and the grant unique constraint can still report
// DuplicateGrant after a clean snapshot.
type Snapshot struct {
	// Entitlement is the user's accounting record.
	Entitlement types.Entitlement

	// Grant is the existing grant for the target paper, if any (any status).
	Grant *types.AccessGrant

	// GrantsThisMonth counts grants created since the first day of the
	// current month. Only consulted for tiers with a fair-use cap.
	GrantsThisMonth int
}

// Evaluate decides whether the user may generate a business plan for the
// target paper. It is a pure function over the snapshot: no side effects, no
// I/O.
//
// Ordering rules:
//  1. An existing usable grant always wins (idempotent re-access), before
//     any tier logic.
//  2. The fair-use cap applies only to tiers with included generations, and
//     only after the grant check.
//  3. The free-quota check happens before the payment-required fallback.
//
// PaymentRequired for an exhausted free tier carries UpgradeSuggested: the
// caller may offer a subscription instead of a one-time charge, but neither
// path is chosen here.
func Evaluate(snap Snapshot, plans PlanRegistry) types.Decision {
	if snap.Grant.Usable() {
		return types.Decision{Kind: types.DecisionAlreadyGranted}
	}

	plan := plans.GetPlan(snap.Entitlement.Tier)

	if plan.IncludesGenerations {
		if plan.MonthlyFairUseCap > 0 && snap.GrantsThisMonth >= plan.MonthlyFairUseCap {
			return types.Decision{
				Kind:   types.DecisionBlocked,
				Reason: BlockedReasonFairUse,
			}
		}
		return types.Decision{Kind: types.DecisionFreeAllowed}
	}

	if plan.FreeGenerations > 0 && snap.Entitlement.FreeQuotaRemaining > 0 {
		return types.Decision{Kind: types.DecisionFreeAllowed}
	}

	return types.Decision{
		Kind:             types.DecisionPaymentRequired,
		PriceCents:       plan.OneTimePriceCents,
		UpgradeSuggested: plan.FreeGenerations > 0,
	}
}
