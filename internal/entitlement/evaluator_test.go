package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"paperplan/internal/types"
)

func TestEvaluate(t *testing.T) {
	plans := NewStaticPlanRegistry()

	tests := []struct {
		name string
		snap Snapshot
		want types.Decision
	}{
		{
			name: "existing succeeded grant wins over everything",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.TierFree, FreeQuotaRemaining: 0},
				Grant:       &types.AccessGrant{Status: types.GrantSucceeded},
			},
			want: types.Decision{Kind: types.DecisionAlreadyGranted},
		},
		{
			name: "pending grant does not unlock access",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.TierFree, FreeQuotaRemaining: 2},
				Grant:       &types.AccessGrant{Status: types.GrantPending},
			},
			want: types.Decision{Kind: types.DecisionFreeAllowed},
		},
		{
			name: "failed grant falls through to payment",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.TierFree, FreeQuotaRemaining: 0},
				Grant:       &types.AccessGrant{Status: types.GrantFailed},
			},
			want: types.Decision{
				Kind:             types.DecisionPaymentRequired,
				PriceCents:       499,
				UpgradeSuggested: true,
			},
		},
		{
			name: "free tier with quota remaining",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.TierFree, FreeQuotaRemaining: 3},
			},
			want: types.Decision{Kind: types.DecisionFreeAllowed},
		},
		{
			name: "free tier exhausted suggests upgrade",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.TierFree, FreeQuotaRemaining: 0},
			},
			want: types.Decision{
				Kind:             types.DecisionPaymentRequired,
				PriceCents:       499,
				UpgradeSuggested: true,
			},
		},
		{
			name: "basic tier always pays the discounted rate",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.TierBasic, FreeQuotaRemaining: 2},
			},
			want: types.Decision{
				Kind:       types.DecisionPaymentRequired,
				PriceCents: 299,
			},
		},
		{
			name: "premium under the cap is included",
			snap: Snapshot{
				Entitlement:     types.Entitlement{Tier: types.TierPremium},
				GrantsThisMonth: 99,
			},
			want: types.Decision{Kind: types.DecisionFreeAllowed},
		},
		{
			name: "premium at the cap is blocked",
			snap: Snapshot{
				Entitlement:     types.Entitlement{Tier: types.TierPremium},
				GrantsThisMonth: 100,
			},
			want: types.Decision{
				Kind:   types.DecisionBlocked,
				Reason: BlockedReasonFairUse,
			},
		},
		{
			name: "premium grant check precedes the cap check",
			snap: Snapshot{
				Entitlement:     types.Entitlement{Tier: types.TierPremium},
				Grant:           &types.AccessGrant{Status: types.GrantSucceeded},
				GrantsThisMonth: 500,
			},
			want: types.Decision{Kind: types.DecisionAlreadyGranted},
		},
		{
			name: "unknown tier falls back to free plan rules",
			snap: Snapshot{
				Entitlement: types.Entitlement{Tier: types.Tier("enterprise"), FreeQuotaRemaining: 0},
			},
			want: types.Decision{
				Kind:             types.DecisionPaymentRequired,
				PriceCents:       499,
				UpgradeSuggested: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.snap, plans)
			assert.Equal(t, tt.want, got)
		})
	}
}
