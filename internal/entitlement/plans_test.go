package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"paperplan/internal/types"
)

func TestStaticPlanRegistry_Catalog(t *testing.T) {
	plans := NewStaticPlanRegistry()

	free := plans.GetPlan(types.TierFree)
	assert.Equal(t, 3, free.FreeGenerations)
	assert.Equal(t, int64(499), free.OneTimePriceCents)
	assert.False(t, free.IncludesGenerations)
	assert.Empty(t, free.StripePriceID)

	basic := plans.GetPlan(types.TierBasic)
	assert.Zero(t, basic.FreeGenerations)
	assert.Equal(t, int64(299), basic.OneTimePriceCents)
	assert.Equal(t, "price_basic_monthly", basic.StripePriceID)

	premium := plans.GetPlan(types.TierPremium)
	assert.True(t, premium.IncludesGenerations)
	assert.Equal(t, 100, premium.MonthlyFairUseCap)
	assert.Equal(t, "price_premium_monthly", premium.StripePriceID)
}

func TestStaticPlanRegistry_UnknownTierFailsSafeToFree(t *testing.T) {
	plans := NewStaticPlanRegistry()

	p := plans.GetPlan(types.Tier("enterprise"))
	assert.Equal(t, types.TierFree, p.Tier)
}

func TestPriceToTierCoversAllPaidPlans(t *testing.T) {
	plans := NewStaticPlanRegistry()

	for _, tier := range []types.Tier{types.TierBasic, types.TierPremium} {
		priceID := plans.GetPlan(tier).StripePriceID
		mapped, ok := PriceToTier[priceID]
		assert.True(t, ok, "price %s has no tier mapping", priceID)
		assert.Equal(t, tier, mapped)
	}
}
