package promo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperplan/internal/types"
)

// --- Fake store ---

type fakePromoStore struct {
	promo       *types.PromoCode
	redemptions int

	recorded     []*types.PromoRedemption
	recordErr    error
	countErr     error
	getByCodeErr error

	getCalls int
	// missAfterFirstGet makes the code vanish after the first load, as if
	// it were deactivated concurrently.
	missAfterFirstGet bool
}

func (f *fakePromoStore) GetByCode(ctx context.Context, code string) (*types.PromoCode, error) {
	f.getCalls++
	if f.getByCodeErr != nil {
		return nil, f.getByCodeErr
	}
	if f.missAfterFirstGet && f.getCalls > 1 {
		return nil, nil
	}
	return f.promo, nil
}

func (f *fakePromoStore) CountRedemptions(ctx context.Context, promoID, userID string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.redemptions, nil
}

func (f *fakePromoStore) RecordRedemption(ctx context.Context, r *types.PromoRedemption) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, r)
	return nil
}

var resolverNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return resolverNow }

func activePromo() *types.PromoCode {
	return &types.PromoCode{
		ID:            "promo_1",
		Code:          "LAUNCH50",
		DiscountType:  types.DiscountPercentage,
		DiscountValue: 50,
		IsActive:      true,
	}
}

// --- Validate ---

func TestResolver_Validate_Success(t *testing.T) {
	store := &fakePromoStore{promo: activePromo()}
	r := NewResolver(store, fixedNow)

	d, err := r.Validate(context.Background(), "LAUNCH50", types.TierFree, "user_1", 499)
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH50", d.Code)
	assert.Equal(t, int64(499), d.PriceCents)
	assert.Equal(t, int64(249), d.DiscountedTo)
}

func TestResolver_Validate_UnknownAndInactiveAreIndistinguishable(t *testing.T) {
	// Unknown code.
	r := NewResolver(&fakePromoStore{promo: nil}, fixedNow)
	_, errUnknown := r.Validate(context.Background(), "NOPE", types.TierFree, "user_1", 0)
	require.Error(t, errUnknown)
	assert.True(t, types.IsCode(errUnknown, types.ErrCodePromoInvalidCode))

	// Disabled code must yield the identical error code so callers cannot
	// probe which codes exist.
	disabled := activePromo()
	disabled.IsActive = false
	r = NewResolver(&fakePromoStore{promo: disabled}, fixedNow)
	_, errInactive := r.Validate(context.Background(), "LAUNCH50", types.TierFree, "user_1", 0)
	require.Error(t, errInactive)
	assert.True(t, types.IsCode(errInactive, types.ErrCodePromoInvalidCode))
}

func TestResolver_Validate_Window(t *testing.T) {
	future := resolverNow.Add(24 * time.Hour)
	past := resolverNow.Add(-24 * time.Hour)

	notYet := activePromo()
	notYet.ValidFrom = &future
	r := NewResolver(&fakePromoStore{promo: notYet}, fixedNow)
	_, err := r.Validate(context.Background(), "LAUNCH50", types.TierFree, "user_1", 0)
	assert.True(t, types.IsCode(err, types.ErrCodePromoNotYetValid))

	expired := activePromo()
	expired.ValidUntil = &past
	r = NewResolver(&fakePromoStore{promo: expired}, fixedNow)
	_, err = r.Validate(context.Background(), "LAUNCH50", types.TierFree, "user_1", 0)
	assert.True(t, types.IsCode(err, types.ErrCodePromoExpired))
}

func TestResolver_Validate_GlobalCap(t *testing.T) {
	maxUses := 100
	exhausted := activePromo()
	exhausted.MaxUses = &maxUses
	exhausted.UsesCount = 100

	r := NewResolver(&fakePromoStore{promo: exhausted}, fixedNow)
	_, err := r.Validate(context.Background(), "LAUNCH50", types.TierFree, "user_1", 0)
	assert.True(t, types.IsCode(err, types.ErrCodePromoExhausted))
}

func TestResolver_Validate_TierRestriction(t *testing.T) {
	restricted := activePromo()
	restricted.ApplicableTiers = []types.Tier{types.TierFree}

	r := NewResolver(&fakePromoStore{promo: restricted}, fixedNow)
	_, err := r.Validate(context.Background(), "LAUNCH50", types.TierPremium, "user_1", 0)
	assert.True(t, types.IsCode(err, types.ErrCodePromoWrongTier))

	// An empty tier list means unrestricted.
	d, err := NewResolver(&fakePromoStore{promo: activePromo()}, fixedNow).
		Validate(context.Background(), "LAUNCH50", types.TierPremium, "user_1", 0)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestResolver_Validate_PerUserCap(t *testing.T) {
	capped := activePromo()
	capped.MaxUsesPerUser = 1

	r := NewResolver(&fakePromoStore{promo: capped, redemptions: 1}, fixedNow)
	_, err := r.Validate(context.Background(), "LAUNCH50", types.TierFree, "user_1", 0)
	assert.True(t, types.IsCode(err, types.ErrCodePromoAlreadyUsed))

	// Anonymous validation skips the per-user check.
	d, err := r.Validate(context.Background(), "LAUNCH50", types.TierFree, "", 0)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

// --- Redeem ---

func TestResolver_Redeem_RecordsRedemption(t *testing.T) {
	store := &fakePromoStore{promo: activePromo()}
	r := NewResolver(store, fixedNow)

	d, err := r.Redeem(context.Background(), "LAUNCH50", types.TierFree, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH50", d.Code)
	require.Len(t, store.recorded, 1)
	assert.Equal(t, "promo_1", store.recorded[0].PromoID)
	assert.Equal(t, "user_1", store.recorded[0].UserID)
}

func TestResolver_Redeem_SingleLoadSurvivesConcurrentDeactivation(t *testing.T) {
	// The promo the checks ran against is the one the redemption records:
	// one load serves both, so a code deactivated between the checks and
	// the write cannot leave Redeem holding nothing.
	store := &fakePromoStore{promo: activePromo(), missAfterFirstGet: true}
	r := NewResolver(store, fixedNow)

	d, err := r.Redeem(context.Background(), "LAUNCH50", types.TierFree, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH50", d.Code)
	require.Len(t, store.recorded, 1)
	assert.Equal(t, "promo_1", store.recorded[0].PromoID)
	assert.Equal(t, 1, store.getCalls)
}

func TestResolver_Redeem_StoreCapLoses(t *testing.T) {
	// Validation passed but the capped counter update found the code
	// exhausted; the store's verdict wins.
	store := &fakePromoStore{
		promo:     activePromo(),
		recordErr: types.NewAppError(types.ErrCodePromoExhausted, "promo code has no uses remaining", nil),
	}
	r := NewResolver(store, fixedNow)

	_, err := r.Redeem(context.Background(), "LAUNCH50", types.TierFree, "user_1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodePromoExhausted))
}

// --- Apply ---

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		dt    types.DiscountType
		value int64
		price int64
		want  int64
	}{
		{"percentage rounds down", types.DiscountPercentage, 50, 499, 249},
		{"full percentage zeroes", types.DiscountPercentage, 100, 499, 0},
		{"fixed amount", types.DiscountFixedAmount, 200, 499, 299},
		{"fixed amount floors at zero", types.DiscountFixedAmount, 600, 499, 0},
		{"free months leaves one-time price alone", types.DiscountFreeMonths, 1, 499, 499},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.dt, tt.value, tt.price))
		})
	}
}
