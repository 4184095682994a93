package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paperplan/internal/types"
)

// Note: mockDBTX and mockRow are defined in entitlement_repo_test.go.

func TestPromoRepo_GetByCode_Found(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPromoRepo(dbtx)
	ctx := context.Background()

	maxUses := 100
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "promo_1"
			*dest[1].(*string) = "LAUNCH50"
			*dest[2].(*types.DiscountType) = types.DiscountPercentage
			*dest[3].(*int64) = 50
			*dest[4].(**int) = &maxUses
			*dest[5].(*int) = 12
			*dest[6].(*int) = 1
			*dest[7].(*[]string) = []string{"free", "basic"}
			*dest[8].(**time.Time) = nil
			*dest[9].(**time.Time) = nil
			*dest[10].(*bool) = true
			*dest[11].(*time.Time) = time.Now().UTC()
			return nil
		},
	}
	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	p, err := repo.GetByCode(ctx, "launch50")
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH50", p.Code)
	assert.Equal(t, types.DiscountPercentage, p.DiscountType)
	assert.Equal(t, []types.Tier{types.TierFree, types.TierBasic}, p.ApplicableTiers)
	assert.True(t, p.AppliesTo(types.TierBasic))
	assert.False(t, p.AppliesTo(types.TierPremium))
}

func TestPromoRepo_GetByCode_Absent(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPromoRepo(dbtx)
	ctx := context.Background()

	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	p, err := repo.GetByCode(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPromoRepo_RecordRedemption_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPromoRepo(dbtx)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	err := repo.RecordRedemption(ctx, &types.PromoRedemption{
		ID:      "red_1",
		PromoID: "promo_1",
		UserID:  "user_1",
	})
	require.NoError(t, err)
	dbtx.AssertExpectations(t)
}

func TestPromoRepo_RecordRedemption_CapReached(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPromoRepo(dbtx)
	ctx := context.Background()

	// The capped counter update matched no row: the code ran out between
	// validation and redemption. No redemption row may be written.
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	err := repo.RecordRedemption(ctx, &types.PromoRedemption{
		ID:      "red_2",
		PromoID: "promo_1",
		UserID:  "user_2",
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodePromoExhausted))
	dbtx.AssertNumberOfCalls(t, "Exec", 1)
}

func TestPromoRepo_RecordRedemption_CapGuardInSQL(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewPromoRepo(dbtx)
	ctx := context.Background()

	var captured string
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			if captured == "" {
				captured = args.String(1)
			}
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.RecordRedemption(ctx, &types.PromoRedemption{ID: "red_3", PromoID: "promo_1", UserID: "user_3"})
	require.NoError(t, err)
	assert.Contains(t, captured, "uses_count < max_uses")
}
