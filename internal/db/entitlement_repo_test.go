package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paperplan/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// uniqueViolationErr builds the pg error the unique-constraint paths map.
func uniqueViolationErr() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "some_unique_key"}
}

func scanEntitlementRow(userID, email string, tier types.Tier, quota, total int) *mockRow {
	now := time.Now().UTC()
	return &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = userID
			*dest[1].(*string) = email
			*dest[2].(*types.Tier) = tier
			*dest[3].(*int) = quota
			*dest[4].(*int) = total
			*dest[5].(**string) = nil
			*dest[6].(**time.Time) = nil
			*dest[7].(*time.Time) = now
			*dest[8].(*time.Time) = now
			return nil
		},
	}
}

// --- GetOrCreate ---

func TestEntitlementRepo_GetOrCreate_NewUser(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(scanEntitlementRow("user_1", "u@example.com", types.TierFree, 3, 0))

	ent, err := repo.GetOrCreate(ctx, "user_1", "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user_1", ent.UserID)
	assert.Equal(t, types.TierFree, ent.Tier)
	assert.Equal(t, 3, ent.FreeQuotaRemaining)
	dbtx.AssertExpectations(t)
}

func TestEntitlementRepo_GetOrCreate_ExistingUserKeepsState(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	// The conflict case: insert touches no rows, select returns the
	// existing record with consumed quota.
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)
	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(scanEntitlementRow("user_1", "u@example.com", types.TierBasic, 1, 7))

	ent, err := repo.GetOrCreate(ctx, "user_1", "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.TierBasic, ent.Tier)
	assert.Equal(t, 1, ent.FreeQuotaRemaining)
	assert.Equal(t, 7, ent.TotalGenerated)
}

func TestEntitlementRepo_GetOrCreate_InsertError(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.GetOrCreate(ctx, "user_1", "u@example.com")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

// --- ConsumeFreeQuota ---

func TestEntitlementRepo_ConsumeFreeQuota_Success(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.ConsumeFreeQuota(ctx, "user_1"))
	dbtx.AssertExpectations(t)
}

func TestEntitlementRepo_ConsumeFreeQuota_Exhausted(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	// The conditional decrement matched no row: quota is at zero. This is
	// the same signal the loser of a last-unit race receives.
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.ConsumeFreeQuota(ctx, "user_1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeQuotaExhausted))
}

func TestEntitlementRepo_ConsumeFreeQuota_GuardInSQL(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	var captured string
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { captured = args.String(1) }).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.ConsumeFreeQuota(ctx, "user_1"))
	// Decrement and guard must live in one statement; anything else
	// reintroduces the read-modify-write race.
	assert.Contains(t, captured, "free_quota_remaining > 0")
	assert.Contains(t, captured, "free_quota_remaining - 1")
}

// --- RecordPaidGeneration ---

func TestEntitlementRepo_RecordPaidGeneration_UnknownUser(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.RecordPaidGeneration(ctx, "user_missing")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundUser))
}

// --- UpdateTier ---

func TestEntitlementRepo_UpdateTier_Applied(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateTier(ctx, "user_1", types.TierPremium, time.Now().UTC())
	require.NoError(t, err)
}

func TestEntitlementRepo_UpdateTier_StaleEventIsNoOp(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	// An out-of-order webhook carries an older event timestamp; the
	// optimistic lock rejects it and the repo treats that as success.
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateTier(ctx, "user_1", types.TierFree, time.Now().Add(-time.Hour).UTC())
	require.NoError(t, err)
}

// --- SetStripeCustomerID ---

func TestEntitlementRepo_SetStripeCustomerID_NeverOverwrites(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewEntitlementRepo(dbtx, nil)
	ctx := context.Background()

	var captured string
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { captured = args.String(1) }).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	require.NoError(t, repo.SetStripeCustomerID(ctx, "user_1", "cus_123"))
	assert.Contains(t, captured, "stripe_customer_id IS NULL")
}
