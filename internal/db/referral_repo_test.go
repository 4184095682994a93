package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paperplan/internal/types"
)

// Note: mockDBTX and mockRow are defined in entitlement_repo_test.go.

func TestReferralRepo_InsertCode_Collision(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewReferralRepo(dbtx)
	ctx := context.Background()

	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, uniqueViolationErr())

	err := repo.InsertCode(ctx, &types.ReferralCode{UserID: "user_1", Code: "ALICE-XK2P"})
	require.ErrorIs(t, err, ErrReferralCodeTaken)
}

func TestReferralRepo_GetCodeByUser_Absent(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewReferralRepo(dbtx)
	ctx := context.Background()

	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	c, err := repo.GetCodeByUser(ctx, "user_1")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestReferralRepo_GetCodeOwner_Unknown(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewReferralRepo(dbtx)
	ctx := context.Background()

	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	owner, err := repo.GetCodeOwner(ctx, "NOSUCH-1234")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestReferralRepo_InsertRecord_RefreshesStats(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewReferralRepo(dbtx)
	ctx := context.Background()

	var statements []string
	dbtx.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { statements = append(statements, args.String(1)) }).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.InsertRecord(ctx, &types.ReferralRecord{
		ID:            "ref_1",
		ReferrerID:    "user_1",
		ReferredEmail: "friend@example.com",
		Status:        types.ReferralPending,
	})
	require.NoError(t, err)

	// Every record write recomputes the cached counters in the same call.
	require.Len(t, statements, 2)
	assert.Contains(t, statements[1], "referral_stats")
	assert.Contains(t, statements[1], "ON CONFLICT (user_id) DO UPDATE")
}

func TestReferralRepo_UpdateRecordStatus_NotFound(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewReferralRepo(dbtx)
	ctx := context.Background()

	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	err := repo.UpdateRecordStatus(ctx, "ref_missing", types.ReferralCompleted, 0)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundReferral))
}

func TestReferralRepo_GetStats_NoActivityIsZero(t *testing.T) {
	dbtx := new(mockDBTX)
	repo := NewReferralRepo(dbtx)
	ctx := context.Background()

	dbtx.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	stats, err := repo.GetStats(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, &types.ReferralStats{}, stats)
}
