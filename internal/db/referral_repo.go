package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"paperplan/internal/types"
)

// ErrReferralCodeTaken is returned by InsertCode when the generated code
// collides with an existing one. The promo service retries generation on
// this error; it never reaches API callers.
var ErrReferralCodeTaken = errors.New("referral code already taken")

// ReferralRepo manages referral codes, referral records and the cached
// per-referrer counters.
//
// The referral_records set is the source of truth; the counters on
// referral_stats are a materialized projection refreshed inside every write
// method so they cannot diverge silently.
type ReferralRepo struct {
	db DBTX
}

// NewReferralRepo creates a ReferralRepo backed by the given database
// connection (pool or transaction).
func NewReferralRepo(db DBTX) *ReferralRepo {
	return &ReferralRepo{db: db}
}

// GetCodeByUser returns the user's referral code, or (nil, nil) when none
// has been created yet.
func (r *ReferralRepo) GetCodeByUser(ctx context.Context, userID string) (*types.ReferralCode, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, code, created_at
		 FROM referral_codes
		 WHERE user_id = $1`,
		userID,
	)
	var c types.ReferralCode
	if err := row.Scan(&c.UserID, &c.Code, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load referral code", err)
	}
	return &c, nil
}

// GetCodeOwner resolves a referral code to its owning user, or ("", nil)
// when the code is unknown.
func (r *ReferralRepo) GetCodeOwner(ctx context.Context, code string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM referral_codes WHERE LOWER(code) = LOWER($1)`,
		code,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve referral code", err)
	}
	return userID, nil
}

// InsertCode stores a freshly generated code. A collision on the unique code
// column returns ErrReferralCodeTaken so the caller can regenerate; a
// concurrent insert for the same user (two lazy-create races) returns the
// same error and the caller's follow-up read finds the winner's code.
func (r *ReferralRepo) InsertCode(ctx context.Context, c *types.ReferralCode) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO referral_codes (user_id, code, created_at)
		 VALUES ($1, $2, NOW())`,
		c.UserID, c.Code,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReferralCodeTaken
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert referral code", err)
	}
	return nil
}

// InsertRecord stores a referral record and refreshes the referrer's cached
// counters from the record set.
func (r *ReferralRepo) InsertRecord(ctx context.Context, rec *types.ReferralRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO referral_records (id, referrer_id, referred_email, status, reward_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		rec.ID, rec.ReferrerID, rec.ReferredEmail, rec.Status, rec.RewardCents,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert referral record", err)
	}
	return r.refreshStats(ctx, rec.ReferrerID)
}

// UpdateRecordStatus moves a referral record along pending -> completed ->
// rewarded and refreshes the referrer's cached counters.
func (r *ReferralRepo) UpdateRecordStatus(ctx context.Context, recordID string, status types.ReferralStatus, rewardCents int64) error {
	var referrerID string
	err := r.db.QueryRow(ctx,
		`UPDATE referral_records
		 SET status = $1,
		     reward_cents = $2
		 WHERE id = $3
		 RETURNING referrer_id`,
		status, rewardCents, recordID,
	).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundReferral, "referral record not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update referral record", err)
	}
	return r.refreshStats(ctx, referrerID)
}

// GetStats returns the cached counters for a referrer. Zero-valued stats are
// returned for users with no referral activity.
func (r *ReferralRepo) GetStats(ctx context.Context, userID string) (*types.ReferralStats, error) {
	row := r.db.QueryRow(ctx,
		`SELECT total_referrals, successful_referrals, total_rewards_earned_cents
		 FROM referral_stats
		 WHERE user_id = $1`,
		userID,
	)
	var s types.ReferralStats
	if err := row.Scan(&s.TotalReferrals, &s.SuccessfulReferrals, &s.TotalRewardsEarnedCents); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &types.ReferralStats{}, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load referral stats", err)
	}
	return &s, nil
}

// refreshStats recomputes the materialized counters from the record set and
// upserts them. Recompute-on-write keeps the cache consistent at the cost of
// an aggregate per mutation, which referral volumes comfortably absorb.
func (r *ReferralRepo) refreshStats(ctx context.Context, referrerID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO referral_stats (user_id, total_referrals, successful_referrals, total_rewards_earned_cents)
		 SELECT $1,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE status IN ($2, $3)),
		        COALESCE(SUM(reward_cents) FILTER (WHERE status = $3), 0)
		 FROM referral_records
		 WHERE referrer_id = $1
		 ON CONFLICT (user_id) DO UPDATE
		 SET total_referrals = EXCLUDED.total_referrals,
		     successful_referrals = EXCLUDED.successful_referrals,
		     total_rewards_earned_cents = EXCLUDED.total_rewards_earned_cents`,
		referrerID, types.ReferralCompleted, types.ReferralRewarded,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to refresh referral stats", err)
	}
	return nil
}
