package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"paperplan/internal/types"
)

// defaultFreeQuota is the free-generation allotment given to every new
// entitlement record.
const defaultFreeQuota = 3

// EntitlementRepo manages the per-user accounting record: tier, free quota
// and the total-generated counter.
//
// The two counters are shared mutable state touched by concurrent requests,
// so every mutation here is a single conditional UPDATE. Application code
// never does read-modify-write on them.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewEntitlementRepo creates an EntitlementRepo backed by the given database
// connection (pool or transaction).
func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

const entitlementColumns = `user_id, email, tier, free_quota_remaining, total_generated,
	stripe_customer_id, last_tier_event_at, created_at, updated_at`

func scanEntitlement(row pgx.Row) (*types.Entitlement, error) {
	var e types.Entitlement
	err := row.Scan(
		&e.UserID,
		&e.Email,
		&e.Tier,
		&e.FreeQuotaRemaining,
		&e.TotalGenerated,
		&e.StripeCustomerID,
		&e.LastTierEventAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetOrCreate returns the entitlement record for the user, creating it with
// the default free allotment on first contact. The insert races benignly
// with concurrent first requests: ON CONFLICT DO NOTHING plus the follow-up
// SELECT yields the same row for both.
func (r *EntitlementRepo) GetOrCreate(ctx context.Context, userID, email string) (*types.Entitlement, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (user_id, email, tier, free_quota_remaining, total_generated)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, email, types.TierFree, defaultFreeQuota,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create entitlement record", err)
	}

	row := r.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`,
		userID,
	)
	ent, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "entitlement record not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load entitlement record", err)
	}
	return ent, nil
}

// Get returns the entitlement record without creating it.
func (r *EntitlementRepo) Get(ctx context.Context, userID string) (*types.Entitlement, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`,
		userID,
	)
	ent, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "entitlement record not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load entitlement record", err)
	}
	return ent, nil
}

// ConsumeFreeQuota spends one unit of free quota and counts the generation,
// as a single conditional UPDATE. The WHERE guard makes the read-check-
// decrement atomic: of two concurrent requests racing for the last unit,
// exactly one UPDATE matches and the loser gets QuotaExhausted -- even if an
// earlier evaluation optimistically said FreeAllowed.
//
// Decrement and increment happen in one statement, so a retry after a
// timeout cannot double-spend: either the row version with quota > 0 was
// consumed or it was not.
func (r *EntitlementRepo) ConsumeFreeQuota(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET free_quota_remaining = free_quota_remaining - 1,
		     total_generated = total_generated + 1,
		     updated_at = NOW()
		 WHERE user_id = $1
		   AND free_quota_remaining > 0`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to consume free quota", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeQuotaExhausted, "free generation quota exhausted", nil)
	}
	return nil
}

// RecordPaidGeneration counts a generation delivered through a paid or
// included path. Free quota is not touched.
func (r *EntitlementRepo) RecordPaidGeneration(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET total_generated = total_generated + 1,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record paid generation", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "entitlement record not found", nil)
	}
	return nil
}

// UpdateTier applies a subscription state change from the payment provider.
//
// Webhook delivery has no ordering guarantee, so the update carries the
// provider's event timestamp and only applies when it is newer than the last
// applied one (optimistic lock on last_tier_event_at). Stale events are a
// silent no-op. free_quota_remaining is deliberately left alone: historical
// quota stays consumed across upgrades and downgrades.
func (r *EntitlementRepo) UpdateTier(ctx context.Context, userID string, tier types.Tier, eventTime time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET tier = $1,
		     last_tier_event_at = $2,
		     updated_at = NOW()
		 WHERE user_id = $3
		   AND (last_tier_event_at IS NULL OR last_tier_event_at < $2)`,
		tier, eventTime, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update tier", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "stale tier event ignored",
			slog.String("user_id", userID),
			slog.String("tier", string(tier)),
			slog.Time("event_time", eventTime),
		)
	}
	return nil
}

// SetStripeCustomerID records the external customer reference on first
// payment interaction. An existing value is never overwritten.
func (r *EntitlementRepo) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET stripe_customer_id = $1,
		     updated_at = NOW()
		 WHERE user_id = $2
		   AND stripe_customer_id IS NULL`,
		customerID, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set stripe customer id", err)
	}
	return nil
}
