package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"paperplan/internal/types"
)

// PromoRepo provides promo code lookups and redemption accounting.
//
// The global uses_count is maintained with a capped conditional UPDATE so
// that the cap cannot be overrun by concurrent redemptions; per-user caps
// are enforced by counting promo_redemptions rows, which is race-tolerant
// because each redemption is its own row.
type PromoRepo struct {
	db DBTX
}

// NewPromoRepo creates a PromoRepo backed by the given database connection
// (pool or transaction).
func NewPromoRepo(db DBTX) *PromoRepo {
	return &PromoRepo{db: db}
}

const promoColumns = `id, code, discount_type, discount_value, max_uses, uses_count,
	max_uses_per_user, applicable_tiers, valid_from, valid_until, is_active, created_at`

// GetByCode looks a promo code up case-insensitively. Returns (nil, nil)
// when the code does not exist; the resolver merges that case with
// "inactive" so callers cannot enumerate codes.
func (r *PromoRepo) GetByCode(ctx context.Context, code string) (*types.PromoCode, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+promoColumns+`
		 FROM promo_codes
		 WHERE LOWER(code) = LOWER($1)`,
		code,
	)

	var p types.PromoCode
	var tiers []string
	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.DiscountType,
		&p.DiscountValue,
		&p.MaxUses,
		&p.UsesCount,
		&p.MaxUsesPerUser,
		&tiers,
		&p.ValidFrom,
		&p.ValidUntil,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load promo code", err)
	}
	for _, t := range tiers {
		p.ApplicableTiers = append(p.ApplicableTiers, types.Tier(t))
	}
	return &p, nil
}

// CountRedemptions returns how many times the user has redeemed the code.
func (r *PromoRepo) CountRedemptions(ctx context.Context, promoID, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM promo_redemptions
		 WHERE promo_id = $1 AND user_id = $2`,
		promoID, userID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count promo redemptions", err)
	}
	return count, nil
}

// RecordRedemption increments the global use counter and inserts the
// per-user redemption row.
//
// The counter update is capped in SQL: it only matches while
// uses_count < max_uses (or max_uses is NULL), so the invariant
// uses_count <= max_uses holds under concurrency. Zero rows affected means
// the code was exhausted between validation and redemption; that loser is
// surfaced as promo_exhausted rather than silently over-redeeming.
func (r *PromoRepo) RecordRedemption(ctx context.Context, redemption *types.PromoRedemption) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE promo_codes
		 SET uses_count = uses_count + 1
		 WHERE id = $1
		   AND (max_uses IS NULL OR uses_count < max_uses)`,
		redemption.PromoID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment promo uses", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodePromoExhausted, "promo code has no uses remaining", nil)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO promo_redemptions (id, promo_id, user_id, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		redemption.ID, redemption.PromoID, redemption.UserID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record promo redemption", err)
	}
	return nil
}
