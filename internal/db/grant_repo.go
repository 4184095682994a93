package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"paperplan/internal/types"
)

// GrantRepo manages resource access grants: one row per (user, paper) pair.
//
// The pair uniqueness is enforced by the access_grants_user_paper_key unique
// constraint, not an application-level check-then-insert, so two concurrent
// requests for the same paper cannot both create a grant. The loser of that
// race gets ErrCodeDuplicateGrant, which callers treat as "already has
// access" rather than a failure.
type GrantRepo struct {
	db DBTX
}

// NewGrantRepo creates a GrantRepo backed by the given database connection
// (pool or transaction).
func NewGrantRepo(db DBTX) *GrantRepo {
	return &GrantRepo{db: db}
}

const grantColumns = `id, user_id, paper_id, purchase_type, status, amount_paid_cents,
	external_payment_ref, created_at, finalized_at`

func scanGrant(row pgx.Row) (*types.AccessGrant, error) {
	var g types.AccessGrant
	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.PaperID,
		&g.PurchaseType,
		&g.Status,
		&g.AmountPaidCents,
		&g.ExternalPaymentRef,
		&g.CreatedAt,
		&g.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create inserts a new grant. A unique-constraint failure on the
// (user, paper) pair is mapped to ErrCodeDuplicateGrant.
func (r *GrantRepo) Create(ctx context.Context, g *types.AccessGrant) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO access_grants
		   (id, user_id, paper_id, purchase_type, status, amount_paid_cents, external_payment_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		g.ID, g.UserID, g.PaperID, g.PurchaseType, g.Status, g.AmountPaidCents, g.ExternalPaymentRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeDuplicateGrant,
				"a grant already exists for this user and paper", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create access grant", err)
	}
	return nil
}

// ReopenFailed returns a failed grant to pending for a fresh payment
// attempt, replacing its payment reference and amount. The status guard in
// the WHERE clause is the arbiter under concurrency: only a failed grant
// reopens, and a pair whose grant is pending or succeeded surfaces
// ErrCodeDuplicateGrant just as Create does.
func (r *GrantRepo) ReopenFailed(ctx context.Context, userID, paperID, externalRef string, amountCents int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE access_grants
		 SET status = $1,
		     external_payment_ref = $2,
		     amount_paid_cents = $3,
		     finalized_at = NULL
		 WHERE user_id = $4
		   AND paper_id = $5
		   AND status = $6`,
		types.GrantPending, externalRef, amountCents, userID, paperID, types.GrantFailed,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reopen access grant", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeDuplicateGrant,
			"a grant already exists for this user and paper", nil)
	}
	return nil
}

// GetByUserAndPaper returns the grant for the pair in any status, or
// (nil, nil) when none exists.
func (r *GrantRepo) GetByUserAndPaper(ctx context.Context, userID, paperID string) (*types.AccessGrant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+grantColumns+`
		 FROM access_grants
		 WHERE user_id = $1 AND paper_id = $2`,
		userID, paperID,
	)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load access grant", err)
	}
	return g, nil
}

// GetByExternalRef returns the grant carrying the given payment reference
// (a Stripe PaymentIntent ID), or (nil, nil) when none exists.
func (r *GrantRepo) GetByExternalRef(ctx context.Context, externalRef string) (*types.AccessGrant, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+grantColumns+`
		 FROM access_grants
		 WHERE external_payment_ref = $1`,
		externalRef,
	)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load access grant by ref", err)
	}
	return g, nil
}

// UpdateStatusByRef transitions a pending grant to succeeded or failed based
// on the payment provider's verdict. Only pending grants transition; a
// repeat delivery that finds the grant already final is a no-op reported via
// the returned row count semantics (no error, nothing changed).
func (r *GrantRepo) UpdateStatusByRef(ctx context.Context, externalRef string, status types.GrantStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE access_grants
		 SET status = $1,
		     finalized_at = NOW()
		 WHERE external_payment_ref = $2
		   AND status = $3`,
		status, externalRef, types.GrantPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update grant status", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the ref is unknown or the grant was already finalized.
		// Distinguish so that a dangling payment reference is visible.
		existing, lookupErr := r.GetByExternalRef(ctx, externalRef)
		if lookupErr != nil {
			return lookupErr
		}
		if existing == nil {
			return types.NewAppError(types.ErrCodeNotFoundGrant,
				"no grant found for payment reference", nil)
		}
	}
	return nil
}

// CountCreatedSince counts the user's grants created at or after the given
// instant. Feeds the premium fair-use window; the scan-per-evaluation
// approach keeps exact month-boundary semantics.
func (r *GrantRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM access_grants
		 WHERE user_id = $1
		   AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count grants", err)
	}
	return count, nil
}
