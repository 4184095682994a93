package entitlement

import (
	"context"
	"time"

	"paperplan/internal/types"
)

// EntitlementStore is the read side of the ledger the service needs to build
// a snapshot. GetOrCreate creates the record lazily on a user's first
// authenticated action.
type EntitlementStore interface {
	GetOrCreate(ctx context.Context, userID, email string) (*types.Entitlement, error)
}

// GrantStore provides grant lookups for snapshot building.
type GrantStore interface {
	// GetByUserAndPaper returns the grant for the pair in any status, or
	// (nil, nil) when none exists.
	GetByUserAndPaper(ctx context.Context, userID, paperID string) (*types.AccessGrant, error)

	// CountCreatedSince counts grants created for the user at or after the
	// given instant. Used for the fair-use window.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Service gathers a snapshot from the stores and runs the evaluator over it.
// It performs reads only; consuming quota or creating grants is done by the
// caller against the ledger.
type Service struct {
	entitlements EntitlementStore
	grants       GrantStore
	plans        PlanRegistry
	nowFn        func() time.Time
}

// NewService creates an evaluation service. nowFn may be nil, in which case
// time.Now is used; tests inject a fixed clock.
func NewService(
	entitlements EntitlementStore,
	grants GrantStore,
	plans PlanRegistry,
	nowFn func() time.Time,
) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{
		entitlements: entitlements,
		grants:       grants,
		plans:        plans,
		nowFn:        nowFn,
	}
}

// Decide builds the snapshot for (actor, paperID) and evaluates it. The
// returned entitlement is the snapshot's record, handed back so callers can
// render quota counters without a second read.
//
// The fair-use count is only fetched for tiers that actually have a cap, to
// spare a query on the common free/basic paths.
func (s *Service) Decide(ctx context.Context, actor types.Actor, paperID string) (types.Decision, *types.Entitlement, error) {
	ent, err := s.entitlements.GetOrCreate(ctx, actor.UserID, actor.Email)
	if err != nil {
		return types.Decision{}, nil, err
	}

	grant, err := s.grants.GetByUserAndPaper(ctx, actor.UserID, paperID)
	if err != nil {
		return types.Decision{}, nil, err
	}

	snap := Snapshot{
		Entitlement: *ent,
		Grant:       grant,
	}

	plan := s.plans.GetPlan(ent.Tier)
	if plan.IncludesGenerations && plan.MonthlyFairUseCap > 0 {
		// The cap window resets on the first day of the current month.
		// Counting grants on every evaluation is a deliberate trade-off:
		// it preserves exact monthly-reset semantics at the cost of a scan.
		count, err := s.grants.CountCreatedSince(ctx, actor.UserID, monthStart(s.nowFn()))
		if err != nil {
			return types.Decision{}, nil, err
		}
		snap.GrantsThisMonth = count
	}

	return Evaluate(snap, s.plans), ent, nil
}

// monthStart returns midnight UTC on the first day of t's month.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
