package db

import (
	"context"
	"log/slog"
	"time"

	"paperplan/internal/types"
)

// Ledger is the narrow transactional operation set over entitlement state.
// It is the only write path to the entitlement record, the grant set and the
// processed-event set; no other component mutates those rows directly.
type Ledger interface {
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	UpdateTier(ctx context.Context, userID string, tier types.Tier, eventTime time.Time) error
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	ConsumeFreeQuota(ctx context.Context, userID string) error
	RecordPaidGeneration(ctx context.Context, userID string) error
	CreateGrant(ctx context.Context, g *types.AccessGrant) error
	ReopenFailedGrant(ctx context.Context, userID, paperID, externalRef string, amountCents int64) error
	GetGrantByRef(ctx context.Context, externalRef string) (*types.AccessGrant, error)
	UpdateGrantStatusByRef(ctx context.Context, externalRef string, status types.GrantStatus) error
}

// TxRunner runs a function against a Ledger bound to a single database
// transaction. The transaction commits only if fn returns nil; any error
// rolls everything back, including the processed-event insert -- which is
// what lets the webhook handler report failure and rely on provider retry
// without corrupting its idempotency key set.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ops Ledger) error) error
}

// TxStore implements TxRunner over a pgx pool.
type TxStore struct {
	pool   TxBeginner
	logger *slog.Logger
}

// NewTxStore creates a TxStore.
func NewTxStore(pool TxBeginner, logger *slog.Logger) *TxStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxStore{pool: pool, logger: logger}
}

// WithTx opens a transaction, binds the repositories to it, and runs fn.
func (s *TxStore) WithTx(ctx context.Context, fn func(ops Ledger) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	// Rollback after commit is a harmless no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	ops := &ledgerOps{
		ents:   NewEntitlementRepo(tx, s.logger),
		grants: NewGrantRepo(tx),
		events: NewPaymentEventRepo(tx),
	}
	if err := fn(ops); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// ledgerOps adapts the per-aggregate repositories, bound to one transaction,
// into the Ledger operation set.
type ledgerOps struct {
	ents   *EntitlementRepo
	grants *GrantRepo
	events *PaymentEventRepo
}

func (o *ledgerOps) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	return o.events.MarkProcessed(ctx, eventID, eventType)
}

func (o *ledgerOps) UpdateTier(ctx context.Context, userID string, tier types.Tier, eventTime time.Time) error {
	return o.ents.UpdateTier(ctx, userID, tier, eventTime)
}

func (o *ledgerOps) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	return o.ents.SetStripeCustomerID(ctx, userID, customerID)
}

func (o *ledgerOps) ConsumeFreeQuota(ctx context.Context, userID string) error {
	return o.ents.ConsumeFreeQuota(ctx, userID)
}

func (o *ledgerOps) RecordPaidGeneration(ctx context.Context, userID string) error {
	return o.ents.RecordPaidGeneration(ctx, userID)
}

func (o *ledgerOps) CreateGrant(ctx context.Context, g *types.AccessGrant) error {
	return o.grants.Create(ctx, g)
}

func (o *ledgerOps) ReopenFailedGrant(ctx context.Context, userID, paperID, externalRef string, amountCents int64) error {
	return o.grants.ReopenFailed(ctx, userID, paperID, externalRef, amountCents)
}

func (o *ledgerOps) GetGrantByRef(ctx context.Context, externalRef string) (*types.AccessGrant, error) {
	return o.grants.GetByExternalRef(ctx, externalRef)
}

func (o *ledgerOps) UpdateGrantStatusByRef(ctx context.Context, externalRef string, status types.GrantStatus) error {
	return o.grants.UpdateStatusByRef(ctx, externalRef, status)
}
