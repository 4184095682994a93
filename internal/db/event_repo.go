package db

import (
	"context"

	"paperplan/internal/types"
)

// PaymentEventRepo records processed payment-provider event IDs for webhook
// deduplication.
//
// The processed-event set is the idempotency key store: the webhook handler
// inserts the event ID inside the same transaction as the business mutation,
// so the "processed" flag only becomes durable if the mutation commits, and
// a redelivery (or a concurrent duplicate delivery, which blocks on the
// insert until the first transaction resolves) observes the conflict and
// no-ops.
type PaymentEventRepo struct {
	db DBTX
}

// NewPaymentEventRepo creates a PaymentEventRepo backed by the given
// database connection. For webhook processing this is always a transaction.
func NewPaymentEventRepo(db DBTX) *PaymentEventRepo {
	return &PaymentEventRepo{db: db}
}

// MarkProcessed inserts the event ID with insert-if-absent semantics.
// Returns true when this call claimed the event, false when it was already
// processed (duplicate delivery).
func (r *PaymentEventRepo) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO payment_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record payment event", err)
	}
	return tag.RowsAffected() == 1, nil
}
