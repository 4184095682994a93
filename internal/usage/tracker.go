// Package usage provides the append-only business event tracker. It is
// observability plumbing, not correctness-critical state: recording never
// blocks or fails the primary transaction.
package usage

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"paperplan/internal/types"
)

// EventStore is the append-only sink the tracker writes to.
type EventStore interface {
	Insert(ctx context.Context, ev *types.UsageEvent) error
}

// Tracker records business events for analytics and audit. Failures are
// logged and swallowed; callers never see an error from Record.
type Tracker struct {
	store  EventStore
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store EventStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// Record appends one event. Errors are logged, never propagated: the event
// log must not be able to fail a generation or a payment.
func (t *Tracker) Record(ctx context.Context, userID string, eventType types.UsageEventType, metadata map[string]any) {
	ev := &types.UsageEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventType: eventType,
		Metadata:  metadata,
	}
	if err := t.store.Insert(ctx, ev); err != nil {
		t.logger.WarnContext(ctx, "failed to record usage event",
			slog.String("user_id", userID),
			slog.String("event_type", string(eventType)),
			slog.String("error", err.Error()),
		)
	}
}
