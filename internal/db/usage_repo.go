package db

import (
	"context"
	"encoding/json"

	"paperplan/internal/types"
)

// UsageEventRepo appends rows to the usage_events audit log. The log is
// observability data outside the consistency path; the tracker that owns
// this repo swallows its errors.
type UsageEventRepo struct {
	db DBTX
}

// NewUsageEventRepo creates a UsageEventRepo backed by the given database
// connection.
func NewUsageEventRepo(db DBTX) *UsageEventRepo {
	return &UsageEventRepo{db: db}
}

// Insert appends one usage event. Metadata is stored as JSONB.
func (r *UsageEventRepo) Insert(ctx context.Context, ev *types.UsageEvent) error {
	var meta []byte
	if ev.Metadata != nil {
		var err error
		meta, err = json.Marshal(ev.Metadata)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode usage metadata", err)
		}
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO usage_events (id, user_id, event_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		ev.ID, ev.UserID, ev.EventType, meta,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert usage event", err)
	}
	return nil
}
