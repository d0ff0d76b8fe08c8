package remote

import (
	"context"
	"encoding/json"
	"time"

	"fieldsync-service/internal/store"
)

// PushResult reports the outcome of pushing a single queued operation.
type PushResult struct {
	OperationID string
	Success     bool
	Err         error
}

// Change is one remote-side entity change delivered by a pull.
type Change struct {
	EntityType string
	EntityID   string
	Operation  store.OperationType
	Payload    json.RawMessage
	ModifiedAt time.Time
}

// PullBatch groups the pulled changes for one entity type.
type PullBatch struct {
	EntityType string
	Changes    []Change
}

// Client is the opaque boundary to the remote system. The engine consumes
// only success/failure and item counts; the wire protocol behind an
// implementation is not this module's concern.
type Client interface {
	// PushBatch transmits queued operations in order. Results are returned
	// positionally for the submitted batch.
	PushBatch(ctx context.Context, ops []store.PendingOperation) ([]PushResult, error)

	// PullSince fetches remote changes for one entity type modified after
	// since. A zero since means everything.
	PullSince(ctx context.Context, entityType string, since time.Time) (*PullBatch, error)
}
