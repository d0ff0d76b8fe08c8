package store

import (
	"context"
)

// Store is the durable persistence boundary for the sync engine. Load
// failures degrade to empty defaults at the call site; the in-memory state
// stays authoritative for the process lifetime.
type Store interface {
	// Queue
	LoadQueue(ctx context.Context) ([]PendingOperation, error)
	SaveQueue(ctx context.Context, ops []PendingOperation) error

	// Metadata (including outstanding conflicts). SaveMetadata must be
	// atomic: a crash mid-write must not leave a partial document.
	LoadMetadata(ctx context.Context) (*SyncMetadata, error)
	SaveMetadata(ctx context.Context, meta *SyncMetadata) error

	// Audit history
	LoadChanges(ctx context.Context) ([]TrackedChange, error)
	SaveChanges(ctx context.Context, changes []TrackedChange) error
	AppendHistory(ctx context.Context, h *SyncHistory) error
	ListHistory(ctx context.Context, limit int) ([]SyncHistory, error)

	Close() error
}
