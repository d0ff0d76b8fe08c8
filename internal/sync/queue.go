package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

// maxRetries is the retry ceiling for a queued operation. The third failure
// evicts the item permanently.
const maxRetries = 3

// OperationQueue is the durable, append-only queue of pending local
// mutations. Enqueues may come from any goroutine while the orchestrator
// drains; all mutations serialize behind the mutex, and drains work on a
// snapshot so concurrent enqueues never reorder an in-flight pass.
type OperationQueue struct {
	mu    sync.Mutex
	items []store.PendingOperation
	store store.Store
}

// NewOperationQueue loads previously enqueued operations from the durable
// store. A load failure falls back to an empty queue rather than failing
// startup.
func NewOperationQueue(st store.Store) *OperationQueue {
	q := &OperationQueue{store: st}

	items, err := st.LoadQueue(context.Background())
	if err != nil {
		logger.Log.Warn("Failed to load operation queue, starting empty", zap.Error(err))
		return q
	}
	q.items = items

	if len(items) > 0 {
		logger.Log.Info("Restored pending operations", zap.Int("count", len(items)))
	}
	return q
}

// Enqueue appends a mutation and persists the queue immediately. It always
// succeeds; persistence failures are logged and absorbed because the
// in-memory queue stays authoritative for this process.
func (q *OperationQueue) Enqueue(op store.OperationType, entityType, entityID string, payload json.RawMessage) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := store.PendingOperation{
		ID:         uuid.New().String(),
		Operation:  op,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	q.items = append(q.items, item)
	q.persistLocked()

	logger.Log.Debug("Enqueued operation",
		zap.String("id", item.ID),
		zap.String("operation", string(op)),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
	)
	return item.ID
}

// DrainReport summarizes one drain of the queue.
type DrainReport struct {
	Processed int
	Errors    []ItemError
	Cancelled bool
}

// DrainHandler pushes one operation; a nil return acknowledges it.
type DrainHandler func(op store.PendingOperation) error

// Drain iterates a snapshot of the current items in enqueue order. Each
// success removes the item; each failure bumps its retry count, and the
// third failure evicts it permanently with the error reported in the
// returned report. Cancellation is checked between items.
func (q *OperationQueue) Drain(ctx context.Context, handler DrainHandler) DrainReport {
	q.mu.Lock()
	snapshot := make([]store.PendingOperation, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	var report DrainReport

	for _, op := range snapshot {
		if ctx.Err() != nil {
			report.Cancelled = true
			return report
		}

		err := handler(op)
		if err == nil {
			q.remove(op.ID)
			report.Processed++
			continue
		}

		// A failure caused by cancellation is not a retry; the item
		// stays untouched for the next pass.
		if ctx.Err() != nil {
			report.Cancelled = true
			return report
		}

		evicted := q.recordFailure(op.ID, err)
		report.Errors = append(report.Errors, ItemError{
			Phase:      "push",
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Permanent:  evicted,
			Message:    err.Error(),
		})
		if evicted {
			logger.Log.Error("Operation evicted after retry ceiling",
				zap.String("id", op.ID),
				zap.String("entity_type", op.EntityType),
				zap.String("entity_id", op.EntityID),
				zap.Error(err),
			)
		}
	}

	return report
}

func (q *OperationQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.persistLocked()
}

// recordFailure bumps the retry count and reports whether the item was
// evicted for reaching the ceiling.
func (q *OperationQueue) recordFailure(id string, err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		q.items[i].RetryCount++
		q.items[i].LastError = err.Error()

		evicted := q.items[i].RetryCount >= maxRetries
		if evicted {
			q.items = append(q.items[:i], q.items[i+1:]...)
		}
		q.persistLocked()
		return evicted
	}
	return false
}

// PendingCount is safe to call from any goroutine and never blocks a pass.
func (q *OperationQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *OperationQueue) HasPending() bool {
	return q.PendingCount() > 0
}

// Clear empties the queue unconditionally. Explicit reset only.
func (q *OperationQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.persistLocked()
	logger.Log.Info("Operation queue cleared")
}

// Snapshot returns a copy of the current items for read-only display.
func (q *OperationQueue) Snapshot() []store.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]store.PendingOperation, len(q.items))
	copy(out, q.items)
	return out
}

func (q *OperationQueue) persistLocked() {
	if err := q.store.SaveQueue(context.Background(), q.items); err != nil {
		logger.Log.Warn("Failed to persist operation queue", zap.Error(err))
	}
}
