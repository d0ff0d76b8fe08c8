package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"fieldsync-service/internal/remote"
	"fieldsync-service/internal/store"
)

// fakeStore is an in-memory store.Store with switchable save failures.
type fakeStore struct {
	mu       sync.Mutex
	queue    []store.PendingOperation
	meta     store.SyncMetadata
	changes  []store.TrackedChange
	history  []store.SyncHistory
	failSave bool
	saves    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) LoadQueue(ctx context.Context) ([]store.PendingOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.PendingOperation, len(f.queue))
	copy(out, f.queue)
	return out, nil
}

func (f *fakeStore) SaveQueue(ctx context.Context, ops []store.PendingOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSave {
		return errors.New("disk full")
	}
	f.queue = make([]store.PendingOperation, len(ops))
	copy(f.queue, ops)
	return nil
}

func (f *fakeStore) LoadMetadata(ctx context.Context) (*store.SyncMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta := f.meta
	return &meta, nil
}

func (f *fakeStore) SaveMetadata(ctx context.Context, meta *store.SyncMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("disk full")
	}
	f.meta = *meta
	return nil
}

func (f *fakeStore) LoadChanges(ctx context.Context) ([]store.TrackedChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.TrackedChange, len(f.changes))
	copy(out, f.changes)
	return out, nil
}

func (f *fakeStore) SaveChanges(ctx context.Context, changes []store.TrackedChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = make([]store.TrackedChange, len(changes))
	copy(f.changes, changes)
	return nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, h *store.SyncHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, *h)
	return nil
}

func (f *fakeStore) ListHistory(ctx context.Context, limit int) ([]store.SyncHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.SyncHistory, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeRemote scripts push and pull behavior and records push order.
type fakeRemote struct {
	mu sync.Mutex

	// pushErr maps operation entity id to a permanent handler error.
	pushErr map[string]error

	// pushedIDs records entity ids in the order they were pushed.
	pushedIDs []string

	// blockPush, when set, makes PushBatch wait for ctx cancellation.
	blockPush bool

	// pulls maps entity type to the batch PullSince returns.
	pulls map[string]*remote.PullBatch

	// pullErr maps entity type to a pull error.
	pullErr map[string]error

	// lastSince records the since argument of the latest pull.
	lastSince time.Time
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		pushErr: make(map[string]error),
		pulls:   make(map[string]*remote.PullBatch),
		pullErr: make(map[string]error),
	}
}

func (f *fakeRemote) PushBatch(ctx context.Context, ops []store.PendingOperation) ([]remote.PushResult, error) {
	if f.blockPush {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	results := make([]remote.PushResult, len(ops))
	for i, op := range ops {
		if err, ok := f.pushErr[op.EntityID]; ok {
			results[i] = remote.PushResult{OperationID: op.ID, Err: err}
			continue
		}
		f.pushedIDs = append(f.pushedIDs, op.EntityID)
		results[i] = remote.PushResult{OperationID: op.ID, Success: true}
	}
	return results, nil
}

func (f *fakeRemote) PullSince(ctx context.Context, entityType string, since time.Time) (*remote.PullBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSince = since
	if err, ok := f.pullErr[entityType]; ok {
		return nil, err
	}
	if batch, ok := f.pulls[entityType]; ok {
		return batch, nil
	}
	return &remote.PullBatch{EntityType: entityType}, nil
}

// collectSink records events for assertions.
type collectSink struct {
	NopSink
	mu        sync.Mutex
	started   []string
	completed []bool
	conflicts []string
	statuses  []int
}

func (c *collectSink) SyncStarted(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, mode)
}

func (c *collectSink) SyncCompleted(success bool, itemsProcessed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, success)
}

func (c *collectSink) ConflictDetected(conflict store.Conflict, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, conflict.EntityID)
}

func (c *collectSink) StatusChanged(online bool, pendingCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, pendingCount)
}
