package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/remote"
	"fieldsync-service/internal/store"
)

const changeHistoryLimit = 1000

// Manager orchestrates sync passes: push queued operations, pull remote
// changes, resolve outstanding conflicts, then update metadata. One pass
// runs at a time per process; a concurrent request is rejected, not queued.
type Manager struct {
	cfg      config.SyncConfig
	store    store.Store
	remote   remote.Client
	queue    *OperationQueue
	analyzer *Analyzer
	resolver *Resolver

	// mu guards only the pass state so reads and manual-resolution
	// answers never wait on a running pass.
	mu      sync.Mutex
	syncing bool
	cancel  context.CancelFunc

	metaMu sync.Mutex
	meta   *store.SyncMetadata

	changesMu sync.Mutex
	changes   []store.TrackedChange

	sinkMu sync.Mutex
	sinks  []EventSink
}

// NewManager loads cached state from the durable store. Load failures
// degrade to empty defaults; startup never fails on a stale disk copy.
func NewManager(cfg config.SyncConfig, st store.Store, rc remote.Client) *Manager {
	meta, err := st.LoadMetadata(context.Background())
	if err != nil {
		logger.Log.Warn("Failed to load sync metadata, starting empty", zap.Error(err))
		meta = &store.SyncMetadata{}
	}

	changes, err := st.LoadChanges(context.Background())
	if err != nil {
		logger.Log.Warn("Failed to load tracked changes, starting empty", zap.Error(err))
	}

	m := &Manager{
		cfg:      cfg,
		store:    st,
		remote:   rc,
		queue:    NewOperationQueue(st),
		analyzer: NewAnalyzer(),
		resolver: NewResolver(cfg.GetManualTimeout()),
		meta:     meta,
		changes:  changes,
	}

	m.resolver.SetRequestHandler(func(conflict store.Conflict, requestID string) {
		m.emitConflictDetected(conflict, requestID)
	})

	return m
}

// AddSink registers an event listener.
func (m *Manager) AddSink(sink EventSink) {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Queue exposes the operation queue for read-only display surfaces.
func (m *Manager) Queue() *OperationQueue {
	return m.queue
}

// IsSyncing is safe to call from any goroutine without blocking a pass.
func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// FullSync runs a complete push, pull-everything, resolve, metadata pass.
func (m *Manager) FullSync(ctx context.Context, strategy Strategy) Result {
	return m.runPass(ctx, "full", time.Time{}, strategy)
}

// DeltaSync scopes the pull phase to entities modified after the last
// recorded sync time. Without a prior sync it delegates to FullSync.
func (m *Manager) DeltaSync(ctx context.Context, strategy Strategy) Result {
	m.metaMu.Lock()
	since := m.meta.LastSyncTime
	m.metaMu.Unlock()

	if since.IsZero() {
		logger.Log.Info("No prior sync recorded, delta falls back to full sync")
		return m.runPass(ctx, "full", time.Time{}, strategy)
	}
	return m.runPass(ctx, "delta", since, strategy)
}

// CancelSync requests cooperative cancellation of the running pass, if any.
// In-flight network calls are not aborted; the pass exits at the next
// checkpoint.
func (m *Manager) CancelSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		logger.Log.Info("Cancelling sync pass")
		m.cancel()
	}
}

// QueueChange appends a local mutation to the operation queue and records a
// tracked change for audit history. The entry point UI layers call on every
// mutation, online or not.
func (m *Manager) QueueChange(op store.OperationType, entityType, entityID string, payload []byte) string {
	id := m.queue.Enqueue(op, entityType, entityID, payload)

	m.changesMu.Lock()
	m.changes = append(m.changes, store.TrackedChange{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Snapshot:   payload,
		ChangedAt:  time.Now(),
	})
	if len(m.changes) > changeHistoryLimit {
		m.changes = m.changes[len(m.changes)-changeHistoryLimit:]
	}
	changes := make([]store.TrackedChange, len(m.changes))
	copy(changes, m.changes)
	m.changesMu.Unlock()

	if err := m.store.SaveChanges(context.Background(), changes); err != nil {
		logger.Log.Warn("Failed to persist tracked changes", zap.Error(err))
	}

	m.emitStatusChanged(true, m.queue.PendingCount())
	return id
}

// GetStatistics serves cached metadata plus the live pending count.
func (m *Manager) GetStatistics() Statistics {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	return Statistics{
		LastSyncTime:      m.meta.LastSyncTime,
		LastSyncDuration:  m.meta.LastSyncDuration,
		TotalSyncs:        m.meta.TotalSyncs,
		PendingChanges:    m.queue.PendingCount(),
		ConflictsResolved: m.meta.ConflictsResolved,
		FailedSyncs:       m.meta.FailedSyncs,
	}
}

// Conflicts returns the outstanding conflict records.
func (m *Manager) Conflicts() []store.Conflict {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	out := make([]store.Conflict, len(m.meta.Conflicts))
	copy(out, m.meta.Conflicts)
	return out
}

// SubmitResolution answers a suspended manual resolution request.
func (m *Manager) SubmitResolution(requestID string, decision Decision) error {
	return m.resolver.SubmitDecision(requestID, decision)
}

// RecentChanges returns the newest tracked changes, most recent first.
func (m *Manager) RecentChanges(limit int) []store.TrackedChange {
	m.changesMu.Lock()
	defer m.changesMu.Unlock()

	n := len(m.changes)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]store.TrackedChange, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.changes[i])
	}
	return out
}

// History lists recent sync pass summaries.
func (m *Manager) History(ctx context.Context, limit int) ([]store.SyncHistory, error) {
	return m.store.ListHistory(ctx, limit)
}

// HandleConnectivity forwards a reachability edge to listeners.
func (m *Manager) HandleConnectivity(online bool) {
	m.emitStatusChanged(online, m.queue.PendingCount())
}

// runPass executes one push, pull, resolve, metadata cycle. Pass-level
// panics are converted into a failed result at this outermost scope so
// nothing escapes to crash the host process.
func (m *Manager) runPass(ctx context.Context, mode string, since time.Time, strategy Strategy) (result Result) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		logger.Log.Warn("Sync requested while a pass is running")
		return Result{Mode: mode, Success: false, Message: ErrSyncInProgress.Error()}
	}
	passCtx, cancel := context.WithCancel(ctx)
	m.syncing = true
	m.cancel = cancel
	m.mu.Unlock()

	started := time.Now()
	result.Mode = mode

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Sync pass panicked", zap.Any("panic", r))
			result.Success = false
			result.Message = fmt.Sprintf("sync pass failed: %v", r)
		}

		result.Duration = time.Since(started)
		m.finishPass(started, &result)

		cancel()
		m.mu.Lock()
		m.syncing = false
		m.cancel = nil
		m.mu.Unlock()

		m.emitSyncCompleted(result.Success, result.ItemsPushed+result.ItemsPulled)
	}()

	logger.Log.Info("Starting sync pass",
		zap.String("mode", mode),
		zap.String("strategy", string(strategy)),
		zap.Int("pending", m.queue.PendingCount()),
	)
	m.emitSyncStarted(mode)

	// Push phase: strict enqueue order, one operation at a time.
	pushed, pushErrs, cancelled := m.pushPhase(passCtx)
	result.ItemsPushed = pushed
	result.PushErrors = pushErrs
	if cancelled || passCtx.Err() != nil {
		return m.markCancelled(result)
	}

	// Pull phase: bounded parallelism across entity types.
	pulled, pullErrs := m.pullPhase(passCtx, since)
	result.ItemsPulled = pulled
	result.PullErrors = pullErrs
	if passCtx.Err() != nil {
		return m.markCancelled(result)
	}

	// Resolve phase.
	result.ConflictsResolved = m.ResolveConflicts(passCtx, strategy)
	if passCtx.Err() != nil {
		return m.markCancelled(result)
	}

	result.Success = len(result.PushErrors) == 0 && len(result.PullErrors) == 0
	if !result.Success {
		result.Message = fmt.Sprintf("%d push errors, %d pull errors",
			len(result.PushErrors), len(result.PullErrors))
	}
	return result
}

func (m *Manager) markCancelled(result Result) Result {
	result.Success = false
	result.Cancelled = true
	result.Message = "cancelled"
	logger.Log.Info("Sync pass cancelled",
		zap.Int("pushed", result.ItemsPushed),
		zap.Int("pulled", result.ItemsPulled),
	)
	return result
}

// pushPhase drains the queue through the remote, one single-item batch per
// operation so causal order against an entity is preserved.
func (m *Manager) pushPhase(ctx context.Context) (int, []ItemError, bool) {
	total := m.queue.PendingCount()
	current := 0

	report := m.queue.Drain(ctx, func(op store.PendingOperation) error {
		current++
		m.emitSyncProgress(current, total, op.EntityType+"/"+op.EntityID)

		results, err := m.remote.PushBatch(ctx, []store.PendingOperation{op})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("remote returned no result for operation %s", op.ID)
		}
		if !results[0].Success {
			if results[0].Err != nil {
				return results[0].Err
			}
			return fmt.Errorf("remote rejected operation %s", op.ID)
		}
		return nil
	})

	for _, e := range report.Errors {
		m.emitSyncError(fmt.Errorf("%s", e.Message), "push "+e.EntityType+"/"+e.EntityID)
	}

	return report.Processed, report.Errors, report.Cancelled
}

// pullPhase fans out over the configured entity types with a bounded worker
// count, gathering counts and per-type errors. Pulled changes whose entity
// also changed locally are run through the analyzer; divergent ones become
// outstanding conflicts.
func (m *Manager) pullPhase(ctx context.Context, since time.Time) (int, []ItemError) {
	entityTypes := m.cfg.EntityTypes
	workers := m.cfg.PullWorkers
	if workers <= 0 {
		workers = 1
	}

	var (
		wg      sync.WaitGroup
		gather  sync.Mutex
		pulled  int
		errs    []ItemError
		current int
	)
	sem := make(chan struct{}, workers)

	for _, entityType := range entityTypes {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(entityType string) {
			defer wg.Done()
			defer func() { <-sem }()

			batch, err := m.remote.PullSince(ctx, entityType, since)

			gather.Lock()
			defer gather.Unlock()

			current++
			m.emitSyncProgress(current, len(entityTypes), entityType)

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errs = append(errs, ItemError{
					Phase:      "pull",
					EntityType: entityType,
					Message:    err.Error(),
				})
				m.emitSyncError(err, "pull "+entityType)
				return
			}

			pulled += len(batch.Changes)
			for _, change := range batch.Changes {
				m.inspectPulledChange(change)
			}
		}(entityType)
	}

	wg.Wait()
	return pulled, errs
}

// inspectPulledChange compares a pulled change against any pending local
// mutation of the same entity and records a conflict when they diverge.
func (m *Manager) inspectPulledChange(change remote.Change) {
	local, localModifiedAt, ok := m.localSnapshot(change.EntityType, change.EntityID)
	if !ok {
		return
	}

	analysis := m.analyzer.Analyze(
		change.EntityType, change.EntityID,
		local, change.Payload,
		localModifiedAt, change.ModifiedAt,
	)
	if !analysis.HasConflicts {
		return
	}

	m.metaMu.Lock()
	// One outstanding conflict per entity; a newer detection replaces it.
	replaced := false
	for i, c := range m.meta.Conflicts {
		if c.EntityType == analysis.Conflict.EntityType && c.EntityID == analysis.Conflict.EntityID {
			m.meta.Conflicts[i] = analysis.Conflict
			replaced = true
			break
		}
	}
	if !replaced {
		m.meta.Conflicts = append(m.meta.Conflicts, analysis.Conflict)
	}
	m.metaMu.Unlock()

	m.emitConflictDetected(analysis.Conflict, "")
}

// localSnapshot finds the most recent local version of an entity: the
// newest queued payload, else the newest tracked change snapshot.
func (m *Manager) localSnapshot(entityType, entityID string) ([]byte, time.Time, bool) {
	for _, op := range m.queue.Snapshot() {
		if op.EntityType == entityType && op.EntityID == entityID && len(op.Payload) > 0 {
			return op.Payload, op.EnqueuedAt, true
		}
	}

	m.changesMu.Lock()
	defer m.changesMu.Unlock()
	for i := len(m.changes) - 1; i >= 0; i-- {
		c := m.changes[i]
		if c.EntityType == entityType && c.EntityID == entityID && len(c.Snapshot) > 0 {
			return c.Snapshot, c.ChangedAt, true
		}
	}
	return nil, time.Time{}, false
}

// ResolveConflicts runs the resolver over every outstanding conflict with
// the given strategy. Settled conflicts are removed; a resolver returning
// no decision leaves the conflict for the next pass.
func (m *Manager) ResolveConflicts(ctx context.Context, strategy Strategy) int {
	conflicts := m.Conflicts()
	resolved := 0

	for _, conflict := range conflicts {
		if ctx.Err() != nil {
			break
		}

		data, err := m.resolver.Resolve(ctx, conflict, strategy)
		switch {
		case err == nil:
			logger.Log.Info("Conflict resolved",
				zap.String("entity_type", conflict.EntityType),
				zap.String("entity_id", conflict.EntityID),
				zap.String("strategy", string(strategy)),
				zap.Int("bytes", len(data)),
			)
			m.removeConflict(conflict.ID)
			resolved++
		case err == ErrDiscarded:
			logger.Log.Info("Conflict discarded",
				zap.String("entity_type", conflict.EntityType),
				zap.String("entity_id", conflict.EntityID),
			)
			m.removeConflict(conflict.ID)
		case err == ErrNoDecision:
			// Stays outstanding for the next pass.
		default:
			logger.Log.Error("Conflict resolution failed",
				zap.String("entity_id", conflict.EntityID), zap.Error(err))
			m.emitSyncError(err, "resolve "+conflict.EntityType+"/"+conflict.EntityID)
		}
	}

	return resolved
}

func (m *Manager) removeConflict(id string) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	for i, c := range m.meta.Conflicts {
		if c.ID == id {
			m.meta.Conflicts = append(m.meta.Conflicts[:i], m.meta.Conflicts[i+1:]...)
			return
		}
	}
}

// finishPass updates cached metadata and writes it atomically, then appends
// a history record. A cancelled pass leaves the sync timestamp and counters
// untouched so a retry is not mistaken for a prior success.
func (m *Manager) finishPass(started time.Time, result *Result) {
	m.metaMu.Lock()
	if !result.Cancelled {
		m.meta.LastSyncTime = started
		m.meta.LastSyncDuration = result.Duration
		m.meta.TotalSyncs++
		m.meta.ConflictsResolved += result.ConflictsResolved
		if !result.Success {
			m.meta.FailedSyncs++
		}
	}
	snapshot := *m.meta
	snapshot.Conflicts = make([]store.Conflict, len(m.meta.Conflicts))
	copy(snapshot.Conflicts, m.meta.Conflicts)
	m.metaMu.Unlock()

	if err := m.store.SaveMetadata(context.Background(), &snapshot); err != nil {
		logger.Log.Warn("Failed to persist sync metadata", zap.Error(err))
	}

	history := &store.SyncHistory{
		ID:                uuid.New().String(),
		Mode:              result.Mode,
		StartedAt:         started,
		CompletedAt:       time.Now(),
		ItemsPushed:       result.ItemsPushed,
		ItemsPulled:       result.ItemsPulled,
		ConflictsResolved: result.ConflictsResolved,
		Success:           result.Success,
		Message:           result.Message,
	}
	if err := m.store.AppendHistory(context.Background(), history); err != nil {
		logger.Log.Warn("Failed to append sync history", zap.Error(err))
	}
}

// Event fan-out. Sinks are called inline and must not block.

func (m *Manager) eachSink(fn func(EventSink)) {
	m.sinkMu.Lock()
	sinks := make([]EventSink, len(m.sinks))
	copy(sinks, m.sinks)
	m.sinkMu.Unlock()

	for _, s := range sinks {
		fn(s)
	}
}

func (m *Manager) emitSyncStarted(mode string) {
	m.eachSink(func(s EventSink) { s.SyncStarted(mode) })
}

func (m *Manager) emitSyncProgress(current, total int, item string) {
	m.eachSink(func(s EventSink) { s.SyncProgress(current, total, item) })
}

func (m *Manager) emitSyncCompleted(success bool, processed int) {
	m.eachSink(func(s EventSink) { s.SyncCompleted(success, processed) })
}

func (m *Manager) emitConflictDetected(conflict store.Conflict, requestID string) {
	m.eachSink(func(s EventSink) { s.ConflictDetected(conflict, requestID) })
}

func (m *Manager) emitSyncError(err error, context string) {
	m.eachSink(func(s EventSink) { s.SyncError(err, context) })
}

func (m *Manager) emitStatusChanged(online bool, pending int) {
	m.eachSink(func(s EventSink) { s.StatusChanged(online, pending) })
}
