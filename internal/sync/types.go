package sync

import (
	"errors"
	"fmt"
	"time"

	"fieldsync-service/internal/store"
)

// Strategy is the policy used to pick a winning value when local and remote
// versions of an entity disagree.
type Strategy string

const (
	StrategyServerWins    Strategy = "server_wins"
	StrategyClientWins    Strategy = "client_wins"
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyMerge         Strategy = "merge"
	StrategyManual        Strategy = "manual"
)

// ParseStrategy maps a config/API string onto a Strategy. Unknown values
// fall back to last-write-wins, the engine's scheduled-sync default.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyServerWins, StrategyClientWins, StrategyLastWriteWins, StrategyMerge, StrategyManual:
		return Strategy(s)
	default:
		return StrategyLastWriteWins
	}
}

var (
	// ErrSyncInProgress is returned when a pass is requested while another
	// pass is running. The caller is rejected, never queued.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNoDecision is returned by a resolver that cannot settle a
	// conflict; the conflict stays outstanding for the next pass.
	ErrNoDecision = errors.New("no resolution decision")
)

// ItemError records a single failed push or pull without aborting the pass.
type ItemError struct {
	Phase      string `json:"phase"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Permanent  bool   `json:"permanent,omitempty"`
	Message    string `json:"message"`
}

func (e ItemError) String() string {
	return fmt.Sprintf("[%s] %s/%s: %s", e.Phase, e.EntityType, e.EntityID, e.Message)
}

// Result is the outcome of one sync pass. Success requires zero push and
// pull errors; resolved-conflict counts do not gate it.
type Result struct {
	Mode              string        `json:"mode"`
	ItemsPushed       int           `json:"items_pushed"`
	ItemsPulled       int           `json:"items_pulled"`
	ConflictsResolved int           `json:"conflicts_resolved"`
	PushErrors        []ItemError   `json:"push_errors,omitempty"`
	PullErrors        []ItemError   `json:"pull_errors,omitempty"`
	Success           bool          `json:"success"`
	Cancelled         bool          `json:"cancelled"`
	Message           string        `json:"message,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Statistics is the read-only projection served to UI layers.
type Statistics struct {
	LastSyncTime      time.Time     `json:"last_sync_time"`
	LastSyncDuration  time.Duration `json:"last_sync_duration"`
	TotalSyncs        int           `json:"total_syncs"`
	PendingChanges    int           `json:"pending_changes"`
	ConflictsResolved int           `json:"conflicts_resolved"`
	FailedSyncs       int           `json:"failed_syncs"`
}

// Decision is a caller-supplied answer to a manual resolution request.
type Decision string

const (
	DecisionUseClient Decision = "use_client"
	DecisionUseServer Decision = "use_server"
	DecisionDiscard   Decision = "discard"
)

// EventSink receives engine events. Implementations must not block; the
// engine calls sinks inline from the pass goroutine.
type EventSink interface {
	SyncStarted(mode string)
	SyncProgress(current, total int, currentItem string)
	SyncCompleted(success bool, itemsProcessed int)
	ConflictDetected(conflict store.Conflict, requestID string)
	SyncError(err error, context string)
	StatusChanged(online bool, pendingCount int)
}

// NopSink is an EventSink that ignores everything. Embed it to implement
// only the events a listener cares about.
type NopSink struct{}

func (NopSink) SyncStarted(string)                        {}
func (NopSink) SyncProgress(int, int, string)             {}
func (NopSink) SyncCompleted(bool, int)                   {}
func (NopSink) ConflictDetected(store.Conflict, string)   {}
func (NopSink) SyncError(error, string)                   {}
func (NopSink) StatusChanged(bool, int)                   {}
