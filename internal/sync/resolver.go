package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

var (
	// ErrDiscarded reports that a manual decision dropped the conflict:
	// neither side is applied and the conflict is removed.
	ErrDiscarded = errors.New("conflict discarded")

	// ErrUnknownRequest is returned for a decision whose correlation id
	// matches no suspended manual resolution.
	ErrUnknownRequest = errors.New("unknown resolution request")
)

// Resolver turns an analyzed conflict plus a strategy into a resolved
// entity snapshot. Only the Manual strategy suspends; everything else is a
// pure function of the conflict.
type Resolver struct {
	manualTimeout time.Duration

	// onRequest publishes a manual resolution request (conflict plus
	// correlation id) to whoever answers; typically the event fan-out.
	onRequest func(conflict store.Conflict, requestID string)

	mu      sync.Mutex
	pending map[string]chan Decision
}

func NewResolver(manualTimeout time.Duration) *Resolver {
	return &Resolver{
		manualTimeout: manualTimeout,
		pending:       make(map[string]chan Decision),
	}
}

// SetRequestHandler wires the manual-resolution publisher. Must be set
// before a Manual resolve runs; without it manual requests time out.
func (r *Resolver) SetRequestHandler(fn func(conflict store.Conflict, requestID string)) {
	r.onRequest = fn
}

// Resolve applies the strategy to the conflict and returns the winning
// snapshot. An unrecognized strategy falls back to server-wins; that path
// is logged because it means a strategy case is missing here.
func (r *Resolver) Resolve(ctx context.Context, conflict store.Conflict, strategy Strategy) (json.RawMessage, error) {
	switch strategy {
	case StrategyServerWins:
		return conflict.RemoteData, nil
	case StrategyClientWins:
		return conflict.LocalData, nil
	case StrategyLastWriteWins:
		// The later side wins in full, not per field.
		if conflict.LocalModifiedAt.After(conflict.RemoteModifiedAt) {
			return conflict.LocalData, nil
		}
		return conflict.RemoteData, nil
	case StrategyMerge:
		return r.merge(conflict), nil
	case StrategyManual:
		return r.manual(ctx, conflict)
	default:
		logger.Log.Error("Unrecognized resolution strategy, falling back to server-wins",
			zap.String("strategy", string(strategy)),
			zap.String("entity_type", conflict.EntityType),
			zap.String("entity_id", conflict.EntityID),
		)
		return conflict.RemoteData, nil
	}
}

// merge constructs a new entity. Fields outside the conflict list take the
// local value when it is non-null and non-default, else the remote value.
// Conflicting fields follow their per-field resolution, defaulting to
// use-server when still pending.
func (r *Resolver) merge(conflict store.Conflict) json.RawMessage {
	localDoc := decodeEntity(conflict.LocalData)
	remoteDoc := decodeEntity(conflict.RemoteData)

	// Server bookkeeping (identity, timestamps, undeclared fields) comes
	// from the remote document.
	merged := make(map[string]interface{}, len(remoteDoc))
	for k, v := range remoteDoc {
		merged[k] = v
	}

	conflicting := make(map[string]store.FieldConflict, len(conflict.FieldConflicts))
	for _, fc := range conflict.FieldConflicts {
		conflicting[fc.FieldName] = fc
	}

	for _, spec := range FieldsFor(conflict.EntityType) {
		fc, inConflict := conflicting[spec.Name]
		if !inConflict {
			if lv, ok := localDoc[spec.Name]; ok && !isZeroValue(spec.Kind, lv) {
				merged[spec.Name] = lv
			} else if rv, ok := remoteDoc[spec.Name]; ok {
				merged[spec.Name] = rv
			}
			continue
		}

		switch fc.Resolution {
		case store.ResolutionUseLocal:
			merged[spec.Name] = localDoc[spec.Name]
		case store.ResolutionUseServer:
			merged[spec.Name] = remoteDoc[spec.Name]
		case store.ResolutionCustom:
			merged[spec.Name] = castCustomValue(spec.Kind, fc.ResolvedValue)
		default:
			// Pending fields take the documented use-server default.
			logger.Log.Warn("Merge applied server default to undecided field",
				zap.String("entity_type", conflict.EntityType),
				zap.String("entity_id", conflict.EntityID),
				zap.String("field", spec.Name),
			)
			merged[spec.Name] = remoteDoc[spec.Name]
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		logger.Log.Error("Failed to encode merged entity, falling back to remote",
			zap.String("entity_id", conflict.EntityID), zap.Error(err))
		return conflict.RemoteData
	}
	return out
}

// manual publishes a resolution request and parks until a decision arrives
// or the timeout elapses. Timeout defaults to server-wins. The pass context
// cancelling aborts the wait without consuming the conflict.
func (r *Resolver) manual(ctx context.Context, conflict store.Conflict) (json.RawMessage, error) {
	requestID := uuid.New().String()
	answer := make(chan Decision, 1)

	r.mu.Lock()
	r.pending[requestID] = answer
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
	}()

	if r.onRequest != nil {
		r.onRequest(conflict, requestID)
	}

	logger.Log.Info("Awaiting manual resolution",
		zap.String("request_id", requestID),
		zap.String("entity_type", conflict.EntityType),
		zap.String("entity_id", conflict.EntityID),
		zap.Duration("timeout", r.manualTimeout),
	)

	select {
	case decision := <-answer:
		switch decision {
		case DecisionUseClient:
			return conflict.LocalData, nil
		case DecisionUseServer:
			return conflict.RemoteData, nil
		case DecisionDiscard:
			return nil, ErrDiscarded
		default:
			return nil, fmt.Errorf("unrecognized decision %q", decision)
		}
	case <-time.After(r.manualTimeout):
		logger.Log.Warn("Manual resolution timed out, defaulting to server-wins",
			zap.String("request_id", requestID),
			zap.String("entity_id", conflict.EntityID),
		)
		return conflict.RemoteData, nil
	case <-ctx.Done():
		return nil, ErrNoDecision
	}
}

// SubmitDecision answers a suspended manual resolution by correlation id.
// Safe to call from any goroutine; a second answer for the same request is
// rejected.
func (r *Resolver) SubmitDecision(requestID string, decision Decision) error {
	r.mu.Lock()
	answer, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrUnknownRequest
	}
	answer <- decision
	return nil
}

// PendingRequests lists correlation ids of suspended manual resolutions.
func (r *Resolver) PendingRequests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}

func castCustomValue(kind FieldKind, raw string) interface{} {
	switch kind {
	case KindNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case KindBool:
		switch raw {
		case "Yes", "yes", "true":
			return true
		case "No", "no", "false":
			return false
		}
	case KindList:
		var list []interface{}
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list
		}
	}
	return raw
}
