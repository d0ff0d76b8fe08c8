package remote

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
)

// Loopback acknowledges every push and reports no remote changes. It stands
// in for a real backend when no remote endpoint is configured, so the engine
// can run (and be exercised) standalone.
type Loopback struct{}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (l *Loopback) PushBatch(ctx context.Context, ops []store.PendingOperation) ([]PushResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]PushResult, len(ops))
	for i, op := range ops {
		results[i] = PushResult{OperationID: op.ID, Success: true}
	}

	logger.Log.Debug("Loopback remote acknowledged push", zap.Int("count", len(ops)))
	return results, nil
}

func (l *Loopback) PullSince(ctx context.Context, entityType string, since time.Time) (*PullBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &PullBatch{EntityType: entityType}, nil
}
