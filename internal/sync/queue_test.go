package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fieldsync-service/internal/store"
)

func TestQueueEnqueueAssignsIDAndPersists(t *testing.T) {
	st := newFakeStore()
	q := NewOperationQueue(st)

	id := q.Enqueue(store.OperationCreate, "customer", "c-1", json.RawMessage(`{"name":"Bob"}`))

	if id == "" {
		t.Fatal("expected an operation id")
	}
	if q.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", q.PendingCount())
	}

	persisted, _ := st.LoadQueue(context.Background())
	if len(persisted) != 1 {
		t.Fatalf("expected 1 persisted operation, got %d", len(persisted))
	}
	if persisted[0].ID != id {
		t.Errorf("persisted id %s does not match %s", persisted[0].ID, id)
	}
	if persisted[0].EnqueuedAt.IsZero() {
		t.Error("expected enqueue timestamp to be set")
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	st := newFakeStore()
	q := NewOperationQueue(st)
	q.Enqueue(store.OperationCreate, "customer", "c-1", nil)
	q.Enqueue(store.OperationUpdate, "customer", "c-1", nil)

	// A new queue over the same store sees the not-yet-removed items.
	restored := NewOperationQueue(st)
	if restored.PendingCount() != 2 {
		t.Fatalf("expected 2 restored operations, got %d", restored.PendingCount())
	}
}

func TestQueueDrainPreservesEnqueueOrder(t *testing.T) {
	q := NewOperationQueue(newFakeStore())
	q.Enqueue(store.OperationCreate, "customer", "c-1", nil)
	q.Enqueue(store.OperationUpdate, "customer", "c-1", nil)

	var order []store.OperationType
	report := q.Drain(context.Background(), func(op store.PendingOperation) error {
		order = append(order, op.Operation)
		return nil
	})

	if report.Processed != 2 {
		t.Fatalf("expected 2 processed, got %d", report.Processed)
	}
	if len(order) != 2 || order[0] != store.OperationCreate || order[1] != store.OperationUpdate {
		t.Errorf("expected [create update], got %v", order)
	}
	if q.PendingCount() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.PendingCount())
	}
}

func TestQueueDrainEmptyIsNoop(t *testing.T) {
	q := NewOperationQueue(newFakeStore())

	calls := 0
	report := q.Drain(context.Background(), func(op store.PendingOperation) error {
		calls++
		return nil
	})

	if calls != 0 || report.Processed != 0 || len(report.Errors) != 0 {
		t.Errorf("expected a no-op drain, got calls=%d report=%+v", calls, report)
	}
}

func TestQueueDrainTwiceWithoutNewEnqueues(t *testing.T) {
	q := NewOperationQueue(newFakeStore())
	q.Enqueue(store.OperationCreate, "job", "j-1", nil)

	q.Drain(context.Background(), func(op store.PendingOperation) error { return nil })

	second := q.Drain(context.Background(), func(op store.PendingOperation) error {
		t.Error("handler must not run on an empty queue")
		return nil
	})
	if second.Processed != 0 {
		t.Errorf("expected nothing processed on second drain, got %d", second.Processed)
	}
}

func TestQueueRetryCeilingEvictsAfterThirdFailure(t *testing.T) {
	q := NewOperationQueue(newFakeStore())
	q.Enqueue(store.OperationUpdate, "invoice", "i-1", nil)

	failure := errors.New("remote unavailable")
	attempts := 0

	// First two drains: transient failures, item stays queued.
	for i := 0; i < 2; i++ {
		report := q.Drain(context.Background(), func(op store.PendingOperation) error {
			attempts++
			return failure
		})
		if len(report.Errors) != 1 {
			t.Fatalf("drain %d: expected 1 error, got %d", i+1, len(report.Errors))
		}
		if report.Errors[0].Permanent {
			t.Fatalf("drain %d: eviction too early", i+1)
		}
		if q.PendingCount() != 1 {
			t.Fatalf("drain %d: item should remain queued", i+1)
		}
	}

	// Third failure evicts permanently.
	report := q.Drain(context.Background(), func(op store.PendingOperation) error {
		attempts++
		return failure
	})
	if len(report.Errors) != 1 || !report.Errors[0].Permanent {
		t.Fatalf("expected a permanent error on third failure, got %+v", report.Errors)
	}
	if q.PendingCount() != 0 {
		t.Errorf("expected eviction, %d items remain", q.PendingCount())
	}

	// No fourth attempt.
	q.Drain(context.Background(), func(op store.PendingOperation) error {
		attempts++
		return failure
	})
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestQueueDrainStopsOnCancellation(t *testing.T) {
	q := NewOperationQueue(newFakeStore())
	q.Enqueue(store.OperationCreate, "customer", "c-1", nil)
	q.Enqueue(store.OperationCreate, "customer", "c-2", nil)

	ctx, cancel := context.WithCancel(context.Background())

	processed := 0
	report := q.Drain(ctx, func(op store.PendingOperation) error {
		processed++
		cancel()
		return nil
	})

	if !report.Cancelled {
		t.Error("expected a cancelled drain report")
	}
	if processed != 1 {
		t.Errorf("expected 1 item before cancellation, got %d", processed)
	}
	if q.PendingCount() != 1 {
		t.Errorf("expected remaining item untouched, got %d pending", q.PendingCount())
	}
}

func TestQueueCancellationDoesNotBurnRetry(t *testing.T) {
	q := NewOperationQueue(newFakeStore())
	q.Enqueue(store.OperationCreate, "customer", "c-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	q.Drain(ctx, func(op store.PendingOperation) error {
		cancel()
		return context.Canceled
	})

	items := q.Snapshot()
	if len(items) != 1 {
		t.Fatalf("expected item to remain, got %d", len(items))
	}
	if items[0].RetryCount != 0 {
		t.Errorf("cancellation must not count as a retry, got %d", items[0].RetryCount)
	}
}

func TestQueueClear(t *testing.T) {
	q := NewOperationQueue(newFakeStore())
	q.Enqueue(store.OperationDelete, "customer", "c-1", nil)
	q.Enqueue(store.OperationUpload, "document", "d-1", nil)

	q.Clear()

	if q.HasPending() {
		t.Error("expected no pending items after clear")
	}
}

func TestQueueSaveFailureKeepsMemoryAuthoritative(t *testing.T) {
	st := newFakeStore()
	st.failSave = true
	q := NewOperationQueue(st)

	q.Enqueue(store.OperationCreate, "customer", "c-1", nil)

	// Persistence failed, but the in-memory queue still has the item.
	if q.PendingCount() != 1 {
		t.Fatalf("expected 1 pending despite save failure, got %d", q.PendingCount())
	}
}
