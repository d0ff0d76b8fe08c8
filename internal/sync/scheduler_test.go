package sync

import (
	"context"
	"testing"
	"time"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/store"
)

func TestSchedulerSkipsWhileOffline(t *testing.T) {
	rc := newFakeRemote()
	m := NewManager(testSyncConfig(), newFakeStore(), rc)
	monitor := NewMonitor(nil, time.Hour, nil)
	monitor.Observe(false)

	s := NewScheduler(config.SchedulerConfig{}, m, monitor, StrategyLastWriteWins)
	s.triggerSync()

	if m.GetStatistics().TotalSyncs != 0 {
		t.Error("offline tick must not run a pass")
	}
}

func TestSchedulerSkipsWhilePassRunning(t *testing.T) {
	rc := newFakeRemote()
	rc.blockPush = true
	m := NewManager(testSyncConfig(), newFakeStore(), rc)
	m.QueueChange(store.OperationCreate, "customer", "c-1", []byte(`{}`))

	done := make(chan Result, 1)
	go func() {
		done <- m.FullSync(context.Background(), StrategyServerWins)
	}()
	for !m.IsSyncing() {
		time.Sleep(time.Millisecond)
	}

	s := NewScheduler(config.SchedulerConfig{}, m, nil, StrategyLastWriteWins)
	s.triggerSync()

	m.CancelSync()
	<-done

	// The skipped tick never started a second pass; only the cancelled one
	// touched the remote.
	if m.GetStatistics().TotalSyncs != 0 {
		t.Errorf("expected no counted passes, got %d", m.GetStatistics().TotalSyncs)
	}
}

func TestSchedulerRunsDeltaWhenIdle(t *testing.T) {
	rc := newFakeRemote()
	m := NewManager(testSyncConfig(), newFakeStore(), rc)
	monitor := NewMonitor(nil, time.Hour, nil)

	s := NewScheduler(config.SchedulerConfig{}, m, monitor, StrategyLastWriteWins)
	s.triggerSync()

	if m.GetStatistics().TotalSyncs != 1 {
		t.Errorf("expected one pass, got %d", m.GetStatistics().TotalSyncs)
	}
}

func TestSchedulerDisabledDoesNotStart(t *testing.T) {
	m := NewManager(testSyncConfig(), newFakeStore(), newFakeRemote())
	s := NewScheduler(config.SchedulerConfig{Enabled: false}, m, nil, StrategyLastWriteWins)

	s.Start()
	defer s.Stop()

	if s.entryID != 0 {
		t.Error("disabled scheduler must not register a cron entry")
	}
}
