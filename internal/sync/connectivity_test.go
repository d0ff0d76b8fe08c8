package sync

import (
	"testing"
	"time"
)

func TestMonitorRaisesOneEventPerEdge(t *testing.T) {
	m := NewMonitor(nil, time.Hour, nil)

	var transitions []bool
	m.OnTransition = func(online bool) {
		transitions = append(transitions, online)
	}

	// Starts online, so a repeated online reading is not an edge.
	m.Observe(true)
	m.Observe(true)
	if len(transitions) != 0 {
		t.Fatalf("expected no events for steady state, got %v", transitions)
	}

	m.Observe(false)
	m.Observe(false)
	m.Observe(true)

	if len(transitions) != 2 {
		t.Fatalf("expected 2 edges, got %v", transitions)
	}
	if transitions[0] != false || transitions[1] != true {
		t.Errorf("expected [offline online], got %v", transitions)
	}
}

func TestMonitorRecommendsSyncOnlyWithPendingWork(t *testing.T) {
	pending := false
	m := NewMonitor(nil, time.Hour, func() bool { return pending })

	recommended := 0
	m.OnSyncRecommended = func() { recommended++ }

	// Offline-to-online with an empty queue: no recommendation.
	m.Observe(false)
	m.Observe(true)
	if recommended != 0 {
		t.Fatalf("no pending work, expected no recommendation, got %d", recommended)
	}

	// Same edge with queued work.
	pending = true
	m.Observe(false)
	m.Observe(true)
	if recommended != 1 {
		t.Errorf("expected 1 recommendation, got %d", recommended)
	}

	// Going offline never recommends.
	m.Observe(false)
	if recommended != 1 {
		t.Errorf("offline edge must not recommend, got %d", recommended)
	}
}

func TestMonitorIsOnlineTracksObservations(t *testing.T) {
	m := NewMonitor(nil, time.Hour, nil)

	if !m.IsOnline() {
		t.Error("monitor starts online")
	}
	m.Observe(false)
	if m.IsOnline() {
		t.Error("expected offline after observation")
	}
}

func TestMonitorPollsProbeUntilStopped(t *testing.T) {
	probes := make(chan struct{}, 16)
	probe := func() bool {
		select {
		case probes <- struct{}{}:
		default:
		}
		return true
	}

	m := NewMonitor(probe, 5*time.Millisecond, nil)
	m.Start()

	// The initial reading plus at least one ticker-driven poll.
	for i := 0; i < 2; i++ {
		select {
		case <-probes:
		case <-time.After(time.Second):
			t.Fatal("probe was not polled")
		}
	}

	m.Stop()
}

func TestDialProbeUnreachableAddress(t *testing.T) {
	// Reserved TEST-NET address, nothing listens there.
	probe := DialProbe("192.0.2.1:9", 20*time.Millisecond)
	if probe() {
		t.Error("expected unreachable probe to report offline")
	}
}
