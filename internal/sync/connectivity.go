package sync

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
)

// Probe reports whether the network currently looks reachable. The platform
// reachability signal is an external collaborator; this is its seam.
type Probe func() bool

// DialProbe probes reachability with a single TCP dial.
func DialProbe(address string, timeout time.Duration) Probe {
	return func() bool {
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Monitor is a pure edge detector over the probe: it polls, remembers the
// last state, and raises callbacks only on transitions. It performs no
// retries and never forces a sync itself.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu     sync.Mutex
	online bool

	// OnTransition fires on every edge with the new state.
	OnTransition func(online bool)

	// OnSyncRecommended fires on an offline-to-online edge when the
	// supplied pending check reports queued work.
	OnSyncRecommended func()

	hasPending func() bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor builds a monitor that starts in the online state; the first
// poll corrects it if the probe disagrees.
func NewMonitor(probe Probe, interval time.Duration, hasPending func() bool) *Monitor {
	return &Monitor{
		probe:      probe,
		interval:   interval,
		online:     true,
		hasPending: hasPending,
		stopCh:     make(chan struct{}),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	// Establish the real state before the first tick.
	m.observe(m.probe())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.observe(m.probe())
		}
	}
}

// observe compares the probed state with the remembered one and raises the
// edge callbacks on change. Exposed to tests via Observe.
func (m *Monitor) observe(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if was == online {
		return
	}

	logger.Log.Info("Connectivity changed",
		zap.Bool("was_online", was),
		zap.Bool("is_online", online),
	)

	if m.OnTransition != nil {
		m.OnTransition(online)
	}

	if online && m.hasPending != nil && m.hasPending() && m.OnSyncRecommended != nil {
		m.OnSyncRecommended()
	}
}

// Observe injects a reachability reading directly, bypassing the probe.
// Useful when the host application already receives platform callbacks.
func (m *Monitor) Observe(online bool) {
	m.observe(online)
}
