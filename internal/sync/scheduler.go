package sync

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
)

// Scheduler triggers periodic delta syncs. A tick while offline or while a
// pass is already running is skipped, never queued.
type Scheduler struct {
	cfg      config.SchedulerConfig
	manager  *Manager
	monitor  *Monitor
	strategy Strategy
	cron     *cron.Cron
	entryID  cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager, monitor *Monitor, strategy Strategy) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		manager:  manager,
		monitor:  monitor,
		strategy: strategy,
		cron:     cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})

	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	if s.monitor != nil && !s.monitor.IsOnline() {
		logger.Log.Debug("Offline, skipping scheduled sync")
		return
	}

	if s.manager.IsSyncing() {
		logger.Log.Info("Sync already running, skipping scheduled run")
		return
	}

	logger.Log.Info("Triggering scheduled sync")

	result := s.manager.DeltaSync(context.Background(), s.strategy)
	if !result.Success {
		logger.Log.Warn("Scheduled sync did not succeed",
			zap.String("message", result.Message),
			zap.Bool("cancelled", result.Cancelled),
		)
	}
}
