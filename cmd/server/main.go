package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fieldsync-service/internal/api"
	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/remote"
	"fieldsync-service/internal/store"
	syncpkg "fieldsync-service/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting FieldSync service")

	// Init durable store
	st, err := newStore(cfg.Store)
	if err != nil {
		logger.Log.Fatal("Failed to init store", zap.Error(err))
	}
	defer st.Close()

	// Remote boundary: loopback stub unless an endpoint is configured.
	// Concrete transports are injected by the host application.
	var remoteClient remote.Client = remote.NewLoopback()
	if cfg.Remote.Endpoint != "" {
		logger.Log.Warn("No transport registered for remote endpoint, using loopback",
			zap.String("endpoint", cfg.Remote.Endpoint))
	}

	// Sync engine
	manager := syncpkg.NewManager(cfg.Sync, st, remoteClient)

	// Event fan-out to websocket clients
	hub := api.NewHub()
	manager.AddSink(hub)
	defer hub.Close()

	// Connectivity monitor
	var monitor *syncpkg.Monitor
	if cfg.Connectivity.ProbeAddress != "" {
		probe := syncpkg.DialProbe(cfg.Connectivity.ProbeAddress, cfg.Connectivity.GetProbeTimeout())
		monitor = syncpkg.NewMonitor(probe, cfg.Connectivity.GetPollInterval(), manager.Queue().HasPending)
		monitor.OnTransition = manager.HandleConnectivity
		monitor.OnSyncRecommended = func() {
			logger.Log.Info("Back online with pending operations, starting sync")
			go manager.DeltaSync(context.Background(), syncpkg.ParseStrategy(cfg.Sync.DefaultStrategy))
		}
		monitor.Start()
		defer monitor.Stop()
	}

	// Scheduler
	scheduler := syncpkg.NewScheduler(cfg.Scheduler, manager, monitor, syncpkg.ParseStrategy(cfg.Sync.DefaultStrategy))
	scheduler.Start()
	defer scheduler.Stop()

	// Init API
	handler := api.NewHandler(cfg.Server, manager, monitor, hub)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	manager.CancelSync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("Server shutdown error", zap.Error(err))
	}
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "file", "":
		return store.NewFileStore(cfg.Path)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	case "mysql":
		return store.NewMySQLStore(cfg.MySQL)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
