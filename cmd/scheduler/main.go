package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streambro/backend/internal/api"
	"github.com/streambro/backend/internal/cache"
	"github.com/streambro/backend/internal/config"
	"github.com/streambro/backend/internal/database"
	"github.com/streambro/backend/internal/events"
	"github.com/streambro/backend/internal/launcher"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/internal/metrics"
	"github.com/streambro/backend/internal/platform"
	"github.com/streambro/backend/internal/reconciler"
	"github.com/streambro/backend/internal/scheduler"
	"github.com/streambro/backend/internal/storage"
	"github.com/streambro/backend/internal/tracing"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log = log.WithComponent("main")

	// Initialize tracing
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			log.Warnf("Failed to initialize tracer: %v", err)
		} else {
			defer closer.Close()
		}
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := database.NewRepository(db)

	// Initialize platform client
	platformClient := platform.NewHTTPClient(cfg.Platform)

	// Initialize status cache
	statusCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		log.Warnf("Status cache unavailable, continuing without it: %v", err)
		statusCache = nil
	} else {
		defer statusCache.Close()
	}

	// Initialize event queue
	eventQueue, err := events.New(cfg.Queue)
	if err != nil {
		log.Warnf("Event queue unavailable, continuing without it: %v", err)
		eventQueue = nil
	} else {
		defer eventQueue.Close()
	}

	// Initialize log archive storage
	logStore, err := storage.New(cfg.Storage)
	if err != nil {
		log.Warnf("Log archive storage unavailable, continuing without it: %v", err)
		logStore = nil
	}

	// Wire the lifecycle components
	rec := reconciler.New(repo, repo, platformClient, log)
	runner := launcher.NewFFmpegRunner(cfg.Broadcast.FFmpegPath, cfg.Broadcast.MediaDir,
		cfg.Broadcast.IngestBaseURL, cfg.Broadcast.LogTailBytes)
	launch := launcher.New(cfg.Broadcast, repo, repo, platformClient, runner, rec, log)

	if statusCache != nil {
		rec.SetSnapshotCache(statusCache)
		launch.SetSnapshotCache(statusCache)
	}
	if eventQueue != nil {
		rec.SetPublisher(eventQueue)
		launch.SetPublisher(eventQueue)
	}
	if logStore != nil {
		launch.SetArchiver(logStore)
	}

	// Settle rows orphaned by the previous run before the loop starts
	recovered, err := rec.RecoverOrphans(ctx)
	if err != nil {
		log.Fatalf("Failed to recover orphaned streams: %v", err)
	}
	if recovered > 0 {
		log.Warnf("Recovered %d orphaned streams from previous run", recovered)
	}

	// Start the scheduling loop
	sched := scheduler.New(cfg.Scheduler, repo, repo, launch, log)
	sched.Start(ctx)

	// Start the metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server error: %v", err)
		}
	}()

	// Start the operator API
	apiServer := api.New(cfg.Server, repo, repo, launch, log)
	if statusCache != nil {
		apiServer.SetSnapshotReader(statusCache)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Infof("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Metrics server shutdown error: %v", err)
	}

	sched.Stop()
	cancel()

	// Give exit watchers a moment to finalize
	time.Sleep(500 * time.Millisecond)
	log.Info("Scheduler stopped")
}
