package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raines/forensiq/internal/api"
	"github.com/raines/forensiq/internal/api/middleware"
	"github.com/raines/forensiq/internal/config"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	datasetRepo := repository.NewDatasetRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	themeRepo := repository.NewThemeRepository(db)

	ctx := context.Background()

	// Reconcile stale ledger rows left behind by a previous process. Advisory:
	// a failure here is logged, not fatal.
	if cfg.Queue.ReconcileOnStart {
		fixed, err := taskRepo.ReconcileStale(ctx)
		if err != nil {
			appLogger.WithError(err).Warn("Startup ledger reconciliation failed")
		} else if fixed > 0 {
			appLogger.WithField(logger.FieldCount, fixed).Info("Reconciled stale ledger rows")
		}
	}

	// Initialize services
	scanCache := service.NewScanCache()
	scanService := service.NewScanService(datasetRepo, themeRepo, scanCache, appLogger, service.ScanConfig{
		BatchSize:       cfg.Scan.BatchSize,
		GlobalRowBudget: cfg.Scan.GlobalRowBudget,
	})
	inventoryService := service.NewInventoryService(datasetRepo, appLogger, service.InventoryConfig{
		BatchSize:           cfg.Inventory.BatchSize,
		RowBudgetPerDataset: cfg.Inventory.RowBudgetPerDataset,
		GlobalRowBudget:     cfg.Inventory.GlobalRowBudget,
	})

	stages := service.NewStageSet(datasetRepo, scanService, inventoryService, appLogger, service.StageConfig{
		BatchSize: cfg.Scan.BatchSize,
		RowBudget: cfg.Scan.GlobalRowBudget,
	})

	// Initialize the job queue with the full handler registry and chain table
	jobQueue, err := queue.New(queue.Config{
		Workers:    cfg.Queue.Workers,
		MaxBacklog: cfg.Queue.MaxBacklog,
	}, taskRepo, appLogger, stages.Handlers(), stages.Chains())
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to construct job queue")
	}

	// Wire the completion webhook as the terminal-job observer
	if notifier := service.NewNotifier(service.NotifierConfig{
		URL:            cfg.Notify.WebhookURL,
		TimeoutSeconds: cfg.Notify.TimeoutSeconds,
	}, appLogger); notifier != nil {
		jobQueue.SetObserver(notifier.NotifyTerminal)
		appLogger.Info("Completion webhook enabled")
	}

	jobQueue.Start(ctx)

	progressService := service.NewProgressService(datasetRepo, taskRepo, jobQueue, inventoryService, appLogger)
	pipelineService := service.NewPipelineService(jobQueue, datasetRepo, appLogger)

	// Periodic scan cache eviction, when a TTL is configured
	var cacheSweeper *cron.Cron
	if cfg.Scan.CacheTTLMinutes > 0 {
		ttl := time.Duration(cfg.Scan.CacheTTLMinutes) * time.Minute
		cacheSweeper = cron.New()
		if _, err := cacheSweeper.AddFunc("@every 1m", func() {
			if evicted := scanCache.EvictOlderThan(ttl); evicted > 0 {
				appLogger.WithField(logger.FieldCount, evicted).Info("Evicted expired scan cache entries")
			}
		}); err != nil {
			appLogger.WithError(err).Fatal("Failed to schedule cache eviction")
		}
		cacheSweeper.Start()
	}

	// Setup router
	router := api.SetupRouter(api.Services{
		Scan:      scanService,
		Inventory: inventoryService,
		Progress:  progressService,
		Pipeline:  pipelineService,
		Queue:     jobQueue,
		Tasks:     taskRepo,
	}, appLogger, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server")

	if cacheSweeper != nil {
		cacheSweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server shutdown failed")
	}
	if err := jobQueue.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Job queue shutdown timed out")
	}

	appLogger.Info("Server stopped")
}
