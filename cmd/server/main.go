package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/kashflow-sync/internal/api"
	"github.com/Kamar-Folarin/kashflow-sync/internal/batch"
	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
	"github.com/Kamar-Folarin/kashflow-sync/internal/kashflow"
	"github.com/Kamar-Folarin/kashflow-sync/internal/logstream"
	"github.com/Kamar-Folarin/kashflow-sync/internal/metrics"
	"github.com/Kamar-Folarin/kashflow-sync/internal/scheduler"
	"github.com/Kamar-Folarin/kashflow-sync/internal/syncer"
	"github.com/Kamar-Folarin/kashflow-sync/internal/tunnel"
)

// @title KashFlow Sync API
// @version 1.0
// @description Dashboard and control API for the KashFlow replication service
// @contact.name API Support
// @contact.url http://github.com/Kamar-Folarin
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger; the hook feeds the dashboard log views
	logs := logstream.NewHook(logstream.DefaultCapacity)
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)
	logger.AddHook(logs)

	// Load configuration with defaults
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, keeping info")
	} else {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database, through the SSH tunnel when configured
	store, tun, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize store: %v", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
		if tun != nil {
			if err := tun.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close SSH tunnel")
			}
		}
	}
	defer closeStore()

	// Initialize sync engine
	client := kashflow.NewClient(cfg.KashFlow, logger)
	processor := batch.NewProcessor(&cfg.Sync.BatchConfig)
	orchestrator, err := syncer.NewOrchestrator(syncer.Options{
		Store:     store,
		Fetchers:  kashflow.NewFetchers(client, logger),
		Config:    cfg.Sync,
		Processor: processor,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize sync engine: %v", err)
	}
	recorder := orchestrator.Recorder()
	go recorder.Follow(ctx, processor.GetProgress())
	if next, err := orchestrator.Governor().NextDue(ctx); err != nil {
		logger.WithError(err).Warn("Failed to read full refresh marker")
	} else {
		recorder.SetNextFullRefresh(next)
	}

	if cfg.RunOnce {
		code := runOnce(ctx, orchestrator, logger)
		closeStore()
		os.Exit(code)
	}

	var sched *scheduler.Scheduler
	if cfg.CronEnabled {
		sched, err = scheduler.New(cfg.CronSchedule, orchestrator, recorder, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize scheduler: %v", err)
		}
		sched.Start()
	} else {
		logger.Info("Cron disabled; syncs run only when triggered through the API")
	}

	// Setup router
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler(metrics.NewRegistry(recorder))
	}
	apiHandler := api.NewHandler(ctx, orchestrator, recorder, store, logs, logger)
	router := api.SetupRouter(apiHandler, cfg.Metrics, metricsHandler)

	// Create HTTP server. No write timeout: /api/v1/logs/stream is long lived.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Cancelling ctx stops manual syncs between pages and ends log streams.
	cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Scheduled sync did not stop in time")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server exited properly")
}

// openStore builds the configured store. The returned tunnel is nil unless
// the database is reached over SSH.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (db.Store, *tunnel.Tunnel, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		return db.NewMemoryStore(), nil, nil
	}

	dsn := cfg.DBConnectionString
	var tun *tunnel.Tunnel
	if cfg.UseTunnel() {
		var err error
		if tun, err = tunnel.Open(ctx, cfg.SSH, logger); err != nil {
			return nil, nil, err
		}
		if dsn, err = tunnel.RewriteDSN(dsn, cfg.SSH.LocalHost, tun.LocalPort()); err != nil {
			tun.Close()
			return nil, nil, err
		}
	}

	var pg *db.PostgresStore
	if err := retry(3, 5*time.Second, func() error {
		var err error
		pg, err = db.NewPostgresStore(dsn)
		return err
	}); err != nil {
		closeTunnel(tun)
		return nil, nil, err
	}

	// Run migrations with retry logic
	if err := retry(3, 5*time.Second, pg.Migrate); err != nil {
		pg.Close()
		closeTunnel(tun)
		return nil, nil, err
	}
	return pg, tun, nil
}

func closeTunnel(t *tunnel.Tunnel) {
	if t != nil {
		t.Close()
	}
}

// runOnce performs a single sync and returns the process exit code
func runOnce(ctx context.Context, orchestrator *syncer.Orchestrator, logger *logrus.Logger) int {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-quit:
			logger.Info("Interrupt received, stopping after the current page")
			cancel()
		case <-runCtx.Done():
		}
	}()

	summary, err := orchestrator.Run(runCtx)
	if err != nil {
		return 1
	}
	logger.WithField("summary", summary.String()).Info("Single run finished")
	return 0
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}
