package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/arrsync/internal/api"
	"github.com/foxzi/arrsync/internal/cache"
	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/db"
	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/instance"
	"github.com/foxzi/arrsync/internal/metrics"
	"github.com/foxzi/arrsync/internal/scheduler"
	"github.com/foxzi/arrsync/internal/upstream"
)

// App is the main application
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *db.DB
	cache         *cache.Storage
	engine        *deploy.Service
	scheduler     *scheduler.Scheduler
	collector     *metrics.Collector
	metricsServer *metrics.Server
	apiServer     *api.Server
}

// New creates a new application. Nothing runs until Run is called.
func New(cfg *config.Config, version string) (*App, error) {
	// Setup logger
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	a := &App{
		config: cfg,
		logger: logger,
		db:     database,
		cache:  store,
	}

	instances := instance.NewManager(cfg.Instances)
	a.engine = deploy.New(cfg.Deploy, database.DB, instances, store, logger)

	m := metrics.New()
	metrics.SetGlobal(m)
	if cfg.Metrics.Enabled {
		a.collector, err = metrics.NewCollector(store.DB(), m, instances, cfg.Database.Path, 0)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.engine.SetRecorder(a.collector)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics, logger)
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	// Upstream sync needs a source; the loop itself only runs when enabled
	if cfg.Upstream.Enabled {
		source := upstream.NewGitSource(cfg.Upstream, logger)
		a.scheduler = scheduler.New(cfg.Scheduler, database.DB, a.engine, source, store, logger)
	}

	var sched api.Scheduler
	if a.scheduler != nil {
		sched = a.scheduler
	}
	a.apiServer = api.NewServer(a.engine, sched, a.collector, cfg, version, logger)

	return a, nil
}

// Logger returns the configured application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Engine returns the deployment engine
func (a *App) Engine() *deploy.Service {
	return a.engine
}

// Scheduler returns the update scheduler, nil when upstream sync is disabled
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting arrsync",
		"api_addr", a.config.Server.ListenAddr,
		"instances", len(a.config.Instances),
		"upstream", a.config.Upstream.Enabled,
		"scheduler", a.scheduler != nil && a.config.Scheduler.Enabled,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.scheduler != nil && a.config.Scheduler.Enabled {
		a.scheduler.Start()
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	// Graceful shutdown
	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop scheduler first (stop starting new deployments)
	if a.scheduler != nil && a.config.Scheduler.Enabled {
		a.scheduler.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop collector (persists counters)
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases the database and cache
func (a *App) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Error("cache close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
