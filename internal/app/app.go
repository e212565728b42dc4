// Package app assembles the server: storage, quota limiter, dispatcher,
// scheduler and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mailtide/mailtide/internal/api"
	"github.com/mailtide/mailtide/internal/audit"
	"github.com/mailtide/mailtide/internal/config"
	"github.com/mailtide/mailtide/internal/db"
	"github.com/mailtide/mailtide/internal/dispatch"
	"github.com/mailtide/mailtide/internal/mailer"
	"github.com/mailtide/mailtide/internal/metrics"
	"github.com/mailtide/mailtide/internal/quota"
	"github.com/mailtide/mailtide/internal/repository"
)

// App is the main application
type App struct {
	config     *config.Config
	database   *db.DB
	quotaDB    *bolt.DB
	limiter    *quota.Limiter
	dispatcher *dispatch.Dispatcher
	scheduler  *dispatch.Scheduler
	apiServer  *api.Server
	logger     *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	quotaDB, err := bolt.Open(cfg.Database.QuotaPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open quota store: %w", err)
	}
	limiter, err := quota.NewLimiter(quotaDB, &cfg.Quota)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota limiter: %w", err)
	}

	m := metrics.New()
	metrics.SetGlobal(m)

	var signer *mailer.DKIMSigner
	if cfg.DKIM.Enabled {
		signer, err = mailer.NewDKIMSigner(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}
	senders := mailer.NewFactory(signer, logger)

	recorder := audit.NewRecorder(repository.NewAuditRepository(database.DB), logger)
	dispatcher := dispatch.New(database.DB, dispatch.Config{
		BatchSize:       cfg.Dispatch.BatchSize,
		Concurrency:     cfg.Dispatch.Concurrency,
		RatePerSec:      cfg.Dispatch.RatePerSec,
		TrackingBaseURL: cfg.Tracking.BaseURL,
	}, senders, limiter, recorder, logger)

	return &App{
		config:     cfg,
		database:   database,
		quotaDB:    quotaDB,
		limiter:    limiter,
		dispatcher: dispatcher,
		scheduler:  dispatch.NewScheduler(dispatcher, cfg.Dispatch.PollInterval, logger),
		apiServer:  api.NewServer(database.DB, cfg, dispatcher, m, logger),
		logger:     logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailtide",
		"api_addr", a.config.Server.ListenAddr,
		"tracking_base_url", a.config.Tracking.BaseURL,
		"database", a.config.Database.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop launching new jobs before pausing the running ones
	a.scheduler.Stop()
	a.dispatcher.Shutdown()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	// Stop persists quota counters before the bolt file closes
	if err := a.limiter.Stop(); err != nil {
		a.logger.Error("quota limiter stop error", "error", err)
	}
	if err := a.quotaDB.Close(); err != nil {
		a.logger.Error("quota store close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
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
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
