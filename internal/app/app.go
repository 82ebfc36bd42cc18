package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/disparos/internal/api"
	"github.com/foxzi/disparos/internal/config"
	"github.com/foxzi/disparos/internal/db"
	"github.com/foxzi/disparos/internal/dispatch"
	"github.com/foxzi/disparos/internal/events"
	"github.com/foxzi/disparos/internal/metrics"
	"github.com/foxzi/disparos/internal/ratelimit"
	"github.com/foxzi/disparos/internal/repository"
	"github.com/foxzi/disparos/internal/sheet"
	"github.com/foxzi/disparos/internal/webhook"
)

// App is the main application
type App struct {
	config *config.Config
	logger *slog.Logger

	db        *db.DB
	Batches   *repository.BatchRepository
	Campaigns *repository.CampaignRepository
	Settings  *repository.SettingsRepository
	History   *repository.HistoryRepository

	Limiter    ratelimit.Limiter
	Webhook    *webhook.Client
	Worker     *dispatch.Worker
	Dispatcher *dispatch.Dispatcher

	publisher     events.Publisher
	redisClient   *redis.Client
	limiterDB     *bolt.DB
	scheduler     *dispatch.Scheduler
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	metricsDB     *bolt.DB
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a := &App{config: cfg, logger: logger}
	if err := a.init(version); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(version string) error {
	cfg := a.config
	logger := a.logger

	dsn := cfg.Database.Path
	if cfg.Database.Driver == db.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	database, err := db.New(cfg.Database.Driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = database

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.Batches = repository.NewBatchRepository(database)
	a.Campaigns = repository.NewCampaignRepository(database)
	a.Settings = repository.NewSettingsRepository(database)
	a.History = repository.NewHistoryRepository(database)

	if err := a.initLimiter(); err != nil {
		return err
	}

	a.publisher = events.Nop{}
	if cfg.Events.Enabled {
		pub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		a.publisher = pub
		logger.Info("outcome events enabled", "exchange", cfg.Events.Exchange)
	}

	if cfg.Metrics.Enabled {
		if err := a.initMetrics(); err != nil {
			return err
		}
	}

	a.Webhook = webhook.NewClient(cfg.Dispatch.HTTPTimeout)

	a.Worker = dispatch.NewWorker(dispatch.Deps{
		Batches:   a.Batches,
		Settings:  a.Settings,
		Campaigns: a.Campaigns,
		History:   a.History,
		Limiter:   a.Limiter,
		Sender:    a.Webhook,
		Events:    a.publisher,
	}, dispatch.Config{
		Concurrency: cfg.Dispatch.Concurrency,
		BatchLimit:  cfg.Dispatch.BatchLimit,
	}, logger)

	a.Dispatcher = dispatch.NewDispatcher(a.Batches, a.Campaigns, a.Worker, logger)

	if cfg.Dispatch.Enabled {
		a.scheduler = dispatch.NewScheduler(a.Worker, cfg.Dispatch.Schedule, logger)
	}

	a.apiServer = api.NewServer(api.ServerOptions{
		Config:     &cfg.API,
		Import:     &cfg.Import,
		Batches:    a.Batches,
		Campaigns:  a.Campaigns,
		Settings:   a.Settings,
		History:    a.History,
		Dispatcher: a.Dispatcher,
		Limiter:    a.Limiter,
		Webhook:    a.Webhook,
		Sheets:     sheet.NewFetcher(cfg.Import.FetchTimeout, cfg.Import.MaxUploadBytes),
		Logger:     logger.With("component", "api"),
		Version:    version,
	})

	return nil
}

// initLimiter opens the configured daily counter backend
func (a *App) initLimiter() error {
	cfg := a.config.RateLimit
	clock := ratelimit.Clock{Location: a.config.Location()}

	switch cfg.Backend {
	case "redis":
		client, err := ratelimit.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redisClient = client
		a.Limiter = ratelimit.NewRedisLimiter(client, a.Settings, clock)

	case "bolt":
		boltDB, err := openBolt(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("failed to open rate limit storage: %w", err)
		}
		a.limiterDB = boltDB
		limiter, err := ratelimit.NewBoltLimiter(boltDB, a.Settings, clock)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		a.Limiter = limiter

	default:
		a.Limiter = ratelimit.NewSQLLimiter(a.Settings, clock)
	}

	a.logger.Info("rate limiter ready", "backend", cfg.Backend, "timezone", a.config.Dispatch.Timezone)
	return nil
}

func (a *App) initMetrics() error {
	cfg := a.config.Metrics

	m := metrics.New()
	metrics.SetGlobal(m)

	if cfg.BoltPath != "" {
		boltDB, err := openBolt(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("failed to open metrics storage: %w", err)
		}
		a.metricsDB = boltDB

		collector, err := metrics.NewCollector(boltDB, m, a.Batches, cfg.FlushInterval, a.logger.With("component", "metrics"))
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.collector = collector
	}

	a.metricsServer = metrics.NewServer(m, cfg.ListenAddr, cfg.Path, cfg.AllowedIPs, a.logger.With("component", "metrics"))
	return nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting disparos",
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Database.Driver,
		"dispatch_enabled", a.config.Dispatch.Enabled,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	if a.config.History.MaxAge > 0 {
		go a.cleanupLoop(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop scheduling first, a running pass finishes its claimed batches
	if a.scheduler != nil {
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

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage and broker connections without touching servers
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
		a.collector = nil
	}
	if a.metricsDB != nil {
		a.metricsDB.Close()
		a.metricsDB = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("event publisher close error", "error", err)
		}
		a.publisher = nil
	}
	if a.redisClient != nil {
		a.redisClient.Close()
		a.redisClient = nil
	}
	if a.limiterDB != nil {
		a.limiterDB.Close()
		a.limiterDB = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
		a.db = nil
	}
}

// CleanupHistory deletes history entries older than maxAge
func (a *App) CleanupHistory(ctx context.Context, maxAge time.Duration) (int64, error) {
	return a.History.DeleteOlderThan(ctx, time.Now().Add(-maxAge))
}

func (a *App) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.History.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.CleanupHistory(ctx, a.config.History.MaxAge)
			if err != nil {
				a.logger.Error("history cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("history cleanup", "deleted", n)
			}
		}
	}
}

func openBolt(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
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
