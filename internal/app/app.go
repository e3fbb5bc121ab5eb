package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/dealpost/internal/api"
	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/config"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/discovery"
	"github.com/foxzi/dealpost/internal/ipfilter"
	"github.com/foxzi/dealpost/internal/metrics"
	"github.com/foxzi/dealpost/internal/notify"
	"github.com/foxzi/dealpost/internal/publish"
	"github.com/foxzi/dealpost/internal/queue"
	"github.com/foxzi/dealpost/internal/ratelimit"
	"github.com/foxzi/dealpost/internal/replenish"
	"github.com/foxzi/dealpost/internal/sandbox"
	"github.com/foxzi/dealpost/internal/scheduler"
)

// App is the main application
type App struct {
	config  *config.Config
	version string
	logger  *slog.Logger

	store          queue.Store
	stateDB        *bolt.DB
	catalog        *catalog.Catalog
	dispatcher     *scheduler.Dispatcher
	replenisher    *replenish.Trigger
	cleaner        *queue.Cleaner
	rateLimiter    *ratelimit.Limiter
	sandboxStorage *sandbox.Storage
	apiServer      *api.Server
	metricsServer  *metrics.Server
	collector      *metrics.Collector

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	// Setup logger
	logger := SetupLogger(cfg.Logging)

	ctx := context.Background()
	a := &App{config: cfg, version: version, logger: logger, stopCh: make(chan struct{})}

	// Create storage
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	logger.Info("queue storage opened", "backend", cfg.Storage.Backend)

	if err := a.build(ctx); err != nil {
		a.closeStorage()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	stateDB, err := openBolt(cfg.Storage.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	a.stateDB = stateDB

	cat, err := catalog.New(cfg.Catalog.Path, cfg.Catalog.RefreshInterval, logger.With("component", "catalog"))
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	a.catalog = cat

	discoverer, err := discovery.New(discovery.Options{
		Provider:          cfg.Discovery.Provider,
		Endpoint:          cfg.Discovery.Endpoint,
		APIKey:            cfg.Discovery.APIKey,
		Timeout:           cfg.Discovery.Timeout,
		RequestsPerSecond: cfg.Discovery.RequestsPerSecond,
		Burst:             cfg.Discovery.Burst,
		FeedPath:          cfg.Discovery.FeedPath,
	}, logger.With("component", "discovery"))
	if err != nil {
		return fmt.Errorf("failed to create discovery provider: %w", err)
	}

	preparer := content.NewPreparer(cat, cfg.Content.ProductURL)

	if cfg.Telegram.Token == "" {
		logger.Warn("telegram token is not set, publishing to live channels will fail")
	}
	telegram := publish.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.Timeout, logger.With("component", "telegram"))

	// Sandbox channels are captured instead of published
	a.sandboxStorage, err = sandbox.NewStorage(stateDB)
	if err != nil {
		return fmt.Errorf("failed to create sandbox storage: %w", err)
	}
	publisher := sandbox.NewPublisher(telegram, a.sandboxStorage, logger.With("component", "sandbox"))
	if cfg.Sandbox.SimulateErrors {
		publisher.SetErrorSimulation(true, cfg.Sandbox.ErrorProbability)
		logger.Info("sandbox error simulation enabled", "probability", cfg.Sandbox.ErrorProbability)
	}

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger.With("component", "notify"))}
	if cfg.Notify.Telegram && cfg.Telegram.Token != "" {
		notifiers = append(notifiers, notify.NewTelegramNotifier(telegram))
	}
	if cfg.Notify.SMTP.Enabled {
		notifiers = append(notifiers, notify.NewSMTPNotifier(notify.SMTPConfig{
			Addr:     cfg.Notify.SMTP.Addr,
			From:     cfg.Notify.SMTP.From,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			StartTLS: cfg.Notify.SMTP.StartTLS,
			Timeout:  cfg.Notify.SMTP.Timeout,
		}))
		logger.Info("email notifications enabled", "addr", cfg.Notify.SMTP.Addr)
	}
	router := notify.NewRouter(cat, logger.With("component", "notify"), notifiers...)

	// Create rate limiter if enabled
	if cfg.RateLimit.Enabled {
		a.rateLimiter, err = ratelimit.NewLimiter(stateDB, LimiterConfig(cfg.RateLimit, cfg.Metrics.FlushInterval))
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("rate limiting enabled")
	}

	a.dispatcher = scheduler.New(a.store, preparer, publisher, cat, router, scheduler.Config{
		TickInterval:   cfg.Scheduler.TickInterval,
		Workers:        cfg.Scheduler.Workers,
		PublishTimeout: cfg.Scheduler.PublishTimeout,
		MinSpacing:     cfg.Scheduler.MinSpacing,
		Location:       cfg.Location(),
		NotifyInterval: cfg.Scheduler.NotifyInterval,
	}, logger.With("component", "dispatcher"))

	a.replenisher = replenish.New(a.store, discoverer, replenish.Config{
		LowWater:  cfg.Queue.LowWater,
		BatchSize: cfg.Queue.BatchSize,
		Interval:  cfg.Queue.ReplenishInterval,
		Timeout:   cfg.Queue.ReplenishTimeout,
	}, logger.With("component", "replenish"))
	a.dispatcher.SetReplenisher(a.replenisher)
	if a.rateLimiter != nil {
		a.dispatcher.SetRateLimiter(a.rateLimiter)
	}

	a.cleaner = queue.NewCleaner(a.store, queue.CleanerConfig{
		QueuedMaxAge:   cfg.Queue.QueuedMaxAge,
		RejectedMaxAge: cfg.Queue.RejectedMaxAge,
		Interval:       cfg.Queue.CleanupInterval,
	}, logger.With("component", "cleaner"))
	a.cleaner.SetObserver(a.replenisher)

	if cfg.API.Enabled {
		a.apiServer = api.NewServer(api.ServerOptions{
			Store:          a.store,
			Config:         &cfg.API,
			RateLimits:     &cfg.RateLimit,
			Logger:         logger.With("component", "api"),
			Catalog:        cat,
			Dispatcher:     a.dispatcher,
			Replenisher:    a.replenisher,
			Preparer:       preparer,
			RateLimiter:    a.rateLimiter,
			SandboxStorage: a.sandboxStorage,
			Version:        a.version,
		})
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		storagePath := ""
		if cfg.Storage.Backend == config.BackendBolt {
			storagePath = cfg.Storage.Path
		}
		a.collector, err = metrics.NewCollector(stateDB, m, a.store, storagePath, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}

		filter := ipfilter.New(cfg.Metrics.AllowedIPs, false, logger.With("component", "metrics"))
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, filter, logger.With("component", "metrics"))
		a.metricsServer.SetHealthCheck(a.dispatcher.Healthy)
	}

	return nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting dealpost",
		"version", a.version,
		"tick_interval", a.config.Scheduler.TickInterval,
		"timezone", a.config.Scheduler.Timezone,
		"api_enabled", a.config.API.Enabled,
		"metrics_enabled", a.config.Metrics.Enabled,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.catalog.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}
	a.cleaner.Start(ctx)
	a.replenisher.Start(ctx)
	a.dispatcher.Start(ctx)
	if a.config.Sandbox.MaxAge > 0 {
		a.wg.Add(1)
		go a.sandboxCleanup(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api server shutdown error", "error", err)
		}
	}

	// In-flight publishes finish before storage closes
	a.dispatcher.Stop()
	a.replenisher.Stop()
	a.cleaner.Stop()
	a.catalog.Stop()

	close(a.stopCh)
	a.wg.Wait()

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop rate limiter (persists counters)
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	a.closeStorage()

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeStorage() {
	if a.stateDB != nil {
		if err := a.stateDB.Close(); err != nil {
			a.logger.Error("state database close error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
}

// sandboxCleanup deletes captures older than the configured age
func (a *App) sandboxCleanup(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := a.sandboxStorage.Clear(ctx, "", a.config.Sandbox.MaxAge)
		if err != nil {
			a.logger.Error("sandbox cleanup failed", "error", err)
		} else if n > 0 {
			a.logger.Info("sandbox captures expired", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// OpenStore opens the configured queue storage backend
func OpenStore(ctx context.Context, cfg *config.Config) (queue.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := queue.NewPostgresPool(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns)
		if err != nil {
			return nil, err
		}
		store, err := queue.NewPostgresStorage(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		store, err := queue.NewBoltStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		return store, nil
	}
}

func openBolt(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
}

// LimiterConfig converts configured publish caps for the rate limiter
func LimiterConfig(cfg config.RateLimitConfig, flush time.Duration) *ratelimit.Config {
	out := &ratelimit.Config{
		Global:          limit(cfg.Global),
		DefaultChannel:  limit(cfg.DefaultChannel),
		DefaultCampaign: limit(cfg.DefaultCampaign),
		FlushInterval:   flush,
	}
	if len(cfg.Channels) > 0 {
		out.Channels = make(map[string]*ratelimit.LimitConfig, len(cfg.Channels))
		for name, v := range cfg.Channels {
			if !v.IsZero() {
				out.Channels[name] = limit(v)
			}
		}
	}
	return out
}

func limit(v config.LimitValues) *ratelimit.LimitConfig {
	if v.IsZero() {
		return nil
	}
	return &ratelimit.LimitConfig{PostsPerHour: v.PostsPerHour, PostsPerDay: v.PostsPerDay}
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
