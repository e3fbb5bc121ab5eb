package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
)

// Observer is told about running campaigns whose queues shrank
type Observer interface {
	Observe(ctx context.Context, c *campaign.Campaign) bool
}

// CleanerConfig contains cleanup settings
type CleanerConfig struct {
	// Queued items older than this are rejected as stale
	QueuedMaxAge time.Duration

	// Rejected items retention
	RejectedMaxAge time.Duration

	Interval time.Duration
}

// Cleaner handles automatic expiry of stale queue entries
type Cleaner struct {
	store    Store
	cfg      CleanerConfig
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewCleaner creates a new cleaner service
func NewCleaner(store Store, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Cleaner{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// SetObserver sets the hook run for running campaigns after stale items expire
func (c *Cleaner) SetObserver(o Observer) {
	c.observer = o
}

// Start starts the cleanup goroutine
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.QueuedMaxAge <= 0 && c.cfg.RejectedMaxAge <= 0 {
		c.logger.Info("cleaner disabled")
		return
	}

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("cleaner started",
		"queued_max_age", c.cfg.QueuedMaxAge,
		"rejected_max_age", c.cfg.RejectedMaxAge,
		"interval", c.cfg.Interval,
	)
}

// Stop stops the cleaner and waits for the goroutine to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
	c.logger.Info("cleaner stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass
func (c *Cleaner) RunOnce(ctx context.Context) {
	now := c.now()

	expired, err := c.store.ExpireQueued(ctx, c.cfg.QueuedMaxAge, now)
	if err != nil {
		c.logger.Error("failed to expire queued items", "error", err)
	} else if expired > 0 {
		c.logger.Info("expired stale queued items", "expired", expired)
		c.observeRunning(ctx)
	}

	purged, err := c.store.PurgeRejected(ctx, c.cfg.RejectedMaxAge, now)
	if err != nil {
		c.logger.Error("failed to purge rejected items", "error", err)
	} else if purged > 0 {
		c.logger.Info("purged rejected items", "deleted", purged)
	}
}

func (c *Cleaner) observeRunning(ctx context.Context) {
	if c.observer == nil {
		return
	}
	running, err := c.store.ListCampaigns(ctx, campaign.ListFilter{Status: campaign.StatusRunning})
	if err != nil {
		c.logger.Error("failed to list running campaigns", "error", err)
		return
	}
	for _, rc := range running {
		c.observer.Observe(ctx, rc)
	}
}
