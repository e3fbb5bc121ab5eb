// Package replenish refills campaign queues from the discovery collaborator
// when their backlog runs low.
package replenish

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/discovery"
	"github.com/foxzi/dealpost/internal/metrics"
	"github.com/foxzi/dealpost/internal/queue"
)

// Config contains replenishment settings
type Config struct {
	// Request more items when fewer than LowWater are queued
	LowWater int

	// Maximum number of candidates asked from discovery per request
	BatchSize int

	// Periodic sweep over running campaigns; zero disables the sweep
	Interval time.Duration

	// Upper bound of a single discovery request
	Timeout time.Duration
}

// Trigger watches queue depth and emits one-shot discovery requests
type Trigger struct {
	store      queue.Store
	discoverer discovery.Discoverer
	cfg        Config
	logger     *slog.Logger

	// campaign ID -> request ID of the outstanding request
	inflight sync.Map

	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopWg   sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a replenishment trigger
func New(store queue.Store, d discovery.Discoverer, cfg Config, logger *slog.Logger) *Trigger {
	if cfg.LowWater <= 0 {
		cfg.LowWater = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	base, cancel := context.WithCancel(context.Background())
	return &Trigger{
		store:      store,
		discoverer: d,
		cfg:        cfg,
		logger:     logger,
		base:       base,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
}

// Observe compares the queue depth of c to the low-water mark and requests
// replenishment when it is below. Returns true if a new request was started.
func (t *Trigger) Observe(ctx context.Context, c *campaign.Campaign) bool {
	if c == nil || c.Status == campaign.StatusArchived {
		return false
	}
	if t.InFlight(c.ID) {
		metrics.IncReplenishRequests("suppressed")
		return false
	}

	depth, err := t.store.Depth(ctx, c.ID)
	if err != nil {
		t.logger.Error("failed to read queue depth", "campaign_id", c.ID, "error", err)
		return false
	}
	if depth >= t.cfg.LowWater {
		return false
	}
	return t.Request(ctx, c)
}

// Request starts a replenishment for c regardless of depth. A second request
// while one is outstanding for the same campaign is a no-op.
func (t *Trigger) Request(ctx context.Context, c *campaign.Campaign) bool {
	select {
	case <-t.stopCh:
		return false
	default:
	}

	id := uuid.NewString()
	if _, loaded := t.inflight.LoadOrStore(c.ID, id); loaded {
		metrics.IncReplenishRequests("suppressed")
		return false
	}

	metrics.IncReplenishRequests("started")
	t.wg.Add(1)
	go t.run(c.Clone(), id)
	return true
}

// InFlight reports whether a request for the campaign is outstanding
func (t *Trigger) InFlight(campaignID int64) bool {
	_, ok := t.inflight.Load(campaignID)
	return ok
}

func (t *Trigger) run(c *campaign.Campaign, requestID string) {
	defer t.wg.Done()
	defer t.inflight.Delete(c.ID)

	logger := t.logger.With("campaign_id", c.ID, "campaign", c.Name, "request_id", requestID)

	ctx, cancel := context.WithTimeout(t.base, t.cfg.Timeout)
	defer cancel()

	start := time.Now()
	items, err := t.discoverer.Discover(ctx, c.Params, t.cfg.BatchSize)
	if err != nil {
		metrics.IncReplenishRequests("failed")
		logger.Warn("discovery failed", "error", err)
		return
	}

	added, filtered := 0, 0
	for _, it := range items {
		if !c.Params.Accepts(it) {
			filtered++
			continue
		}
		if it.Score == 0 {
			it.Score = campaign.Score(it)
		}
		ok, err := t.store.Enqueue(ctx, c.ID, it)
		if err != nil {
			if errors.Is(err, queue.ErrArchived) || errors.Is(err, queue.ErrCampaignNotFound) {
				logger.Info("campaign gone, dropping candidates", "error", err)
				break
			}
			logger.Error("failed to enqueue item", "item_id", it.ID, "error", err)
			continue
		}
		if ok {
			added++
		}
	}

	metrics.AddItemsEnqueued(added)
	metrics.IncReplenishRequests("completed")
	logger.Info("replenishment completed",
		"candidates", len(items),
		"filtered", filtered,
		"enqueued", added,
		"duration", time.Since(start),
	)
}

// Start starts the periodic sweep
func (t *Trigger) Start(ctx context.Context) {
	if t.cfg.Interval <= 0 {
		t.logger.Info("replenishment sweep disabled")
		return
	}

	t.loopWg.Add(1)
	go t.loop(ctx)

	t.logger.Info("replenishment trigger started",
		"low_water", t.cfg.LowWater,
		"batch_size", t.cfg.BatchSize,
		"interval", t.cfg.Interval,
	)
}

// Stop stops the sweep, cancels outstanding requests and waits for them
func (t *Trigger) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.cancel()
	})
	t.loopWg.Wait()
	t.wg.Wait()
	t.logger.Info("replenishment trigger stopped")
}

// Wait blocks until all outstanding requests have finished
func (t *Trigger) Wait() {
	t.wg.Wait()
}

func (t *Trigger) loop(ctx context.Context) {
	defer t.loopWg.Done()

	// Fill queues of campaigns that start with an empty backlog
	t.Sweep(ctx)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep observes every running campaign. Returns the number of requests started.
func (t *Trigger) Sweep(ctx context.Context) int {
	campaigns, err := t.store.ListCampaigns(ctx, campaign.ListFilter{Status: campaign.StatusRunning})
	if err != nil {
		t.logger.Error("failed to list campaigns", "error", err)
		return 0
	}

	started := 0
	for _, c := range campaigns {
		if t.Observe(ctx, c) {
			started++
		}
	}
	if started > 0 {
		t.logger.Debug("replenishment sweep", "campaigns", len(campaigns), "requests", started)
	}
	return started
}
