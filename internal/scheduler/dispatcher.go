// Package scheduler runs the dispatch loop: once per tick every running
// campaign is checked against its timing windows and cadence, and the best
// queued item is published to the campaign channels.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/metrics"
	"github.com/foxzi/dealpost/internal/notify"
	"github.com/foxzi/dealpost/internal/publish"
	"github.com/foxzi/dealpost/internal/queue"
	"github.com/foxzi/dealpost/internal/ratelimit"
)

// Outcome is the result of evaluating one campaign in one tick
type Outcome string

const (
	OutcomeGated         Outcome = "gated"
	OutcomeThrottled     Outcome = "throttled"
	OutcomeEmpty         Outcome = "empty"
	OutcomePublished     Outcome = "published"
	OutcomePublishFailed Outcome = "publish_failed"
	OutcomeRejected      Outcome = "rejected"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeError         Outcome = "error"
)

// Preparer renders the post of an item for a channel
type Preparer interface {
	Prepare(it *campaign.Item, c *campaign.Campaign, channel string) (*content.Post, error)
}

// ChannelResolver looks up destination channels by name
type ChannelResolver interface {
	Channel(name string) (catalog.Channel, bool)
}

// Notifier delivers admin notifications to campaign owners
type Notifier interface {
	Notify(ctx context.Context, ownerID string, msg notify.Message) error
}

// Replenisher is told about queue consumption
type Replenisher interface {
	Observe(ctx context.Context, c *campaign.Campaign) bool
}

// Config contains dispatcher settings
type Config struct {
	TickInterval   time.Duration
	Workers        int
	PublishTimeout time.Duration
	MinSpacing     time.Duration
	Location       *time.Location

	// Repeat failure notices for one item are held back for this long
	NotifyInterval time.Duration
}

// Dispatcher is the periodic dispatch loop
type Dispatcher struct {
	store       queue.Store
	preparer    Preparer
	publisher   publish.Publisher
	channels    ChannelResolver
	notifier    Notifier
	replenisher Replenisher
	limiter     *ratelimit.Limiter

	evaluator *campaign.Evaluator
	gate      *campaign.Gate
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	// campaign ID -> *atomic.Bool, set while an evaluation is running
	arena sync.Map
	sem   chan struct{}

	// noticeKey -> time.Time of the last failure notice
	notified sync.Map

	// unix nanoseconds of the last finished tick; zero until Start
	lastTick atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
	ticksWg  sync.WaitGroup
}

// New creates a dispatcher
func New(store queue.Store, preparer Preparer, publisher publish.Publisher, channels ChannelResolver, notifier Notifier, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = time.Hour
	}

	return &Dispatcher{
		store:     store,
		preparer:  preparer,
		publisher: publisher,
		channels:  channels,
		notifier:  notifier,
		evaluator: campaign.NewEvaluator(cfg.Location),
		gate:      campaign.NewGate(cfg.MinSpacing),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sem:       make(chan struct{}, cfg.Workers),
		stopCh:    make(chan struct{}),
	}
}

// SetReplenisher sets the replenishment trigger notified after consumption
func (d *Dispatcher) SetReplenisher(r Replenisher) {
	d.replenisher = r
}

// SetRateLimiter sets the publish cap limiter
func (d *Dispatcher) SetRateLimiter(l *ratelimit.Limiter) {
	d.limiter = l
}

// Evaluator returns the timing window evaluator in the dispatcher timezone
func (d *Dispatcher) Evaluator() *campaign.Evaluator {
	return d.evaluator
}

// Gate returns the frequency gate
func (d *Dispatcher) Gate() *campaign.Gate {
	return d.gate
}

// Start starts the tick loop
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting dispatcher",
		"tick_interval", d.cfg.TickInterval,
		"workers", d.cfg.Workers,
		"timezone", d.cfg.Location.String(),
	)

	d.lastTick.Store(d.now().UnixNano())
	d.loopWg.Add(1)
	go d.loop(ctx)
}

// Healthy returns an error when the loop is started but no tick has
// finished within three tick intervals
func (d *Dispatcher) Healthy() error {
	last := d.lastTick.Load()
	if last == 0 {
		return nil
	}
	if age := d.now().Sub(time.Unix(0, last)); age > 3*d.cfg.TickInterval {
		return fmt.Errorf("no dispatch tick finished for %s", age.Round(time.Second))
	}
	return nil
}

// Stop stops the loop and waits for running ticks to finish.
// In-flight publish attempts are allowed to complete.
func (d *Dispatcher) Stop() {
	d.logger.Info("stopping dispatcher")
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.loopWg.Wait()
	d.ticksWg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.loopWg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			// A slow tick must not delay the next one; overlapping work on
			// the same campaign is skipped by the arena
			d.ticksWg.Add(1)
			go func(now time.Time) {
				defer d.ticksWg.Done()
				d.Tick(ctx, now)
			}(d.now())
		}
	}
}

// TickReport summarizes one tick
type TickReport struct {
	At       time.Time
	Duration time.Duration
	Outcomes map[int64]Outcome
}

// Count returns the number of campaigns with the given outcome
func (r *TickReport) Count(o Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// Tick evaluates every running campaign once and waits for the evaluations
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) *TickReport {
	start := time.Now()
	report := &TickReport{At: now, Outcomes: make(map[int64]Outcome)}

	campaigns, err := d.store.ListCampaigns(ctx, campaign.ListFilter{Status: campaign.StatusRunning})
	if err != nil {
		d.logger.Error("failed to list campaigns", "error", err)
		return report
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range campaigns {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return report
		}

		wg.Add(1)
		go func(c *campaign.Campaign) {
			defer wg.Done()
			defer func() { <-d.sem }()

			outcome := d.Evaluate(ctx, c, now)
			mu.Lock()
			report.Outcomes[c.ID] = outcome
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	report.Duration = time.Since(start)
	d.lastTick.Store(d.now().UnixNano())
	metrics.ObserveTick(report.Duration)
	if n := report.Count(OutcomePublished); n > 0 {
		d.logger.Info("tick finished", "campaigns", len(campaigns), "published", n, "duration", report.Duration)
	} else {
		d.logger.Debug("tick finished", "campaigns", len(campaigns), "duration", report.Duration)
	}
	return report
}

// Evaluate runs the dispatch state machine for one campaign.
// Returns OutcomeSkipped when an evaluation of the same campaign is still running.
func (d *Dispatcher) Evaluate(ctx context.Context, c *campaign.Campaign, now time.Time) Outcome {
	v, _ := d.arena.LoadOrStore(c.ID, new(atomic.Bool))
	busy := v.(*atomic.Bool)
	if !busy.CompareAndSwap(false, true) {
		d.logger.Debug("campaign evaluation still running, skipping", "campaign_id", c.ID)
		metrics.IncDispatchOutcome(string(OutcomeSkipped))
		return OutcomeSkipped
	}
	defer busy.Store(false)

	outcome := d.evaluate(ctx, c.ID, now)
	metrics.IncDispatchOutcome(string(outcome))
	return outcome
}

func (d *Dispatcher) evaluate(ctx context.Context, id int64, now time.Time) Outcome {
	// Re-read under the arena so a pause or a post committed by the previous
	// tick is always seen
	c, err := d.store.GetCampaign(ctx, id)
	if err != nil {
		d.logger.Error("failed to load campaign", "campaign_id", id, "error", err)
		return OutcomeError
	}
	if c == nil || !c.Active() {
		return OutcomeSkipped
	}

	logger := d.logger.With("campaign_id", c.ID, "campaign", c.Name)

	if !d.evaluator.IsInWindow(c, now) {
		return OutcomeGated
	}
	if !d.gate.CanPostNow(c, now) {
		return OutcomeThrottled
	}

	it, err := d.store.PeekBest(ctx, c.ID)
	if err != nil {
		logger.Error("failed to read queue", "error", err)
		return OutcomeError
	}
	if it == nil {
		d.replenish(ctx, c)
		return OutcomeEmpty
	}
	logger = logger.With("item_id", it.ID)

	targets := d.resolveChannels(c, logger)
	if len(targets) == 0 {
		logger.Warn("campaign has no known channels")
		return OutcomeError
	}

	if d.limiter != nil {
		res, err := d.limiter.Check(ctx, d.limitRequest(c, targets))
		if err != nil {
			logger.Error("rate limit check failed", "error", err)
		} else if !res.Allowed {
			metrics.IncRateLimitExceeded(string(res.DeniedBy))
			logger.Debug("publish cap reached",
				"level", res.DeniedBy,
				"key", res.DeniedKey,
				"retry_after", res.RetryAfter,
			)
			return OutcomeThrottled
		}
	}

	posts := make([]*content.Post, len(targets))
	for i, ch := range targets {
		post, err := d.preparer.Prepare(it, c, ch.Name)
		if errors.Is(err, content.ErrIncomplete) {
			return d.reject(ctx, c, it, now, logger)
		}
		if err != nil {
			logger.Error("failed to prepare post", "channel", ch.Name, "error", err)
			return OutcomeError
		}
		posts[i] = post
	}

	records, failures := d.publishAll(ctx, c, it, targets, posts, now, logger)

	if len(records) == 0 {
		// Item stays queued and last_post_time untouched; next eligible tick retries
		logger.Warn("publish failed on every channel", "channels", len(targets))
		if d.claimNotice(c, it, now) {
			d.notifyFailure(ctx, c, it, failures, logger)
		} else {
			logger.Debug("repeat failure notice suppressed")
		}
		return OutcomePublishFailed
	}

	err = d.store.CommitPost(ctx, &queue.Commit{
		CampaignID: c.ID,
		ItemID:     it.ID,
		PostedAt:   now,
		Records:    records,
	})
	if err != nil {
		// Logic error: the item left the queued state under us
		logger.Error("failed to commit post", "error", err)
		return OutcomeError
	}
	d.notified.Delete(noticeKey(c, it))

	if d.limiter != nil {
		published := make([]catalog.Channel, 0, len(records))
		for _, r := range records {
			if ch, ok := d.channels.Channel(r.Channel); ok {
				published = append(published, ch)
			}
		}
		if err := d.limiter.Record(ctx, d.limitRequest(c, published)); err != nil {
			logger.Error("failed to record publish", "error", err)
		}
	}

	logger.Info("item published", "channels", len(records), "failed_channels", len(failures))
	if len(failures) > 0 {
		d.notifyFailure(ctx, c, it, failures, logger)
	}
	d.replenish(ctx, c)
	return OutcomePublished
}

func (d *Dispatcher) resolveChannels(c *campaign.Campaign, logger *slog.Logger) []catalog.Channel {
	out := make([]catalog.Channel, 0, len(c.Params.Channels))
	for _, name := range c.Params.Channels {
		ch, ok := d.channels.Channel(name)
		if !ok {
			logger.Warn("unknown channel", "channel", name)
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (d *Dispatcher) limitRequest(c *campaign.Campaign, channels []catalog.Channel) *ratelimit.Request {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name
	}
	return &ratelimit.Request{
		CampaignID: strconv.FormatInt(c.ID, 10),
		Channels:   names,
	}
}

// publishAll publishes the item to every channel. Returns a record per
// successful channel and the errors of the failed ones keyed by channel.
func (d *Dispatcher) publishAll(ctx context.Context, c *campaign.Campaign, it *campaign.Item, targets []catalog.Channel, posts []*content.Post, now time.Time, logger *slog.Logger) ([]*campaign.PostRecord, map[string]error) {
	// Publishing survives dispatcher shutdown; only the timeout bounds it
	base := context.WithoutCancel(ctx)

	var records []*campaign.PostRecord
	failures := make(map[string]error)

	for i, ch := range targets {
		pubCtx, cancel := context.WithTimeout(base, d.cfg.PublishTimeout)
		start := time.Now()
		err := d.publisher.Publish(pubCtx, ch, posts[i])
		cancel()
		metrics.ObservePublish(ch.Name, time.Since(start))

		if err != nil {
			errType := "permanent"
			if publish.IsTemporary(err) {
				errType = "temporary"
			}
			metrics.IncPublishFailed(ch.Name, errType)
			logger.Warn("publish failed", "channel", ch.Name, "error_type", errType, "error", err)
			failures[ch.Name] = err
			continue
		}

		metrics.IncPostsPublished(ch.Name)
		records = append(records, &campaign.PostRecord{
			ID:         uuid.NewString(),
			CampaignID: c.ID,
			Channel:    ch.Name,
			ItemID:     it.ID,
			Link:       posts[i].Link,
			PostedAt:   now,
		})
	}
	return records, failures
}

func (d *Dispatcher) reject(ctx context.Context, c *campaign.Campaign, it *campaign.Item, now time.Time, logger *slog.Logger) Outcome {
	if err := d.store.MarkRejected(ctx, c.ID, it.ID, "incomplete", now); err != nil {
		logger.Error("failed to reject item", "error", err)
		return OutcomeError
	}
	metrics.IncItemsRejected("incomplete")
	logger.Info("item rejected, essential data missing")
	d.replenish(ctx, c)
	return OutcomeRejected
}

func (d *Dispatcher) replenish(ctx context.Context, c *campaign.Campaign) {
	if d.replenisher != nil {
		d.replenisher.Observe(ctx, c)
	}
}

func noticeKey(c *campaign.Campaign, it *campaign.Item) string {
	return fmt.Sprintf("%d/%s", c.ID, it.ID)
}

// claimNotice reports whether a failure notice for it may go out at now
func (d *Dispatcher) claimNotice(c *campaign.Campaign, it *campaign.Item, now time.Time) bool {
	key := noticeKey(c, it)
	if last, ok := d.notified.Load(key); ok && now.Sub(last.(time.Time)) < d.cfg.NotifyInterval {
		return false
	}
	d.notified.Store(key, now)
	return true
}

func (d *Dispatcher) notifyFailure(ctx context.Context, c *campaign.Campaign, it *campaign.Item, failures map[string]error, logger *slog.Logger) {
	if d.notifier == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Campaign %q could not publish item %s:\n", c.Name, it.ID)
	for _, name := range c.Params.Channels {
		if err, ok := failures[name]; ok {
			fmt.Fprintf(&b, "%s: %v\n", name, err)
		}
	}
	b.WriteString("The item stays queued and will be retried.")

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer cancel()

	err := d.notifier.Notify(nctx, c.OwnerID, notify.Message{
		Subject: "Publish failed: " + c.Name,
		Text:    b.String(),
	})
	switch {
	case errors.Is(err, notify.ErrNoRecipient):
		metrics.IncNotifications("no_recipient")
		logger.Error("no owner and no fallback admin to notify")
	case err != nil:
		metrics.IncNotifications("failed")
		logger.Warn("failed to notify owner", "error", err)
	default:
		metrics.IncNotifications("sent")
	}
}
