package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/queue"
)

// StatsProvider provides store statistics for metrics
type StatsProvider interface {
	Stats(ctx context.Context) (*queue.Stats, error)
}

var (
	bucketMetrics = []byte("metrics")
	countersKey   = []byte("counters")
)

// savedCounter is a persisted counter sample
type savedCounter struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and updates gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	stats         StatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, stats StatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		stats:         stats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted values back onto the fresh counters
func (c *Collector) loadCounters() error {
	var saved []savedCounter
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		data := bucket.Get(countersKey)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &saved); err != nil {
			saved = nil // skip invalid data
		}
		return nil
	})
	if err != nil {
		return err
	}

	vecs := c.metrics.counterVecs()
	plain := c.metrics.counters()
	for _, s := range saved {
		if s.Value <= 0 {
			continue
		}
		if vec, ok := vecs[s.Name]; ok {
			counter, err := vec.GetMetricWith(s.Labels)
			if err != nil {
				continue // label set changed between versions
			}
			counter.Add(s.Value)
			continue
		}
		if counter, ok := plain[s.Name]; ok {
			counter.Add(s.Value)
		}
	}
	return nil
}

// snapshot reads the current counter values from the registry
func (c *Collector) snapshot() ([]savedCounter, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	vecs := c.metrics.counterVecs()
	plain := c.metrics.counters()

	var out []savedCounter
	for _, mf := range families {
		name := mf.GetName()
		_, isVec := vecs[name]
		_, isPlain := plain[name]
		if mf.GetType() != dto.MetricType_COUNTER || (!isVec && !isPlain) {
			continue
		}
		for _, metric := range mf.GetMetric() {
			s := savedCounter{Name: name, Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	saved, err := c.snapshot()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data, err := json.Marshal(saved)
		if err != nil {
			return err
		}

		return bucket.Put(countersKey, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system and store state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.stats == nil {
		return
	}
	stats, err := c.stats.Stats(ctx)
	if err != nil {
		return
	}

	c.metrics.QueueItems.WithLabelValues(string(campaign.ItemQueued)).Set(float64(stats.Queued))
	c.metrics.QueueItems.WithLabelValues(string(campaign.ItemPosted)).Set(float64(stats.Posted))
	c.metrics.QueueItems.WithLabelValues(string(campaign.ItemRejected)).Set(float64(stats.Rejected))

	for _, status := range []campaign.Status{
		campaign.StatusDraft,
		campaign.StatusRunning,
		campaign.StatusPaused,
		campaign.StatusArchived,
	} {
		c.metrics.Campaigns.WithLabelValues(string(status)).Set(float64(stats.Campaigns[status]))
	}
}
