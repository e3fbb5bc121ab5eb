package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/queue"
)

type staticStats struct {
	stats *queue.Stats
}

func (s staticStats) Stats(ctx context.Context) (*queue.Stats, error) {
	return s.stats, nil
}

func openDB(t *testing.T) (*bolt.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestCollectorPersistence(t *testing.T) {
	db, _ := openDB(t)

	m1 := New()
	c1, err := NewCollector(db, m1, nil, "", time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	m1.PostsPublishedTotal.WithLabelValues("@deals").Add(5)
	m1.PublishFailuresTotal.WithLabelValues("@deals", "temporary").Inc()
	m1.TicksTotal.Add(42)
	if err := c1.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	m2 := New()
	if _, err := NewCollector(db, m2, nil, "", time.Hour); err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if got := counterValue(t, m2.PostsPublishedTotal.WithLabelValues("@deals")); got != 5 {
		t.Errorf("restored published = %v, want 5", got)
	}
	if got := counterValue(t, m2.PublishFailuresTotal.WithLabelValues("@deals", "temporary")); got != 1 {
		t.Errorf("restored failures = %v, want 1", got)
	}
	if got := counterValue(t, m2.TicksTotal); got != 42 {
		t.Errorf("restored ticks = %v, want 42", got)
	}
}

func TestCollectorGauges(t *testing.T) {
	db, path := openDB(t)
	m := New()
	stats := staticStats{stats: &queue.Stats{
		Campaigns: map[campaign.Status]int64{campaign.StatusRunning: 2, campaign.StatusDraft: 1},
		Queued:    7,
		Posted:    3,
		Rejected:  1,
	}}

	c, err := NewCollector(db, m, stats, path, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.collectSystemMetrics(context.Background())

	gauge := func(v *dto.Metric) float64 { return v.GetGauge().GetValue() }
	var out dto.Metric
	m.QueueItems.WithLabelValues("queued").Write(&out)
	if gauge(&out) != 7 {
		t.Errorf("queued gauge = %v, want 7", gauge(&out))
	}
	m.Campaigns.WithLabelValues("running").Write(&out)
	if gauge(&out) != 2 {
		t.Errorf("running gauge = %v, want 2", gauge(&out))
	}
	m.Campaigns.WithLabelValues("archived").Write(&out)
	if gauge(&out) != 0 {
		t.Errorf("archived gauge = %v, want 0", gauge(&out))
	}
	m.StorageUsedBytes.Write(&out)
	if gauge(&out) <= 0 {
		t.Error("storage size not collected")
	}
}

func TestCollectorStartStop(t *testing.T) {
	db, _ := openDB(t)
	c, err := NewCollector(db, New(), nil, "", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	// Stop twice is safe
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
