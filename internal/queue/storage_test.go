package queue

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
)

func newBoltStore(t *testing.T) Store {
	t.Helper()
	storage, err := NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestBoltStorage(t *testing.T) {
	runStoreTests(t, newBoltStore)
}

func TestNewBoltStorageCreateDir(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	storage, err := NewBoltStorage(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStorage() should create directories, error = %v", err)
	}
	storage.Close()
}

func TestBoltStorageReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	storage, err := NewBoltStorage(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	c := createRunning(t, storage, "persist")
	storage.Enqueue(ctx, c.ID, item("A", 2, t0))
	storage.Enqueue(ctx, c.ID, item("B", 5, t0))
	storage.Close()

	storage, err = NewBoltStorage(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStorage() reopen error = %v", err)
	}
	defer storage.Close()

	best, err := storage.PeekBest(ctx, c.ID)
	if err != nil {
		t.Fatalf("PeekBest() error = %v", err)
	}
	if best == nil || best.ID != "B" {
		t.Errorf("PeekBest() after reopen = %v, want B", best)
	}

	next := &campaign.Campaign{Name: "second"}
	if err := storage.CreateCampaign(ctx, next); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	if next.ID <= c.ID {
		t.Errorf("new campaign ID %d reuses sequence (previous %d)", next.ID, c.ID)
	}
}

func TestDescendingScore(t *testing.T) {
	scores := []float64{100, 9.5, 9, 0.1, 0, -0.1, -7, -1000}
	for i := 1; i < len(scores); i++ {
		hi := descendingScore(scores[i-1])
		lo := descendingScore(scores[i])
		if hi >= lo {
			t.Errorf("descendingScore(%v) = %d not before descendingScore(%v) = %d", scores[i-1], hi, scores[i], lo)
		}
	}
}

func TestCleaner(t *testing.T) {
	s := newBoltStore(t)
	ctx := context.Background()
	c := createRunning(t, s, "cleaner")
	s.Enqueue(ctx, c.ID, item("OLD", 1, t0))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cleaner := NewCleaner(s, CleanerConfig{QueuedMaxAge: 24 * time.Hour, RejectedMaxAge: 48 * time.Hour}, logger)
	cleaner.now = func() time.Time { return t0.Add(25 * time.Hour) }

	cleaner.RunOnce(ctx)
	got, _ := s.GetItem(ctx, c.ID, "OLD")
	if got.Status != campaign.ItemRejected {
		t.Fatalf("Status = %v, want rejected", got.Status)
	}

	cleaner.now = func() time.Time { return t0.Add(80 * time.Hour) }
	cleaner.RunOnce(ctx)
	if got, _ := s.GetItem(ctx, c.ID, "OLD"); got != nil {
		t.Error("rejected item not purged")
	}
}

type countingObserver struct {
	seen []int64
}

func (o *countingObserver) Observe(ctx context.Context, c *campaign.Campaign) bool {
	o.seen = append(o.seen, c.ID)
	return true
}

func TestCleanerObservesAfterExpiry(t *testing.T) {
	s := newBoltStore(t)
	ctx := context.Background()
	c := createRunning(t, s, "stale")
	s.Enqueue(ctx, c.ID, item("OLD", 1, t0))
	draft := &campaign.Campaign{Name: "draft"}
	if err := s.CreateCampaign(ctx, draft); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cleaner := NewCleaner(s, CleanerConfig{QueuedMaxAge: 24 * time.Hour}, logger)
	obs := &countingObserver{}
	cleaner.SetObserver(obs)

	cleaner.now = func() time.Time { return t0.Add(time.Hour) }
	cleaner.RunOnce(ctx)
	if len(obs.seen) != 0 {
		t.Fatalf("observed %v with nothing expired", obs.seen)
	}

	cleaner.now = func() time.Time { return t0.Add(25 * time.Hour) }
	cleaner.RunOnce(ctx)
	if len(obs.seen) != 1 || obs.seen[0] != c.ID {
		t.Errorf("observed %v, want only running campaign %d", obs.seen, c.ID)
	}
}

func TestCleanerStartStop(t *testing.T) {
	s := newBoltStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cleaner := NewCleaner(s, CleanerConfig{QueuedMaxAge: time.Hour, Interval: 10 * time.Millisecond}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleaner.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cleaner.Stop()
}
