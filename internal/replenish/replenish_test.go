package replenish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/queue"
)

type blockingDiscoverer struct {
	release chan struct{}
	items   []*campaign.Item
	err     error
	calls   atomic.Int32
}

func (d *blockingDiscoverer) Discover(ctx context.Context, params campaign.Params, limit int) ([]*campaign.Item, error) {
	d.calls.Add(1)
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var out []*campaign.Item
	for _, it := range d.items {
		cp := *it
		out = append(out, &cp)
	}
	return out, d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (queue.Store, *campaign.Campaign) {
	t.Helper()
	store, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := &campaign.Campaign{
		Name:    "kitchen",
		Status:  campaign.StatusRunning,
		Params:  campaign.Params{Channels: []string{"@deals"}, MinRating: 4},
		Windows: []campaign.Window{{Day: campaign.EveryDay, Start: 0, End: campaign.Clock(23, 59, 0)}},
	}
	if err := store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	return store, c
}

func candidates() []*campaign.Item {
	return []*campaign.Item{
		{ID: "B1", Title: "Skillet", Price: 25, Rating: 4.7, ReviewCount: 1200},
		{ID: "B2", Title: "Pan", Price: 15, Rating: 3.1},
		{ID: "B3", Title: "Knife", Price: 49, Rating: 4.2, Score: 200},
	}
}

func TestObserveSingleInFlight(t *testing.T) {
	store, c := setup(t)
	d := &blockingDiscoverer{release: make(chan struct{}), items: candidates()}
	tr := New(store, d, Config{LowWater: 3, BatchSize: 10}, testLogger())
	defer tr.Stop()
	ctx := context.Background()

	if !tr.Observe(ctx, c) {
		t.Fatal("Observe() on empty queue should start a request")
	}
	// Repeated low-depth observations while the request is outstanding
	for i := 0; i < 5; i++ {
		if tr.Observe(ctx, c) {
			t.Fatal("Observe() started a duplicate request")
		}
	}
	if tr.Request(ctx, c) {
		t.Fatal("Request() started a duplicate request")
	}
	if !tr.InFlight(c.ID) {
		t.Error("InFlight() = false while request outstanding")
	}

	close(d.release)
	tr.Wait()

	if got := d.calls.Load(); got != 1 {
		t.Errorf("discovery calls = %d, want 1", got)
	}
	if tr.InFlight(c.ID) {
		t.Error("InFlight() = true after completion")
	}

	depth, _ := store.Depth(ctx, c.ID)
	if depth != 2 {
		t.Fatalf("Depth() = %d, want 2 (low rated item filtered)", depth)
	}

	// B1 computes to about 124.8, so only the kept explicit score puts B3 first
	best, _ := store.PeekBest(ctx, c.ID)
	if best == nil || best.ID != "B3" || best.Score != 200 {
		t.Errorf("PeekBest() = %+v, want B3 with its explicit score 200", best)
	}
	b1, _ := store.GetItem(ctx, c.ID, "B1")
	if b1 == nil || b1.Score != campaign.Score(b1) || b1.Score == 0 {
		t.Errorf("B1 score not computed: %+v", b1)
	}
}

func TestObserveAboveLowWater(t *testing.T) {
	store, c := setup(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		store.Enqueue(ctx, c.ID, &campaign.Item{ID: id, Title: id, Price: 1, Score: 1})
	}

	d := &blockingDiscoverer{items: candidates()}
	tr := New(store, d, Config{LowWater: 3}, testLogger())
	defer tr.Stop()

	if tr.Observe(ctx, c) {
		t.Error("Observe() started a request at low-water depth")
	}

	store.MarkPosted(ctx, c.ID, "A", time.Now())
	if !tr.Observe(ctx, c) {
		t.Error("Observe() did not start a request below low-water")
	}
	tr.Wait()
}

func TestObserveArchived(t *testing.T) {
	store, c := setup(t)
	d := &blockingDiscoverer{}
	tr := New(store, d, Config{}, testLogger())
	defer tr.Stop()

	c.Status = campaign.StatusArchived
	if tr.Observe(context.Background(), c) {
		t.Error("Observe() started a request for an archived campaign")
	}
}

func TestDiscoveryFailure(t *testing.T) {
	store, c := setup(t)
	d := &blockingDiscoverer{err: errors.New("upstream down")}
	tr := New(store, d, Config{}, testLogger())
	defer tr.Stop()
	ctx := context.Background()

	tr.Request(ctx, c)
	tr.Wait()

	if tr.InFlight(c.ID) {
		t.Error("failed request still marked in flight")
	}
	// A later observation may try again
	if !tr.Observe(ctx, c) {
		t.Error("Observe() after failure should start a new request")
	}
	tr.Wait()
	if got := d.calls.Load(); got != 2 {
		t.Errorf("discovery calls = %d, want 2", got)
	}
}

func TestSweep(t *testing.T) {
	store, c := setup(t)
	ctx := context.Background()

	paused := &campaign.Campaign{Name: "paused", Windows: c.Windows}
	if err := store.CreateCampaign(ctx, paused); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}

	d := &blockingDiscoverer{items: candidates()}
	tr := New(store, d, Config{}, testLogger())
	defer tr.Stop()

	if n := tr.Sweep(ctx); n != 1 {
		t.Errorf("Sweep() = %d, want 1 (running campaigns only)", n)
	}
	tr.Wait()
}

func TestStopCancelsRequests(t *testing.T) {
	store, c := setup(t)
	d := &blockingDiscoverer{release: make(chan struct{})}
	tr := New(store, d, Config{Interval: time.Hour}, testLogger())
	tr.Start(context.Background())

	tr.Request(context.Background(), c)

	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not cancel outstanding request")
	}

	if tr.Request(context.Background(), c) {
		t.Error("Request() after Stop() should be a no-op")
	}
}
