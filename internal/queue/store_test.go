package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func mondayWindow() []campaign.Window {
	return []campaign.Window{{Day: 0, Start: campaign.Clock(9, 0, 0), End: campaign.Clock(10, 0, 0)}}
}

func createRunning(t *testing.T, s Store, name string) *campaign.Campaign {
	t.Helper()
	c := &campaign.Campaign{
		Name:    name,
		Status:  campaign.StatusRunning,
		Params:  campaign.Params{Channels: []string{"@deals"}},
		Windows: mondayWindow(),
		OwnerID: "42",
	}
	if err := s.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	return c
}

func item(id string, score float64, discovered time.Time) *campaign.Item {
	return &campaign.Item{ID: id, Title: "Item " + id, Price: 19.99, Score: score, DiscoveredAt: discovered}
}

// runStoreTests exercises the Store contract against a backend
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"CampaignLifecycle", testCampaignLifecycle},
		{"CampaignNames", testCampaignNames},
		{"UpdateCampaign", testUpdateCampaign},
		{"EnqueueDedup", testEnqueueDedup},
		{"DequeueOrder", testDequeueOrder},
		{"MarkPosted", testMarkPosted},
		{"MarkRejected", testMarkRejected},
		{"CommitPost", testCommitPost},
		{"ConcurrentEnqueue", testConcurrentEnqueue},
		{"ConcurrentMarkPosted", testConcurrentMarkPosted},
		{"ArchiveDiscardsQueue", testArchiveDiscardsQueue},
		{"DeleteCampaign", testDeleteCampaign},
		{"Cleanup", testCleanup},
		{"Stats", testStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testCampaignLifecycle(t *testing.T, s Store) {
	ctx := context.Background()

	c := &campaign.Campaign{Name: "gadgets", Cadence: campaign.Every(2 * time.Hour)}
	if err := s.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	if c.ID == 0 {
		t.Fatal("CreateCampaign() did not assign ID")
	}
	if c.Status != campaign.StatusDraft {
		t.Errorf("Status = %v, want %v", c.Status, campaign.StatusDraft)
	}

	if _, err := s.SetStatus(ctx, c.ID, campaign.StatusRunning); !errors.Is(err, campaign.ErrNoWindows) {
		t.Errorf("SetStatus(running) error = %v, want ErrNoWindows", err)
	}

	updated, err := s.SetWindows(ctx, c.ID, mondayWindow())
	if err != nil {
		t.Fatalf("SetWindows() error = %v", err)
	}
	if updated.Status != campaign.StatusPaused {
		t.Errorf("Status after SetWindows = %v, want %v", updated.Status, campaign.StatusPaused)
	}
	if len(updated.Windows) != 1 {
		t.Errorf("len(Windows) = %d, want 1", len(updated.Windows))
	}

	bad := []campaign.Window{{Day: 0, Start: campaign.Clock(10, 0, 0), End: campaign.Clock(9, 0, 0)}}
	if _, err := s.SetWindows(ctx, c.ID, bad); !errors.Is(err, campaign.ErrInvalidWindow) {
		t.Errorf("SetWindows(bad) error = %v, want ErrInvalidWindow", err)
	}

	running, err := s.SetStatus(ctx, c.ID, campaign.StatusRunning)
	if err != nil {
		t.Fatalf("SetStatus(running) error = %v", err)
	}
	if running.Status != campaign.StatusRunning {
		t.Errorf("Status = %v, want running", running.Status)
	}

	if _, err := s.SetStatus(ctx, c.ID, campaign.StatusDraft); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("SetStatus(draft) error = %v, want ErrInvalidTransition", err)
	}

	if _, err := s.SetStatus(ctx, c.ID, campaign.StatusArchived); err != nil {
		t.Fatalf("SetStatus(archived) error = %v", err)
	}
	if _, err := s.SetStatus(ctx, c.ID, campaign.StatusRunning); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Errorf("SetStatus(running) on archived error = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.SetWindows(ctx, c.ID, mondayWindow()); !errors.Is(err, ErrArchived) {
		t.Errorf("SetWindows() on archived error = %v, want ErrArchived", err)
	}

	got, err := s.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if got.Cadence.Interval != 2*time.Hour {
		t.Errorf("Cadence = %v, want 2h", got.Cadence)
	}
	if got.LastPostTime != nil {
		t.Errorf("LastPostTime = %v, want nil", got.LastPostTime)
	}

	missing, err := s.GetCampaign(ctx, 9999)
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if missing != nil {
		t.Error("GetCampaign() expected nil for nonexistent campaign")
	}
	if _, err := s.SetStatus(ctx, 9999, campaign.StatusPaused); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("SetStatus() error = %v, want ErrCampaignNotFound", err)
	}
}

func testCampaignNames(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "kitchen")

	if err := s.CreateCampaign(ctx, &campaign.Campaign{Name: "kitchen"}); !errors.Is(err, ErrNameTaken) {
		t.Errorf("CreateCampaign(duplicate) error = %v, want ErrNameTaken", err)
	}

	got, err := s.GetCampaignByName(ctx, "kitchen")
	if err != nil {
		t.Fatalf("GetCampaignByName() error = %v", err)
	}
	if got == nil || got.ID != c.ID {
		t.Fatalf("GetCampaignByName() = %v, want id %d", got, c.ID)
	}

	createRunning(t, s, "garden")
	paused := &campaign.Campaign{Name: "toys"}
	if err := s.CreateCampaign(ctx, paused); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}

	all, err := s.ListCampaigns(ctx, campaign.ListFilter{})
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListCampaigns() returned %d, want 3", len(all))
	}

	running, err := s.ListCampaigns(ctx, campaign.ListFilter{Status: campaign.StatusRunning})
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(running) != 2 {
		t.Errorf("ListCampaigns(running) returned %d, want 2", len(running))
	}
	for _, c := range running {
		if len(c.Windows) == 0 {
			t.Errorf("campaign %s listed without windows", c.Name)
		}
	}

	limited, err := s.ListCampaigns(ctx, campaign.ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(limited) != 1 || limited[0].Name != "garden" {
		t.Errorf("ListCampaigns(limit=1, offset=1) = %v", limited)
	}

	if err := s.CreateCampaign(ctx, &campaign.Campaign{Name: "x", Status: campaign.StatusRunning}); !errors.Is(err, campaign.ErrNoWindows) {
		t.Errorf("CreateCampaign(running, no windows) error = %v, want ErrNoWindows", err)
	}
}

func testUpdateCampaign(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "books")
	createRunning(t, s, "music")

	c.Name = "music"
	if err := s.UpdateCampaign(ctx, c); !errors.Is(err, ErrNameTaken) {
		t.Errorf("UpdateCampaign(taken name) error = %v, want ErrNameTaken", err)
	}

	c.Name = "novels"
	c.Params.MinRating = 4.2
	c.Cadence = campaign.Every(30 * time.Minute)
	c.Status = campaign.StatusArchived // ignored
	if err := s.UpdateCampaign(ctx, c); err != nil {
		t.Fatalf("UpdateCampaign() error = %v", err)
	}
	if c.Status != campaign.StatusRunning {
		t.Errorf("Status = %v, want running", c.Status)
	}

	got, _ := s.GetCampaignByName(ctx, "novels")
	if got == nil {
		t.Fatal("GetCampaignByName(novels) returned nil")
	}
	if got.Params.MinRating != 4.2 || got.Cadence.Interval != 30*time.Minute {
		t.Errorf("updated campaign = %+v", got)
	}
	if old, _ := s.GetCampaignByName(ctx, "books"); old != nil {
		t.Error("old name still resolves")
	}
}

func testEnqueueDedup(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "dedup")

	added, err := s.Enqueue(ctx, c.ID, item("B00A", 5, t0))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if !added {
		t.Error("Enqueue() added = false for new item")
	}

	added, err = s.Enqueue(ctx, c.ID, item("B00A", 9, t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if added {
		t.Error("Enqueue() added = true for duplicate queued item")
	}

	depth, _ := s.Depth(ctx, c.ID)
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}
	got, _ := s.GetItem(ctx, c.ID, "B00A")
	if got.Score != 5 {
		t.Errorf("duplicate enqueue overwrote item: score = %v", got.Score)
	}
	if got.Currency != DefaultCurrency {
		t.Errorf("Currency = %q, want %q when unset", got.Currency, DefaultCurrency)
	}

	// Posted items are not re-enqueued
	if err := s.MarkPosted(ctx, c.ID, "B00A", t0.Add(time.Hour)); err != nil {
		t.Fatalf("MarkPosted() error = %v", err)
	}
	added, _ = s.Enqueue(ctx, c.ID, item("B00A", 5, t0))
	if added {
		t.Error("Enqueue() added = true for posted item")
	}

	// Rejected items may come back
	s.Enqueue(ctx, c.ID, item("B00B", 5, t0))
	if err := s.MarkRejected(ctx, c.ID, "B00B", "no price", t0); err != nil {
		t.Fatalf("MarkRejected() error = %v", err)
	}
	added, _ = s.Enqueue(ctx, c.ID, item("B00B", 6, t0.Add(time.Hour)))
	if !added {
		t.Error("Enqueue() added = false for previously rejected item")
	}
	got, _ = s.GetItem(ctx, c.ID, "B00B")
	if got.Status != campaign.ItemQueued || got.RejectedAt != nil {
		t.Errorf("re-enqueued item = %+v", got)
	}

	// Same ID is independent per campaign
	other := createRunning(t, s, "other")
	added, _ = s.Enqueue(ctx, other.ID, item("B00A", 5, t0))
	if !added {
		t.Error("Enqueue() added = false in another campaign")
	}

	if _, err := s.Enqueue(ctx, 9999, item("X", 1, t0)); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("Enqueue() error = %v, want ErrCampaignNotFound", err)
	}
	if _, err := s.Enqueue(ctx, c.ID, &campaign.Item{}); err == nil {
		t.Error("Enqueue() expected error for empty id")
	}
}

func testDequeueOrder(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "order")

	s.Enqueue(ctx, c.ID, item("LOW", 3, t0))
	s.Enqueue(ctx, c.ID, item("B", 7, t0.Add(2*time.Minute)))
	s.Enqueue(ctx, c.ID, item("A", 9, t0.Add(5*time.Minute)))
	s.Enqueue(ctx, c.ID, item("B-OLD", 7, t0.Add(time.Minute)))
	s.Enqueue(ctx, c.ID, item("NEG", -2, t0))

	top, err := s.TopN(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("TopN() error = %v", err)
	}
	want := []string{"A", "B-OLD", "B", "LOW", "NEG"}
	if len(top) != len(want) {
		t.Fatalf("TopN() returned %d items, want %d", len(top), len(want))
	}
	for i, id := range want {
		if top[i].ID != id {
			t.Errorf("TopN()[%d] = %s, want %s", i, top[i].ID, id)
		}
	}

	limited, _ := s.TopN(ctx, c.ID, 2)
	if len(limited) != 2 {
		t.Errorf("TopN(2) returned %d items", len(limited))
	}

	// PeekBest has no side effect
	for i := 0; i < 3; i++ {
		best, err := s.PeekBest(ctx, c.ID)
		if err != nil {
			t.Fatalf("PeekBest() error = %v", err)
		}
		if best == nil || best.ID != "A" {
			t.Fatalf("PeekBest() = %v, want A", best)
		}
	}
	if depth, _ := s.Depth(ctx, c.ID); depth != 5 {
		t.Errorf("Depth() = %d, want 5", depth)
	}

	s.MarkPosted(ctx, c.ID, "A", t0.Add(time.Hour))
	best, _ := s.PeekBest(ctx, c.ID)
	if best == nil || best.ID != "B-OLD" {
		t.Errorf("PeekBest() after post = %v, want B-OLD", best)
	}

	history := createRunning(t, s, "history")
	s.Enqueue(ctx, history.ID, item("NEW", 5, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	s.Enqueue(ctx, history.ID, item("OLD", 5, time.Date(1969, 7, 20, 20, 17, 0, 0, time.UTC)))
	oldest, err := s.PeekBest(ctx, history.ID)
	if err != nil {
		t.Fatalf("PeekBest() error = %v", err)
	}
	if oldest == nil || oldest.ID != "OLD" {
		t.Errorf("PeekBest() with a 1969 discovery = %v, want OLD", oldest)
	}

	empty := createRunning(t, s, "empty")
	none, err := s.PeekBest(ctx, empty.ID)
	if err != nil {
		t.Fatalf("PeekBest() error = %v", err)
	}
	if none != nil {
		t.Error("PeekBest() expected nil for empty queue")
	}
}

func testMarkPosted(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "posted")
	s.Enqueue(ctx, c.ID, item("A", 1, t0))

	at := t0.Add(30 * time.Minute)
	if err := s.MarkPosted(ctx, c.ID, "A", at); err != nil {
		t.Fatalf("MarkPosted() error = %v", err)
	}
	got, _ := s.GetItem(ctx, c.ID, "A")
	if got.Status != campaign.ItemPosted {
		t.Errorf("Status = %v, want posted", got.Status)
	}
	if got.PostedAt == nil || !got.PostedAt.Equal(at) {
		t.Errorf("PostedAt = %v, want %v", got.PostedAt, at)
	}

	if err := s.MarkPosted(ctx, c.ID, "A", at); !errors.Is(err, ErrNotQueued) {
		t.Errorf("MarkPosted() twice error = %v, want ErrNotQueued", err)
	}
	if err := s.MarkPosted(ctx, c.ID, "nope", at); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("MarkPosted(missing) error = %v, want ErrItemNotFound", err)
	}
	if depth, _ := s.Depth(ctx, c.ID); depth != 0 {
		t.Errorf("Depth() = %d, want 0", depth)
	}
}

func testMarkRejected(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "rejected")
	s.Enqueue(ctx, c.ID, item("A", 1, t0))

	if err := s.MarkRejected(ctx, c.ID, "A", "missing price", t0); err != nil {
		t.Fatalf("MarkRejected() error = %v", err)
	}
	got, _ := s.GetItem(ctx, c.ID, "A")
	if got.Status != campaign.ItemRejected || got.RejectReason != "missing price" {
		t.Errorf("item = %+v", got)
	}
	if err := s.MarkRejected(ctx, c.ID, "A", "again", t0); !errors.Is(err, ErrNotQueued) {
		t.Errorf("MarkRejected() twice error = %v, want ErrNotQueued", err)
	}
	if err := s.MarkPosted(ctx, c.ID, "A", t0); !errors.Is(err, ErrNotQueued) {
		t.Errorf("MarkPosted(rejected) error = %v, want ErrNotQueued", err)
	}

	rejected, err := s.ListItems(ctx, c.ID, ItemFilter{Status: campaign.ItemRejected})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(rejected) != 1 {
		t.Errorf("ListItems(rejected) returned %d, want 1", len(rejected))
	}
}

func testCommitPost(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "commit")
	s.Enqueue(ctx, c.ID, item("A", 9, t0))
	s.Enqueue(ctx, c.ID, item("B", 7, t0))

	at := t0.Add(5 * time.Minute)
	commit := &Commit{
		CampaignID: c.ID,
		ItemID:     "A",
		PostedAt:   at,
		Records: []*campaign.PostRecord{
			{ID: "r1", Channel: "@deals", Link: "https://example.com/A?tag=x"},
			{ID: "r2", Channel: "@more", Link: "https://example.com/A?tag=y"},
		},
	}
	if err := s.CommitPost(ctx, commit); err != nil {
		t.Fatalf("CommitPost() error = %v", err)
	}
	if commit.Records[0].Seq == 0 || commit.Records[1].Seq <= commit.Records[0].Seq {
		t.Errorf("record sequences = %d, %d", commit.Records[0].Seq, commit.Records[1].Seq)
	}

	got, _ := s.GetCampaign(ctx, c.ID)
	if got.LastPostTime == nil || !got.LastPostTime.Equal(at) {
		t.Errorf("LastPostTime = %v, want %v", got.LastPostTime, at)
	}
	it, _ := s.GetItem(ctx, c.ID, "A")
	if it.Status != campaign.ItemPosted {
		t.Errorf("item status = %v, want posted", it.Status)
	}

	// Committing the same item again fails and leaves no trace
	again := &Commit{CampaignID: c.ID, ItemID: "A", PostedAt: at.Add(time.Hour),
		Records: []*campaign.PostRecord{{ID: "r3", Channel: "@deals"}}}
	if err := s.CommitPost(ctx, again); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("CommitPost() twice error = %v, want ErrNotQueued", err)
	}
	got, _ = s.GetCampaign(ctx, c.ID)
	if !got.LastPostTime.Equal(at) {
		t.Errorf("LastPostTime changed by failed commit: %v", got.LastPostTime)
	}

	posts, err := s.ListPosts(ctx, PostFilter{})
	if err != nil {
		t.Fatalf("ListPosts() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("ListPosts() returned %d, want 2", len(posts))
	}
	if posts[0].ItemID != "A" || posts[0].CampaignID != c.ID || !posts[0].PostedAt.Equal(at) {
		t.Errorf("post record = %+v", posts[0])
	}

	s.CommitPost(ctx, &Commit{CampaignID: c.ID, ItemID: "B", PostedAt: at.Add(time.Minute),
		Records: []*campaign.PostRecord{{ID: "r4", Channel: "@deals"}}})

	tail, err := s.ListPosts(ctx, PostFilter{After: posts[1].Seq})
	if err != nil {
		t.Fatalf("ListPosts() error = %v", err)
	}
	if len(tail) != 1 || tail[0].ItemID != "B" {
		t.Errorf("ListPosts(after) = %v", tail)
	}

	limited, _ := s.ListPosts(ctx, PostFilter{CampaignID: c.ID, Limit: 2})
	if len(limited) != 2 {
		t.Errorf("ListPosts(limit=2) returned %d", len(limited))
	}
	for i := 1; i < len(limited); i++ {
		if limited[i].PostedAt.Before(limited[i-1].PostedAt) {
			t.Error("post records not ordered by post time")
		}
	}

	for _, f := range []PostFilter{{After: math.MaxUint64}, {CampaignID: c.ID, After: math.MaxUint64}} {
		none, err := s.ListPosts(ctx, f)
		if err != nil {
			t.Fatalf("ListPosts(%+v) error = %v", f, err)
		}
		if len(none) != 0 {
			t.Errorf("ListPosts(%+v) returned %d records, want 0", f, len(none))
		}
	}

	if err := s.CommitPost(ctx, &Commit{CampaignID: 9999, ItemID: "A", PostedAt: at}); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("CommitPost() error = %v, want ErrCampaignNotFound", err)
	}
}

func testConcurrentEnqueue(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "concurrent-enqueue")

	var wg sync.WaitGroup
	var added atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Enqueue(ctx, c.ID, item("SAME", float64(i), t0))
			if err != nil {
				t.Errorf("Enqueue() error = %v", err)
				return
			}
			if ok {
				added.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if added.Load() != 1 {
		t.Errorf("added %d times, want 1", added.Load())
	}
	if depth, _ := s.Depth(ctx, c.ID); depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}
}

func testConcurrentMarkPosted(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "concurrent-post")
	s.Enqueue(ctx, c.ID, item("A", 1, t0))

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CommitPost(ctx, &Commit{
				CampaignID: c.ID,
				ItemID:     "A",
				PostedAt:   t0.Add(time.Duration(i) * time.Second),
				Records:    []*campaign.PostRecord{{ID: fmt.Sprintf("r%d", i), Channel: "@deals"}},
			})
			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, ErrNotQueued) {
				t.Errorf("CommitPost() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok.Load() != 1 {
		t.Errorf("committed %d times, want 1", ok.Load())
	}
	posts, _ := s.ListPosts(ctx, PostFilter{CampaignID: c.ID})
	if len(posts) != 1 {
		t.Errorf("ListPosts() returned %d records, want 1", len(posts))
	}
}

func testArchiveDiscardsQueue(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "archive")
	s.Enqueue(ctx, c.ID, item("A", 3, t0))
	s.Enqueue(ctx, c.ID, item("B", 2, t0))
	s.Enqueue(ctx, c.ID, item("C", 1, t0))
	s.CommitPost(ctx, &Commit{CampaignID: c.ID, ItemID: "A", PostedAt: t0,
		Records: []*campaign.PostRecord{{ID: "r1", Channel: "@deals"}}})
	s.MarkRejected(ctx, c.ID, "C", "bad", t0)

	// Pausing retains the queue
	if _, err := s.SetStatus(ctx, c.ID, campaign.StatusPaused); err != nil {
		t.Fatalf("SetStatus(paused) error = %v", err)
	}
	if depth, _ := s.Depth(ctx, c.ID); depth != 1 {
		t.Errorf("Depth() after pause = %d, want 1", depth)
	}

	if _, err := s.SetStatus(ctx, c.ID, campaign.StatusArchived); err != nil {
		t.Fatalf("SetStatus(archived) error = %v", err)
	}
	if depth, _ := s.Depth(ctx, c.ID); depth != 0 {
		t.Errorf("Depth() after archive = %d, want 0", depth)
	}
	items, _ := s.ListItems(ctx, c.ID, ItemFilter{})
	if len(items) != 1 || items[0].ID != "A" {
		t.Errorf("items after archive = %v, want only posted A", items)
	}
	posts, _ := s.ListPosts(ctx, PostFilter{CampaignID: c.ID})
	if len(posts) != 1 {
		t.Errorf("post records after archive = %d, want 1", len(posts))
	}
	if _, err := s.Enqueue(ctx, c.ID, item("D", 1, t0)); !errors.Is(err, ErrArchived) {
		t.Errorf("Enqueue() on archived error = %v, want ErrArchived", err)
	}

	// An in-flight publish finishing after archive still lands in history
	err := s.CommitPost(ctx, &Commit{CampaignID: c.ID, ItemID: "B", PostedAt: t0.Add(time.Minute),
		Records: []*campaign.PostRecord{{ID: "r2", Channel: "@deals"}}})
	if err != nil {
		t.Fatalf("CommitPost() after archive error = %v", err)
	}
	posts, _ = s.ListPosts(ctx, PostFilter{CampaignID: c.ID})
	if len(posts) != 2 {
		t.Errorf("post records = %d, want 2", len(posts))
	}
}

func testDeleteCampaign(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "teardown")
	keep := createRunning(t, s, "keep")
	s.Enqueue(ctx, c.ID, item("A", 1, t0))
	s.Enqueue(ctx, c.ID, item("B", 1, t0))
	s.Enqueue(ctx, keep.ID, item("A", 1, t0))
	s.CommitPost(ctx, &Commit{CampaignID: c.ID, ItemID: "A", PostedAt: t0,
		Records: []*campaign.PostRecord{{ID: "r1", Channel: "@deals"}}})
	s.CommitPost(ctx, &Commit{CampaignID: keep.ID, ItemID: "A", PostedAt: t0,
		Records: []*campaign.PostRecord{{ID: "r2", Channel: "@deals"}}})

	if err := s.DeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCampaign() error = %v", err)
	}
	if got, _ := s.GetCampaign(ctx, c.ID); got != nil {
		t.Error("campaign still exists")
	}
	if got, _ := s.GetCampaignByName(ctx, "teardown"); got != nil {
		t.Error("campaign name still resolves")
	}
	if got, _ := s.GetItem(ctx, c.ID, "B"); got != nil {
		t.Error("item still exists")
	}

	posts, _ := s.ListPosts(ctx, PostFilter{})
	if len(posts) != 1 || posts[0].CampaignID != keep.ID {
		t.Errorf("posts after teardown = %v", posts)
	}
	if err := s.DeleteCampaign(ctx, c.ID); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("DeleteCampaign() twice error = %v, want ErrCampaignNotFound", err)
	}
}

func testCleanup(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "cleanup")
	now := t0.Add(40 * 24 * time.Hour)

	s.Enqueue(ctx, c.ID, item("OLD", 1, t0))
	s.Enqueue(ctx, c.ID, item("FRESH", 1, now.Add(-time.Hour)))

	expired, err := s.ExpireQueued(ctx, 30*24*time.Hour, now)
	if err != nil {
		t.Fatalf("ExpireQueued() error = %v", err)
	}
	if expired != 1 {
		t.Errorf("ExpireQueued() = %d, want 1", expired)
	}
	old, _ := s.GetItem(ctx, c.ID, "OLD")
	if old.Status != campaign.ItemRejected || old.RejectReason != "expired" {
		t.Errorf("expired item = %+v", old)
	}
	if depth, _ := s.Depth(ctx, c.ID); depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}

	purged, err := s.PurgeRejected(ctx, time.Hour, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PurgeRejected() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeRejected() = %d, want 1", purged)
	}
	if got, _ := s.GetItem(ctx, c.ID, "OLD"); got != nil {
		t.Error("purged item still exists")
	}

	if n, _ := s.ExpireQueued(ctx, 0, now); n != 0 {
		t.Errorf("ExpireQueued(0) = %d, want 0", n)
	}
}

func testStats(t *testing.T, s Store) {
	ctx := context.Background()
	c := createRunning(t, s, "stats")
	s.CreateCampaign(ctx, &campaign.Campaign{Name: "draft"})
	s.Enqueue(ctx, c.ID, item("A", 1, t0))
	s.Enqueue(ctx, c.ID, item("B", 1, t0))
	s.Enqueue(ctx, c.ID, item("C", 1, t0))
	s.CommitPost(ctx, &Commit{CampaignID: c.ID, ItemID: "A", PostedAt: t0,
		Records: []*campaign.PostRecord{{ID: "r1", Channel: "@deals"}}})
	s.MarkRejected(ctx, c.ID, "B", "bad", t0)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Campaigns[campaign.StatusRunning] != 1 || stats.Campaigns[campaign.StatusDraft] != 1 {
		t.Errorf("Stats().Campaigns = %v", stats.Campaigns)
	}
	if stats.Queued != 1 || stats.Posted != 1 || stats.Rejected != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.Posts != 1 {
		t.Errorf("Stats().Posts = %d, want 1", stats.Posts)
	}
}
