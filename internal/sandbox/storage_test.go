package sandbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openStorage(t *testing.T) *Storage {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := NewStorage(db)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func TestStorage(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()

	c := &Capture{
		ID:         "cap-1",
		Channel:    "@staging",
		ChatID:     "@staging",
		Text:       "*Skillet*",
		Link:       "https://shop.example/B001?tag=x",
		CapturedAt: time.Now(),
	}
	if err := storage.Save(ctx, c); err != nil {
		t.Fatalf("failed to save capture: %v", err)
	}

	got, err := storage.Get(ctx, "cap-1")
	if err != nil {
		t.Fatalf("failed to get capture: %v", err)
	}
	if got == nil {
		t.Fatal("expected capture, got nil")
	}
	if got.Channel != c.Channel || got.Text != c.Text || got.Link != c.Link {
		t.Errorf("Get() = %+v", got)
	}

	missing, err := storage.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Get(nope) = %v, %v", missing, err)
	}
}

func TestStorageList(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		channel := "@a"
		if i%2 == 1 {
			channel = "@b"
		}
		c := &Capture{
			ID:         "cap-" + string(rune('a'+i)),
			Channel:    channel,
			CapturedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := storage.Save(ctx, c); err != nil {
			t.Fatalf("failed to save capture: %v", err)
		}
	}

	all, err := storage.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("failed to list captures: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 captures, got %d", len(all))
	}
	if all[0].ID != "cap-e" {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}

	limited, _ := storage.List(ctx, ListFilter{Limit: 2, Offset: 1})
	if len(limited) != 2 || limited[0].ID != "cap-d" {
		t.Errorf("List(limit 2, offset 1) = %v", limited)
	}

	b, _ := storage.List(ctx, ListFilter{Channel: "@b"})
	if len(b) != 2 {
		t.Errorf("expected 2 captures for @b, got %d", len(b))
	}
}

func TestStorageDeleteClear(t *testing.T) {
	storage := openStorage(t)
	ctx := context.Background()
	now := time.Now()

	captures := []*Capture{
		{ID: "old-a", Channel: "@a", CapturedAt: now.Add(-48 * time.Hour)},
		{ID: "new-a", Channel: "@a", CapturedAt: now},
		{ID: "old-b", Channel: "@b", CapturedAt: now.Add(-48 * time.Hour), SimulatedErr: "502: Bad Gateway"},
	}
	for _, c := range captures {
		if err := storage.Save(ctx, c); err != nil {
			t.Fatalf("failed to save capture: %v", err)
		}
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.Total != 3 || stats.ByChannel["@a"] != 2 || stats.Failed != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	if err := storage.Delete(ctx, "new-a"); err != nil {
		t.Fatalf("failed to delete capture: %v", err)
	}
	if got, _ := storage.Get(ctx, "new-a"); got != nil {
		t.Error("expected capture to be deleted")
	}

	n, err := storage.Clear(ctx, "@a", 24*time.Hour)
	if err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}

	n, _ = storage.Clear(ctx, "", 0)
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
}
