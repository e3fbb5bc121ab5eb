package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/dealpost/internal/campaign"
)

const feedSample = `
items:
  - id: B001
    title: Cast Iron Skillet
    price: 24.99
    rating: 4.7
    review_count: 1200
    browse_node: "284507"
    category: kitchen
  - id: B002
    title: Garden Hose
    price: 19.99
    browse_node: "2972638011"
    category: garden
  - id: B003
    title: Chef Knife
    price: 49.00
    browse_node: "289913"
    category: kitchen
  - title: no id
`

func writeFeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.yaml")
	if err := os.WriteFile(path, []byte(feedSample), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFeed(t *testing.T) {
	f := NewFeed(writeFeed(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		params campaign.Params
		limit  int
		want   []string
	}{
		{"all", campaign.Params{}, 0, []string{"B001", "B002", "B003"}},
		{"limit", campaign.Params{}, 2, []string{"B001", "B002"}},
		{"category", campaign.Params{Category: "Kitchen"}, 0, []string{"B001", "B003"}},
		{"browse node", campaign.Params{BrowseNodes: []string{"289913"}}, 0, []string{"B003"}},
		{"keyword", campaign.Params{Keywords: []string{"hose", "drill"}}, 0, []string{"B002"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := f.Discover(ctx, tt.params, tt.limit)
			if err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			if len(items) != len(tt.want) {
				t.Fatalf("Discover() returned %d items, want %d", len(items), len(tt.want))
			}
			for i, id := range tt.want {
				if items[i].ID != id {
					t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, id)
				}
			}
		})
	}

	if _, err := NewFeed(filepath.Join(t.TempDir(), "missing.yaml")).Discover(ctx, campaign.Params{}, 0); err == nil {
		t.Error("Discover() expected error for missing feed")
	}
}

func TestAPI(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items/search" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[
			{"asin":"B010","title":"Kettle","price":{"amount":29.5,"currency":"USD"},"rating":4.4,"review_count":80,"sales_rank":1500,"url":"https://shop.example/B010"},
			{"asin":"","title":"broken"},
			{"asin":"B011","title":"Toaster","price":{"amount":39}}
		]}`)
	}))
	defer srv.Close()

	a := NewAPI(Options{Endpoint: srv.URL + "/", APIKey: "secret", RequestsPerSecond: 100, Burst: 10})
	items, err := a.Discover(context.Background(), campaign.Params{
		Keywords:    []string{"kettle"},
		BrowseNodes: []string{"284507"},
		MinRating:   4,
	}, 10)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Discover() returned %d items, want 2", len(items))
	}
	if items[0].ID != "B010" || items[0].Price != 29.5 || items[0].Currency != "USD" || items[0].Link != "https://shop.example/B010" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q", gotKey)
	}
	for _, want := range []string{"keywords=kettle", "browse_node=284507", "min_rating=4", "limit=10"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"quota exceeded"}`)
	}))
	defer srv.Close()

	a := NewAPI(Options{Endpoint: srv.URL, RequestsPerSecond: 100})
	_, err := a.Discover(context.Background(), campaign.Params{}, 5)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Discover() error = %v", err)
	}
}

type stubDiscoverer struct {
	items []*campaign.Item
	err   error
	calls int
}

func (s *stubDiscoverer) Discover(ctx context.Context, params campaign.Params, limit int) ([]*campaign.Item, error) {
	s.calls++
	return s.items, s.err
}

func TestFallback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	found := []*campaign.Item{{ID: "B1"}}

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubDiscoverer{items: found}
		secondary := &stubDiscoverer{}
		items, err := NewFallback(logger, primary, secondary).Discover(ctx, campaign.Params{}, 5)
		if err != nil || len(items) != 1 {
			t.Fatalf("Discover() = %v, %v", items, err)
		}
		if secondary.calls != 0 {
			t.Error("secondary called although primary returned items")
		}
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := &stubDiscoverer{err: errors.New("down")}
		secondary := &stubDiscoverer{items: found}
		items, err := NewFallback(logger, primary, secondary).Discover(ctx, campaign.Params{}, 5)
		if err != nil || len(items) != 1 {
			t.Fatalf("Discover() = %v, %v", items, err)
		}
	})

	t.Run("primary empty", func(t *testing.T) {
		primary := &stubDiscoverer{}
		secondary := &stubDiscoverer{items: found}
		items, _ := NewFallback(logger, primary, secondary).Discover(ctx, campaign.Params{}, 5)
		if len(items) != 1 || secondary.calls != 1 {
			t.Errorf("Discover() = %v, secondary calls = %d", items, secondary.calls)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		primary := &stubDiscoverer{err: errors.New("down")}
		secondary := &stubDiscoverer{err: errors.New("missing")}
		if _, err := NewFallback(logger, primary, secondary).Discover(ctx, campaign.Params{}, 5); err == nil {
			t.Error("Discover() expected error")
		}
	})

	t.Run("one fails other empty", func(t *testing.T) {
		primary := &stubDiscoverer{err: errors.New("down")}
		secondary := &stubDiscoverer{}
		items, err := NewFallback(logger, primary, secondary).Discover(ctx, campaign.Params{}, 5)
		if err != nil || len(items) != 0 {
			t.Errorf("Discover() = %v, %v", items, err)
		}
	})
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := writeFeed(t)

	if d, err := New(Options{Provider: ProviderAPI, Endpoint: "http://localhost"}, logger); err != nil {
		t.Errorf("New(api) error = %v", err)
	} else if _, ok := d.(*API); !ok {
		t.Errorf("New(api) = %T", d)
	}
	if d, err := New(Options{Provider: ProviderFeed, FeedPath: feed}, logger); err != nil {
		t.Errorf("New(feed) error = %v", err)
	} else if _, ok := d.(*Feed); !ok {
		t.Errorf("New(feed) = %T", d)
	}
	if _, err := New(Options{Provider: ProviderFallback, FeedPath: feed}, logger); err != nil {
		t.Errorf("New(fallback) error = %v", err)
	}
	if _, err := New(Options{Provider: ProviderFeed}, logger); err == nil {
		t.Error("New(feed) without path expected error")
	}
	if _, err := New(Options{Provider: "scraper"}, logger); err == nil {
		t.Error("New(scraper) expected error")
	}
}
