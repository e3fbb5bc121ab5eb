package campaign

import (
	"math"
	"time"
)

// ItemStatus represents the status of a product item in a campaign queue
type ItemStatus string

const (
	ItemQueued   ItemStatus = "queued"
	ItemPosted   ItemStatus = "posted"
	ItemRejected ItemStatus = "rejected"
)

// Item is a discovered product. Discovery returns items with an empty status;
// the queue owns every status change afterwards.
type Item struct {
	ID          string   `json:"id"` // platform identifier, e.g. ASIN
	CampaignID  int64    `json:"campaign_id"`
	Title       string   `json:"title"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count,omitempty"`
	SalesRank   int      `json:"sales_rank,omitempty"`
	Images      []string `json:"images,omitempty"`
	Features    []string `json:"features,omitempty"`
	Score       float64  `json:"score"`
	Link        string   `json:"link,omitempty"`
	BrowseNode  string   `json:"browse_node,omitempty"`

	Status       ItemStatus `json:"status"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
}

// Ranks reports whether a is dequeued before b: higher score first,
// then older discovery time.
func Ranks(a, b *Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
		return a.DiscoveredAt.Before(b.DiscoveredAt)
	}
	return a.ID < b.ID
}

// Score computes a quality score from rating, review count and sales rank.
// Attributes that are unknown contribute nothing.
func Score(it *Item) float64 {
	var s float64
	if it.Rating > 0 {
		s += it.Rating * 20
	}
	if it.ReviewCount > 0 {
		s += 10 * math.Log10(float64(it.ReviewCount)+1)
	}
	if it.SalesRank > 0 {
		s += math.Max(0, 50-10*math.Log10(float64(it.SalesRank)))
	}
	return math.Round(s*100) / 100
}

// PostRecord is an append-only audit entry of one successful publish
type PostRecord struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Channel    string    `json:"channel"`
	ItemID     string    `json:"item_id"`
	Link       string    `json:"link"`
	PostedAt   time.Time `json:"posted_at"`
}
