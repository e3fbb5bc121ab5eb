package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoWindows         = errors.New("campaign has no timing windows")
	ErrInvalidWindow     = errors.New("invalid timing window")
	ErrInvalidName       = errors.New("invalid campaign name")
)

// Status represents the lifecycle status of a campaign
type Status string

const (
	StatusDraft    Status = "draft"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusArchived:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusDraft:   {StatusRunning, StatusPaused, StatusArchived},
	StatusRunning: {StatusPaused, StatusArchived},
	StatusPaused:  {StatusRunning, StatusArchived},
}

// CanTransition reports whether a campaign may move from one status to another.
// Staying in the same non-terminal status is allowed so that pause and resume
// are idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return from != StatusArchived && from.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Params holds the filter and destination settings of a campaign
type Params struct {
	Channels    []string `json:"channels"`
	Category    string   `json:"category,omitempty"`
	BrowseNodes []string `json:"browse_nodes,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	// Quality thresholds; zero disables a threshold
	MaxSalesRank int     `json:"max_sales_rank,omitempty"`
	MinReviews   int     `json:"min_reviews,omitempty"`
	MinRating    float64 `json:"min_rating,omitempty"`
	MinPrice     float64 `json:"min_price,omitempty"`

	Language   string `json:"language,omitempty"`
	TrackingID string `json:"tracking_id,omitempty"`
}

// Accepts reports whether an item passes the quality thresholds.
// Unknown sales rank (zero) is not held against the item.
func (p Params) Accepts(it *Item) bool {
	if it == nil {
		return false
	}
	if p.MaxSalesRank > 0 && it.SalesRank > p.MaxSalesRank {
		return false
	}
	if p.MinReviews > 0 && it.ReviewCount < p.MinReviews {
		return false
	}
	if p.MinRating > 0 && it.Rating < p.MinRating {
		return false
	}
	if p.MinPrice > 0 && it.Price < p.MinPrice {
		return false
	}
	return true
}

// Cadence is the minimum spacing between two posts of a campaign.
// A zero interval means continuous posting.
type Cadence struct {
	Interval time.Duration
}

// Continuous returns a cadence bounded only by the system minimum spacing
func Continuous() Cadence { return Cadence{} }

// Every returns a fixed interval cadence
func Every(d time.Duration) Cadence { return Cadence{Interval: d} }

// PostsPerHour converts a posts-per-hour frequency into a cadence
func PostsPerHour(n float64) Cadence {
	if n <= 0 {
		return Continuous()
	}
	return Cadence{Interval: time.Duration(float64(time.Hour) / n)}
}

// IsContinuous reports whether the cadence has no fixed interval
func (c Cadence) IsContinuous() bool { return c.Interval <= 0 }

func (c Cadence) String() string {
	if c.IsContinuous() {
		return "continuous"
	}
	return c.Interval.String()
}

func (c Cadence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cadence) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "continuous" {
		c.Interval = 0
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid cadence %q: %w", s, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid cadence %q: negative interval", s)
	}
	c.Interval = d
	return nil
}

// Campaign is a recurring posting job
type Campaign struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	Params       Params     `json:"params"`
	Cadence      Cadence    `json:"cadence"`
	Windows      []Window   `json:"windows"`
	LastPostTime *time.Time `json:"last_post_time,omitempty"`
	OwnerID      string     `json:"owner_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Active reports whether the campaign takes part in dispatch
func (c *Campaign) Active() bool {
	return c.Status == StatusRunning
}

// Clone returns a deep copy of the campaign
func (c *Campaign) Clone() *Campaign {
	out := *c
	out.Params.Channels = append([]string(nil), c.Params.Channels...)
	out.Params.BrowseNodes = append([]string(nil), c.Params.BrowseNodes...)
	out.Params.Keywords = append([]string(nil), c.Params.Keywords...)
	out.Windows = append([]Window(nil), c.Windows...)
	if c.LastPostTime != nil {
		t := *c.LastPostTime
		out.LastPostTime = &t
	}
	return &out
}

// Validate checks the fields a campaign needs before it is stored
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidName
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("unknown status %q", c.Status)
	}
	if c.Cadence.Interval < 0 {
		return fmt.Errorf("negative cadence interval")
	}
	return ValidateWindows(c.Windows)
}

// ListFilter represents filter options for listing campaigns
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
