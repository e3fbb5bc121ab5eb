package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrNotQueued        = errors.New("item is not queued")
	ErrNameTaken        = errors.New("campaign name already exists")
	ErrArchived         = errors.New("campaign is archived")
)

// Store persists campaigns, their product queues and the post history.
// Every mutating operation runs in a single transaction.
type Store interface {
	// CreateCampaign stores a new campaign and assigns its ID
	CreateCampaign(ctx context.Context, c *campaign.Campaign) error

	// GetCampaign retrieves a campaign by ID
	// Returns nil, nil if the campaign does not exist
	GetCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)

	// GetCampaignByName retrieves a campaign by its unique name
	// Returns nil, nil if the campaign does not exist
	GetCampaignByName(ctx context.Context, name string) (*campaign.Campaign, error)

	// ListCampaigns returns campaigns ordered by ID
	ListCampaigns(ctx context.Context, filter campaign.ListFilter) ([]*campaign.Campaign, error)

	// UpdateCampaign updates name, params, cadence and owner of a campaign
	UpdateCampaign(ctx context.Context, c *campaign.Campaign) error

	// SetStatus moves a campaign through its lifecycle
	SetStatus(ctx context.Context, id int64, status campaign.Status) (*campaign.Campaign, error)

	// SetWindows replaces the timing windows of a campaign
	SetWindows(ctx context.Context, id int64, windows []campaign.Window) (*campaign.Campaign, error)

	// DeleteCampaign removes a campaign with its items and post records
	DeleteCampaign(ctx context.Context, id int64) error

	// Enqueue adds an item to a campaign queue. It is a no-op returning false
	// when an item with the same ID is already queued or posted.
	Enqueue(ctx context.Context, campaignID int64, item *campaign.Item) (bool, error)

	// PeekBest returns the highest ranked queued item without changing it
	// Returns nil, nil if the queue is empty
	PeekBest(ctx context.Context, campaignID int64) (*campaign.Item, error)

	// MarkPosted transitions a queued item to posted
	MarkPosted(ctx context.Context, campaignID int64, itemID string, at time.Time) error

	// MarkRejected transitions a queued item to rejected
	MarkRejected(ctx context.Context, campaignID int64, itemID, reason string, at time.Time) error

	// Depth returns the number of queued items of a campaign
	Depth(ctx context.Context, campaignID int64) (int, error)

	// TopN returns up to n queued items in dequeue order
	TopN(ctx context.Context, campaignID int64, n int) ([]*campaign.Item, error)

	// GetItem retrieves an item of a campaign
	// Returns nil, nil if the item does not exist
	GetItem(ctx context.Context, campaignID int64, itemID string) (*campaign.Item, error)

	// ListItems returns items of a campaign with optional filtering
	ListItems(ctx context.Context, campaignID int64, filter ItemFilter) ([]*campaign.Item, error)

	// CommitPost marks the item posted, sets the campaign last post time and
	// appends the post records atomically
	CommitPost(ctx context.Context, commit *Commit) error

	// ListPosts streams post records in append order
	ListPosts(ctx context.Context, filter PostFilter) ([]*campaign.PostRecord, error)

	// ExpireQueued rejects queued items discovered before now-maxAge
	ExpireQueued(ctx context.Context, maxAge time.Duration, now time.Time) (int, error)

	// PurgeRejected deletes rejected items older than maxAge
	PurgeRejected(ctx context.Context, maxAge time.Duration, now time.Time) (int, error)

	// Stats returns store statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the storage connection
	Close() error
}

// Commit describes the outcome of a successful publish
type Commit struct {
	CampaignID int64
	ItemID     string
	PostedAt   time.Time
	Records    []*campaign.PostRecord
}

// ItemFilter represents filter options for listing items
type ItemFilter struct {
	Status campaign.ItemStatus
	Limit  int
	Offset int
}

// PostFilter selects post records. After is an exclusive sequence cursor.
type PostFilter struct {
	CampaignID int64
	After      uint64
	Limit      int
}

// Stats represents store statistics
type Stats struct {
	Campaigns map[campaign.Status]int64 `json:"campaigns"`
	Queued    int64                     `json:"queued"`
	Posted    int64                     `json:"posted"`
	Rejected  int64                     `json:"rejected"`
	Posts     int64                     `json:"posts"`
}

// initialStatus picks the status of a new campaign
func initialStatus(c *campaign.Campaign) (campaign.Status, error) {
	switch c.Status {
	case "":
		if len(c.Windows) == 0 {
			return campaign.StatusDraft, nil
		}
		return campaign.StatusPaused, nil
	case campaign.StatusRunning:
		if len(c.Windows) == 0 {
			return "", campaign.ErrNoWindows
		}
		return campaign.StatusRunning, nil
	case campaign.StatusDraft, campaign.StatusPaused:
		return c.Status, nil
	default:
		return "", campaign.ErrInvalidTransition
	}
}

// checkTransition validates a status change of c
func checkTransition(c *campaign.Campaign, to campaign.Status) error {
	if !campaign.CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, c.Status, to)
	}
	if to == campaign.StatusRunning && len(c.Windows) == 0 {
		return campaign.ErrNoWindows
	}
	return nil
}

// statusAfterWindows returns the status of c once its windows are replaced
func statusAfterWindows(c *campaign.Campaign, windows []campaign.Window) campaign.Status {
	if c.Status == campaign.StatusDraft && len(windows) > 0 {
		return campaign.StatusPaused
	}
	return c.Status
}

// DefaultCurrency is stored for items enqueued without a currency
const DefaultCurrency = "USD"

// queuedCopy returns the stored form of item as a fresh queue entry of campaignID
func queuedCopy(item *campaign.Item, campaignID int64) campaign.Item {
	stored := *item
	stored.CampaignID = campaignID
	stored.Status = campaign.ItemQueued
	stored.PostedAt = nil
	stored.RejectedAt = nil
	stored.RejectReason = ""
	if stored.DiscoveredAt.IsZero() {
		stored.DiscoveredAt = time.Now().UTC()
	}
	if stored.Currency == "" {
		stored.Currency = DefaultCurrency
	}
	return stored
}
