package queue

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/dealpost/internal/campaign"
)

var (
	bucketCampaigns     = []byte("campaigns")
	bucketCampaignNames = []byte("campaign_names")
	bucketItems         = []byte("items")
	bucketQueued        = []byte("queued")
	bucketPosts         = []byte("posts")
	bucketCampaignPosts = []byte("campaign_posts")
)

// BoltStorage implements Store using BoltDB
type BoltStorage struct {
	db *bolt.DB
}

var _ Store = (*BoltStorage)(nil)

// NewBoltStorage creates a new BoltDB storage
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketCampaignNames, bucketItems, bucketQueued, bucketPosts, bucketCampaignPosts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Campaign methods

// CreateCampaign stores a new campaign and assigns its ID
func (s *BoltStorage) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.Validate(); err != nil {
		return err
	}
	status, err := initialStatus(c)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketCampaignNames)
		if names.Get([]byte(c.Name)) != nil {
			return ErrNameTaken
		}

		campaigns := tx.Bucket(bucketCampaigns)
		seq, err := campaigns.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate campaign id: %w", err)
		}

		now := time.Now().UTC()
		c.ID = int64(seq)
		c.Status = status
		c.CreatedAt = now
		c.UpdatedAt = now

		if err := putCampaign(tx, c); err != nil {
			return err
		}
		return names.Put([]byte(c.Name), itob(uint64(c.ID)))
	})
}

// GetCampaign retrieves a campaign by ID
func (s *BoltStorage) GetCampaign(ctx context.Context, id int64) (*campaign.Campaign, error) {
	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		return err
	})
	return c, err
}

// GetCampaignByName retrieves a campaign by its unique name
func (s *BoltStorage) GetCampaignByName(ctx context.Context, name string) (*campaign.Campaign, error) {
	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketCampaignNames).Get([]byte(strings.TrimSpace(name)))
		if id == nil {
			return nil
		}
		var err error
		c, err = getCampaign(tx, int64(btoi(id)))
		return err
	})
	return c, err
}

// ListCampaigns returns campaigns ordered by ID
func (s *BoltStorage) ListCampaigns(ctx context.Context, filter campaign.ListFilter) ([]*campaign.Campaign, error) {
	var out []*campaign.Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCampaigns).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var camp campaign.Campaign
			if err := json.Unmarshal(v, &camp); err != nil {
				continue
			}

			if filter.Status != "" && camp.Status != filter.Status {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			out = append(out, &camp)
			count++

			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// UpdateCampaign updates name, params, cadence and owner of a campaign
func (s *BoltStorage) UpdateCampaign(ctx context.Context, c *campaign.Campaign) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return campaign.ErrInvalidName
	}
	if c.Cadence.Interval < 0 {
		return fmt.Errorf("negative cadence interval")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		stored, err := getCampaign(tx, c.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return ErrCampaignNotFound
		}
		if stored.Status == campaign.StatusArchived {
			return ErrArchived
		}

		if stored.Name != c.Name {
			names := tx.Bucket(bucketCampaignNames)
			if names.Get([]byte(c.Name)) != nil {
				return ErrNameTaken
			}
			if err := names.Delete([]byte(stored.Name)); err != nil {
				return err
			}
			if err := names.Put([]byte(c.Name), itob(uint64(c.ID))); err != nil {
				return err
			}
		}

		stored.Name = c.Name
		stored.Params = c.Params
		stored.Cadence = c.Cadence
		stored.OwnerID = c.OwnerID
		stored.UpdatedAt = time.Now().UTC()

		if err := putCampaign(tx, stored); err != nil {
			return err
		}
		*c = *stored
		return nil
	})
}

// SetStatus moves a campaign through its lifecycle. Archiving discards the
// queued and rejected items of the campaign.
func (s *BoltStorage) SetStatus(ctx context.Context, id int64, status campaign.Status) (*campaign.Campaign, error) {
	var out *campaign.Campaign

	err := s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCampaign(tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}
		if err := checkTransition(c, status); err != nil {
			return err
		}

		if status == campaign.StatusArchived {
			if err := discardQueue(tx, id); err != nil {
				return err
			}
		}

		c.Status = status
		c.UpdatedAt = time.Now().UTC()
		if err := putCampaign(tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})

	return out, err
}

// SetWindows replaces the timing windows of a campaign
func (s *BoltStorage) SetWindows(ctx context.Context, id int64, windows []campaign.Window) (*campaign.Campaign, error) {
	if err := campaign.ValidateWindows(windows); err != nil {
		return nil, err
	}

	var out *campaign.Campaign
	err := s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCampaign(tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}
		if c.Status == campaign.StatusArchived {
			return ErrArchived
		}

		c.Status = statusAfterWindows(c, windows)
		c.Windows = append([]campaign.Window(nil), windows...)
		c.UpdatedAt = time.Now().UTC()
		if err := putCampaign(tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})

	return out, err
}

// DeleteCampaign removes a campaign with its items and post records
func (s *BoltStorage) DeleteCampaign(ctx context.Context, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCampaign(tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}

		prefix := itob(uint64(id))
		for _, name := range [][]byte{bucketItems, bucketQueued} {
			if err := deletePrefix(tx.Bucket(name), prefix); err != nil {
				return err
			}
		}

		// Post records of the campaign
		posts := tx.Bucket(bucketPosts)
		campaignPosts := tx.Bucket(bucketCampaignPosts)
		cur := campaignPosts.Cursor()
		var keys [][]byte
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := posts.Delete(k[8:]); err != nil {
				return err
			}
			if err := campaignPosts.Delete(k); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketCampaignNames).Delete([]byte(c.Name)); err != nil {
			return err
		}
		return tx.Bucket(bucketCampaigns).Delete(itob(uint64(id)))
	})
}

// Queue methods

// Enqueue adds an item to a campaign queue
func (s *BoltStorage) Enqueue(ctx context.Context, campaignID int64, item *campaign.Item) (bool, error) {
	if item == nil || strings.TrimSpace(item.ID) == "" {
		return false, fmt.Errorf("item id is required")
	}

	added := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCampaign(tx, campaignID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}
		if c.Status == campaign.StatusArchived {
			return ErrArchived
		}

		items := tx.Bucket(bucketItems)
		key := itemKey(campaignID, item.ID)
		if data := items.Get(key); data != nil {
			var existing campaign.Item
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal item: %w", err)
			}
			if existing.Status != campaign.ItemRejected {
				return nil
			}
		}

		stored := queuedCopy(item, campaignID)

		if err := putItem(tx, &stored); err != nil {
			return err
		}
		if err := tx.Bucket(bucketQueued).Put(queuedKey(&stored), []byte(stored.ID)); err != nil {
			return fmt.Errorf("failed to add to queued index: %w", err)
		}

		*item = stored
		added = true
		return nil
	})

	return added, err
}

// PeekBest returns the highest ranked queued item without changing it
func (s *BoltStorage) PeekBest(ctx context.Context, campaignID int64) (*campaign.Item, error) {
	items, err := s.TopN(ctx, campaignID, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// TopN returns up to n queued items in dequeue order
func (s *BoltStorage) TopN(ctx context.Context, campaignID int64, n int) ([]*campaign.Item, error) {
	var out []*campaign.Item

	err := s.db.View(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketItems)
		prefix := itob(uint64(campaignID))
		c := tx.Bucket(bucketQueued).Cursor()

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := items.Get(itemKey(campaignID, string(v)))
			if data == nil {
				continue
			}
			var it campaign.Item
			if err := json.Unmarshal(data, &it); err != nil {
				continue
			}
			out = append(out, &it)
			if n > 0 && len(out) >= n {
				break
			}
		}
		return nil
	})

	return out, err
}

// MarkPosted transitions a queued item to posted
func (s *BoltStorage) MarkPosted(ctx context.Context, campaignID int64, itemID string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return markPosted(tx, campaignID, itemID, at)
	})
}

// MarkRejected transitions a queued item to rejected
func (s *BoltStorage) MarkRejected(ctx context.Context, campaignID int64, itemID, reason string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		it, err := queuedItem(tx, campaignID, itemID)
		if err != nil {
			return err
		}
		return reject(tx, it, reason, at)
	})
}

// Depth returns the number of queued items of a campaign
func (s *BoltStorage) Depth(ctx context.Context, campaignID int64) (int, error) {
	depth := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(uint64(campaignID))
		c := tx.Bucket(bucketQueued).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			depth++
		}
		return nil
	})
	return depth, err
}

// GetItem retrieves an item of a campaign
func (s *BoltStorage) GetItem(ctx context.Context, campaignID int64, itemID string) (*campaign.Item, error) {
	var it *campaign.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItems).Get(itemKey(campaignID, itemID))
		if data == nil {
			return nil
		}
		it = &campaign.Item{}
		return json.Unmarshal(data, it)
	})
	return it, err
}

// ListItems returns items of a campaign ordered by item ID
func (s *BoltStorage) ListItems(ctx context.Context, campaignID int64, filter ItemFilter) ([]*campaign.Item, error) {
	var out []*campaign.Item

	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(uint64(campaignID))
		c := tx.Bucket(bucketItems).Cursor()

		count := 0
		skipped := 0

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var it campaign.Item
			if err := json.Unmarshal(v, &it); err != nil {
				continue
			}
			if filter.Status != "" && it.Status != filter.Status {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			out = append(out, &it)
			count++
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Post history

// CommitPost marks the item posted, sets the campaign last post time and
// appends the post records in one transaction. When the campaign was archived
// while the publish was in flight the item is already gone; the records and
// last post time are still written.
func (s *BoltStorage) CommitPost(ctx context.Context, commit *Commit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c, err := getCampaign(tx, commit.CampaignID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCampaignNotFound
		}

		err = markPosted(tx, commit.CampaignID, commit.ItemID, commit.PostedAt)
		if err != nil && !(errors.Is(err, ErrItemNotFound) && c.Status == campaign.StatusArchived) {
			return err
		}

		posted := commit.PostedAt.UTC()
		c.LastPostTime = &posted
		c.UpdatedAt = time.Now().UTC()
		if err := putCampaign(tx, c); err != nil {
			return err
		}

		posts := tx.Bucket(bucketPosts)
		campaignPosts := tx.Bucket(bucketCampaignPosts)
		for _, rec := range commit.Records {
			seq, err := posts.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate post sequence: %w", err)
			}
			rec.Seq = seq
			rec.CampaignID = commit.CampaignID
			rec.ItemID = commit.ItemID
			if rec.PostedAt.IsZero() {
				rec.PostedAt = posted
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal post record: %w", err)
			}
			if err := posts.Put(itob(seq), data); err != nil {
				return fmt.Errorf("failed to store post record: %w", err)
			}
			if err := campaignPosts.Put(append(itob(uint64(commit.CampaignID)), itob(seq)...), nil); err != nil {
				return fmt.Errorf("failed to index post record: %w", err)
			}
		}
		return nil
	})
}

// ListPosts returns post records with a sequence greater than filter.After
func (s *BoltStorage) ListPosts(ctx context.Context, filter PostFilter) ([]*campaign.PostRecord, error) {
	var out []*campaign.PostRecord
	if filter.After == math.MaxUint64 {
		return out, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		posts := tx.Bucket(bucketPosts)

		appendRecord := func(data []byte) bool {
			var rec campaign.PostRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				out = append(out, &rec)
			}
			return filter.Limit > 0 && len(out) >= filter.Limit
		}

		if filter.CampaignID > 0 {
			prefix := itob(uint64(filter.CampaignID))
			c := tx.Bucket(bucketCampaignPosts).Cursor()
			for k, _ := c.Seek(append(prefix, itob(filter.After+1)...)); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				data := posts.Get(k[8:])
				if data == nil {
					continue
				}
				if appendRecord(data) {
					break
				}
			}
			return nil
		}

		c := posts.Cursor()
		for k, v := c.Seek(itob(filter.After + 1)); k != nil; k, v = c.Next() {
			if appendRecord(v) {
				break
			}
		}
		return nil
	})

	return out, err
}

// Cleanup methods

// ExpireQueued rejects queued items discovered before now-maxAge
func (s *BoltStorage) ExpireQueued(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-maxAge)
	expired := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		var stale []*campaign.Item

		c := tx.Bucket(bucketItems).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it campaign.Item
			if err := json.Unmarshal(v, &it); err != nil {
				continue
			}
			if it.Status == campaign.ItemQueued && it.DiscoveredAt.Before(cutoff) {
				stale = append(stale, &it)
			}
		}

		for _, it := range stale {
			if err := reject(tx, it, "expired", now); err != nil {
				return err
			}
			expired++
		}
		return nil
	})

	return expired, err
}

// PurgeRejected deletes rejected items older than maxAge
func (s *BoltStorage) PurgeRejected(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketItems)
		c := items.Cursor()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it campaign.Item
			if err := json.Unmarshal(v, &it); err != nil {
				continue
			}
			if it.Status == campaign.ItemRejected && it.RejectedAt != nil && it.RejectedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}

		for _, k := range toDelete {
			if err := items.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Stats returns store statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Campaigns: make(map[campaign.Status]int64)}

	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c campaign.Campaign
			if err := json.Unmarshal(v, &c); err == nil {
				stats.Campaigns[c.Status]++
			}
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			var it campaign.Item
			if err := json.Unmarshal(v, &it); err != nil {
				return nil
			}
			switch it.Status {
			case campaign.ItemQueued:
				stats.Queued++
			case campaign.ItemPosted:
				stats.Posted++
			case campaign.ItemRejected:
				stats.Rejected++
			}
			return nil
		})
		if err != nil {
			return err
		}

		stats.Posts = int64(tx.Bucket(bucketPosts).Stats().KeyN)
		return nil
	})

	return stats, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// transaction helpers

func getCampaign(tx *bolt.Tx, id int64) (*campaign.Campaign, error) {
	data := tx.Bucket(bucketCampaigns).Get(itob(uint64(id)))
	if data == nil {
		return nil, nil
	}
	c := &campaign.Campaign{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	return c, nil
}

func putCampaign(tx *bolt.Tx, c *campaign.Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	if err := tx.Bucket(bucketCampaigns).Put(itob(uint64(c.ID)), data); err != nil {
		return fmt.Errorf("failed to store campaign: %w", err)
	}
	return nil
}

func putItem(tx *bolt.Tx, it *campaign.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := tx.Bucket(bucketItems).Put(itemKey(it.CampaignID, it.ID), data); err != nil {
		return fmt.Errorf("failed to store item: %w", err)
	}
	return nil
}

func queuedItem(tx *bolt.Tx, campaignID int64, itemID string) (*campaign.Item, error) {
	data := tx.Bucket(bucketItems).Get(itemKey(campaignID, itemID))
	if data == nil {
		return nil, ErrItemNotFound
	}
	var it campaign.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if it.Status != campaign.ItemQueued {
		return nil, ErrNotQueued
	}
	return &it, nil
}

func markPosted(tx *bolt.Tx, campaignID int64, itemID string, at time.Time) error {
	it, err := queuedItem(tx, campaignID, itemID)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketQueued).Delete(queuedKey(it)); err != nil {
		return fmt.Errorf("failed to remove from queued index: %w", err)
	}
	posted := at.UTC()
	it.Status = campaign.ItemPosted
	it.PostedAt = &posted
	return putItem(tx, it)
}

func reject(tx *bolt.Tx, it *campaign.Item, reason string, at time.Time) error {
	if err := tx.Bucket(bucketQueued).Delete(queuedKey(it)); err != nil {
		return fmt.Errorf("failed to remove from queued index: %w", err)
	}
	rejected := at.UTC()
	it.Status = campaign.ItemRejected
	it.RejectedAt = &rejected
	it.RejectReason = reason
	return putItem(tx, it)
}

// discardQueue drops queued and rejected items of a campaign, keeping posted ones
func discardQueue(tx *bolt.Tx, campaignID int64) error {
	if err := deletePrefix(tx.Bucket(bucketQueued), itob(uint64(campaignID))); err != nil {
		return err
	}

	items := tx.Bucket(bucketItems)
	prefix := itob(uint64(campaignID))
	c := items.Cursor()
	var toDelete [][]byte
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var it campaign.Item
		if err := json.Unmarshal(v, &it); err != nil || it.Status != campaign.ItemPosted {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
	}
	for _, k := range toDelete {
		if err := items.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte{}, k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// key encoding

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func itemKey(campaignID int64, itemID string) []byte {
	return append(itob(uint64(campaignID)), itemID...)
}

// queuedKey creates a sortable key: campaign | descending score | discovery time | item ID
func queuedKey(it *campaign.Item) []byte {
	key := make([]byte, 0, 24+len(it.ID))
	key = append(key, itob(uint64(it.CampaignID))...)
	key = append(key, itob(descendingScore(it.Score))...)
	key = append(key, itob(sortableTime(it.DiscoveredAt))...)
	return append(key, it.ID...)
}

// sortableTime maps t so that byte order matches time order, including before 1970
func sortableTime(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ 1<<63
}

// descendingScore maps a float so that byte order sorts higher scores first
func descendingScore(score float64) uint64 {
	bits := math.Float64bits(score)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return ^bits
}
