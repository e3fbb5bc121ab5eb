package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSandbox = []byte("sandbox")

// Capture is a post intercepted for a sandbox channel
type Capture struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	ChatID       string    `json:"chat_id"`
	Text         string    `json:"text"`
	ImageURL     string    `json:"image_url,omitempty"`
	Link         string    `json:"link"`
	CapturedAt   time.Time `json:"captured_at"`
	SimulatedErr string    `json:"simulated_error,omitempty"`
}

// Storage keeps captured posts in the shared bbolt database
type Storage struct {
	db *bolt.DB
}

// NewStorage creates the sandbox bucket in db
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save stores a capture
func (s *Storage) Save(ctx context.Context, c *Capture) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal capture: %w", err)
		}
		return tx.Bucket(bucketSandbox).Put(makeIndexKey(c.CapturedAt, c.ID), data)
	})
}

// Get retrieves a capture by ID
func (s *Storage) Get(ctx context.Context, id string) (*Capture, error) {
	var found *Capture

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}
			if capture.ID == id {
				found = &capture
				return nil
			}
		}
		return nil
	})

	return found, err
}

// ListFilter contains filters for listing captures
type ListFilter struct {
	Channel string
	Limit   int
	Offset  int
}

// List returns captures newest first
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Capture, error) {
	var out []*Capture

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}
			if filter.Channel != "" && capture.Channel != filter.Channel {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}

			out = append(out, &capture)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Delete removes a capture by ID
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}
			if capture.ID == id {
				return c.Delete()
			}
		}
		return nil
	})
}

// Clear removes captures, optionally filtered by channel or age
func (s *Storage) Clear(ctx context.Context, channel string, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)
		c := bucket.Cursor()

		var keys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				continue
			}
			if channel != "" && capture.Channel != channel {
				continue
			}
			if olderThan > 0 && capture.CapturedAt.After(cutoff) {
				continue
			}
			keys = append(keys, k)
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// Stats summarizes the sandbox
type Stats struct {
	Total     int64            `json:"total"`
	ByChannel map[string]int64 `json:"by_channel"`
	Failed    int64            `json:"failed"`
	OldestAt  time.Time        `json:"oldest_at,omitempty"`
	NewestAt  time.Time        `json:"newest_at,omitempty"`
}

// Stats returns sandbox statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByChannel: make(map[string]int64)}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandbox).ForEach(func(k, v []byte) error {
			var capture Capture
			if err := json.Unmarshal(v, &capture); err != nil {
				return nil
			}
			stats.Total++
			stats.ByChannel[capture.Channel]++
			if capture.SimulatedErr != "" {
				stats.Failed++
			}
			if stats.OldestAt.IsZero() || capture.CapturedAt.Before(stats.OldestAt) {
				stats.OldestAt = capture.CapturedAt
			}
			if capture.CapturedAt.After(stats.NewestAt) {
				stats.NewestAt = capture.CapturedAt
			}
			return nil
		})
	})

	return stats, err
}

// fixed width so keys sort by time
const keyLayout = "2006-01-02T15:04:05.000000000Z"

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(keyLayout) + ":" + id)
}
