package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelMode controls how posts to a channel are delivered
type ChannelMode string

const (
	ModeLive    ChannelMode = "live"
	ModeSandbox ChannelMode = "sandbox"
)

// Channel is a destination known to the catalog
type Channel struct {
	Name        string      `yaml:"name"`                   // e.g. @kitchen_deals
	ChatID      string      `yaml:"chat_id"`                // Bot API chat id; defaults to name
	Mode        ChannelMode `yaml:"mode"`                   // live (default) or sandbox
	TrackingTag string      `yaml:"tracking_tag,omitempty"` // affiliate tag used for this channel
	Language    string      `yaml:"language,omitempty"`
}

// Owner describes how to reach a campaign owner
type Owner struct {
	TelegramID string `yaml:"telegram_id,omitempty"`
	Email      string `yaml:"email,omitempty"`
}

// Data is the content of the catalog file
type Data struct {
	Whitelist  []string            `yaml:"whitelist"`   // user ids allowed to own campaigns
	Admins     []string            `yaml:"admins"`      // fallback notification recipients
	Channels   []Channel           `yaml:"channels"`
	UTM        map[string]string   `yaml:"utm"`         // utm_source, utm_medium, ...
	Categories map[string][]string `yaml:"categories"`  // category name -> browse node ids
	Templates  map[string]string   `yaml:"templates"`   // language -> post template
	Owners     map[string]Owner    `yaml:"owners"`      // user id -> contact
	DefaultTag string              `yaml:"default_tag"` // tracking tag when the channel has none
}

// Parse decodes and validates catalog YAML
func Parse(raw []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(d.Channels))
	for i := range d.Channels {
		ch := &d.Channels[i]
		ch.Name = strings.TrimSpace(ch.Name)
		if ch.Name == "" {
			return nil, fmt.Errorf("channel %d: name is required", i)
		}
		if _, ok := seen[ch.Name]; ok {
			return nil, fmt.Errorf("channel %s: duplicate name", ch.Name)
		}
		seen[ch.Name] = struct{}{}

		if ch.ChatID == "" {
			ch.ChatID = ch.Name
		}
		switch ch.Mode {
		case "":
			ch.Mode = ModeLive
		case ModeLive, ModeSandbox:
		default:
			return nil, fmt.Errorf("channel %s: invalid mode %q", ch.Name, ch.Mode)
		}
	}
	return &d, nil
}

// Load reads a catalog file
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(raw)
}

// Catalog is a read-only view of the configuration and whitelist store
// that can be reloaded in the background
type Catalog struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	data     *Data
	loadedAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New loads the catalog from path
func New(path string, interval time.Duration, logger *slog.Logger) (*Catalog, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Catalog{
		path:     path,
		interval: interval,
		logger:   logger,
		data:     d,
		loadedAt: time.Now(),
		stopCh:   make(chan struct{}),
	}, nil
}

// Static creates a catalog that never reloads
func Static(d *Data) *Catalog {
	if d == nil {
		d = &Data{}
	}
	return &Catalog{data: d, loadedAt: time.Now(), stopCh: make(chan struct{})}
}

// Start begins periodic reloading when the catalog is backed by a file
func (c *Catalog) Start(ctx context.Context) {
	if c.path == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.Reload(); err != nil {
					c.logger.Error("catalog reload failed, keeping previous data", "error", err)
				}
			}
		}
	}()
}

// Stop stops background reloading
func (c *Catalog) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// Reload re-reads the catalog file
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	d, err := Load(c.path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.data = d
	c.loadedAt = time.Now()
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("catalog reloaded", "channels", len(d.Channels), "whitelist", len(d.Whitelist))
	}
	return nil
}

func (c *Catalog) snapshot() *Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// LoadedAt returns the time of the last successful load
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// IsWhitelisted reports whether a user may own campaigns.
// An empty whitelist allows everyone.
func (c *Catalog) IsWhitelisted(userID string) bool {
	d := c.snapshot()
	if len(d.Whitelist) == 0 {
		return true
	}
	for _, id := range d.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// Channel returns a channel by name
func (c *Catalog) Channel(name string) (Channel, bool) {
	for _, ch := range c.snapshot().Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// Channels returns all channels
func (c *Catalog) Channels() []Channel {
	return append([]Channel(nil), c.snapshot().Channels...)
}

// TrackingTag returns the tracking tag of a channel, falling back to the default tag
func (c *Catalog) TrackingTag(channel string) string {
	if ch, ok := c.Channel(channel); ok && ch.TrackingTag != "" {
		return ch.TrackingTag
	}
	return c.snapshot().DefaultTag
}

// UTM returns a copy of the UTM marks
func (c *Catalog) UTM() map[string]string {
	out := make(map[string]string)
	for k, v := range c.snapshot().UTM {
		out[k] = v
	}
	return out
}

// Category returns the browse nodes of a category
func (c *Catalog) Category(name string) ([]string, bool) {
	nodes, ok := c.snapshot().Categories[name]
	return append([]string(nil), nodes...), ok
}

// Categories returns the sorted category names
func (c *Catalog) Categories() []string {
	d := c.snapshot()
	names := make([]string, 0, len(d.Categories))
	for name := range d.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template returns the post template for a language
func (c *Catalog) Template(lang string) (string, bool) {
	d := c.snapshot()
	if t, ok := d.Templates[lang]; ok && t != "" {
		return t, true
	}
	t, ok := d.Templates["default"]
	return t, ok && t != ""
}

// Owner returns the contact of a user
func (c *Catalog) Owner(userID string) (Owner, bool) {
	o, ok := c.snapshot().Owners[userID]
	return o, ok
}

// FallbackAdmin returns the first admin, or the first whitelisted user
func (c *Catalog) FallbackAdmin() (string, bool) {
	d := c.snapshot()
	if len(d.Admins) > 0 {
		return d.Admins[0], true
	}
	if len(d.Whitelist) > 0 {
		return d.Whitelist[0], true
	}
	return "", false
}

// ValidateChannels checks that every channel is known
func (c *Catalog) ValidateChannels(names []string) error {
	for _, name := range names {
		if _, ok := c.Channel(name); !ok {
			return fmt.Errorf("unknown channel %q", name)
		}
	}
	return nil
}
