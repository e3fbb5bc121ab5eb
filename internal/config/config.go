package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding the config file
const EnvPrefix = "DEALPOST_"

// Storage backends
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the main configuration structure
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Queue     QueueConfig     `yaml:"queue" envPrefix:"QUEUE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Discovery DiscoveryConfig `yaml:"discovery" envPrefix:"DISCOVERY_"`
	Content   ContentConfig   `yaml:"content"`
	Telegram  TelegramConfig  `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Notify    NotifyConfig    `yaml:"notify" envPrefix:"NOTIFY_"`
	Catalog   CatalogConfig   `yaml:"catalog" envPrefix:"CATALOG_"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	RateLimit RateLimitConfig `yaml:"rate_limit"` // Publish caps
	Metrics   MetricsConfig   `yaml:"metrics"`    // Prometheus metrics configuration
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
}

// SchedulerConfig contains dispatch loop settings
type SchedulerConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`   // Default: 60s
	Workers        int           `yaml:"workers"`         // Concurrent campaign evaluations per tick
	PublishTimeout time.Duration `yaml:"publish_timeout"` // Bound of one publish call
	MinSpacing     time.Duration `yaml:"min_spacing"`     // Floor between posts of continuous campaigns
	NotifyInterval time.Duration `yaml:"notify_interval"` // Hold-off for repeat failure notices of one item
	Timezone       string        `yaml:"timezone" env:"TIMEZONE"`
}

// QueueConfig contains product queue settings
type QueueConfig struct {
	LowWater          int           `yaml:"low_water"`          // Replenish below this depth
	BatchSize         int           `yaml:"batch_size"`         // Candidates per discovery request
	ReplenishInterval time.Duration `yaml:"replenish_interval"` // Periodic depth sweep (0 = only after consumption)
	ReplenishTimeout  time.Duration `yaml:"replenish_timeout"`
	QueuedMaxAge      time.Duration `yaml:"queued_max_age"`   // Reject stale queued items (0 = keep)
	RejectedMaxAge    time.Duration `yaml:"rejected_max_age"` // Delete rejected items (0 = keep)
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Backend     string `yaml:"backend" env:"BACKEND"` // bolt or postgres
	Path        string `yaml:"path"`                  // bolt queue file
	StatePath   string `yaml:"state_path"`            // bolt file for rate limits, metrics and sandbox captures
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	MaxConns    int32  `yaml:"max_conns"`
}

// DiscoveryConfig selects the product discovery provider
type DiscoveryConfig struct {
	Provider          string        `yaml:"provider"` // api, feed, fallback
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	FeedPath          string        `yaml:"feed_path"`
}

// ContentConfig contains post rendering settings
type ContentConfig struct {
	ProductURL string `yaml:"product_url"` // Base link for items without one
}

// TelegramConfig contains Bot API settings
type TelegramConfig struct {
	APIURL  string        `yaml:"api_url"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig selects admin notification channels
type NotifyConfig struct {
	Telegram bool       `yaml:"telegram"` // DM the owner through the bot
	SMTP     SMTPConfig `yaml:"smtp" envPrefix:"SMTP_"`
}

// SMTPConfig contains outgoing mail settings for notifications
type SMTPConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	From     string        `yaml:"from"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password" env:"PASSWORD"`
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CatalogConfig contains the whitelist/channel catalog location
type CatalogConfig struct {
	Path            string        `yaml:"path" env:"PATH"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Default: 1h
}

// SandboxConfig contains settings of sandbox channels
type SandboxConfig struct {
	SimulateErrors   bool          `yaml:"simulate_errors"`
	ErrorProbability float64       `yaml:"error_probability"`
	MaxAge           time.Duration `yaml:"max_age"` // Delete captures older than this (0 = keep)
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key" env:"KEY"` // Plain key or bcrypt hash
	MaxHeaderBytes int           `yaml:"max_header_bytes"`  // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`      // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`     // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`      // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`       // IP addresses/CIDRs allowed to access API (empty = allow all)
	TrustProxy     bool          `yaml:"trust_proxy"`       // Use X-Forwarded-For / X-Real-IP
}

// RateLimitConfig contains publish caps
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Caps across all channels
	Global LimitValues `yaml:"global"`

	// Default caps per channel
	DefaultChannel LimitValues `yaml:"default_channel"`

	// Per-channel overrides
	Channels map[string]LimitValues `yaml:"channels,omitempty"`

	// Default caps per campaign
	DefaultCampaign LimitValues `yaml:"default_campaign"`
}

// LimitValues contains rate limit values. Zero means unlimited.
type LimitValues struct {
	PostsPerHour int `yaml:"posts_per_hour"`
	PostsPerDay  int `yaml:"posts_per_day"`
}

// IsZero reports whether no cap is set
func (v LimitValues) IsZero() bool {
	return v.PostsPerHour == 0 && v.PostsPerDay == 0
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"` // debug, info, warn, error
	Format string `yaml:"format"`            // json, text
}

// Load loads configuration from a YAML file and applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and defaults
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = 60 * time.Second
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.PublishTimeout == 0 {
		c.Scheduler.PublishTimeout = 30 * time.Second
	}
	if c.Scheduler.MinSpacing == 0 {
		c.Scheduler.MinSpacing = 5 * time.Second
	}
	if c.Scheduler.NotifyInterval == 0 {
		c.Scheduler.NotifyInterval = time.Hour
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}

	if c.Queue.LowWater == 0 {
		c.Queue.LowWater = 5
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 20
	}
	if c.Queue.ReplenishTimeout == 0 {
		c.Queue.ReplenishTimeout = 2 * time.Minute
	}
	if c.Queue.CleanupInterval == 0 {
		c.Queue.CleanupInterval = time.Hour
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendBolt
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/dealpost/queue.db"
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = "/var/lib/dealpost/state.db"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}

	if c.Discovery.Provider == "" {
		c.Discovery.Provider = "feed"
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = 30 * time.Second
	}
	if c.Discovery.RequestsPerSecond == 0 {
		c.Discovery.RequestsPerSecond = 1
	}
	if c.Discovery.Burst == 0 {
		c.Discovery.Burst = 1
	}

	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 30 * time.Second
	}

	if c.Notify.SMTP.Timeout == 0 {
		c.Notify.SMTP.Timeout = 30 * time.Second
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = "/etc/dealpost/catalog.yaml"
	}
	if c.Catalog.RefreshInterval == 0 {
		c.Catalog.RefreshInterval = time.Hour
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone: %w", err)
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler.tick_interval must be at least 1s")
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must not be negative")
	}

	if c.Queue.LowWater < 0 || c.Queue.BatchSize < 0 {
		return fmt.Errorf("queue.low_water and queue.batch_size must not be negative")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}

	if c.Notify.SMTP.Enabled {
		if c.Notify.SMTP.Addr == "" {
			return fmt.Errorf("notify.smtp.addr is required when SMTP notifications are enabled")
		}
		if c.Notify.SMTP.From == "" {
			return fmt.Errorf("notify.smtp.from is required when SMTP notifications are enabled")
		}
	}

	if c.Sandbox.ErrorProbability < 0 || c.Sandbox.ErrorProbability > 1 {
		return fmt.Errorf("sandbox.error_probability must be between 0 and 1")
	}

	for name, v := range c.RateLimit.Channels {
		if name == "" {
			return fmt.Errorf("empty channel name in rate_limit.channels")
		}
		if v.PostsPerHour < 0 || v.PostsPerDay < 0 {
			return fmt.Errorf("rate_limit.channels.%s must not be negative", name)
		}
	}

	return nil
}

// validateStorage validates the queue backend selection
func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendBolt:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s (must be bolt or postgres)", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendBolt && c.Storage.Path == c.Storage.StatePath {
		return fmt.Errorf("storage.path and storage.state_path must differ")
	}
	return nil
}

// validateDiscovery validates the discovery provider settings
func (c *Config) validateDiscovery() error {
	d := c.Discovery
	switch d.Provider {
	case "api":
		if d.Endpoint == "" {
			return fmt.Errorf("discovery.endpoint is required for the api provider")
		}
	case "feed":
		if d.FeedPath == "" {
			return fmt.Errorf("discovery.feed_path is required for the feed provider")
		}
	case "fallback":
		if d.Endpoint == "" || d.FeedPath == "" {
			return fmt.Errorf("discovery.endpoint and discovery.feed_path are required for the fallback provider")
		}
	default:
		return fmt.Errorf("invalid discovery.provider: %s (must be api, feed, or fallback)", d.Provider)
	}
	if d.RequestsPerSecond < 0 {
		return fmt.Errorf("discovery.requests_per_second must not be negative")
	}
	return nil
}

// Location returns the reference timezone of timing windows
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
