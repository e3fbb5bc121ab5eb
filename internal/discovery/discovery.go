package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
)

// Discoverer finds candidate items for campaign filter parameters
type Discoverer interface {
	Discover(ctx context.Context, params campaign.Params, limit int) ([]*campaign.Item, error)
}

// Provider names
const (
	ProviderAPI      = "api"
	ProviderFeed     = "feed"
	ProviderFallback = "fallback"
)

// Options configures the discovery provider
type Options struct {
	Provider          string
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	FeedPath          string
}

// New creates the discoverer selected by opts.Provider
func New(opts Options, logger *slog.Logger) (Discoverer, error) {
	switch opts.Provider {
	case ProviderAPI:
		return NewAPI(opts), nil
	case ProviderFeed, "":
		if opts.FeedPath == "" {
			return nil, errors.New("discovery feed path is required")
		}
		return NewFeed(opts.FeedPath), nil
	case ProviderFallback:
		if opts.FeedPath == "" {
			return nil, errors.New("discovery feed path is required for fallback")
		}
		return NewFallback(logger, NewAPI(opts), NewFeed(opts.FeedPath)), nil
	default:
		return nil, fmt.Errorf("unknown discovery provider %q", opts.Provider)
	}
}

// Fallback tries providers in order until one returns items
type Fallback struct {
	providers []Discoverer
	logger    *slog.Logger
}

// NewFallback creates a fallback chain
func NewFallback(logger *slog.Logger, providers ...Discoverer) *Fallback {
	return &Fallback{providers: providers, logger: logger}
}

// Discover returns the first non-empty result. The last error is
// returned only when every provider failed.
func (f *Fallback) Discover(ctx context.Context, params campaign.Params, limit int) ([]*campaign.Item, error) {
	var lastErr error
	failed := 0
	for i, p := range f.providers {
		items, err := p.Discover(ctx, params, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("discovery provider failed, trying next",
				"provider", i,
				"error", err,
			)
			lastErr = err
			failed++
			continue
		}
		if len(items) > 0 {
			return items, nil
		}
	}
	if failed == len(f.providers) && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
