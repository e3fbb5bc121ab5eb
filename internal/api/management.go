package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/dealpost/internal/config"
	"github.com/foxzi/dealpost/internal/ratelimit"
)

// ManagementServer handles rate limit inspection APIs
type ManagementServer struct {
	rateLimiter *ratelimit.Limiter
	config      *config.RateLimitConfig
}

// NewManagementServer creates a new management server
func NewManagementServer(rateLimiter *ratelimit.Limiter, cfg *config.RateLimitConfig) *ManagementServer {
	if cfg == nil {
		cfg = &config.RateLimitConfig{}
	}
	return &ManagementServer{
		rateLimiter: rateLimiter,
		config:      cfg,
	}
}

// RegisterRoutes registers management API routes
func (m *ManagementServer) RegisterRoutes(r chi.Router) {
	r.Route("/ratelimits", func(r chi.Router) {
		r.Get("/", m.handleRateLimitsGet)
		r.Get("/{level}/{key}", m.handleRateLimitStats)
	})
}

// RateLimitValues is a pair of caps; zero means unlimited
type RateLimitValues struct {
	PostsPerHour int `json:"posts_per_hour"`
	PostsPerDay  int `json:"posts_per_day"`
}

// RateLimitsResponse is the response for GET /api/v1/ratelimits
type RateLimitsResponse struct {
	Enabled         bool                       `json:"enabled"`
	Global          RateLimitValues            `json:"global"`
	DefaultChannel  RateLimitValues            `json:"default_channel"`
	DefaultCampaign RateLimitValues            `json:"default_campaign"`
	Channels        map[string]RateLimitValues `json:"channels"`
}

func values(v config.LimitValues) RateLimitValues {
	return RateLimitValues{PostsPerHour: v.PostsPerHour, PostsPerDay: v.PostsPerDay}
}

// handleRateLimitsGet handles GET /api/v1/ratelimits
func (m *ManagementServer) handleRateLimitsGet(w http.ResponseWriter, r *http.Request) {
	response := RateLimitsResponse{
		Enabled:         m.config.Enabled && m.rateLimiter != nil,
		Global:          values(m.config.Global),
		DefaultChannel:  values(m.config.DefaultChannel),
		DefaultCampaign: values(m.config.DefaultCampaign),
		Channels:        make(map[string]RateLimitValues, len(m.config.Channels)),
	}
	for name, v := range m.config.Channels {
		response.Channels[name] = values(v)
	}

	sendJSON(w, http.StatusOK, response)
}

// RateLimitStatsResponse is the response for GET /api/v1/ratelimits/{level}/{key}
type RateLimitStatsResponse struct {
	Level       string `json:"level"`
	Key         string `json:"key"`
	HourlyCount int    `json:"hourly_count"`
	DailyCount  int    `json:"daily_count"`
	HourlyLimit int    `json:"hourly_limit"`
	DailyLimit  int    `json:"daily_limit"`
}

// handleRateLimitStats handles GET /api/v1/ratelimits/{level}/{key}
func (m *ManagementServer) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	level := ratelimit.Level(chi.URLParam(r, "level"))
	key := chi.URLParam(r, "key")

	switch level {
	case ratelimit.LevelGlobal, ratelimit.LevelChannel, ratelimit.LevelCampaign:
	default:
		sendError(w, http.StatusBadRequest, "level must be global, channel or campaign")
		return
	}

	if m.rateLimiter == nil {
		sendError(w, http.StatusServiceUnavailable, "Rate limiting is not enabled")
		return
	}

	stats, err := m.rateLimiter.GetStats(r.Context(), level, key)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get rate limit stats")
		return
	}

	response := RateLimitStatsResponse{
		Level:       string(level),
		Key:         key,
		HourlyCount: stats.HourlyCount,
		DailyCount:  stats.DailyCount,
	}

	// Get configured limits
	var limit config.LimitValues
	switch level {
	case ratelimit.LevelGlobal:
		limit = m.config.Global
	case ratelimit.LevelChannel:
		if v, ok := m.config.Channels[key]; ok && !v.IsZero() {
			limit = v
		} else {
			limit = m.config.DefaultChannel
		}
	case ratelimit.LevelCampaign:
		limit = m.config.DefaultCampaign
	}
	response.HourlyLimit = limit.PostsPerHour
	response.DailyLimit = limit.PostsPerDay

	sendJSON(w, http.StatusOK, response)
}
