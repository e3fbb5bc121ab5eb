package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for dealpost
type Metrics struct {
	// Dispatch loop
	TicksTotal            prometheus.Counter
	TickDurationSeconds   prometheus.Histogram
	DispatchOutcomesTotal *prometheus.CounterVec

	// Publishing
	PostsPublishedTotal    *prometheus.CounterVec
	PublishFailuresTotal   *prometheus.CounterVec
	PublishDurationSeconds *prometheus.HistogramVec
	NotificationsTotal     *prometheus.CounterVec

	// Queue
	ItemsEnqueuedTotal     prometheus.Counter
	ItemsRejectedTotal     *prometheus.CounterVec
	ReplenishRequestsTotal *prometheus.CounterVec
	QueueItems             *prometheus.GaugeVec
	Campaigns              *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dealpost_ticks_total",
				Help: "Total number of dispatch ticks",
			},
		),
		TickDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dealpost_tick_duration_seconds",
				Help:    "Duration of a dispatch tick in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		DispatchOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_dispatch_outcomes_total",
				Help: "Per-campaign evaluation outcomes",
			},
			[]string{"outcome"},
		),

		PostsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_posts_published_total",
				Help: "Total number of posts published",
			},
			[]string{"channel"},
		),
		PublishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_publish_failures_total",
				Help: "Total number of failed publish attempts",
			},
			[]string{"channel", "error_type"},
		),
		PublishDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealpost_publish_duration_seconds",
				Help:    "Publish call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"channel"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_notifications_total",
				Help: "Total number of owner notifications",
			},
			[]string{"result"},
		),

		ItemsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dealpost_items_enqueued_total",
				Help: "Total number of items added to queues",
			},
		),
		ItemsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_items_rejected_total",
				Help: "Total number of rejected items",
			},
			[]string{"reason"},
		),
		ReplenishRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_replenish_requests_total",
				Help: "Replenishment requests by result",
			},
			[]string{"result"},
		),
		QueueItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dealpost_queue_items",
				Help: "Number of stored items by status",
			},
			[]string{"status"},
		),
		Campaigns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dealpost_campaigns",
				Help: "Number of campaigns by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealpost_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealpost_ratelimit_exceeded_total",
				Help: "Total number of publish attempts held back by caps",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealpost_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealpost_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealpost_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDurationSeconds,
		m.DispatchOutcomesTotal,
		m.PostsPublishedTotal,
		m.PublishFailuresTotal,
		m.PublishDurationSeconds,
		m.NotificationsTotal,
		m.ItemsEnqueuedTotal,
		m.ItemsRejectedTotal,
		m.ReplenishRequestsTotal,
		m.QueueItems,
		m.Campaigns,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// counterVecs returns the labelled counters restored by the collector
func (m *Metrics) counterVecs() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"dealpost_dispatch_outcomes_total":  m.DispatchOutcomesTotal,
		"dealpost_posts_published_total":    m.PostsPublishedTotal,
		"dealpost_publish_failures_total":   m.PublishFailuresTotal,
		"dealpost_notifications_total":      m.NotificationsTotal,
		"dealpost_items_rejected_total":     m.ItemsRejectedTotal,
		"dealpost_replenish_requests_total": m.ReplenishRequestsTotal,
		"dealpost_api_requests_total":       m.APIRequestsTotal,
		"dealpost_api_errors_total":         m.APIErrorsTotal,
		"dealpost_ratelimit_exceeded_total": m.RateLimitExceededTotal,
	}
}

// counters returns the unlabelled counters restored by the collector
func (m *Metrics) counters() map[string]prometheus.Counter {
	return map[string]prometheus.Counter{
		"dealpost_ticks_total":          m.TicksTotal,
		"dealpost_items_enqueued_total": m.ItemsEnqueuedTotal,
	}
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveTick records a finished dispatch tick
func ObserveTick(d time.Duration) {
	m := Global()
	if m != nil {
		m.TicksTotal.Inc()
		m.TickDurationSeconds.Observe(d.Seconds())
	}
}

// IncDispatchOutcome counts a campaign evaluation outcome
func IncDispatchOutcome(outcome string) {
	m := Global()
	if m != nil {
		m.DispatchOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}

// IncPostsPublished increments the published post counter
func IncPostsPublished(channel string) {
	m := Global()
	if m != nil {
		m.PostsPublishedTotal.WithLabelValues(channel).Inc()
	}
}

// IncPublishFailed increments the publish failure counter
func IncPublishFailed(channel, errorType string) {
	m := Global()
	if m != nil {
		m.PublishFailuresTotal.WithLabelValues(channel, errorType).Inc()
	}
}

// ObservePublish records the duration of a publish call
func ObservePublish(channel string, d time.Duration) {
	m := Global()
	if m != nil {
		m.PublishDurationSeconds.WithLabelValues(channel).Observe(d.Seconds())
	}
}

// IncNotifications counts owner notifications by result
func IncNotifications(result string) {
	m := Global()
	if m != nil {
		m.NotificationsTotal.WithLabelValues(result).Inc()
	}
}

// AddItemsEnqueued adds to the enqueued item counter
func AddItemsEnqueued(n int) {
	m := Global()
	if m != nil && n > 0 {
		m.ItemsEnqueuedTotal.Add(float64(n))
	}
}

// IncItemsRejected increments the rejected item counter
func IncItemsRejected(reason string) {
	m := Global()
	if m != nil {
		m.ItemsRejectedTotal.WithLabelValues(reason).Inc()
	}
}

// IncReplenishRequests counts replenishment requests by result
func IncReplenishRequests(result string) {
	m := Global()
	if m != nil {
		m.ReplenishRequestsTotal.WithLabelValues(result).Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
