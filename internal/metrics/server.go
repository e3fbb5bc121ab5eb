package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/dealpost/internal/ipfilter"
)

// HealthFunc reports an error when the service should be considered down
type HealthFunc func() error

// Server serves Prometheus metrics over HTTP
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	addr       string
	path       string
	logger     *slog.Logger
	filter     *ipfilter.Filter
	health     HealthFunc
}

// NewServer creates a new metrics HTTP server
func NewServer(m *Metrics, addr, path string, filter *ipfilter.Filter, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}
	if filter == nil {
		filter = ipfilter.New(nil, false, logger)
	}
	if filter.Enabled() {
		logger.Info("metrics IP filtering enabled", "allowed_networks", filter.Count())
	}

	return &Server{
		metrics: m,
		addr:    addr,
		path:    path,
		logger:  logger,
		filter:  filter,
	}
}

// SetHealthCheck sets the liveness probe behind /health
func (s *Server) SetHealthCheck(fn HealthFunc) {
	s.health = fn
}

// Handler returns the metrics HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.With(s.filter.HTTPMiddleware).Method(http.MethodGet, s.path, promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	// Not filtered: load balancers probe it
	r.Get("/health", s.handleHealth)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info("starting metrics server", "addr", s.addr, "path", s.path)
	return s.httpServer.ListenAndServe()
}

// Serve serves metrics on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.Handler()}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
