package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/catalog"
	"github.com/foxzi/dealpost/internal/config"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/ipfilter"
	"github.com/foxzi/dealpost/internal/metrics"
	"github.com/foxzi/dealpost/internal/queue"
	"github.com/foxzi/dealpost/internal/ratelimit"
	"github.com/foxzi/dealpost/internal/sandbox"
	"github.com/foxzi/dealpost/internal/scheduler"
)

// Replenisher starts discovery requests on demand or when a queue runs low
type Replenisher interface {
	Observe(ctx context.Context, c *campaign.Campaign) bool
	Request(ctx context.Context, c *campaign.Campaign) bool
	InFlight(campaignID int64) bool
}

// ServerOptions contains options for creating a server
type ServerOptions struct {
	Store          queue.Store
	Config         *config.APIConfig
	RateLimits     *config.RateLimitConfig
	Logger         *slog.Logger
	Catalog        *catalog.Catalog
	Dispatcher     *scheduler.Dispatcher
	Replenisher    Replenisher
	Preparer       *content.Preparer
	RateLimiter    *ratelimit.Limiter
	SandboxStorage *sandbox.Storage
	Version        string
}

// Server is the HTTP management API server
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	store       queue.Store
	config      *config.APIConfig
	logger      *slog.Logger
	catalog     *catalog.Catalog
	dispatcher  *scheduler.Dispatcher
	replenisher Replenisher
	preparer    *content.Preparer
	evaluator   *campaign.Evaluator
	gate        *campaign.Gate
	filter      *ipfilter.Filter
	version     string
	startTime   time.Time
	now         func() time.Time
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Static(nil)
	}
	if opts.Preparer == nil {
		opts.Preparer = content.NewPreparer(opts.Catalog, "")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		router:      chi.NewRouter(),
		store:       opts.Store,
		config:      opts.Config,
		logger:      opts.Logger,
		catalog:     opts.Catalog,
		dispatcher:  opts.Dispatcher,
		replenisher: opts.Replenisher,
		preparer:    opts.Preparer,
		evaluator:   campaign.NewEvaluator(nil),
		gate:        campaign.NewGate(0),
		filter:      ipfilter.New(opts.Config.AllowedIPs, opts.Config.TrustProxy, opts.Logger),
		version:     opts.Version,
		startTime:   time.Now(),
		now:         time.Now,
	}

	if opts.Dispatcher != nil {
		s.evaluator = opts.Dispatcher.Evaluator()
		s.gate = opts.Dispatcher.Gate()
	}

	s.setupRoutes(opts)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(opts ServerOptions) {
	// Middleware
	s.router.Use(middleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.HTTPMiddleware)
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleCampaignList)
			r.Post("/", s.handleCampaignCreate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleCampaignGet)
				r.Put("/", s.handleCampaignUpdate)
				r.Delete("/", s.handleCampaignDelete)
				r.Post("/pause", s.handleCampaignStatus(campaign.StatusPaused))
				r.Post("/resume", s.handleCampaignStatus(campaign.StatusRunning))
				r.Post("/archive", s.handleCampaignStatus(campaign.StatusArchived))
				r.Put("/windows", s.handleCampaignWindows)
				r.Get("/conflicts", s.handleCampaignConflicts)

				r.Get("/queue", s.handleQueueList)
				r.Post("/queue", s.handleQueueEnqueue)
				r.Get("/queue/{item}", s.handleQueueItem)
				r.Get("/queue/{item}/preview", s.handleQueuePreview)
				r.Post("/queue/{item}/reject", s.handleQueueReject)
				r.Post("/replenish", s.handleReplenish)
			})
		})

		r.Get("/posts", s.handlePosts)
		r.Get("/stats", s.handleStats)
		r.Get("/catalog", s.handleCatalog)
		r.Post("/templates/validate", s.handleTemplateValidate)

		NewManagementServer(opts.RateLimiter, opts.RateLimits).RegisterRoutes(r)
		NewSandboxServer(opts.SandboxStorage, s.logger).RegisterRoutes(r)
	})
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
