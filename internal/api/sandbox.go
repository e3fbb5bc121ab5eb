package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/dealpost/internal/sandbox"
)

// SandboxServer exposes posts captured for sandbox channels
type SandboxServer struct {
	storage *sandbox.Storage
	logger  *slog.Logger
}

// NewSandboxServer creates a new sandbox server
func NewSandboxServer(storage *sandbox.Storage, logger *slog.Logger) *SandboxServer {
	return &SandboxServer{
		storage: storage,
		logger:  logger,
	}
}

// RegisterRoutes registers sandbox API routes
func (s *SandboxServer) RegisterRoutes(r chi.Router) {
	r.Route("/sandbox", func(r chi.Router) {
		r.Use(s.requireStorage)
		r.Get("/posts", s.handleList)
		r.Get("/posts/{id}", s.handleGet)
		r.Delete("/posts", s.handleClear)
		r.Delete("/posts/{id}", s.handleDelete)
		r.Get("/stats", s.handleStats)
	})
}

func (s *SandboxServer) requireStorage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.storage == nil {
			sendError(w, http.StatusServiceUnavailable, "Sandbox storage not available")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SandboxListResponse is the response for GET /api/v1/sandbox/posts
type SandboxListResponse struct {
	Posts []*sandbox.Capture `json:"posts"`
	Total int                `json:"total"`
}

// handleList handles GET /api/v1/sandbox/posts
func (s *SandboxServer) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sandbox.ListFilter{
		Channel: q.Get("channel"),
		Limit:   queryInt(q.Get("limit"), 100, 1000),
		Offset:  queryInt(q.Get("offset"), 0, 1000000),
	}

	captures, err := s.storage.List(r.Context(), filter)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to list posts")
		return
	}
	if captures == nil {
		captures = []*sandbox.Capture{}
	}

	sendJSON(w, http.StatusOK, SandboxListResponse{Posts: captures, Total: len(captures)})
}

// handleGet handles GET /api/v1/sandbox/posts/{id}
func (s *SandboxServer) handleGet(w http.ResponseWriter, r *http.Request) {
	capture, err := s.storage.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get post")
		return
	}
	if capture == nil {
		sendError(w, http.StatusNotFound, "Post not found")
		return
	}

	sendJSON(w, http.StatusOK, capture)
}

// handleDelete handles DELETE /api/v1/sandbox/posts/{id}
func (s *SandboxServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to delete post")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleClear handles DELETE /api/v1/sandbox/posts
func (s *SandboxServer) handleClear(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")

	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			sendError(w, http.StatusBadRequest, "Invalid older_than format (use Go duration: 24h)")
			return
		}
		olderThan = d
	}

	count, err := s.storage.Clear(r.Context(), channel, olderThan)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to clear posts")
		return
	}

	s.logger.Info("sandbox cleared", "channel", channel, "older_than", olderThan, "cleared", count)
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": count,
	})
}

// handleStats handles GET /api/v1/sandbox/stats
func (s *SandboxServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	sendJSON(w, http.StatusOK, stats)
}
