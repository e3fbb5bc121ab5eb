package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/queue"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Queue   *queue.Stats `json:"queue,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read store stats", "error", err)
		resp.Status = "degraded"
	} else {
		resp.Queue = stats
	}

	sendJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

// PostsResponse is the response for GET /api/v1/posts
type PostsResponse struct {
	Posts      []*campaign.PostRecord `json:"posts"`
	NextCursor uint64                 `json:"next_cursor"`
}

// handlePosts handles GET /api/v1/posts
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.PostFilter{Limit: queryInt(q.Get("limit"), 100, 1000)}

	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			sendError(w, http.StatusBadRequest, "Invalid after cursor")
			return
		}
		filter.After = after
	}
	if v := q.Get("campaign_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			sendError(w, http.StatusBadRequest, "Invalid campaign_id")
			return
		}
		filter.CampaignID = id
	}

	posts, err := s.store.ListPosts(r.Context(), filter)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to list posts")
		return
	}

	resp := PostsResponse{Posts: posts, NextCursor: filter.After}
	if resp.Posts == nil {
		resp.Posts = []*campaign.PostRecord{}
	}
	if n := len(posts); n > 0 {
		resp.NextCursor = posts[n-1].Seq
	}
	sendJSON(w, http.StatusOK, resp)
}

// CatalogResponse is the response for GET /api/v1/catalog
type CatalogResponse struct {
	Channels   []CatalogChannel `json:"channels"`
	Categories []string         `json:"categories"`
	LoadedAt   time.Time        `json:"loaded_at,omitempty"`
}

// CatalogChannel describes a known channel
type CatalogChannel struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	TrackingTag string `json:"tracking_tag,omitempty"`
	Language    string `json:"language,omitempty"`
}

// handleCatalog handles GET /api/v1/catalog
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	resp := CatalogResponse{
		Channels:   []CatalogChannel{},
		Categories: s.catalog.Categories(),
		LoadedAt:   s.catalog.LoadedAt(),
	}
	for _, ch := range s.catalog.Channels() {
		resp.Channels = append(resp.Channels, CatalogChannel{
			Name:        ch.Name,
			Mode:        string(ch.Mode),
			TrackingTag: ch.TrackingTag,
			Language:    ch.Language,
		})
	}
	if resp.Categories == nil {
		resp.Categories = []string{}
	}
	sendJSON(w, http.StatusOK, resp)
}

// TemplateValidateRequest is the request for POST /api/v1/templates/validate
type TemplateValidateRequest struct {
	Template string `json:"template"`
}

// TemplateValidateResponse is the response for POST /api/v1/templates/validate
type TemplateValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// handleTemplateValidate handles POST /api/v1/templates/validate
func (s *Server) handleTemplateValidate(w http.ResponseWriter, r *http.Request) {
	var req TemplateValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Template == "" {
		sendError(w, http.StatusBadRequest, "template is required")
		return
	}

	resp := TemplateValidateResponse{Valid: true}
	if err := content.Validate(req.Template); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	sendJSON(w, http.StatusOK, resp)
}

// campaignID parses the {id} URL parameter
func campaignID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt parses a positive integer query value capped at max
func queryInt(v string, def, max int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// storeError maps store and lifecycle errors to HTTP responses
func (s *Server) storeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, queue.ErrCampaignNotFound):
		sendError(w, http.StatusNotFound, "Campaign not found")
	case errors.Is(err, queue.ErrItemNotFound):
		sendError(w, http.StatusNotFound, "Item not found")
	case errors.Is(err, queue.ErrNameTaken):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrNotQueued),
		errors.Is(err, queue.ErrArchived),
		errors.Is(err, campaign.ErrInvalidTransition):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrNoWindows),
		errors.Is(err, campaign.ErrInvalidWindow),
		errors.Is(err, campaign.ErrInvalidName):
		sendError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("store operation failed", "op", op, "error", err)
		sendError(w, http.StatusInternalServerError, "Internal error")
	}
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is an API error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
