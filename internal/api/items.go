package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/content"
	"github.com/foxzi/dealpost/internal/queue"
)

// ItemListResponse is the response for GET /api/v1/campaigns/{id}/queue
type ItemListResponse struct {
	Items []*campaign.Item `json:"items"`
	Depth int              `json:"depth"`
}

// handleQueueList handles GET /api/v1/campaigns/{id}/queue.
// Queued items are returned in dequeue order.
func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	status := campaign.ItemStatus(q.Get("status"))
	limit := queryInt(q.Get("limit"), 50, 1000)

	var (
		items []*campaign.Item
		err   error
	)
	switch status {
	case "", campaign.ItemQueued:
		items, err = s.store.TopN(r.Context(), c.ID, limit)
	case campaign.ItemPosted, campaign.ItemRejected:
		items, err = s.store.ListItems(r.Context(), c.ID, queue.ItemFilter{
			Status: status,
			Limit:  limit,
			Offset: queryInt(q.Get("offset"), 0, 1000000),
		})
	default:
		sendError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}
	if err != nil {
		s.storeError(w, err, "list items")
		return
	}

	depth, err := s.store.Depth(r.Context(), c.ID)
	if err != nil {
		s.storeError(w, err, "queue depth")
		return
	}

	if items == nil {
		items = []*campaign.Item{}
	}
	sendJSON(w, http.StatusOK, ItemListResponse{Items: items, Depth: depth})
}

// EnqueueRequest is the request for POST /api/v1/campaigns/{id}/queue
type EnqueueRequest struct {
	Items []*campaign.Item `json:"items"`
	// Force skips the campaign quality thresholds
	Force bool `json:"force,omitempty"`
}

// EnqueueResponse is the response for POST /api/v1/campaigns/{id}/queue
type EnqueueResponse struct {
	Enqueued   []string `json:"enqueued"`
	Duplicates []string `json:"duplicates"`
	Filtered   []string `json:"filtered"`
	Depth      int      `json:"depth"`
}

// handleQueueEnqueue handles POST /api/v1/campaigns/{id}/queue
func (s *Server) handleQueueEnqueue(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Items) == 0 {
		sendError(w, http.StatusBadRequest, "items are required")
		return
	}
	for _, it := range req.Items {
		if it == nil || strings.TrimSpace(it.ID) == "" {
			sendError(w, http.StatusBadRequest, "every item needs an id")
			return
		}
	}

	resp := EnqueueResponse{Enqueued: []string{}, Duplicates: []string{}, Filtered: []string{}}
	for _, it := range req.Items {
		if !req.Force && !c.Params.Accepts(it) {
			resp.Filtered = append(resp.Filtered, it.ID)
			continue
		}
		if it.Score == 0 {
			it.Score = campaign.Score(it)
		}
		added, err := s.store.Enqueue(r.Context(), c.ID, it)
		if err != nil {
			s.storeError(w, err, "enqueue")
			return
		}
		if added {
			resp.Enqueued = append(resp.Enqueued, it.ID)
		} else {
			resp.Duplicates = append(resp.Duplicates, it.ID)
		}
	}

	depth, err := s.store.Depth(r.Context(), c.ID)
	if err != nil {
		s.storeError(w, err, "queue depth")
		return
	}
	resp.Depth = depth

	s.logger.Info("items enqueued manually",
		"campaign_id", c.ID,
		"enqueued", len(resp.Enqueued),
		"duplicates", len(resp.Duplicates),
		"filtered", len(resp.Filtered),
	)
	sendJSON(w, http.StatusOK, resp)
}

// handleQueueItem handles GET /api/v1/campaigns/{id}/queue/{item}
func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	_, it, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, it)
}

// PreviewResponse is the response for GET /api/v1/campaigns/{id}/queue/{item}/preview
type PreviewResponse struct {
	Posts []*content.Post `json:"posts"`
}

// handleQueuePreview handles GET /api/v1/campaigns/{id}/queue/{item}/preview.
// The post is rendered for every campaign channel, or only for ?channel=.
func (s *Server) handleQueuePreview(w http.ResponseWriter, r *http.Request) {
	c, it, ok := s.loadItem(w, r)
	if !ok {
		return
	}

	channels := c.Params.Channels
	if ch := r.URL.Query().Get("channel"); ch != "" {
		channels = []string{ch}
	}

	resp := PreviewResponse{Posts: make([]*content.Post, 0, len(channels))}
	for _, ch := range channels {
		post, err := s.preparer.Prepare(it, c, ch)
		if err != nil {
			sendError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		resp.Posts = append(resp.Posts, post)
	}
	sendJSON(w, http.StatusOK, resp)
}

// RejectRequest is the request for POST /api/v1/campaigns/{id}/queue/{item}/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

// handleQueueReject handles POST /api/v1/campaigns/{id}/queue/{item}/reject
func (s *Server) handleQueueReject(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "Invalid campaign id")
		return
	}
	itemID := chi.URLParam(r, "item")

	var req RejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if err := s.store.MarkRejected(r.Context(), id, itemID, req.Reason, s.now().UTC()); err != nil {
		s.storeError(w, err, "reject item")
		return
	}

	s.logger.Info("item rejected", "campaign_id", id, "item_id", itemID, "reason", req.Reason)
	if s.replenisher != nil {
		if c, err := s.store.GetCampaign(r.Context(), id); err == nil && c != nil {
			s.replenisher.Observe(r.Context(), c)
		}
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "rejected", "item_id": itemID})
}

// ReplenishResponse is the response for POST /api/v1/campaigns/{id}/replenish
type ReplenishResponse struct {
	Started bool `json:"started"`
	Depth   int  `json:"depth"`
}

// handleReplenish handles POST /api/v1/campaigns/{id}/replenish
func (s *Server) handleReplenish(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if s.replenisher == nil {
		sendError(w, http.StatusServiceUnavailable, "Discovery is not configured")
		return
	}
	if c.Status == campaign.StatusArchived {
		sendError(w, http.StatusConflict, queue.ErrArchived.Error())
		return
	}

	started := s.replenisher.Request(r.Context(), c)
	depth, err := s.store.Depth(r.Context(), c.ID)
	if err != nil {
		s.storeError(w, err, "queue depth")
		return
	}

	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}
	sendJSON(w, status, ReplenishResponse{Started: started, Depth: depth})
}

// loadItem reads the campaign and item named by the URL parameters
func (s *Server) loadItem(w http.ResponseWriter, r *http.Request) (*campaign.Campaign, *campaign.Item, bool) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return nil, nil, false
	}
	it, err := s.store.GetItem(r.Context(), c.ID, chi.URLParam(r, "item"))
	if err != nil {
		s.storeError(w, err, "get item")
		return nil, nil, false
	}
	if it == nil {
		sendError(w, http.StatusNotFound, "Item not found")
		return nil, nil, false
	}
	return c, it, true
}
