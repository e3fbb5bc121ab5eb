package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/scheduler"
)

var (
	errNotWhitelisted = errors.New("owner is not allowed to create campaigns")
	errUnknownValue   = errors.New("unknown catalog value")
)

// CampaignRequest is the request for POST /api/v1/campaigns and PUT /api/v1/campaigns/{id}
type CampaignRequest struct {
	Name         string            `json:"name"`
	OwnerID      string            `json:"owner_id"`
	Params       campaign.Params   `json:"params"`
	Cadence      *campaign.Cadence `json:"cadence,omitempty"`
	PostsPerHour float64           `json:"posts_per_hour,omitempty"`
	Windows      []campaign.Window `json:"windows,omitempty"`
	Start        bool              `json:"start,omitempty"`
}

// cadence resolves the requested cadence; posts_per_hour wins over cadence
func (req *CampaignRequest) cadence(current campaign.Cadence) campaign.Cadence {
	if req.PostsPerHour > 0 {
		return campaign.PostsPerHour(req.PostsPerHour)
	}
	if req.Cadence != nil {
		return *req.Cadence
	}
	return current
}

// CampaignResponse is a campaign together with its dispatch state
type CampaignResponse struct {
	*campaign.Campaign
	Depth        int        `json:"depth"`
	InWindow     bool       `json:"in_window"`
	NextOpening  *time.Time `json:"next_opening,omitempty"`
	NextEligible *time.Time `json:"next_eligible,omitempty"`
	Replenishing bool       `json:"replenishing"`
}

// CampaignListResponse is the response for GET /api/v1/campaigns
type CampaignListResponse struct {
	Campaigns []*CampaignResponse `json:"campaigns"`
	Total     int                 `json:"total"`
}

// StatusResponse is the response for lifecycle operations
type StatusResponse struct {
	Campaign  *CampaignResponse    `json:"campaign"`
	Conflicts []scheduler.Conflict `json:"conflicts,omitempty"`
}

// handleCampaignList handles GET /api/v1/campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := campaign.ListFilter{
		Status: campaign.Status(q.Get("status")),
		Limit:  queryInt(q.Get("limit"), 100, 1000),
		Offset: queryInt(q.Get("offset"), 0, 1000000),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		sendError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	list, err := s.store.ListCampaigns(r.Context(), filter)
	if err != nil {
		s.storeError(w, err, "list campaigns")
		return
	}

	resp := CampaignListResponse{Campaigns: make([]*CampaignResponse, 0, len(list))}
	for _, c := range list {
		resp.Campaigns = append(resp.Campaigns, s.describe(r, c))
	}
	resp.Total = len(resp.Campaigns)
	sendJSON(w, http.StatusOK, resp)
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &campaign.Campaign{
		Name:    strings.TrimSpace(req.Name),
		OwnerID: req.OwnerID,
		Params:  req.Params,
		Cadence: req.cadence(campaign.Continuous()),
		Windows: req.Windows,
	}
	if req.Start {
		c.Status = campaign.StatusRunning
	}

	if err := s.checkParams(c); err != nil {
		s.paramsError(w, err)
		return
	}
	if err := c.Validate(); err != nil {
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.store.CreateCampaign(r.Context(), c); err != nil {
		s.storeError(w, err, "create campaign")
		return
	}

	s.logger.Info("campaign created",
		"campaign_id", c.ID,
		"name", c.Name,
		"status", c.Status,
		"channels", c.Params.Channels,
	)
	sendJSON(w, http.StatusCreated, s.describe(r, c))
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, s.describe(r, c))
}

// handleCampaignUpdate handles PUT /api/v1/campaigns/{id}
func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) != "" {
		c.Name = strings.TrimSpace(req.Name)
	}
	if req.OwnerID != "" {
		c.OwnerID = req.OwnerID
	}
	if len(req.Params.Channels) > 0 {
		c.Params = req.Params
	}
	c.Cadence = req.cadence(c.Cadence)

	if err := s.checkParams(c); err != nil {
		s.paramsError(w, err)
		return
	}
	if err := s.store.UpdateCampaign(r.Context(), c); err != nil {
		s.storeError(w, err, "update campaign")
		return
	}

	s.logger.Info("campaign updated", "campaign_id", c.ID, "name", c.Name)
	sendJSON(w, http.StatusOK, s.describe(r, c))
}

// handleCampaignDelete handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "Invalid campaign id")
		return
	}
	if err := s.store.DeleteCampaign(r.Context(), id); err != nil {
		s.storeError(w, err, "delete campaign")
		return
	}

	s.logger.Info("campaign deleted", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleCampaignStatus returns a handler moving a campaign to status
func (s *Server) handleCampaignStatus(status campaign.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := campaignID(r)
		if !ok {
			sendError(w, http.StatusBadRequest, "Invalid campaign id")
			return
		}

		c, err := s.store.SetStatus(r.Context(), id, status)
		if err != nil {
			s.storeError(w, err, "set status")
			return
		}
		s.logger.Info("campaign status changed", "campaign_id", id, "status", status)

		resp := StatusResponse{Campaign: s.describe(r, c)}
		if status == campaign.StatusRunning {
			resp.Conflicts = s.conflicts(r, c)
		}
		sendJSON(w, http.StatusOK, resp)
	}
}

// WindowsRequest is the request for PUT /api/v1/campaigns/{id}/windows
type WindowsRequest struct {
	Windows []campaign.Window `json:"windows"`
}

// handleCampaignWindows handles PUT /api/v1/campaigns/{id}/windows
func (s *Server) handleCampaignWindows(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "Invalid campaign id")
		return
	}

	var req WindowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.store.SetWindows(r.Context(), id, req.Windows)
	if err != nil {
		s.storeError(w, err, "set windows")
		return
	}

	s.logger.Info("campaign windows replaced", "campaign_id", id, "windows", len(c.Windows))
	sendJSON(w, http.StatusOK, s.describe(r, c))
}

// handleCampaignConflicts handles GET /api/v1/campaigns/{id}/conflicts
func (s *Server) handleCampaignConflicts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	conflicts := s.conflicts(r, c)
	if conflicts == nil {
		conflicts = []scheduler.Conflict{}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

// loadCampaign reads the campaign named by the {id} parameter and writes the
// error response when it cannot
func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) (*campaign.Campaign, bool) {
	id, ok := campaignID(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "Invalid campaign id")
		return nil, false
	}
	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "get campaign")
		return nil, false
	}
	if c == nil {
		sendError(w, http.StatusNotFound, "Campaign not found")
		return nil, false
	}
	return c, true
}

// checkParams validates campaign parameters against the catalog and fills
// browse nodes from the category
func (s *Server) checkParams(c *campaign.Campaign) error {
	if c.OwnerID != "" && !s.catalog.IsWhitelisted(c.OwnerID) {
		return errNotWhitelisted
	}
	if len(c.Params.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", errUnknownValue)
	}
	if err := s.catalog.ValidateChannels(c.Params.Channels); err != nil {
		return fmt.Errorf("%w: %v", errUnknownValue, err)
	}
	if c.Params.Category != "" && len(c.Params.BrowseNodes) == 0 {
		nodes, ok := s.catalog.Category(c.Params.Category)
		if !ok {
			return fmt.Errorf("%w: unknown category %q", errUnknownValue, c.Params.Category)
		}
		c.Params.BrowseNodes = nodes
	}
	return nil
}

func (s *Server) paramsError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotWhitelisted) {
		sendError(w, http.StatusForbidden, err.Error())
		return
	}
	sendError(w, http.StatusUnprocessableEntity, err.Error())
}

// describe adds queue depth and window state to a campaign
func (s *Server) describe(r *http.Request, c *campaign.Campaign) *CampaignResponse {
	now := s.now()
	resp := &CampaignResponse{Campaign: c}

	depth, err := s.store.Depth(r.Context(), c.ID)
	if err != nil {
		s.logger.Warn("failed to read queue depth", "campaign_id", c.ID, "error", err)
	}
	resp.Depth = depth

	if c.Status == campaign.StatusArchived {
		return resp
	}

	resp.InWindow = s.evaluator.IsInWindow(c, now)
	if next, ok := s.evaluator.NextOpening(c, now); ok {
		resp.NextOpening = &next
	}
	eligible := s.gate.NextEligible(c, now)
	resp.NextEligible = &eligible

	if s.replenisher != nil {
		resp.Replenishing = s.replenisher.InFlight(c.ID)
	}
	return resp
}

// conflicts lists running campaigns sharing a channel with c at this moment
func (s *Server) conflicts(r *http.Request, c *campaign.Campaign) []scheduler.Conflict {
	if s.dispatcher == nil {
		return nil
	}
	out, err := s.dispatcher.Conflicts(r.Context(), c, s.now())
	if err != nil {
		s.logger.Warn("failed to compute channel conflicts", "campaign_id", c.ID, "error", err)
		return nil
	}
	for _, cf := range out {
		s.logger.Warn("campaign shares channels with a running campaign",
			"campaign_id", c.ID,
			"other_campaign_id", cf.CampaignID,
			"channels", cf.Channels,
		)
	}
	return out
}
