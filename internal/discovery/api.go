package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/foxzi/dealpost/internal/campaign"
)

// API queries an HTTP product search endpoint
type API struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewAPI creates an API discoverer
func NewAPI(opts Options) *API {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &API{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type apiPrice struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type apiItem struct {
	ASIN        string   `json:"asin"`
	Title       string   `json:"title"`
	Price       apiPrice `json:"price"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	SalesRank   int      `json:"sales_rank"`
	Images      []string `json:"images"`
	Features    []string `json:"features"`
	URL         string   `json:"url"`
	BrowseNode  string   `json:"browse_node"`
}

type apiResponse struct {
	Items []apiItem `json:"items"`
	Error string    `json:"error,omitempty"`
}

// Discover searches the API with the campaign filters
func (a *API) Discover(ctx context.Context, params campaign.Params, limit int) ([]*campaign.Item, error) {
	if a.endpoint == "" {
		return nil, fmt.Errorf("discovery endpoint is not configured")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	if len(params.Keywords) > 0 {
		q.Set("keywords", strings.Join(params.Keywords, " "))
	}
	for _, node := range params.BrowseNodes {
		q.Add("browse_node", node)
	}
	if params.Category != "" {
		q.Set("category", params.Category)
	}
	if params.MinRating > 0 {
		q.Set("min_rating", strconv.FormatFloat(params.MinRating, 'f', -1, 64))
	}
	if params.MinReviews > 0 {
		q.Set("min_reviews", strconv.Itoa(params.MinReviews))
	}
	if params.MinPrice > 0 {
		q.Set("min_price", strconv.FormatFloat(params.MinPrice, 'f', 2, 64))
	}
	if params.Language != "" {
		q.Set("language", params.Language)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/items/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	var out apiResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			return nil, fmt.Errorf("discovery API returned %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("discovery API returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}

	items := make([]*campaign.Item, 0, len(out.Items))
	for _, ai := range out.Items {
		if ai.ASIN == "" {
			continue
		}
		items = append(items, &campaign.Item{
			ID:          ai.ASIN,
			Title:       ai.Title,
			Price:       ai.Price.Amount,
			Currency:    ai.Price.Currency,
			Rating:      ai.Rating,
			ReviewCount: ai.ReviewCount,
			SalesRank:   ai.SalesRank,
			Images:      ai.Images,
			Features:    ai.Features,
			Link:        ai.URL,
			BrowseNode:  ai.BrowseNode,
		})
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}
