package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/dealpost/internal/campaign"
)

// Feed reads candidates from a product export file (YAML or JSON)
type Feed struct {
	path string
}

// NewFeed creates a feed discoverer
func NewFeed(path string) *Feed {
	return &Feed{path: path}
}

type feedItem struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Price       float64  `yaml:"price"`
	Currency    string   `yaml:"currency"`
	Rating      float64  `yaml:"rating"`
	ReviewCount int      `yaml:"review_count"`
	SalesRank   int      `yaml:"sales_rank"`
	Images      []string `yaml:"images"`
	Features    []string `yaml:"features"`
	Link        string   `yaml:"link"`
	BrowseNode  string   `yaml:"browse_node"`
	Category    string   `yaml:"category"`
}

type feedFile struct {
	Items []feedItem `yaml:"items"`
}

// Discover returns feed items matching the campaign category, browse nodes and keywords
func (f *Feed) Discover(ctx context.Context, params campaign.Params, limit int) ([]*campaign.Item, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	var file feedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	var items []*campaign.Item
	for _, fi := range file.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fi.ID == "" || !matches(fi, params) {
			continue
		}
		items = append(items, &campaign.Item{
			ID:          fi.ID,
			Title:       fi.Title,
			Price:       fi.Price,
			Currency:    fi.Currency,
			Rating:      fi.Rating,
			ReviewCount: fi.ReviewCount,
			SalesRank:   fi.SalesRank,
			Images:      fi.Images,
			Features:    fi.Features,
			Link:        fi.Link,
			BrowseNode:  fi.BrowseNode,
		})
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func matches(fi feedItem, params campaign.Params) bool {
	if params.Category != "" && fi.Category != "" && !strings.EqualFold(params.Category, fi.Category) {
		return false
	}
	if len(params.BrowseNodes) > 0 {
		found := false
		for _, node := range params.BrowseNodes {
			if node == fi.BrowseNode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(params.Keywords) > 0 {
		title := strings.ToLower(fi.Title)
		for _, kw := range params.Keywords {
			if strings.Contains(title, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}
	return true
}
