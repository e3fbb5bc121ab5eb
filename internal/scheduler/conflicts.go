package scheduler

import (
	"context"
	"time"

	"github.com/foxzi/dealpost/internal/campaign"
)

// Conflict is another running campaign posting to a shared channel at the same time
type Conflict struct {
	CampaignID int64    `json:"campaign_id"`
	Name       string   `json:"name"`
	Channels   []string `json:"channels"`
}

// Conflicts returns the running campaigns other than c that are inside a
// timing window at now and share at least one channel with c.
func (d *Dispatcher) Conflicts(ctx context.Context, c *campaign.Campaign, now time.Time) ([]Conflict, error) {
	running, err := d.store.ListCampaigns(ctx, campaign.ListFilter{Status: campaign.StatusRunning})
	if err != nil {
		return nil, err
	}

	mine := make(map[string]bool, len(c.Params.Channels))
	for _, ch := range c.Params.Channels {
		mine[ch] = true
	}

	var out []Conflict
	for _, other := range running {
		if other.ID == c.ID || !d.evaluator.IsInWindow(other, now) {
			continue
		}
		var shared []string
		for _, ch := range other.Params.Channels {
			if mine[ch] {
				shared = append(shared, ch)
			}
		}
		if len(shared) > 0 {
			out = append(out, Conflict{CampaignID: other.ID, Name: other.Name, Channels: shared})
		}
	}
	return out, nil
}
