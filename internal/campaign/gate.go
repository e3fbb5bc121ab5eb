package campaign

import "time"

// DefaultMinSpacing is the floor between two posts of a continuous campaign
const DefaultMinSpacing = 5 * time.Second

// Gate enforces the posting cadence of campaigns
type Gate struct {
	MinSpacing time.Duration
}

// NewGate creates a frequency gate with the given system minimum spacing
func NewGate(minSpacing time.Duration) *Gate {
	if minSpacing <= 0 {
		minSpacing = DefaultMinSpacing
	}
	return &Gate{MinSpacing: minSpacing}
}

// Spacing returns the minimum elapsed time required between posts of c
func (g *Gate) Spacing(c *Campaign) time.Duration {
	if c.Cadence.IsContinuous() {
		if g.MinSpacing <= 0 {
			return DefaultMinSpacing
		}
		return g.MinSpacing
	}
	return c.Cadence.Interval
}

// CanPostNow reports whether enough time has elapsed since the last post of c
func (g *Gate) CanPostNow(c *Campaign, now time.Time) bool {
	if c.LastPostTime == nil {
		return true
	}
	return now.Sub(*c.LastPostTime) >= g.Spacing(c)
}

// NextEligible returns the earliest time the gate opens for c
func (g *Gate) NextEligible(c *Campaign, now time.Time) time.Time {
	if c.LastPostTime == nil {
		return now
	}
	next := c.LastPostTime.Add(g.Spacing(c))
	if next.Before(now) {
		return now
	}
	return next
}
