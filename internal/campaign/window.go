package campaign

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EveryDay is the day value of a window that applies to all weekdays
const EveryDay = -1

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time expressed as seconds since midnight
type TimeOfDay int

// Clock builds a TimeOfDay from hours, minutes and seconds
func Clock(h, m, s int) TimeOfDay {
	return TimeOfDay(h*3600 + m*60 + s)
}

// ParseTimeOfDay parses HH:MM or HH:MM:SS. 24:00 is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = n
	}

	h, m, sec := vals[0], vals[1], vals[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h > 24 || (h == 24 && (m != 0 || sec != 0)) {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return Clock(h, m, sec), nil
}

// TimeOfDayOf returns the wall-clock time of t in its own location
func TimeOfDayOf(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute(), t.Second())
}

func (t TimeOfDay) String() string {
	h := int(t) / 3600
	m := int(t) % 3600 / 60
	s := int(t) % 60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Weekday converts a time.Weekday into 0=Monday..6=Sunday
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Window is a recurring weekly interval [Start, End) during which a campaign may post
type Window struct {
	Day   int       `json:"day"`
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Validate checks day range and that the window does not wrap midnight
func (w Window) Validate() error {
	if w.Day < EveryDay || w.Day > 6 {
		return fmt.Errorf("%w: day %d out of range", ErrInvalidWindow, w.Day)
	}
	if w.Start < 0 || w.Start >= secondsPerDay {
		return fmt.Errorf("%w: start %s out of range", ErrInvalidWindow, w.Start)
	}
	if w.End <= w.Start || w.End > secondsPerDay {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalidWindow, w.End, w.Start)
	}
	return nil
}

// Contains reports whether the weekday and time of day fall inside the window
func (w Window) Contains(day int, tod TimeOfDay) bool {
	if w.Day != EveryDay && w.Day != day {
		return false
	}
	return w.Start <= tod && tod < w.End
}

// ValidateWindows validates each window and the (day, start) uniqueness
func ValidateWindows(ws []Window) error {
	type key struct {
		day   int
		start TimeOfDay
	}
	seen := make(map[key]struct{}, len(ws))
	for _, w := range ws {
		if err := w.Validate(); err != nil {
			return err
		}
		k := key{w.Day, w.Start}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: duplicate window day %d start %s", ErrInvalidWindow, w.Day, w.Start)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Evaluator decides whether campaigns are inside their timing windows
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator creates an evaluator for the reference timezone (UTC when nil)
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Location returns the reference timezone
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// IsInWindow reports whether any window of c matches now.
// A campaign without windows is never in window.
func (e *Evaluator) IsInWindow(c *Campaign, now time.Time) bool {
	local := now.In(e.loc)
	day := Weekday(local)
	tod := TimeOfDayOf(local)

	for _, w := range c.Windows {
		if w.Contains(day, tod) {
			return true
		}
	}
	return false
}

// NextOpening returns now when c is in window, otherwise the start of the next
// window within the coming week. ok is false when c has no windows.
func (e *Evaluator) NextOpening(c *Campaign, now time.Time) (time.Time, bool) {
	if len(c.Windows) == 0 {
		return time.Time{}, false
	}
	if e.IsInWindow(c, now) {
		return now, true
	}

	local := now.In(e.loc)
	var best time.Time
	for i := 0; i <= 7; i++ {
		date := local.AddDate(0, 0, i)
		day := Weekday(date)
		for _, w := range c.Windows {
			if w.Day != EveryDay && w.Day != day {
				continue
			}
			start := time.Date(date.Year(), date.Month(), date.Day(),
				int(w.Start)/3600, int(w.Start)%3600/60, int(w.Start)%60, 0, e.loc)
			if !start.After(now) {
				continue
			}
			if best.IsZero() || start.Before(best) {
				best = start
			}
		}
		if !best.IsZero() {
			return best, true
		}
	}
	return time.Time{}, false
}
