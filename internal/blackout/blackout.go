// Package blackout decides whether a sync attempt falls inside the nightly
// quiet period.
package blackout

import (
	"fmt"
	"time"
)

const (
	DefaultStartHour = 20
	DefaultEndHour   = 9
)

// Window suppresses syncs from StartHour (inclusive) to EndHour (exclusive)
// in Location. A window whose start is after its end wraps past midnight.
// Equal hours describe an empty window.
type Window struct {
	StartHour int
	EndHour   int
	Location  *time.Location // nil means time.Local
}

// Default returns the 20:00-09:00 window in local time
func Default() Window {
	return Window{StartHour: DefaultStartHour, EndHour: DefaultEndHour}
}

// New validates the hours and loads the named IANA zone ("" or "Local" for local time)
func New(startHour, endHour int, timezone string) (Window, error) {
	if startHour < 0 || startHour > 23 {
		return Window{}, fmt.Errorf("blackout start hour must be 0-23, got %d", startHour)
	}
	if endHour < 0 || endHour > 23 {
		return Window{}, fmt.Errorf("blackout end hour must be 0-23, got %d", endHour)
	}

	w := Window{StartHour: startHour, EndHour: endHour}
	if timezone != "" && timezone != "Local" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return Window{}, fmt.Errorf("invalid blackout timezone %q: %w", timezone, err)
		}
		w.Location = loc
	}
	return w, nil
}

// Hour returns the hour of now in the window's location
func (w Window) Hour(now time.Time) int {
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Hour()
}

// IsSuppressed reports whether now falls inside the window
func (w Window) IsSuppressed(now time.Time) bool {
	hour := w.Hour(now)

	switch {
	case w.StartHour == w.EndHour:
		return false
	case w.StartHour > w.EndHour:
		return hour >= w.StartHour || hour < w.EndHour
	default:
		return hour >= w.StartHour && hour < w.EndHour
	}
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", w.StartHour, w.EndHour)
}
