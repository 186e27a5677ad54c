package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// RegionTimezone is the zone used for "today" and for provider requests.
const RegionTimezone = "Australia/Melbourne"

// clock is a package-level time source so tests can freeze time via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used by Today. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current instant from the configured clock.
func Now() time.Time {
	return clock.Now()
}

// Today returns midnight of the current calendar day in loc.
// A nil loc falls back to the region timezone, then UTC if tzdata is unavailable.
func Today(loc *time.Location) time.Time {
	if loc == nil {
		loc = RegionLocation()
	}
	now := clock.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// RegionLocation loads RegionTimezone.
func RegionLocation() *time.Location {
	loc, err := time.LoadLocation(RegionTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
