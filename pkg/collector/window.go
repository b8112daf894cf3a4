package collector

import "time"

const secondsPerDay = 86400

// Window is the per-run view of where fetching starts
type Window struct {
	// Watermark is the exclusive lower bound on event timestamps
	Watermark int64
	// DayStart is the UTC midnight at or before Watermark
	DayStart int64
	// NextFloor is the lowest watermark a truncated page may advance to
	NextFloor int64
	// DateFilter is the UTC calendar date of Watermark, YYYY-MM-DD
	DateFilter string
}

// PlanWindow derives the window for watermark wm at time now (both Unix
// seconds). NextFloor is the following UTC midnight unless that lies in the
// future, in which case it falls back to wm.
func PlanWindow(wm, now int64) Window {
	dayStart := wm - mod(wm, secondsPerDay)
	nextFloor := dayStart + secondsPerDay
	if nextFloor > now {
		nextFloor = wm
	}

	return Window{
		Watermark:  wm,
		DayStart:   dayStart,
		NextFloor:  nextFloor,
		DateFilter: time.Unix(wm, 0).UTC().Format("2006-01-02"),
	}
}

// mod is the floored remainder, so pre-1970 watermarks still land on midnight
func mod(a, b int64) int64 {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
