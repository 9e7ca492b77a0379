package decision

import (
	"time"
	_ "time/tzdata"
)

// WithinWindow reports whether local falls inside [start, end) by hour.
func WithinWindow(local time.Time, start, end int) bool {
	h := local.Hour()
	return start <= h && h < end
}

// NextOpening returns the next instant the window opens, in local's zone.
// Before start it is today at start:00, otherwise tomorrow at start:00.
// Calendar arithmetic is done in the zone so DST transitions land on the
// wall-clock hour.
func NextOpening(local time.Time, start int) time.Time {
	y, m, d := local.Date()
	if local.Hour() < start {
		return time.Date(y, m, d, start, 0, 0, 0, local.Location())
	}
	return time.Date(y, m, d+1, start, 0, 0, 0, local.Location())
}
