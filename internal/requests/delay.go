package requests

import (
	"time"

	"smartwaste.org/internal/api"
)

// DelayThreshold is how long an open request may wait before it counts as
// delayed.
const DelayThreshold = 48 * time.Hour

// IsDelayed reports whether r is still open and was created at least
// DelayThreshold before now. A request without a creation time is never
// delayed.
func IsDelayed(r api.PickupRequest, now time.Time) bool {
	if !r.Status.Open() || r.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(r.CreatedAt.Time) >= DelayThreshold
}

// Summary holds counts over a snapshot of requests.
type Summary struct {
	Total      int
	Pending    int
	InProgress int
	Collected  int
	Rejected   int
	Assigned   int
	Unassigned int
	Delayed    int
	Points     int
}

// Summarize counts rs by status, by assignment and by delay at now.
func Summarize(rs []api.PickupRequest, now time.Time) Summary {
	var s Summary
	for _, r := range rs {
		s.Total++
		switch r.Status {
		case api.StatusPending:
			s.Pending++
		case api.StatusInProgress:
			s.InProgress++
		case api.StatusCollected:
			s.Collected++
		case api.StatusRejected:
			s.Rejected++
		}
		if r.Assignment() == api.Assigned {
			s.Assigned++
		} else {
			s.Unassigned++
		}
		if IsDelayed(r, now) {
			s.Delayed++
		}
		s.Points += r.EarnedPoints()
	}
	return s
}
