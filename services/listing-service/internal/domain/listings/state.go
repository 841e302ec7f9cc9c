package listings

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// closingTime returns the listing's closing deadline. A missing or zero
// timestamp means the listing never auto-closes.
func closingTime(l *Listing) (time.Time, bool) {
	if l == nil || l.ClosesAt == nil || l.ClosesAt.IsZero() {
		return time.Time{}, false
	}
	return *l.ClosesAt, true
}

// IsClosed reports whether the listing no longer accepts bids at now.
// The recorded status may lag behind the deadline, so both are consulted.
func IsClosed(l *Listing, now time.Time) bool {
	if l == nil {
		return false
	}
	if l.Status == StatusClosed {
		return true
	}
	closesAt, ok := closingTime(l)
	if !ok {
		return false
	}
	return !closesAt.After(now)
}

// Remaining is the time left before a listing closes, broken down for display
type Remaining struct {
	Unbounded bool
	Duration  time.Duration
	Days      int
	Hours     int
	Minutes   int
}

// Ended reports whether the closing time has passed
func (r Remaining) Ended() bool {
	return !r.Unbounded && r.Duration <= 0
}

// String renders the countdown the way listing cards show it
func (r Remaining) String() string {
	switch {
	case r.Unbounded:
		return "No end time"
	case r.Ended():
		return "Ended"
	case r.Days > 0:
		return fmt.Sprintf("%dd %dh %dm", r.Days, r.Hours, r.Minutes)
	case r.Hours > 0:
		return fmt.Sprintf("%dh %dm", r.Hours, r.Minutes)
	default:
		return fmt.Sprintf("%dm", r.Minutes)
	}
}

// RemainingTime computes the countdown to the listing's closing time
func RemainingTime(l *Listing, now time.Time) Remaining {
	closesAt, ok := closingTime(l)
	if !ok {
		return Remaining{Unbounded: true}
	}

	diff := closesAt.Sub(now)
	if diff <= 0 {
		return Remaining{}
	}

	totalMinutes := int(diff / time.Minute)
	return Remaining{
		Duration: diff,
		Days:     totalMinutes / (24 * 60),
		Hours:    (totalMinutes % (24 * 60)) / 60,
		Minutes:  totalMinutes % 60,
	}
}

// FormatClosingTime renders the closing deadline, e.g. "Mon, Jan 2 3:04 PM"
func FormatClosingTime(l *Listing, loc *time.Location) string {
	closesAt, ok := closingTime(l)
	if !ok {
		return "No closing time set"
	}
	if loc == nil {
		loc = time.UTC
	}
	return closesAt.In(loc).Format("Mon, Jan 2 3:04 PM")
}

// CanSeePickupLocation reports whether viewerID may see the pick-up location.
// Hidden locations are revealed only after closing, and only to the owner and the winner.
func CanSeePickupLocation(l *Listing, viewerID uuid.UUID, now time.Time) bool {
	if l == nil {
		return false
	}
	if !l.HidePickupUntilSold {
		return true
	}
	if !IsClosed(l, now) {
		return false
	}
	return l.IsOwnedBy(viewerID) || l.IsWinner(viewerID)
}

// View is a listing as a particular viewer is allowed to see it at a point in time
type View struct {
	Listing         *Listing
	Closed          bool
	PickupVisible   bool
	Remaining       Remaining
	ViewerIsOwner   bool
	ViewerIsWinning bool
}

// NewView evaluates the listing for viewerID. The pick-up location is blanked
// on the returned copy when the viewer may not see it.
func NewView(l *Listing, viewerID uuid.UUID, now time.Time) View {
	c := l.Clone()
	visible := CanSeePickupLocation(l, viewerID, now)
	if !visible {
		c.PickupLocation = ""
	}
	return View{
		Listing:         c,
		Closed:          IsClosed(l, now),
		PickupVisible:   visible,
		Remaining:       RemainingTime(l, now),
		ViewerIsOwner:   l.IsOwnedBy(viewerID),
		ViewerIsWinning: l.IsWinner(viewerID),
	}
}
