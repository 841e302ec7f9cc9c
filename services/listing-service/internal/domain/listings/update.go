package listings

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Expect is the precondition of a conditional update. Unset fields are not checked.
type Expect struct {
	Status     Status
	CurrentBid *int64
	// OpenAt requires the closing time to be absent or strictly after this instant
	OpenAt *time.Time
}

// Check returns ErrConflict if l no longer satisfies the precondition
func (e Expect) Check(l *Listing) error {
	if e.Status != "" && l.Status != e.Status {
		return fmt.Errorf("%w: status is %s", ErrConflict, l.Status)
	}
	if e.CurrentBid != nil && l.CurrentBid != *e.CurrentBid {
		return fmt.Errorf("%w: current bid is %d", ErrConflict, l.CurrentBid)
	}
	if e.OpenAt != nil {
		if closesAt, ok := closingTime(l); ok && !closesAt.After(*e.OpenAt) {
			return fmt.Errorf("%w: listing closed at %s", ErrConflict, closesAt.Format(time.RFC3339))
		}
	}
	return nil
}

// Update is the set of fields a conditional update writes. Nil fields are left unchanged.
type Update struct {
	CurrentBid   *int64
	LastBidderID *uuid.UUID
	Status       Status
	ClosedAt     *time.Time
	// ActorID is who caused the change; carried on the change feed
	ActorID uuid.UUID
}

// BidUpdate raises the current bid on behalf of bidderID. The status is
// re-asserted as open; the store refuses it if the listing was closed meanwhile.
func BidUpdate(amount int64, bidderID uuid.UUID) Update {
	return Update{
		CurrentBid:   &amount,
		LastBidderID: &bidderID,
		Status:       StatusOpen,
		ActorID:      bidderID,
	}
}

// CloseUpdate records the closing of a listing at closedAt
func CloseUpdate(closedAt time.Time, actorID uuid.UUID) Update {
	return Update{
		Status:   StatusClosed,
		ClosedAt: &closedAt,
		ActorID:  actorID,
	}
}

// ApplyTo returns the listing as it would be after the update, or ErrConflict
// if the result breaks a listing invariant. l is not modified.
func (u Update) ApplyTo(l *Listing) (*Listing, error) {
	next := l.Clone()
	if u.CurrentBid != nil {
		next.CurrentBid = *u.CurrentBid
	}
	if u.LastBidderID != nil {
		id := *u.LastBidderID
		next.LastBidderID = &id
	}
	if u.Status != "" {
		next.Status = u.Status
	}
	if u.ClosedAt != nil {
		if l.ClosedAt != nil {
			return nil, fmt.Errorf("%w: closing already recorded", ErrConflict)
		}
		t := *u.ClosedAt
		next.ClosedAt = &t
	}

	switch {
	case !next.Status.IsValid():
		return nil, fmt.Errorf("%w: invalid status %q", ErrConflict, next.Status)
	case l.Status == StatusClosed && next.Status != StatusClosed:
		return nil, fmt.Errorf("%w: closed listings cannot reopen", ErrConflict)
	case next.CurrentBid < l.CurrentBid:
		return nil, fmt.Errorf("%w: current bid cannot decrease", ErrConflict)
	case next.Status == StatusClosed && next.CurrentBid > l.CurrentBid:
		return nil, fmt.Errorf("%w: bidding is closed", ErrConflict)
	case (next.Status == StatusClosed) != (next.ClosedAt != nil):
		return nil, fmt.Errorf("%w: closed_at must be set exactly when closed", ErrConflict)
	case (next.CurrentBid > next.StartingPrice) != (next.LastBidderID != nil):
		return nil, fmt.Errorf("%w: last bidder must be set exactly when bid exceeds starting price", ErrConflict)
	}

	return next, nil
}
