package listings

import (
	"time"

	"github.com/google/uuid"
)

// Status is the recorded auction state of a listing
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusClosed:
		return true
	default:
		return false
	}
}

// Listing is an auction-style item posting.
//
// Invariants kept by every store:
//   - CurrentBid never decreases and is never below StartingPrice
//   - Status only moves open -> closed
//   - ClosedAt is set iff Status is closed
//   - LastBidderID is set iff CurrentBid > StartingPrice
type Listing struct {
	ID                  uuid.UUID  `db:"id"`
	Title               string     `db:"title"`
	Description         string     `db:"description"`
	OwnerID             uuid.UUID  `db:"owner_id"`
	StartingPrice       int64      `db:"starting_price"`
	CurrentBid          int64      `db:"current_bid"`
	LastBidderID        *uuid.UUID `db:"last_bidder_id"`
	Status              Status     `db:"status"`
	ClosesAt            *time.Time `db:"closes_at"`
	ClosedAt            *time.Time `db:"closed_at"`
	PickupLocation      string     `db:"pickup_location"`
	HidePickupUntilSold bool       `db:"hide_pickup_until_sold"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// IsOwnedBy reports whether userID created the listing
func (l *Listing) IsOwnedBy(userID uuid.UUID) bool {
	return userID != uuid.Nil && l.OwnerID == userID
}

// IsWinner reports whether userID placed the current highest bid
func (l *Listing) IsWinner(userID uuid.UUID) bool {
	return userID != uuid.Nil && l.LastBidderID != nil && *l.LastBidderID == userID
}

// Clone returns a deep copy so callers can't mutate a stored record
func (l *Listing) Clone() *Listing {
	c := *l
	if l.LastBidderID != nil {
		id := *l.LastBidderID
		c.LastBidderID = &id
	}
	if l.ClosesAt != nil {
		t := *l.ClosesAt
		c.ClosesAt = &t
	}
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// ChangeType is the kind of mutation carried on the change feed
type ChangeType string

const (
	ChangeAdded    ChangeType = "listing.added"
	ChangeModified ChangeType = "listing.modified"
	ChangeRemoved  ChangeType = "listing.removed"
)

// String returns the routing key form of the change type
func (c ChangeType) String() string {
	return string(c)
}

// IsValid checks if the change type is valid
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeAdded, ChangeModified, ChangeRemoved:
		return true
	default:
		return false
	}
}

// Change is one entry of the listing change feed. ID identifies the mutation,
// not the listing: a redelivered change keeps its ID.
type Change struct {
	ID          uuid.UUID
	Type        ChangeType
	Listing     *Listing
	PreviousBid int64
	ActorID     uuid.UUID
	OccurredAt  time.Time
}

// BidRaised reports whether the change increased the listing's current bid
func (c Change) BidRaised() bool {
	return c.Type == ChangeModified && c.Listing != nil && c.Listing.CurrentBid > c.PreviousBid
}

// ListingFilter narrows listing queries and feed subscriptions.
// Zero values mean "no constraint".
type ListingFilter struct {
	Status       Status
	OwnerID      uuid.UUID
	ClosesBefore time.Time
	Limit        int
}

// Matches reports whether l passes the filter
func (f ListingFilter) Matches(l *Listing) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.OwnerID != uuid.Nil && l.OwnerID != f.OwnerID {
		return false
	}
	if !f.ClosesBefore.IsZero() {
		closesAt, ok := closingTime(l)
		if !ok || closesAt.After(f.ClosesBefore) {
			return false
		}
	}
	return true
}
