package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification tells a listing owner that someone bid on their listing
type Notification struct {
	ID           uuid.UUID `db:"id"`
	ChangeID     uuid.UUID `db:"change_id"`
	RecipientID  uuid.UUID `db:"recipient_id"`
	ListingID    uuid.UUID `db:"listing_id"`
	ListingTitle string    `db:"listing_title"`
	BidderID     uuid.UUID `db:"bidder_id"`
	Amount       int64     `db:"amount"`
	CreatedAt    time.Time `db:"created_at"`
}

// Message is the user-facing text of the notification
func (n *Notification) Message() string {
	return fmt.Sprintf("New bid on %q: current bid is now %d", n.ListingTitle, n.Amount)
}
