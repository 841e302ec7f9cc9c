package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/pkg/clock"
	"github.com/badgerbay/marketplace/pkg/metrics"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

// Notifier raises one notification per bid-raising change for the listing owner.
// The feed may redeliver changes; deduplication is by change ID, so two bids that
// show the same amount are still two notifications.
type Notifier struct {
	inbox     Inbox
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
	recipient uuid.UUID
}

// Option configures a notifier
type Option func(*Notifier)

// WithPublisher pushes new notifications to live sessions
func WithPublisher(p Publisher) Option {
	return func(n *Notifier) {
		n.publisher = p
	}
}

// WithRecipient restricts notifications to listings owned by one user
func WithRecipient(userID uuid.UUID) Option {
	return func(n *Notifier) {
		n.recipient = userID
	}
}

// NewNotifier creates a new notifier
func NewNotifier(inbox Inbox, clk clock.Clock, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		inbox:  inbox,
		clock:  clk,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run consumes the change feed until ctx is cancelled
func (n *Notifier) Run(ctx context.Context, feed listings.ChangeFeed) error {
	return feed.SubscribeListings(ctx, listings.ListingFilter{OwnerID: n.recipient}, n.HandleChange)
}

// HandleChange raises a notification for change if it warrants one. An error
// means the change was not recorded and should be redelivered.
func (n *Notifier) HandleChange(ctx context.Context, change listings.Change) error {
	if !change.BidRaised() {
		return nil
	}

	listing := change.Listing
	if n.recipient != uuid.Nil && listing.OwnerID != n.recipient {
		return nil
	}
	// Owners are not told about their own actions.
	if change.ActorID == listing.OwnerID {
		return nil
	}

	var bidderID uuid.UUID
	if listing.LastBidderID != nil {
		bidderID = *listing.LastBidderID
	}

	notification := &Notification{
		ID:           uuid.New(),
		ChangeID:     change.ID,
		RecipientID:  listing.OwnerID,
		ListingID:    listing.ID,
		ListingTitle: listing.Title,
		BidderID:     bidderID,
		Amount:       listing.CurrentBid,
		CreatedAt:    n.clock.Now(),
	}

	created, err := n.inbox.Save(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	if !created {
		metrics.DuplicateChangesTotal.Inc()
		n.logger.Debug("Skipping redelivered change", "change_id", change.ID)
		return nil
	}
	metrics.NotificationsRaisedTotal.Inc()

	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, notification); err != nil {
			// The inbox row is the durable record; live delivery is best effort.
			n.logger.Warn("Failed to publish notification",
				"notification_id", notification.ID,
				"error", err,
			)
		}
	}

	n.logger.Info("Notification raised",
		"recipient_id", notification.RecipientID,
		"listing_id", notification.ListingID,
		"amount", notification.Amount,
	)
	return nil
}
