package notifications

import (
	"context"

	"github.com/google/uuid"
)

// Inbox durably records notifications, at most one per change
type Inbox interface {
	// Save stores the notification unless one was already stored for the same
	// change ID. It reports whether a new notification was stored.
	Save(ctx context.Context, n *Notification) (bool, error)

	// ListForRecipient returns a user's notifications, newest first
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]*Notification, error)
}

// Publisher pushes a stored notification to the recipient's live session
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}
