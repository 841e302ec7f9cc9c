package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
)

// Inbox implements notifications.Inbox
type Inbox struct {
	mu       sync.Mutex
	byChange map[uuid.UUID]*notifications.Notification
	ordered  []*notifications.Notification
}

// NewInbox creates an empty inbox
func NewInbox() *Inbox {
	return &Inbox{byChange: make(map[uuid.UUID]*notifications.Notification)}
}

func (i *Inbox) Save(_ context.Context, n *notifications.Notification) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, seen := i.byChange[n.ChangeID]; seen {
		return false, nil
	}
	stored := *n
	i.byChange[n.ChangeID] = &stored
	i.ordered = append(i.ordered, &stored)
	return true, nil
}

// ListForRecipient returns the notifications stored for recipientID, newest first
func (i *Inbox) ListForRecipient(_ context.Context, recipientID uuid.UUID, limit int) ([]*notifications.Notification, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var result []*notifications.Notification
	for idx := len(i.ordered) - 1; idx >= 0; idx-- {
		n := i.ordered[idx]
		if n.RecipientID != recipientID {
			continue
		}
		c := *n
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
