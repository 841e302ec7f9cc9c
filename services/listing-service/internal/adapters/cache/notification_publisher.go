// Package cache pushes notifications to live sessions through Redis Pub/Sub
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
)

// ChannelPrefix is prepended to the recipient ID to form the Pub/Sub channel
const ChannelPrefix = "notifications:"

// ChannelFor returns the channel a user's live sessions subscribe to
func ChannelFor(recipientID uuid.UUID) string {
	return ChannelPrefix + recipientID.String()
}

// NotificationMessage is the JSON payload published for each notification
type NotificationMessage struct {
	ID           uuid.UUID `json:"id"`
	ListingID    uuid.UUID `json:"listing_id"`
	ListingTitle string    `json:"listing_title"`
	BidderID     uuid.UUID `json:"bidder_id"`
	Amount       int64     `json:"amount"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedisNotificationPublisher implements notifications.Publisher
type RedisNotificationPublisher struct {
	client redis.UniversalClient
}

// NewRedisNotificationPublisher creates a publisher on top of client
func NewRedisNotificationPublisher(client redis.UniversalClient) *RedisNotificationPublisher {
	return &RedisNotificationPublisher{client: client}
}

// Publish sends the notification to the recipient's channel
func (p *RedisNotificationPublisher) Publish(ctx context.Context, n *notifications.Notification) error {
	payload, err := json.Marshal(NotificationMessage{
		ID:           n.ID,
		ListingID:    n.ListingID,
		ListingTitle: n.ListingTitle,
		BidderID:     n.BidderID,
		Amount:       n.Amount,
		Message:      n.Message(),
		CreatedAt:    n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.client.Publish(ctx, ChannelFor(n.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
