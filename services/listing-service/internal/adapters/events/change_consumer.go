package events

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	pkgevents "github.com/badgerbay/marketplace/pkg/events"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/events/wire"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

// NotifierQueue is the durable queue the change notifier consumes
const NotifierQueue = "listing_notifier"

// ChangeConsumer implements listings.ChangeFeed on top of a durable RabbitMQ queue.
// Messages are acked only after the handler succeeds, so delivery is at least once.
type ChangeConsumer struct {
	conn   *amqp.Connection
	queue  string
	logger *slog.Logger
}

// NewChangeConsumer creates a consumer reading from queue
func NewChangeConsumer(conn *amqp.Connection, queue string, logger *slog.Logger) *ChangeConsumer {
	return &ChangeConsumer{
		conn:   conn,
		queue:  queue,
		logger: logger,
	}
}

// SubscribeListings consumes changes until ctx is cancelled or the channel closes
func (c *ChangeConsumer) SubscribeListings(ctx context.Context, filter listings.ListingFilter, handle listings.ChangeHandler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if setupErr := c.setupRabbitMQ(ch); setupErr != nil {
		return fmt.Errorf("failed to setup rabbitmq: %w", setupErr)
	}

	// One unacked message at a time keeps per-listing order across redeliveries
	if qosErr := ch.Qos(1, 0, false); qosErr != nil {
		return fmt.Errorf("failed to set qos: %w", qosErr)
	}

	msgs, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Waiting for listing changes...", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			c.deliver(ctx, d, filter, handle)
		}
	}
}

func (c *ChangeConsumer) deliver(ctx context.Context, d amqp.Delivery, filter listings.ListingFilter, handle listings.ChangeHandler) {
	change, err := wire.DecodeChange(d.Body)
	if err != nil {
		c.logger.Error("Failed to decode change", "message_id", d.MessageId, "error", err)
		// Undecodable messages will never succeed; drop them.
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to Nack message", "error", nackErr)
		}
		return
	}

	if filter.Matches(change.Listing) {
		if err := handle(ctx, change); err != nil {
			c.logger.Error("Failed to handle change", "change_id", change.ID, "error", err)
			if nackErr := d.Nack(false, true); nackErr != nil {
				c.logger.Error("Failed to Nack message (requeue)", "error", nackErr)
			}
			return
		}
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("Failed to Ack message", "error", ackErr)
	}
}

func (c *ChangeConsumer) setupRabbitMQ(ch *amqp.Channel) error {
	if err := pkgevents.DeclareTopicExchange(ch, ListingExchange); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return err
	}

	return ch.QueueBind(
		q.Name,          // queue name
		"listing.#",     // routing key
		ListingExchange, // exchange
		false,
		nil,
	)
}
