// Package events moves listing changes between the outbox, RabbitMQ and
// change feed subscribers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgdb "github.com/badgerbay/marketplace/pkg/database"
	pkgevents "github.com/badgerbay/marketplace/pkg/events"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/database"
)

// ListingExchange is the topic exchange listing changes are published to.
// Routing keys are the change types (listing.added, listing.modified, listing.removed).
const ListingExchange = "listing.events"

// ProducerConfig tunes the outbox relay
type ProducerConfig struct {
	BatchSize int
	Interval  time.Duration
}

// ListingEventsProducer relays listing changes from the outbox to RabbitMQ
type ListingEventsProducer struct {
	relay     *pkgevents.OutboxRelay
	publisher *pkgevents.RabbitMQPublisher
}

// NewListingEventsProducer creates a new producer
func NewListingEventsProducer(
	pool *pgxpool.Pool,
	conn *amqp.Connection,
	cfg ProducerConfig,
	logger *slog.Logger,
) (*ListingEventsProducer, error) {
	publisher, err := pkgevents.NewRabbitMQPublisher(conn, ListingExchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	relay := pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		cfg.BatchSize,
		cfg.Interval,
		ListingExchange,
		logger,
	)

	return &ListingEventsProducer{
		relay:     relay,
		publisher: publisher,
	}, nil
}

// Run starts the relay loop
func (p *ListingEventsProducer) Run(ctx context.Context) error {
	return p.relay.Run(ctx)
}

// Close closes the publisher channel
func (p *ListingEventsProducer) Close() error {
	return p.publisher.Close()
}
