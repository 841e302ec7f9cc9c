//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badgerbay/marketplace/pkg/clock"
	pkgdb "github.com/badgerbay/marketplace/pkg/database"
	"github.com/badgerbay/marketplace/pkg/testhelpers"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/cache"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/database"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/events"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/bids"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
	"github.com/badgerbay/marketplace/services/listing-service/migrations"
)

// declareQueue binds the consumer queue up front so nothing published before
// the consumer starts is dropped by the exchange
func declareQueue(t *testing.T, conn *amqp.Connection, queue string) {
	t.Helper()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.ExchangeDeclare(events.ListingExchange, "topic", true, false, false, false, nil))
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(queue, "listing.#", events.ListingExchange, false, nil))
}

func TestListingChangePipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 1. Infrastructure
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	defer testDB.Close(t)
	amqpURL := testhelpers.NewTestRabbitMQ(t)
	redisClient := testhelpers.NewTestRedis(t)

	conn, err := amqp.Dial(amqpURL)
	require.NoError(t, err)
	defer conn.Close()
	declareQueue(t, conn, events.NotifierQueue)

	// 2. Write side
	clk := clock.NewSystem()
	txManager := pkgdb.NewPostgresTransactionManager(testDB.Pool, time.Second)
	outboxRepo := database.NewPostgresOutboxRepository(testDB.Pool)
	repo := database.NewPostgresListingRepository(testDB.Pool, txManager, outboxRepo)
	listingService := listings.NewService(repo, clk)
	bidService := bids.NewService(repo, clk)

	// 3. Relay and notifier
	producer, err := events.NewListingEventsProducer(testDB.Pool, conn, events.ProducerConfig{
		BatchSize: 10,
		Interval:  50 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	defer producer.Close()

	inbox := database.NewPostgresNotificationRepository(testDB.Pool)
	notifier := notifications.NewNotifier(inbox, clk, logger,
		notifications.WithPublisher(cache.NewRedisNotificationPublisher(redisClient)))
	consumer := events.NewChangeConsumer(conn, events.NotifierQueue, logger)

	go func() { _ = producer.Run(ctx) }()
	go func() { _ = notifier.Run(ctx, consumer) }()

	// 4. The owner listens for live notifications
	owner, bidder := uuid.New(), uuid.New()
	sub := redisClient.Subscribe(ctx, cache.ChannelFor(owner))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	// 5. Act
	listing, err := listingService.CreateListing(ctx, listings.CreateListingCommand{
		OwnerID:        owner,
		Title:          "Camping stove",
		StartingPrice:  8,
		PickupLocation: "Garage",
		ClosesAt:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = bidService.PlaceBid(ctx, bids.PlaceBidCommand{ListingID: listing.ID, BidderID: bidder})
	require.NoError(t, err)
	_, err = bidService.PlaceBid(ctx, bids.PlaceBidCommand{ListingID: listing.ID, BidderID: owner})
	require.NoError(t, err)

	// 6. Assert: one live message and one stored notification, for the foreign bid only
	select {
	case msg := <-sub.Channel():
		var got cache.NotificationMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, listing.ID, got.ListingID)
		assert.Equal(t, bidder, got.BidderID)
		assert.Equal(t, int64(9), got.Amount)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for live notification")
	}

	require.Eventually(t, func() bool {
		pending, err := outboxRepo.CountPending(ctx)
		return err == nil && pending == 0
	}, 10*time.Second, 100*time.Millisecond, "outbox should drain")

	// The owner's own bid is the last change; once the queue is empty it has been handled
	require.Eventually(t, func() bool {
		q, err := queueDepth(conn, events.NotifierQueue)
		return err == nil && q == 0
	}, 10*time.Second, 100*time.Millisecond)

	stored, err := inbox.ListForRecipient(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(9), stored[0].Amount)
}

func queueDepth(conn *amqp.Connection, queue string) (int, error) {
	ch, err := conn.Channel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

func TestChangeConsumer_Delivery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	amqpURL := testhelpers.NewTestRabbitMQ(t)
	conn, err := amqp.Dial(amqpURL)
	require.NoError(t, err)
	defer conn.Close()

	const queue = "listing_consumer_test"
	declareQueue(t, conn, queue)

	var (
		mu       sync.Mutex
		attempts = map[uuid.UUID]int{}
		handled  []listings.Change
	)
	handle := func(_ context.Context, c listings.Change) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[c.ID]++
		if attempts[c.ID] == 1 {
			return errors.New("inbox unavailable")
		}
		handled = append(handled, c)
		return nil
	}

	owner := uuid.New()
	consumer := events.NewChangeConsumer(conn, queue, logger)
	go func() { _ = consumer.SubscribeListings(ctx, listings.ListingFilter{OwnerID: owner}, handle) }()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	publish := func(routingKey string, body []byte) {
		require.NoError(t, ch.PublishWithContext(ctx, events.ListingExchange, routingKey, false, false, amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Body:         body,
		}))
	}

	mine := listings.Change{
		ID:      uuid.New(),
		Type:    listings.ChangeAdded,
		Listing: &listings.Listing{ID: uuid.New(), OwnerID: owner, Status: listings.StatusOpen},
	}
	other := listings.Change{
		ID:      uuid.New(),
		Type:    listings.ChangeAdded,
		Listing: &listings.Listing{ID: uuid.New(), OwnerID: uuid.New(), Status: listings.StatusOpen},
	}

	publish("listing.added", []byte("not a change"))
	publish("listing.added", encode(t, other))
	publish("listing.added", encode(t, mine))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, 10*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, mine.ID, handled[0].ID)
	assert.Equal(t, 2, attempts[mine.ID], "a failed change is redelivered")
	assert.Zero(t, attempts[other.ID], "filtered changes never reach the handler")
	mu.Unlock()

	require.Eventually(t, func() bool {
		depth, err := queueDepth(conn, queue)
		return err == nil && depth == 0
	}, 10*time.Second, 100*time.Millisecond, "undecodable message is dropped, not requeued")
}
