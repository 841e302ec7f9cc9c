package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/badgerbay/marketplace/pkg/events"
)

// fakeTx records how the relay settled its transaction
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeTxManager struct {
	tx *fakeTx
}

func (m *fakeTxManager) BeginTx(context.Context) (pgx.Tx, error) {
	return m.tx, nil
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func (m *MockOutboxRepository) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*events.OutboxEvent, error) {
	args := m.Called(ctx, tx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*events.OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status events.OutboxStatus) error {
	return m.Called(ctx, tx, id, status).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, exchange string, msg events.Message) error {
	return m.Called(ctx, exchange, msg).Error(0)
}

func newRelay(repo events.OutboxRepository, pub events.EventPublisher, tx *fakeTx) *events.OutboxRelay {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return events.NewOutboxRelay(repo, pub, &fakeTxManager{tx: tx}, 10, 10*time.Millisecond, "listing.events", logger)
}

func pendingEvent(eventType string) *events.OutboxEvent {
	return &events.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: uuid.New(),
		EventType:   eventType,
		Payload:     []byte(eventType),
		Status:      events.OutboxStatusPending,
	}
}

func TestOutboxRelay_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes in order and commits", func(t *testing.T) {
		tx := &fakeTx{}
		repo := new(MockOutboxRepository)
		pub := new(MockPublisher)
		first, second := pendingEvent("listing.added"), pendingEvent("listing.modified")

		repo.On("GetPendingEvents", ctx, tx, 10).Return([]*events.OutboxEvent{first, second}, nil)
		var published []string
		pub.On("Publish", ctx, "listing.events", mock.Anything).
			Run(func(args mock.Arguments) {
				published = append(published, args.Get(2).(events.Message).RoutingKey)
			}).
			Return(nil)
		repo.On("UpdateEventStatus", ctx, tx, first.ID, events.OutboxStatusPublished).Return(nil)
		repo.On("UpdateEventStatus", ctx, tx, second.ID, events.OutboxStatusPublished).Return(nil)

		n, err := newRelay(repo, pub, tx).ProcessBatch(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"listing.added", "listing.modified"}, published)
		assert.True(t, tx.committed)
		pub.AssertCalled(t, "Publish", ctx, "listing.events", events.Message{
			ID:         first.ID.String(),
			RoutingKey: "listing.added",
			Body:       []byte("listing.added"),
		})
		repo.AssertExpectations(t)
	})

	t.Run("empty outbox", func(t *testing.T) {
		tx := &fakeTx{}
		repo := new(MockOutboxRepository)
		pub := new(MockPublisher)
		repo.On("GetPendingEvents", ctx, tx, 10).Return([]*events.OutboxEvent{}, nil)

		n, err := newRelay(repo, pub, tx).ProcessBatch(ctx)

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.False(t, tx.committed)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("publish failure leaves the batch pending", func(t *testing.T) {
		tx := &fakeTx{}
		repo := new(MockOutboxRepository)
		pub := new(MockPublisher)
		first, second := pendingEvent("listing.added"), pendingEvent("listing.modified")

		repo.On("GetPendingEvents", ctx, tx, 10).Return([]*events.OutboxEvent{first, second}, nil)
		pub.On("Publish", ctx, "listing.events", mock.MatchedBy(func(m events.Message) bool {
			return m.ID == first.ID.String()
		})).Return(nil)
		pub.On("Publish", ctx, "listing.events", mock.MatchedBy(func(m events.Message) bool {
			return m.ID == second.ID.String()
		})).Return(errors.New("channel closed"))
		repo.On("UpdateEventStatus", ctx, tx, first.ID, events.OutboxStatusPublished).Return(nil)

		_, err := newRelay(repo, pub, tx).ProcessBatch(ctx)

		assert.Error(t, err)
		assert.False(t, tx.committed)
		assert.True(t, tx.rolledBack)
		repo.AssertNotCalled(t, "UpdateEventStatus", ctx, tx, second.ID, mock.Anything)
	})

	t.Run("fetch failure", func(t *testing.T) {
		tx := &fakeTx{}
		repo := new(MockOutboxRepository)
		repo.On("GetPendingEvents", ctx, tx, 10).Return(nil, errors.New("connection reset"))

		_, err := newRelay(repo, new(MockPublisher), tx).ProcessBatch(ctx)

		assert.Error(t, err)
		assert.True(t, tx.rolledBack)
	})
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	tx := &fakeTx{}
	repo := new(MockOutboxRepository)
	polled := make(chan struct{}, 1)
	repo.On("GetPendingEvents", mock.Anything, mock.Anything, 10).
		Run(func(mock.Arguments) {
			select {
			case polled <- struct{}{}:
			default:
			}
		}).
		Return([]*events.OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newRelay(repo, new(MockPublisher), tx).Run(ctx) }()

	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("relay never polled")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
