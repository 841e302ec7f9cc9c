package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badgerbay/marketplace/pkg/clock"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/memory"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
)

var start = time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)

func newListing(owner uuid.UUID, createdAt time.Time) *listings.Listing {
	closesAt := createdAt.Add(time.Hour)
	return &listings.Listing{
		ID:             uuid.New(),
		Title:          "Desk lamp",
		OwnerID:        owner,
		StartingPrice:  5,
		CurrentBid:     5,
		Status:         listings.StatusOpen,
		ClosesAt:       &closesAt,
		PickupLocation: "Back porch",
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(clock.NewManual(start))
	owner := uuid.New()

	older := newListing(owner, start)
	newer := newListing(uuid.New(), start.Add(time.Minute))
	require.NoError(t, store.CreateListing(ctx, older))
	require.NoError(t, store.CreateListing(ctx, newer))
	assert.Error(t, store.CreateListing(ctx, older), "duplicate id")

	got, err := store.GetListing(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older, got)

	// Returned listings are copies
	got.Title = "changed"
	again, _ := store.GetListing(ctx, older.ID)
	assert.Equal(t, "Desk lamp", again.Title)

	all, err := store.ListListings(ctx, listings.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)

	mine, err := store.ListListings(ctx, listings.ListingFilter{OwnerID: owner})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, older.ID, mine[0].ID)

	limited, err := store.ListListings(ctx, listings.ListingFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.DeleteListing(ctx, older.ID))
	_, err = store.GetListing(ctx, older.ID)
	assert.ErrorIs(t, err, listings.ErrListingNotFound)
	assert.ErrorIs(t, store.DeleteListing(ctx, older.ID), listings.ErrListingNotFound)

	changes := store.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, listings.ChangeAdded, changes[0].Type)
	assert.Equal(t, listings.ChangeAdded, changes[1].Type)
	assert.Equal(t, listings.ChangeRemoved, changes[2].Type)
	assert.Equal(t, owner, changes[2].ActorID)
}

func TestStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(start)
	store := memory.NewStore(clk)
	listing := newListing(uuid.New(), start)
	require.NoError(t, store.CreateListing(ctx, listing))
	bidder := uuid.New()

	five := int64(5)
	now := clk.Now()
	updated, err := store.ConditionalUpdate(ctx, listing.ID,
		listings.Expect{Status: listings.StatusOpen, CurrentBid: &five, OpenAt: &now},
		listings.BidUpdate(6, bidder))
	require.NoError(t, err)
	assert.Equal(t, int64(6), updated.CurrentBid)
	assert.Equal(t, &bidder, updated.LastBidderID)

	t.Run("stale bid is a conflict", func(t *testing.T) {
		_, err := store.ConditionalUpdate(ctx, listing.ID,
			listings.Expect{CurrentBid: &five}, listings.BidUpdate(6, uuid.New()))
		assert.ErrorIs(t, err, listings.ErrConflict)
	})

	t.Run("invariant violation is a conflict", func(t *testing.T) {
		_, err := store.ConditionalUpdate(ctx, listing.ID,
			listings.Expect{}, listings.BidUpdate(4, uuid.New()))
		assert.ErrorIs(t, err, listings.ErrConflict)
	})

	t.Run("missing listing", func(t *testing.T) {
		_, err := store.ConditionalUpdate(ctx, uuid.New(),
			listings.Expect{}, listings.BidUpdate(6, uuid.New()))
		assert.ErrorIs(t, err, listings.ErrListingNotFound)
	})

	changes := store.Changes()
	require.Len(t, changes, 2, "only successful mutations are recorded")
	bid := changes[1]
	assert.Equal(t, listings.ChangeModified, bid.Type)
	assert.Equal(t, int64(5), bid.PreviousBid)
	assert.Equal(t, bidder, bid.ActorID)
	assert.True(t, bid.BidRaised())
}

func TestStore_SubscribeListings(t *testing.T) {
	clk := clock.NewManual(start)
	store := memory.NewStore(clk)
	owner := uuid.New()

	require.NoError(t, store.CreateListing(context.Background(), newListing(owner, start)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []listings.Change
		failed   bool
	)
	done := make(chan error, 1)
	go func() {
		done <- store.SubscribeFrom(ctx, 0, listings.ListingFilter{OwnerID: owner}, func(_ context.Context, c listings.Change) error {
			mu.Lock()
			defer mu.Unlock()
			// Fail the first delivery once to force a redelivery
			if !failed {
				failed = true
				return errors.New("handler busy")
			}
			received = append(received, c)
			return nil
		})
	}()

	require.NoError(t, store.CreateListing(context.Background(), newListing(uuid.New(), start)))
	require.NoError(t, store.CreateListing(context.Background(), newListing(owner, start)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for _, c := range received {
		assert.Equal(t, owner, c.Listing.OwnerID)
	}
	all := store.Changes()
	assert.Equal(t, all[0].ID, received[0].ID, "redelivery keeps the change id")
	assert.Equal(t, all[2].ID, received[1].ID)
	mu.Unlock()

	cancel()
	assert.NoError(t, <-done)
}

func TestStore_Replay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(clock.NewManual(start))
	for range 3 {
		require.NoError(t, store.CreateListing(ctx, newListing(uuid.New(), start)))
	}

	var seen []uuid.UUID
	require.NoError(t, store.Replay(ctx, 1, func(_ context.Context, c listings.Change) error {
		seen = append(seen, c.ID)
		return nil
	}))
	all := store.Changes()
	assert.Equal(t, []uuid.UUID{all[1].ID, all[2].ID}, seen)

	boom := errors.New("boom")
	err := store.Replay(ctx, 0, func(context.Context, listings.Change) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestInbox(t *testing.T) {
	ctx := context.Background()
	inbox := memory.NewInbox()
	owner, other := uuid.New(), uuid.New()

	first := &notifications.Notification{ID: uuid.New(), ChangeID: uuid.New(), RecipientID: owner, Amount: 6}
	second := &notifications.Notification{ID: uuid.New(), ChangeID: uuid.New(), RecipientID: owner, Amount: 7}
	foreign := &notifications.Notification{ID: uuid.New(), ChangeID: uuid.New(), RecipientID: other, Amount: 9}

	for _, n := range []*notifications.Notification{first, second, foreign} {
		created, err := inbox.Save(ctx, n)
		require.NoError(t, err)
		assert.True(t, created)
	}

	duplicate := *first
	duplicate.ID = uuid.New()
	created, err := inbox.Save(ctx, &duplicate)
	require.NoError(t, err)
	assert.False(t, created, "same change id is stored once")

	got, err := inbox.ListForRecipient(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	got, err = inbox.ListForRecipient(ctx, owner, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)
}
