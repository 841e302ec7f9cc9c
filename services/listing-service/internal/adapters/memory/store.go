// Package memory holds in-process fakes of the listing store, change feed and
// notification inbox for tests. They mirror the Postgres conditional update and
// change feed semantics; no binary wires them.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/pkg/clock"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

const redeliveryDelay = 10 * time.Millisecond

// Store implements listings.Store and listings.ChangeFeed
type Store struct {
	clock clock.Clock

	mu       sync.Mutex
	listings map[uuid.UUID]*listings.Listing
	log      []listings.Change
	appended chan struct{} // closed and replaced on every append
}

// NewStore creates an empty store
func NewStore(clk clock.Clock) *Store {
	return &Store{
		clock:    clk,
		listings: make(map[uuid.UUID]*listings.Listing),
		appended: make(chan struct{}),
	}
}

// record appends a change to the feed. Caller holds mu.
func (s *Store) record(changeType listings.ChangeType, l *listings.Listing, previousBid int64, actorID uuid.UUID) {
	s.log = append(s.log, listings.Change{
		ID:          uuid.New(),
		Type:        changeType,
		Listing:     l.Clone(),
		PreviousBid: previousBid,
		ActorID:     actorID,
		OccurredAt:  s.clock.Now(),
	})
	close(s.appended)
	s.appended = make(chan struct{})
}

func (s *Store) CreateListing(_ context.Context, listing *listings.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[listing.ID]; exists {
		return fmt.Errorf("listing %s already exists", listing.ID)
	}
	s.listings[listing.ID] = listing.Clone()
	s.record(listings.ChangeAdded, listing, listing.CurrentBid, listing.OwnerID)
	return nil
}

func (s *Store) GetListing(_ context.Context, id uuid.UUID) (*listings.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, listings.ErrListingNotFound
	}
	return l.Clone(), nil
}

func (s *Store) ListListings(_ context.Context, filter listings.ListingFilter) ([]*listings.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*listings.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if filter.Matches(l) {
			result = append(result, l.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ConditionalUpdate(
	_ context.Context,
	id uuid.UUID,
	expect listings.Expect,
	update listings.Update,
) (*listings.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.listings[id]
	if !ok {
		return nil, listings.ErrListingNotFound
	}
	if err := expect.Check(current); err != nil {
		return nil, err
	}
	next, err := update.ApplyTo(current)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = s.clock.Now()

	s.listings[id] = next
	s.record(listings.ChangeModified, next, current.CurrentBid, update.ActorID)
	return next.Clone(), nil
}

func (s *Store) DeleteListing(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return listings.ErrListingNotFound
	}
	delete(s.listings, id)
	s.record(listings.ChangeRemoved, l, l.CurrentBid, l.OwnerID)
	return nil
}

// Changes returns a copy of every change recorded so far
func (s *Store) Changes() []listings.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]listings.Change(nil), s.log...)
}

// SubscribeListings delivers changes recorded after the call, in order.
// A handler error redelivers the same change until it succeeds or ctx ends.
func (s *Store) SubscribeListings(ctx context.Context, filter listings.ListingFilter, handle listings.ChangeHandler) error {
	s.mu.Lock()
	offset := len(s.log)
	s.mu.Unlock()

	return s.SubscribeFrom(ctx, offset, filter, handle)
}

// SubscribeFrom is SubscribeListings starting at a given feed offset
func (s *Store) SubscribeFrom(ctx context.Context, offset int, filter listings.ListingFilter, handle listings.ChangeHandler) error {
	for {
		s.mu.Lock()
		batch := append([]listings.Change(nil), s.log[offset:]...)
		wait := s.appended
		s.mu.Unlock()

		for _, change := range batch {
			if filter.Matches(change.Listing) {
				if err := deliver(ctx, change, handle); err != nil {
					return nil
				}
			}
			offset++
		}

		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-wait:
			}
		}
	}
}

// Replay delivers changes from offset onwards once, as a reconnecting consumer would see them
func (s *Store) Replay(ctx context.Context, offset int, handle listings.ChangeHandler) error {
	for _, change := range s.Changes()[offset:] {
		if err := handle(ctx, change); err != nil {
			return err
		}
	}
	return nil
}

func deliver(ctx context.Context, change listings.Change, handle listings.ChangeHandler) error {
	for {
		if err := handle(ctx, change); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redeliveryDelay):
		}
	}
}
