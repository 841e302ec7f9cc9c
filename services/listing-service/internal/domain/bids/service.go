package bids

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/pkg/clock"
	"github.com/badgerbay/marketplace/pkg/metrics"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

const (
	// DefaultIncrement is how much a single bid raises the current bid
	DefaultIncrement int64 = 1
	// DefaultMaxAttempts bounds how often a bid is recomputed after losing a race
	DefaultMaxAttempts = 3
)

// PlaceBidCommand represents the command to place a bid. Bidders do not
// choose an amount; every bid raises the current bid by the increment.
type PlaceBidCommand struct {
	ListingID uuid.UUID
	BidderID  uuid.UUID
}

// Service applies bids to listings with compare-and-set semantics
type Service struct {
	store       listings.Store
	clock       clock.Clock
	increment   int64
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

// Option configures the bid service
type Option func(*Service)

// WithIncrement overrides the bid increment
func WithIncrement(increment int64) Option {
	return func(s *Service) {
		if increment > 0 {
			s.increment = increment
		}
	}
}

// WithMaxAttempts overrides how many times a conflicting bid is attempted
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackOff overrides the delay policy between conflicting attempts
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Service) {
		s.newBackOff = newBackOff
	}
}

// NewService creates a new bid service
func NewService(store listings.Store, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		store:       store,
		clock:       clk,
		increment:   DefaultIncrement,
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	return b
}

// PlaceBid raises the listing's current bid by one increment on behalf of the bidder.
//
// The write only lands if the listing is still open, still closes after now and
// still carries the bid that was read. A lost race is recomputed from a fresh
// read. Once attempts run out the listing is read one last time: a listing
// that closed in the meantime fails with ErrAuctionClosed, anything else with
// ErrTransient.
func (s *Service) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*listings.Listing, error) {
	var placed *listings.Listing
	attempts := 0

	operation := func() error {
		attempts++

		listing, err := s.store.GetListing(ctx, cmd.ListingID)
		if err != nil {
			return backoff.Permanent(err)
		}

		now := s.clock.Now()
		if listings.IsClosed(listing, now) {
			return backoff.Permanent(listings.ErrAuctionClosed)
		}
		if cmd.BidderID == uuid.Nil {
			return backoff.Permanent(listings.ErrUnauthenticated)
		}

		readBid := listing.CurrentBid
		expect := listings.Expect{
			Status:     listings.StatusOpen,
			CurrentBid: &readBid,
			OpenAt:     &now,
		}
		update := listings.BidUpdate(readBid+s.increment, cmd.BidderID)

		updated, err := s.store.ConditionalUpdate(ctx, cmd.ListingID, expect, update)
		if errors.Is(err, listings.ErrConflict) {
			metrics.BidConflictRetriesTotal.Inc()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		placed = updated
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxAttempts-1)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, listings.ErrConflict) && s.closedSince(ctx, cmd.ListingID) {
			err = listings.ErrAuctionClosed
		}
		return nil, s.reject(err, attempts)
	}

	metrics.BidsAcceptedTotal.Inc()
	return placed, nil
}

// closedSince reports whether the listing has closed, either by the closer or
// by its deadline passing. A failed read counts as still open so the caller
// keeps the conflict.
func (s *Service) closedSince(ctx context.Context, id uuid.UUID) bool {
	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return false
	}
	return listings.IsClosed(listing, s.clock.Now())
}

func (s *Service) reject(err error, attempts int) error {
	switch {
	case errors.Is(err, listings.ErrAuctionClosed):
		metrics.BidRejectionsTotal.WithLabelValues("closed").Inc()
		return err
	case errors.Is(err, listings.ErrUnauthenticated):
		metrics.BidRejectionsTotal.WithLabelValues("unauthenticated").Inc()
		return err
	case errors.Is(err, listings.ErrListingNotFound):
		metrics.BidRejectionsTotal.WithLabelValues("not_found").Inc()
		return err
	case errors.Is(err, listings.ErrConflict):
		metrics.BidRejectionsTotal.WithLabelValues("contended").Inc()
		return fmt.Errorf("%w: bid lost to concurrent bids %d times", listings.ErrTransient, attempts)
	case errors.Is(err, listings.ErrTransient):
		metrics.BidRejectionsTotal.WithLabelValues("unavailable").Inc()
		return err
	default:
		metrics.BidRejectionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to place bid: %w", err)
	}
}
