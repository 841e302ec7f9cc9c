package closer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/pkg/clock"
	"github.com/badgerbay/marketplace/pkg/metrics"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 100
)

// ErrNotExpired is returned when asked to close a listing whose closing time has not passed
var ErrNotExpired = fmt.Errorf("listing has not reached its closing time")

// SweepResult summarises one sweep
type SweepResult struct {
	Scanned       int
	Closed        int
	AlreadyClosed int
	Failed        int
}

// Closer records the closing of expired listings. Any number of closers may
// run at once; the conditional close makes exactly one of them win.
type Closer struct {
	store     listings.Store
	clock     clock.Clock
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// Option configures a closer
type Option func(*Closer)

// WithInterval sets the time between sweeps
func WithInterval(d time.Duration) Option {
	return func(c *Closer) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithBatchSize sets how many expired listings are fetched per query
func WithBatchSize(n int) Option {
	return func(c *Closer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// New creates a closer
func New(store listings.Store, clk clock.Clock, logger *slog.Logger, opts ...Option) *Closer {
	c := &Closer{
		store:     store,
		clock:     clk,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run sweeps immediately and then on every tick until ctx is cancelled
func (c *Closer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("Auto-close sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep closes every open listing whose closing time has passed. Failures on
// individual listings are logged and left for the next sweep.
func (c *Closer) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult
	for {
		expired, err := c.store.ListListings(ctx, listings.ListingFilter{
			Status:       listings.StatusOpen,
			ClosesBefore: c.clock.Now(),
			Limit:        c.batchSize,
		})
		if err != nil {
			return result, fmt.Errorf("failed to list expired listings: %w", err)
		}

		closedBefore := result.Closed + result.AlreadyClosed
		for _, listing := range expired {
			result.Scanned++
			c.closeOne(ctx, listing, &result)
		}

		// Failed listings stay open and would be listed again; stop instead of spinning.
		progressed := result.Closed+result.AlreadyClosed > closedBefore
		if len(expired) < c.batchSize || !progressed || ctx.Err() != nil {
			break
		}
	}

	if result.Scanned > 0 {
		c.logger.Info("Auto-close sweep finished",
			"scanned", result.Scanned,
			"closed", result.Closed,
			"already_closed", result.AlreadyClosed,
			"failed", result.Failed,
		)
	}
	return result, nil
}

func (c *Closer) closeOne(ctx context.Context, listing *listings.Listing, result *SweepResult) {
	_, err := c.CloseExpired(ctx, listing)
	switch {
	case err == nil:
		result.Closed++
	case errors.Is(err, listings.ErrConflict), errors.Is(err, listings.ErrListingNotFound):
		// Another closer got there first, or the owner deleted it.
		result.AlreadyClosed++
		c.logger.Debug("Listing already closed", "listing_id", listing.ID)
	default:
		result.Failed++
		metrics.CloseFailuresTotal.Inc()
		c.logger.Warn("Failed to close listing, will retry next sweep",
			"listing_id", listing.ID,
			"error", err,
		)
	}
}

// CloseExpired records the closing of a listing whose deadline has passed.
// It returns ErrConflict when the listing was already closed by someone else.
func (c *Closer) CloseExpired(ctx context.Context, listing *listings.Listing) (*listings.Listing, error) {
	now := c.clock.Now()
	if listing.ClosesAt == nil || listing.ClosesAt.IsZero() || listing.ClosesAt.After(now) {
		return nil, ErrNotExpired
	}

	closed, err := c.store.ConditionalUpdate(ctx, listing.ID,
		listings.Expect{Status: listings.StatusOpen},
		listings.CloseUpdate(now, uuid.Nil),
	)
	if err != nil {
		return nil, err
	}

	metrics.ListingsClosedTotal.Inc()
	c.logger.Info("Listing closed", "listing_id", listing.ID, "current_bid", closed.CurrentBid)
	return closed, nil
}
