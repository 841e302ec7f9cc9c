package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/badgerbay/marketplace/pkg/database"
	pkgevents "github.com/badgerbay/marketplace/pkg/events"
	"github.com/badgerbay/marketplace/services/listing-service/internal/adapters/events/wire"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

const listingColumns = `id, title, description, owner_id, starting_price, current_bid, last_bidder_id,
	status, closes_at, closed_at, pickup_location, hide_pickup_until_sold, created_at, updated_at`

// PostgresListingRepository implements listings.Store using pgx.
// Every mutation writes its change to the outbox in the same transaction.
type PostgresListingRepository struct {
	pool       *pgxpool.Pool // Keep pool for non-transactional reads
	txManager  pkgdb.TransactionManager
	outboxRepo pkgevents.OutboxRepository
}

// NewPostgresListingRepository creates a new PostgreSQL listing repository
func NewPostgresListingRepository(
	pool *pgxpool.Pool,
	txManager pkgdb.TransactionManager,
	outboxRepo pkgevents.OutboxRepository,
) *PostgresListingRepository {
	return &PostgresListingRepository{
		pool:       pool,
		txManager:  txManager,
		outboxRepo: outboxRepo,
	}
}

// CreateListing inserts the listing and records a listing.added change
func (r *PostgresListingRepository) CreateListing(ctx context.Context, listing *listings.Listing) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO listings (` + listingColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err := tx.Exec(ctx, query,
			listing.ID,
			listing.Title,
			listing.Description,
			listing.OwnerID,
			listing.StartingPrice,
			listing.CurrentBid,
			listing.LastBidderID,
			string(listing.Status),
			listing.ClosesAt,
			listing.ClosedAt,
			listing.PickupLocation,
			listing.HidePickupUntilSold,
			listing.CreatedAt,
			listing.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert listing: %w", err)
		}

		return r.recordChange(ctx, tx, listings.Change{
			Type:        listings.ChangeAdded,
			Listing:     listing,
			PreviousBid: listing.CurrentBid,
			ActorID:     listing.OwnerID,
			OccurredAt:  listing.CreatedAt,
		})
	})
}

// GetListing retrieves a listing by its ID (non-transactional read)
func (r *PostgresListingRepository) GetListing(ctx context.Context, id uuid.UUID) (*listings.Listing, error) {
	listing, err := r.getListing(ctx, r.pool, id, false)
	return listing, classify(err)
}

// ListListings returns listings matching the filter, newest first
func (r *PostgresListingRepository) ListListings(ctx context.Context, filter listings.ListingFilter) ([]*listings.Listing, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if filter.OwnerID != uuid.Nil {
		conditions = append(conditions, "owner_id = "+arg(filter.OwnerID))
	}
	if !filter.ClosesBefore.IsZero() {
		conditions = append(conditions, "closes_at IS NOT NULL AND closes_at <= "+arg(filter.ClosesBefore))
	}

	query := "SELECT " + listingColumns + " FROM listings"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query listings: %w", err))
	}
	defer rows.Close()

	var result []*listings.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		result = append(result, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating listings: %w", err))
	}
	return result, nil
}

// ConditionalUpdate locks the listing row, checks the precondition and writes the update.
// The row lock serializes writers of one listing, so the check and the write are atomic.
func (r *PostgresListingRepository) ConditionalUpdate(
	ctx context.Context,
	id uuid.UUID,
	expect listings.Expect,
	update listings.Update,
) (*listings.Listing, error) {
	var updated *listings.Listing
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		current, err := r.getListing(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := expect.Check(current); err != nil {
			return err
		}
		next, err := update.ApplyTo(current)
		if err != nil {
			return err
		}
		next.UpdatedAt = time.Now().UTC()

		query := `
			UPDATE listings
			SET current_bid = $1, last_bidder_id = $2, status = $3, closed_at = $4, updated_at = $5
			WHERE id = $6
		`
		result, err := tx.Exec(ctx, query,
			next.CurrentBid,
			next.LastBidderID,
			string(next.Status),
			next.ClosedAt,
			next.UpdatedAt,
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to update listing: %w", err)
		}
		if result.RowsAffected() == 0 {
			return listings.ErrListingNotFound
		}

		if err := r.recordChange(ctx, tx, listings.Change{
			Type:        listings.ChangeModified,
			Listing:     next,
			PreviousBid: current.CurrentBid,
			ActorID:     update.ActorID,
			OccurredAt:  next.UpdatedAt,
		}); err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteListing removes the listing and records a listing.removed change
func (r *PostgresListingRepository) DeleteListing(ctx context.Context, id uuid.UUID) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		current, err := r.getListing(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete listing: %w", err)
		}

		return r.recordChange(ctx, tx, listings.Change{
			Type:        listings.ChangeRemoved,
			Listing:     current,
			PreviousBid: current.CurrentBid,
			ActorID:     current.OwnerID,
			OccurredAt:  time.Now().UTC(),
		})
	})
}

// inTx runs fn in a transaction, committing only if fn succeeds
func (r *PostgresListingRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.txManager.BeginTx(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		// Rollback is safe to call even if committed
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// recordChange saves the change to the outbox; the outbox event ID is the change ID
func (r *PostgresListingRepository) recordChange(ctx context.Context, tx pgx.Tx, change listings.Change) error {
	change.ID = uuid.New()

	payload, err := wire.EncodeChange(change)
	if err != nil {
		return err
	}

	event := &pkgevents.OutboxEvent{
		ID:          change.ID,
		AggregateID: change.Listing.ID,
		EventType:   change.Type.String(),
		Payload:     payload,
		Status:      pkgevents.OutboxStatusPending,
		CreatedAt:   change.OccurredAt,
	}
	if err := r.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// getListing is the internal implementation that works with any DBTX
func (r *PostgresListingRepository) getListing(ctx context.Context, db pkgdb.DBTX, id uuid.UUID, forUpdate bool) (*listings.Listing, error) {
	query := "SELECT " + listingColumns + " FROM listings WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	listing, err := scanListing(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, listings.ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

func scanListing(row pgx.Row) (*listings.Listing, error) {
	var (
		l      listings.Listing
		status string
	)
	err := row.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.OwnerID,
		&l.StartingPrice,
		&l.CurrentBid,
		&l.LastBidderID,
		&status,
		&l.ClosesAt,
		&l.ClosedAt,
		&l.PickupLocation,
		&l.HidePickupUntilSold,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = listings.Status(status)
	if l.ClosesAt != nil {
		t := l.ClosesAt.UTC()
		l.ClosesAt = &t
	}
	if l.ClosedAt != nil {
		t := l.ClosedAt.UTC()
		l.ClosedAt = &t
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}
