package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
)

// PostgresNotificationRepository implements notifications.Inbox using pgx.
// The unique change_id column makes a redelivered change a no-op.
type PostgresNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresNotificationRepository creates a new PostgreSQL notification repository
func NewPostgresNotificationRepository(pool *pgxpool.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

// Save inserts the notification unless its change was already recorded
func (r *PostgresNotificationRepository) Save(ctx context.Context, n *notifications.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (id, change_id, recipient_id, listing_id, listing_title, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (change_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		n.ID,
		n.ChangeID,
		n.RecipientID,
		n.ListingID,
		n.ListingTitle,
		n.BidderID,
		n.Amount,
		n.CreatedAt,
	)
	if err != nil {
		return false, classify(fmt.Errorf("failed to insert notification: %w", err))
	}
	return result.RowsAffected() == 1, nil
}

// ListForRecipient returns a user's notifications, newest first
func (r *PostgresNotificationRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]*notifications.Notification, error) {
	query := `
		SELECT id, change_id, recipient_id, listing_id, listing_title, bidder_id, amount, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id
	`
	args := []any{recipientID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query notifications: %w", err))
	}
	defer rows.Close()

	var result []*notifications.Notification
	for rows.Next() {
		var n notifications.Notification
		if err := rows.Scan(
			&n.ID,
			&n.ChangeID,
			&n.RecipientID,
			&n.ListingID,
			&n.ListingTitle,
			&n.BidderID,
			&n.Amount,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.CreatedAt = n.CreatedAt.UTC()
		result = append(result, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating notifications: %w", err))
	}
	return result, nil
}
