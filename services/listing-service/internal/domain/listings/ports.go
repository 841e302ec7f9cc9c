package listings

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable listing collaborator. Implementations must make
// ConditionalUpdate atomic per listing and emit one Change per successful mutation.
type Store interface {
	// CreateListing persists a new listing
	CreateListing(ctx context.Context, listing *Listing) error

	// GetListing returns ErrListingNotFound when the listing does not exist
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)

	// ListListings returns listings matching the filter, newest first
	ListListings(ctx context.Context, filter ListingFilter) ([]*Listing, error)

	// ConditionalUpdate applies update only if the stored listing still satisfies expect.
	// Returns ErrConflict when the precondition or a listing invariant fails,
	// ErrListingNotFound when the listing is gone and ErrTransient when the store is unreachable.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expect Expect, update Update) (*Listing, error)

	// DeleteListing physically removes a listing
	DeleteListing(ctx context.Context, id uuid.UUID) error
}

// ChangeHandler consumes one change. Returning an error asks the feed to redeliver it.
type ChangeHandler func(ctx context.Context, change Change) error

// ChangeFeed delivers listing changes at least once, in order per listing
type ChangeFeed interface {
	// SubscribeListings blocks, calling handle for each change matching filter,
	// until ctx is cancelled or the feed fails.
	SubscribeListings(ctx context.Context, filter ListingFilter, handle ChangeHandler) error
}
