package listings

import "fmt"

// Auction errors surfaced to callers
var (
	ErrAuctionClosed   = fmt.Errorf("auction has ended")
	ErrUnauthenticated = fmt.Errorf("sign in required")
	ErrForbidden       = fmt.Errorf("forbidden: only the owner can perform this action")
	ErrListingNotFound = fmt.Errorf("listing not found")
)

// Store outcome errors
var (
	// ErrConflict means a conditional update lost to a concurrent write
	ErrConflict = fmt.Errorf("conditional update rejected: listing changed concurrently")
	// ErrTransient means the store could not be reached; the caller may retry
	ErrTransient = fmt.Errorf("listing store temporarily unavailable")
)

// Validation errors
var (
	ErrTitleRequired          = fmt.Errorf("title is required")
	ErrInvalidStartingPrice   = fmt.Errorf("starting price must not be negative")
	ErrPickupLocationRequired = fmt.Errorf("pick-up location is required")
	ErrInvalidClosingTime     = fmt.Errorf("closing date and time must be in the future")
	ErrInvalidTab             = fmt.Errorf("unknown browse tab")
)
