package listings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/pkg/clock"
)

// CreateListingCommand represents the command to create a new listing
type CreateListingCommand struct {
	OwnerID             uuid.UUID
	Title               string
	Description         string
	StartingPrice       int64
	PickupLocation      string
	HidePickupUntilSold bool
	ClosesAt            time.Time
}

// Tab selects one of the browse views
type Tab string

const (
	TabAll  Tab = "all"
	TabMine Tab = "mine"
	TabTop  Tab = "top"
	TabSold Tab = "sold"
)

// BrowseQuery represents the parameters for browsing listings
type BrowseQuery struct {
	ViewerID uuid.UUID
	Tab      Tab
	Search   string
	Limit    int
}

// Service implements listing lifecycle operations outside of bidding and closing
type Service struct {
	store Store
	clock clock.Clock
}

// NewService creates a new listing service
func NewService(store Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// CreateListing validates and persists a new open listing
func (s *Service) CreateListing(ctx context.Context, cmd CreateListingCommand) (*Listing, error) {
	now := s.clock.Now()

	if cmd.OwnerID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if cmd.StartingPrice < 0 {
		return nil, ErrInvalidStartingPrice
	}
	pickup := strings.TrimSpace(cmd.PickupLocation)
	if pickup == "" {
		return nil, ErrPickupLocationRequired
	}
	if !cmd.ClosesAt.After(now) {
		return nil, ErrInvalidClosingTime
	}

	closesAt := cmd.ClosesAt.UTC()
	listing := &Listing{
		ID:                  uuid.New(),
		Title:               title,
		Description:         cmd.Description,
		OwnerID:             cmd.OwnerID,
		StartingPrice:       cmd.StartingPrice,
		CurrentBid:          cmd.StartingPrice,
		Status:              StatusOpen,
		ClosesAt:            &closesAt,
		PickupLocation:      pickup,
		HidePickupUntilSold: cmd.HidePickupUntilSold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	return listing, nil
}

// GetListing returns the listing as viewerID may see it. uuid.Nil is an anonymous viewer.
func (s *Service) GetListing(ctx context.Context, id, viewerID uuid.UUID) (View, error) {
	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return View{}, err
	}
	return NewView(listing, viewerID, s.clock.Now()), nil
}

// BrowseListings returns the listings of one browse tab, filtered by title search
func (s *Service) BrowseListings(ctx context.Context, query BrowseQuery) ([]View, error) {
	now := s.clock.Now()

	filter := ListingFilter{}
	switch query.Tab {
	case "", TabAll, TabTop:
	case TabMine, TabSold:
		// Personal tabs are empty without a viewer; they never fall back to all listings.
		if query.ViewerID == uuid.Nil {
			return []View{}, nil
		}
		if query.Tab == TabMine {
			filter.OwnerID = query.ViewerID
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTab, query.Tab)
	}

	all, err := s.store.ListListings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	search := strings.ToLower(strings.TrimSpace(query.Search))
	selected := make([]*Listing, 0, len(all))
	for _, l := range all {
		closed := IsClosed(l, now)
		if query.Tab == TabSold {
			if !closed || !(l.IsOwnedBy(query.ViewerID) || l.IsWinner(query.ViewerID)) {
				continue
			}
		} else if closed {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(l.Title), search) {
			continue
		}
		selected = append(selected, l)
	}

	if query.Tab == TabTop {
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].CurrentBid > selected[j].CurrentBid
		})
	}
	if query.Limit > 0 && len(selected) > query.Limit {
		selected = selected[:query.Limit]
	}

	views := make([]View, 0, len(selected))
	for _, l := range selected {
		views = append(views, NewView(l, query.ViewerID, now))
	}
	return views, nil
}

// DeleteListing removes a listing on behalf of its owner
func (s *Service) DeleteListing(ctx context.Context, id, requesterID uuid.UUID) error {
	if requesterID == uuid.Nil {
		return ErrUnauthenticated
	}

	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return err
	}
	if !listing.IsOwnedBy(requesterID) {
		return ErrForbidden
	}

	if err := s.store.DeleteListing(ctx, id); err != nil {
		if errors.Is(err, ErrListingNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	return nil
}
