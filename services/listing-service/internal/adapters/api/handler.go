// Package api exposes the listing service over ConnectRPC. Messages are
// google.protobuf.Struct values so clients can use the Connect JSON or binary
// protocol without generated stubs.
package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/badgerbay/marketplace/pkg/auth"
	"github.com/badgerbay/marketplace/pkg/clock"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/bids"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/notifications"
)

// ServicePath is the route prefix of every listing procedure
const ServicePath = "/listings.v1.ListingService/"

const (
	CreateListingProcedure     = ServicePath + "CreateListing"
	GetListingProcedure        = ServicePath + "GetListing"
	ListListingsProcedure      = ServicePath + "ListListings"
	PlaceBidProcedure          = ServicePath + "PlaceBid"
	DeleteListingProcedure     = ServicePath + "DeleteListing"
	ListNotificationsProcedure = ServicePath + "ListNotifications"
)

const defaultPageSize = 50

type (
	request  = connect.Request[structpb.Struct]
	response = connect.Response[structpb.Struct]
)

// ListingServiceHandler serves listing, bid and notification procedures
type ListingServiceHandler struct {
	listingService *listings.Service
	bidService     *bids.Service
	inbox          notifications.Inbox
	clock          clock.Clock
}

// NewListingServiceHandler creates a new handler
func NewListingServiceHandler(
	listingService *listings.Service,
	bidService *bids.Service,
	inbox notifications.Inbox,
	clk clock.Clock,
) *ListingServiceHandler {
	return &ListingServiceHandler{
		listingService: listingService,
		bidService:     bidService,
		inbox:          inbox,
		clock:          clk,
	}
}

// Routes returns the path prefix and handler to mount on a mux
func (h *ListingServiceHandler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateListingProcedure, connect.NewUnaryHandler(CreateListingProcedure, h.CreateListing, opts...))
	mux.Handle(GetListingProcedure, connect.NewUnaryHandler(GetListingProcedure, h.GetListing, opts...))
	mux.Handle(ListListingsProcedure, connect.NewUnaryHandler(ListListingsProcedure, h.ListListings, opts...))
	mux.Handle(PlaceBidProcedure, connect.NewUnaryHandler(PlaceBidProcedure, h.PlaceBid, opts...))
	mux.Handle(DeleteListingProcedure, connect.NewUnaryHandler(DeleteListingProcedure, h.DeleteListing, opts...))
	mux.Handle(ListNotificationsProcedure, connect.NewUnaryHandler(ListNotificationsProcedure, h.ListNotifications, opts...))
	return ServicePath, mux
}

// CreateListing creates a new listing owned by the caller
func (h *ListingServiceHandler) CreateListing(ctx context.Context, req *request) (*response, error) {
	userID, _ := auth.GetUserID(ctx)
	p := newParams(req.Msg)

	closesAt, err := time.Parse(time.RFC3339, p.string("closes_at"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid closes_at format"))
	}
	if !p.has("starting_price") {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("starting_price is required"))
	}
	startingPrice, err := p.int64("starting_price")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	listing, err := h.listingService.CreateListing(ctx, listings.CreateListingCommand{
		OwnerID:             userID,
		Title:               p.string("title"),
		Description:         p.string("description"),
		StartingPrice:       startingPrice,
		PickupLocation:      p.string("pickup_location"),
		HidePickupUntilSold: p.boolOr("hide_pickup_until_sold", true),
		ClosesAt:            closesAt,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	view := listings.NewView(listing, userID, h.clock.Now())
	return respond(map[string]any{"listing": viewFields(view)})
}

// GetListing retrieves a listing as the caller may see it
func (h *ListingServiceHandler) GetListing(ctx context.Context, req *request) (*response, error) {
	userID, _ := auth.GetUserID(ctx)

	id, err := newParams(req.Msg).uuid("id")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	view, err := h.listingService.GetListing(ctx, id, userID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"listing": viewFields(view)})
}

// ListListings returns one browse tab
func (h *ListingServiceHandler) ListListings(ctx context.Context, req *request) (*response, error) {
	userID, _ := auth.GetUserID(ctx)
	p := newParams(req.Msg)

	limit, err := p.int64("page_size")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	views, err := h.listingService.BrowseListings(ctx, listings.BrowseQuery{
		ViewerID: userID,
		Tab:      listings.Tab(p.string("tab")),
		Search:   p.string("search"),
		Limit:    int(limit),
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	items := make([]any, 0, len(views))
	for _, v := range views {
		items = append(items, viewFields(v))
	}
	return respond(map[string]any{"listings": items})
}

// PlaceBid raises a listing's current bid by one increment
func (h *ListingServiceHandler) PlaceBid(ctx context.Context, req *request) (*response, error) {
	userID, _ := auth.GetUserID(ctx)

	listingID, err := newParams(req.Msg).uuid("listing_id")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	listing, err := h.bidService.PlaceBid(ctx, bids.PlaceBidCommand{
		ListingID: listingID,
		BidderID:  userID,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	view := listings.NewView(listing, userID, h.clock.Now())
	return respond(map[string]any{"listing": viewFields(view)})
}

// DeleteListing removes one of the caller's listings
func (h *ListingServiceHandler) DeleteListing(ctx context.Context, req *request) (*response, error) {
	userID, _ := auth.GetUserID(ctx)

	id, err := newParams(req.Msg).uuid("id")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := h.listingService.DeleteListing(ctx, id, userID); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{})
}

// ListNotifications returns the caller's bid notifications, newest first
func (h *ListingServiceHandler) ListNotifications(ctx context.Context, req *request) (*response, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, toConnectError(listings.ErrUnauthenticated)
	}

	limit, err := newParams(req.Msg).int64("page_size")
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	list, err := h.inbox.ListForRecipient(ctx, userID, int(limit))
	if err != nil {
		return nil, toConnectError(err)
	}

	items := make([]any, 0, len(list))
	for _, n := range list {
		items = append(items, map[string]any{
			"id":            n.ID.String(),
			"listing_id":    n.ListingID.String(),
			"listing_title": n.ListingTitle,
			"bidder_id":     n.BidderID.String(),
			"amount":        n.Amount,
			"message":       n.Message(),
			"created_at":    n.CreatedAt.Format(time.RFC3339),
		})
	}
	return respond(map[string]any{"notifications": items})
}

// toConnectError maps domain errors to Connect codes
func toConnectError(err error) error {
	switch {
	case errors.Is(err, listings.ErrAuctionClosed):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, listings.ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, listings.ErrForbidden):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, listings.ErrListingNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, listings.ErrTransient):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, listings.ErrTitleRequired),
		errors.Is(err, listings.ErrInvalidStartingPrice),
		errors.Is(err, listings.ErrPickupLocationRequired),
		errors.Is(err, listings.ErrInvalidClosingTime),
		errors.Is(err, listings.ErrInvalidTab):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func respond(fields map[string]any) (*response, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to build response: %w", err))
	}
	return connect.NewResponse(msg), nil
}

func viewFields(v listings.View) map[string]any {
	l := v.Listing
	fields := map[string]any{
		"id":                     l.ID.String(),
		"title":                  l.Title,
		"description":            l.Description,
		"owner_id":               l.OwnerID.String(),
		"starting_price":         l.StartingPrice,
		"current_bid":            l.CurrentBid,
		"status":                 string(l.Status),
		"closed":                 v.Closed,
		"closes_at_label":        listings.FormatClosingTime(l, time.UTC),
		"remaining":              v.Remaining.String(),
		"remaining_seconds":      int64(v.Remaining.Duration / time.Second),
		"pickup_location":        l.PickupLocation,
		"pickup_visible":         v.PickupVisible,
		"hide_pickup_until_sold": l.HidePickupUntilSold,
		"viewer_is_owner":        v.ViewerIsOwner,
		"viewer_is_winning":      v.ViewerIsWinning,
		"created_at":             l.CreatedAt.Format(time.RFC3339),
	}
	if l.LastBidderID != nil {
		fields["last_bidder_id"] = l.LastBidderID.String()
	}
	if l.ClosesAt != nil {
		fields["closes_at"] = l.ClosesAt.Format(time.RFC3339)
	}
	if l.ClosedAt != nil {
		fields["closed_at"] = l.ClosedAt.Format(time.RFC3339)
	}
	return fields
}

// params reads typed request fields; missing fields read as zero values
type params struct {
	fields map[string]*structpb.Value
}

func newParams(msg *structpb.Struct) params {
	return params{fields: msg.GetFields()}
}

func (p params) string(key string) string {
	return p.fields[key].GetStringValue()
}

// has reports whether key was sent with a non-null value
func (p params) has(key string) bool {
	v, ok := p.fields[key]
	if !ok {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func (p params) boolOr(key string, fallback bool) bool {
	if !p.has(key) {
		return fallback
	}
	return p.fields[key].GetBoolValue()
}

func (p params) int64(key string) (int64, error) {
	v, ok := p.fields[key]
	if !ok {
		return 0, nil
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	n := v.GetNumberValue()
	if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return 0, fmt.Errorf("%s must be a whole number", key)
	}
	return int64(n), nil
}

func (p params) uuid(key string) (uuid.UUID, error) {
	id, err := uuid.Parse(p.string(key))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", key)
	}
	return id, nil
}
