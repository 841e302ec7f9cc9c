// Package wire encodes listing changes for the broker. Payloads are protobuf
// google.protobuf.Struct messages so any consumer can decode them without
// generated types.
package wire

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/badgerbay/marketplace/services/listing-service/internal/domain/listings"
)

// EncodeChange marshals a change into a protobuf payload
func EncodeChange(change listings.Change) ([]byte, error) {
	if change.Listing == nil {
		return nil, fmt.Errorf("change %s has no listing", change.ID)
	}

	msg, err := structpb.NewStruct(map[string]any{
		"change_id":    change.ID.String(),
		"type":         change.Type.String(),
		"previous_bid": change.PreviousBid,
		"actor_id":     change.ActorID.String(),
		"occurred_at":  formatTime(&change.OccurredAt),
		"listing":      listingFields(change.Listing),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build change message: %w", err)
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change: %w", err)
	}
	return payload, nil
}

// DecodeChange unmarshals a payload produced by EncodeChange
func DecodeChange(payload []byte) (listings.Change, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return listings.Change{}, fmt.Errorf("failed to unmarshal change: %w", err)
	}

	d := decoder{fields: msg.AsMap()}
	change := listings.Change{
		ID:          d.uuid("change_id"),
		Type:        listings.ChangeType(d.string("type")),
		PreviousBid: d.int64("previous_bid"),
		ActorID:     d.uuid("actor_id"),
	}
	if t := d.time("occurred_at"); t != nil {
		change.OccurredAt = *t
	}

	nested, ok := d.fields["listing"].(map[string]any)
	if !ok {
		return listings.Change{}, fmt.Errorf("change payload has no listing")
	}
	ld := decoder{fields: nested}
	change.Listing = &listings.Listing{
		ID:                  ld.uuid("id"),
		Title:               ld.string("title"),
		Description:         ld.string("description"),
		OwnerID:             ld.uuid("owner_id"),
		StartingPrice:       ld.int64("starting_price"),
		CurrentBid:          ld.int64("current_bid"),
		LastBidderID:        ld.optionalUUID("last_bidder_id"),
		Status:              listings.Status(ld.string("status")),
		ClosesAt:            ld.time("closes_at"),
		ClosedAt:            ld.time("closed_at"),
		PickupLocation:      ld.string("pickup_location"),
		HidePickupUntilSold: ld.bool("hide_pickup_until_sold"),
	}
	if t := ld.time("created_at"); t != nil {
		change.Listing.CreatedAt = *t
	}
	if t := ld.time("updated_at"); t != nil {
		change.Listing.UpdatedAt = *t
	}

	if d.err != nil {
		return listings.Change{}, d.err
	}
	if ld.err != nil {
		return listings.Change{}, ld.err
	}
	if !change.Type.IsValid() {
		return listings.Change{}, fmt.Errorf("unknown change type %q", change.Type)
	}
	return change, nil
}

func listingFields(l *listings.Listing) map[string]any {
	var lastBidder any
	if l.LastBidderID != nil {
		lastBidder = l.LastBidderID.String()
	}
	return map[string]any{
		"id":                     l.ID.String(),
		"title":                  l.Title,
		"description":            l.Description,
		"owner_id":               l.OwnerID.String(),
		"starting_price":         l.StartingPrice,
		"current_bid":            l.CurrentBid,
		"last_bidder_id":         lastBidder,
		"status":                 string(l.Status),
		"closes_at":              formatTime(l.ClosesAt),
		"closed_at":              formatTime(l.ClosedAt),
		"pickup_location":        l.PickupLocation,
		"hide_pickup_until_sold": l.HidePickupUntilSold,
		"created_at":             formatTime(&l.CreatedAt),
		"updated_at":             formatTime(&l.UpdatedAt),
	}
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// decoder reads typed values out of a decoded Struct, keeping the first error
type decoder struct {
	fields map[string]any
	err    error
}

func (d *decoder) fail(key string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (d *decoder) string(key string) string {
	s, _ := d.fields[key].(string)
	return s
}

func (d *decoder) bool(key string) bool {
	b, _ := d.fields[key].(bool)
	return b
}

func (d *decoder) int64(key string) int64 {
	f, _ := d.fields[key].(float64)
	return int64(f)
}

func (d *decoder) uuid(key string) uuid.UUID {
	s := d.string(key)
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		d.fail(key, err)
	}
	return id
}

func (d *decoder) optionalUUID(key string) *uuid.UUID {
	if d.string(key) == "" {
		return nil
	}
	id := d.uuid(key)
	return &id
}

func (d *decoder) time(key string) *time.Time {
	s := d.string(key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(key, err)
		return nil
	}
	return &t
}
