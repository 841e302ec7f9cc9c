// Package metrics holds the Prometheus collectors shared by the listing service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_bids_accepted_total",
			Help: "Total number of bids applied to listings",
		},
	)

	BidRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_bid_rejections_total",
			Help: "Total number of rejected bids",
		},
		[]string{"reason"},
	)

	BidConflictRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_bid_conflict_retries_total",
			Help: "Total number of bid attempts retried after losing a concurrent write",
		},
	)
)

var (
	ListingsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listings_closed_total",
			Help: "Total number of listings closed by the auto-closer",
		},
	)

	CloseFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_close_failures_total",
			Help: "Total number of failed close attempts, retried on the next sweep",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listing_sweep_duration_seconds",
			Help:    "Duration of auto-closer sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var (
	NotificationsRaisedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_notifications_raised_total",
			Help: "Total number of owner notifications raised",
		},
	)

	DuplicateChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_duplicate_changes_total",
			Help: "Total number of redelivered change events skipped by the notifier",
		},
	)
)
