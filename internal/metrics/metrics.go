// Package metrics holds the Prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_sync_rounds_total",
		Help: "Sync rounds by account type and outcome (ok, remote_error, aborted)",
	}, []string{"account_type", "outcome"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_sync_round_duration_seconds",
		Help:    "Duration of sync rounds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms up to ~3.4m
	}, []string{"account_type"})

	ItemsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_items_inserted_total",
		Help: "New items written to the store",
	}, []string{"account_type"})

	ItemsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_items_skipped_total",
		Help: "Fetched items skipped because their GUID was already stored",
	}, []string{"account_type"})

	FeedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_feed_failures_total",
		Help: "Per-feed failures by error kind",
	}, []string{"kind"})

	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_feed_fetches_total",
		Help: "Raw feed fetches by result (ok, not_modified, error)",
	}, []string{"result"})

	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_remote_requests_total",
		Help: "HTTP requests made to sync backends by operation and status code",
	}, []string{"op", "code"})

	StatePushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_state_push_ids_total",
		Help: "Item ids pushed upstream by state and direction",
	}, []string{"state", "on"})
)
