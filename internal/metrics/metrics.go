// Package metrics holds the scout's prometheus collectors, registered at
// package-init time via promauto the same way the teacher's
// internal/metrics packages do across its own services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookupsTotal counts object-cache lookups by outcome (hit, miss).
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftscout_cache_lookups_total",
			Help: "Total number of object cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// CacheEvictionsTotal counts entries evicted from the object cache.
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swiftscout_cache_evictions_total",
			Help: "Total number of object cache evictions",
		},
	)

	// FetchAttemptsTotal counts fetch-pipeline RPC attempts by each
	// attempt's reply status.
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftscout_fetch_attempts_total",
			Help: "Total number of BatchFetchObjectVersion attempts by result status",
		},
		[]string{"status"},
	)

	// FetchLatency measures how long a Fetch call took end to end,
	// including retries.
	FetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swiftscout_fetch_latency_seconds",
			Help:    "Latency of a fetch pipeline call including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CommitBatchSize observes how many commit entries (one per written
	// object per transaction) were sent in a single BatchCommitUpdates call.
	CommitBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swiftscout_commit_batch_size",
			Help:    "Number of commit entries dispatched per BatchCommitUpdates call",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// CommitRetriesTotal counts stubborn-retry iterations in the committer.
	CommitRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swiftscout_commit_retries_total",
			Help: "Total number of commit batch retries due to transient errors",
		},
	)

	// NotificationsDeliveredTotal counts subscriber callbacks dispatched.
	NotificationsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swiftscout_notifications_delivered_total",
			Help: "Total number of update notifications delivered to subscribers",
		},
	)

	// TransactionsTotal counts completed transactions by outcome.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftscout_transactions_total",
			Help: "Total number of transactions by terminal state",
		},
		[]string{"state"},
	)
)
