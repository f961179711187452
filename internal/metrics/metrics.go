package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache metrics
var (
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_cache_requests_total",
			Help: "Result cache lookups by scope and outcome (hit, miss, refresh)",
		},
		[]string{"scope", "result"},
	)

	CacheStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_cache_store_errors_total",
			Help: "Cache store failures by scope and operation",
		},
		[]string{"scope", "op"},
	)
)

// Aggregation metrics
var (
	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energy_aggregation_duration_seconds",
			Help:    "Time taken to fetch and aggregate a harvest log",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	RejectedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_rejected_rows_total",
		Help: "Harvest log rows excluded from aggregation as malformed",
	})
)

// Upstream metrics
var (
	UpstreamFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_upstream_fetch_failures_total",
			Help: "Harvest log fetches that failed after retries, by source",
		},
		[]string{"source"},
	)

	UpstreamRowsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_upstream_rows_fetched_total",
			Help: "Harvest log rows read from the upstream source",
		},
		[]string{"source"},
	)
)

// HTTP metrics
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// Live client metrics
var (
	QuotePollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_quote_poll_failures_total",
		Help: "Pending-units quote polls that failed and were skipped",
	})
)
