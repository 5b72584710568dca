package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "moviesearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "upstream_requests_total",
		Help:      "Total requests to the upstream movie catalog by result status.",
	}, []string{"status"})

	UpstreamRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "moviesearch",
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream catalog request duration in seconds.",
		Buckets:   []float64{0.1, 0.3, 0.5, 1, 2, 5, 10},
	})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "cache_hits_total",
		Help:      "Total number of upstream response cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "cache_misses_total",
		Help:      "Total number of upstream response cache misses.",
	})

	SearchDispatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "search_dispatches_total",
		Help:      "Total debounced query dispatches to the upstream gateway.",
	})

	StaleResponsesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "stale_responses_dropped_total",
		Help:      "Responses discarded because a newer dispatch superseded them.",
	})

	TrendingUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "trending_updates_total",
		Help:      "Trending counter updates by outcome (created, incremented, failed).",
	}, []string{"outcome"})

	TrendingConflictRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviesearch",
		Name:      "trending_conflict_retries_total",
		Help:      "Optimistic-concurrency retries while updating trending counters.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		SearchDispatchesTotal,
		StaleResponsesDropped,
		TrendingUpdatesTotal,
		TrendingConflictRetries,
	)
}
