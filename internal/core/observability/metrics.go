package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	layerQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_queries_total",
			Help: "Per-layer adapter invocations by source kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	queryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "Time from dispatch until every layer of a query settled.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	queryLayers = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_layers",
			Help:    "Number of layers targeted per query.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_total",
			Help: "Query lifecycle events by outcome (applied, rejected, stale).",
		},
		[]string{"event", "outcome"},
	)

	resultCacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_ops_total",
			Help: "Layer result cache operations by result.",
		},
		[]string{"op", "result"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

// ObserveLayerQuery records one adapter result. outcome is ok, failed or empty.
func ObserveLayerQuery(kind, outcome string) {
	layerQueriesTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveQuery(layers int, durationSeconds float64) {
	queryLayers.Observe(float64(layers))
	queryDurationSeconds.Observe(durationSeconds)
}

func ObserveTransition(event, outcome string) {
	lifecycleTransitions.WithLabelValues(event, outcome).Inc()
}

func ObserveResultCache(op, result string) {
	resultCacheOps.WithLabelValues(op, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
