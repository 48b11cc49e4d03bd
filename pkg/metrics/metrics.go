// Package metrics defines the Prometheus metric collectors used across the
// symbol search service and exposes an HTTP handler for scraping.
//
// All recording helpers are safe to call on a nil *Metrics so library
// packages can run without a registry (tests, the REPL).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	SearchQueriesTotal      *prometheus.CounterVec
	SearchLatency           prometheus.Histogram
	SearchResultsCount      prometheus.Histogram
	ShardLoadsTotal         *prometheus.CounterVec
	ShardLoadDuration       prometheus.Histogram
	ShardLoadWaitersTotal   prometheus.Counter
	ShardsLoaded            prometheus.Gauge
	MalformedRecordsTotal   prometheus.Counter
	ShardCacheTotal         *prometheus.CounterVec
	SessionGenerationsTotal prometheus.Counter
	SessionStaleDiscarded   prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symbol_search_queries_total",
				Help: "Total symbol queries by outcome (ok, empty, partial, degraded).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symbol_search_latency_seconds",
				Help:    "Symbol query latency in seconds, including shard loads.",
				Buckets: []float64{0.0005, 0.001, 0.004, 0.016, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symbol_search_matches",
				Help:    "Number of matching symbol groups per query before truncation.",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 500},
			},
		),
		ShardLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_loads_total",
				Help: "Underlying shard fetches by status (ok, failed).",
			},
			[]string{"status"},
		),
		ShardLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shard_load_duration_seconds",
				Help:    "Time to fetch and decode one shard.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ShardLoadWaitersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shard_load_coalesced_total",
				Help: "EnsureLoaded calls that joined an in-flight fetch.",
			},
		),
		ShardsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shards_loaded",
				Help: "Number of shards resident in the current session store.",
			},
		),
		MalformedRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shard_malformed_records_total",
				Help: "Shard records skipped during decoding.",
			},
		),
		ShardCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_cache_requests_total",
				Help: "Shard byte-cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		SessionGenerationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_generations_total",
				Help: "Input events accepted by session controllers.",
			},
		),
		SessionStaleDiscarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_stale_results_discarded_total",
				Help: "Query results discarded because a newer generation superseded them.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.ShardLoadsTotal,
		m.ShardLoadDuration,
		m.ShardLoadWaitersTotal,
		m.ShardsLoaded,
		m.MalformedRecordsTotal,
		m.ShardCacheTotal,
		m.SessionGenerationsTotal,
		m.SessionStaleDiscarded,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveSearch records one answered query.
func (m *Metrics) ObserveSearch(outcome string, matches int, took time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	m.SearchLatency.Observe(took.Seconds())
	m.SearchResultsCount.Observe(float64(matches))
}

// ObserveShardLoad records one underlying shard fetch.
func (m *Metrics) ObserveShardLoad(err error, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	} else {
		m.ShardsLoaded.Inc()
	}
	m.ShardLoadsTotal.WithLabelValues(status).Inc()
	m.ShardLoadDuration.Observe(took.Seconds())
}

// ShardLoadCoalesced records a caller that joined an in-flight fetch.
func (m *Metrics) ShardLoadCoalesced() {
	if m == nil {
		return
	}
	m.ShardLoadWaitersTotal.Inc()
}

// ResetShardsLoaded zeroes the resident-shard gauge when a store is replaced.
func (m *Metrics) ResetShardsLoaded() {
	if m == nil {
		return
	}
	m.ShardsLoaded.Set(0)
}

// MalformedRecords adds n skipped records.
func (m *Metrics) MalformedRecords(n int) {
	if m == nil || n == 0 {
		return
	}
	m.MalformedRecordsTotal.Add(float64(n))
}

// ShardCache records a byte-cache lookup result.
func (m *Metrics) ShardCache(result string) {
	if m == nil {
		return
	}
	m.ShardCacheTotal.WithLabelValues(result).Inc()
}

// SessionInput records one accepted input generation.
func (m *Metrics) SessionInput() {
	if m == nil {
		return
	}
	m.SessionGenerationsTotal.Inc()
}

// SessionStale records one discarded stale result.
func (m *Metrics) SessionStale() {
	if m == nil {
		return
	}
	m.SessionStaleDiscarded.Inc()
}

// BreakerState publishes a circuit breaker state transition.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
