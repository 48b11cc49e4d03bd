package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/kafka"
)

// maxLatencies bounds the latency sample used for percentiles.
const maxLatencies = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	DegradedCount     int64        `json:"degraded_count"`
	PartialCount      int64        `json:"partial_count"`
	Reloads           int64        `json:"reloads"`
	CacheHits         int64        `json:"cache_hits"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      float64      `json:"p50_latency_ms"`
	P95LatencyMs      float64      `json:"p95_latency_ms"`
	P99LatencyMs      float64      `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	TopSymbols        []QueryCount `json:"top_symbols"`
	FailingShards     []QueryCount `json:"failing_shards"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search events into running stats. It is safe for
// concurrent use and implements Tracker, so it can also be fed directly
// when Kafka is not configured.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     int64
	zeroResults       int64
	degraded          int64
	partial           int64
	reloads           int64
	cacheHits         int64
	latencies         []float64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	symbolCounts      map[string]int64
	shardFailures     map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]float64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		symbolCounts:      make(map[string]int64),
		shardFailures:     make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts agg to a Kafka consumer. Undecodable messages are
// logged and committed so they are not redelivered.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Track(event)
		return nil
	}
}

// Track records one event.
func (a *Aggregator) Track(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Type == EventReload {
		a.reloads++
		return
	}
	a.totalSearches++
	if event.Degraded {
		a.degraded++
	}
	if event.Partial {
		a.partial++
	}
	if event.CacheHit {
		a.cacheHits++
	}
	for _, id := range event.FailedShards {
		a.shardFailures[id]++
	}

	if len(a.latencies) < maxLatencies {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencies
	}

	q := event.Normalized
	if q == "" {
		q = event.Query
	}
	a.queryCounts[q]++
	if event.TotalMatches == 0 {
		a.zeroResults++
		a.zeroResultQueries[q]++
	}
	if event.TopSymbol != "" {
		a.symbolCounts[event.TopSymbol]++
	}
}

// Seed adds the counters of a previous snapshot so totals survive a restart.
// Latency percentiles and rates start fresh.
func (a *Aggregator) Seed(prev AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches += prev.TotalSearches
	a.zeroResults += prev.ZeroResultCount
	a.degraded += prev.DegradedCount
	a.partial += prev.PartialCount
	a.reloads += prev.Reloads
	a.cacheHits += prev.CacheHits
	for _, qc := range prev.TopQueries {
		a.queryCounts[qc.Query] += qc.Count
	}
	for _, qc := range prev.ZeroResultQueries {
		a.zeroResultQueries[qc.Query] += qc.Count
	}
	for _, qc := range prev.TopSymbols {
		a.symbolCounts[qc.Query] += qc.Count
	}
	for _, qc := range prev.FailingShards {
		a.shardFailures[qc.Query] += qc.Count
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		ZeroResultCount: a.zeroResults,
		DegradedCount:   a.degraded,
		PartialCount:    a.partial,
		Reloads:         a.reloads,
		CacheHits:       a.cacheHits,
	}
	if len(a.latencies) > 0 {
		sorted := make([]float64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Float64s(sorted)

		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = sum / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopSymbols = topN(a.symbolCounts, 10)
	stats.FailingShards = topN(a.shardFailures, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by key.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
