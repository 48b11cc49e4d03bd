// Package analytics records what people search for: every settled query
// becomes a SearchEvent, events travel over Kafka, and an Aggregator folds
// them into the stats served at /api/v1/analytics.
package analytics

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
)

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventReload     EventType = "reload"
)

// SearchEvent describes one answered query.
type SearchEvent struct {
	Type         EventType `json:"type"`
	Source       string    `json:"source"`
	Query        string    `json:"query"`
	Normalized   string    `json:"normalized"`
	TotalMatches int       `json:"total_matches"`
	Returned     int       `json:"returned"`
	TopSymbol    string    `json:"top_symbol,omitempty"`
	LatencyMs    float64   `json:"latency_ms"`
	Degraded     bool      `json:"degraded,omitempty"`
	Partial      bool      `json:"partial,omitempty"`
	CacheHit     bool      `json:"cache_hit,omitempty"`
	FailedShards []string  `json:"failed_shards,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
}

// NewSearchEvent summarizes res. source names the surface that ran the
// query, such as "http" or "repl".
func NewSearchEvent(source string, res *query.Result, requestID string) SearchEvent {
	ev := SearchEvent{
		Type:         EventSearch,
		Source:       source,
		Query:        res.Query,
		Normalized:   res.Normalized,
		TotalMatches: res.Total,
		Returned:     len(res.Hits),
		LatencyMs:    float64(res.Took.Microseconds()) / 1000,
		Degraded:     res.Degraded,
		Partial:      res.Partial,
		Timestamp:    time.Now().UTC(),
		RequestID:    requestID,
	}
	if len(res.Hits) > 0 {
		ev.TopSymbol = res.Hits[0].Group.Name
	} else {
		ev.Type = EventZeroResult
	}
	for _, id := range res.FailedShards {
		ev.FailedShards = append(ev.FailedShards, string(id))
	}
	return ev
}

// NewViewEvent summarizes a rendered view, such as one served from the
// view cache.
func NewViewEvent(source string, v *query.View, normalized string, cacheHit bool, requestID string) SearchEvent {
	ev := SearchEvent{
		Type:         EventSearch,
		Source:       source,
		Query:        v.Query,
		Normalized:   normalized,
		TotalMatches: v.Total,
		Returned:     len(v.Rows),
		LatencyMs:    v.TookMs,
		Degraded:     v.Degraded,
		Partial:      v.Partial,
		CacheHit:     cacheHit,
		Timestamp:    time.Now().UTC(),
		RequestID:    requestID,
	}
	if len(v.Rows) > 0 {
		ev.TopSymbol = v.Rows[0].Name
	} else {
		ev.Type = EventZeroResult
	}
	for _, id := range v.FailedShards {
		ev.FailedShards = append(ev.FailedShards, string(id))
	}
	return ev
}

// key partitions events by normalized query so one query's events stay in
// order.
func (e SearchEvent) key() string {
	if e.Normalized != "" {
		return e.Normalized
	}
	return string(e.Type)
}
