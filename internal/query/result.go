package query

import (
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
)

// Hit is one matching symbol group.
type Hit struct {
	Group     *symbol.Group
	Kind      symbol.Kind
	Match     symbol.Match
	Score     float64
	Highlight symbol.Span
}

// Result is the ranked answer to one query.
type Result struct {
	Query      string
	Normalized string
	Hits       []Hit
	// Total counts every matching group, including those beyond the cap.
	Total   int
	HasMore bool
	// Degraded is set when ranking failed its own checks and the hits were
	// dropped.
	Degraded bool
	// Partial is set when a shard or the manifest could not be loaded, so
	// some matches may be missing.
	Partial      bool
	FailedShards []shard.ID
	Took         time.Duration
}

func emptyResult(raw, normalized string) *Result {
	return &Result{Query: raw, Normalized: normalized, Hits: []Hit{}}
}

// RowEntry is one occurrence of a symbol as the rendering layer shows it.
type RowEntry struct {
	Kind  symbol.Kind `json:"kind"`
	Scope string      `json:"scope,omitempty"`
	Label string      `json:"label,omitempty"`
	URL   string      `json:"url"`
}

// KindSection groups a row's entries of one kind.
type KindSection struct {
	Kind    symbol.Kind `json:"kind"`
	Entries []RowEntry  `json:"entries"`
}

// Row is one result line: a symbol name with its highlighted match and its
// occurrences grouped by kind.
type Row struct {
	Name      string           `json:"name"`
	Kind      symbol.Kind      `json:"kind"`
	Match     symbol.MatchKind `json:"match"`
	Score     float64          `json:"score"`
	Highlight symbol.Span      `json:"highlight"`
	Sections  []KindSection    `json:"sections"`
}

// View is the display form of a Result.
type View struct {
	Query        string     `json:"query"`
	Rows         []Row      `json:"rows"`
	Total        int        `json:"total"`
	HasMore      bool       `json:"hasMore"`
	Degraded     bool       `json:"degraded,omitempty"`
	Partial      bool       `json:"partial,omitempty"`
	FailedShards []shard.ID `json:"failedShards,omitempty"`
	TookMs       float64    `json:"tookMs"`
}

// View renders r for display, ordering each row's kind sections by order.
// Entries keep their generation order inside a section.
func (r *Result) View(order symbol.KindOrder) View {
	v := View{
		Query:        r.Query,
		Rows:         make([]Row, 0, len(r.Hits)),
		Total:        r.Total,
		HasMore:      r.HasMore,
		Degraded:     r.Degraded,
		Partial:      r.Partial,
		FailedShards: r.FailedShards,
		TookMs:       float64(r.Took.Microseconds()) / 1000,
	}
	for _, h := range r.Hits {
		v.Rows = append(v.Rows, Row{
			Name:      h.Group.Name,
			Kind:      h.Kind,
			Match:     h.Match.Kind,
			Score:     h.Score,
			Highlight: h.Highlight,
			Sections:  sections(h.Group.Entries, order),
		})
	}
	return v
}

func sections(entries []symbol.IndexEntry, order symbol.KindOrder) []KindSection {
	byKind := make(map[symbol.Kind]*KindSection)
	var kinds []symbol.Kind
	for _, e := range entries {
		sec, ok := byKind[e.Kind]
		if !ok {
			sec = &KindSection{Kind: e.Kind}
			byKind[e.Kind] = sec
			kinds = append(kinds, e.Kind)
		}
		sec.Entries = append(sec.Entries, RowEntry{
			Kind:  e.Kind,
			Scope: strings.Join(e.Scope, "::"),
			Label: e.Label,
			URL:   e.URL,
		})
	}
	order.Sort(kinds)
	out := make([]KindSection, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, *byKind[k])
	}
	return out
}
