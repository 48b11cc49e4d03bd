// Package query answers interactive symbol searches over a shard store. It
// routes a query to the shards that could hold matches, loads them
// concurrently, and ranks every matching group.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/tracing"
)

// ShardLoader is the part of *shard.Store the engine needs.
type ShardLoader interface {
	Keyspace(ctx context.Context) (*shard.Keyspace, error)
	EnsureLoaded(ctx context.Context, id shard.ID) (*shard.Shard, error)
}

// Options configures an Engine.
type Options struct {
	MaxResults         int
	MinQueryLength     int
	MaxConcurrentLoads int
	KindOrder          symbol.KindOrder
	Metrics            *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.MaxResults < 1 {
		o.MaxResults = 20
	}
	if o.MinQueryLength < 1 {
		o.MinQueryLength = 1
	}
	if o.MaxConcurrentLoads < 1 {
		o.MaxConcurrentLoads = 8
	}
	if o.KindOrder.IsZero() {
		o.KindOrder = symbol.NewKindOrder(nil)
	}
}

// Engine is safe for concurrent use. Results depend only on the query and
// the contents of the shards it loads.
type Engine struct {
	loader ShardLoader
	opts   Options
	ranker ranker
	logger *slog.Logger
}

func NewEngine(loader ShardLoader, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		loader: loader,
		opts:   opts,
		ranker: ranker{kinds: opts.KindOrder},
		logger: slog.Default().With("component", "query-engine"),
	}
}

// KindOrder returns the kind precedence the engine ranks with.
func (e *Engine) KindOrder() symbol.KindOrder { return e.opts.KindOrder }

// MaxResults is the default and maximum hit count.
func (e *Engine) MaxResults() int { return e.opts.MaxResults }

// Search answers raw with at most MaxResults hits.
func (e *Engine) Search(ctx context.Context, raw string) (*Result, error) {
	return e.SearchN(ctx, raw, e.opts.MaxResults)
}

// SearchN answers raw with at most limit hits, clamped to MaxResults.
// Shard failures reduce completeness and never fail the call; an error is
// returned only when ctx ends or the store is closed.
func (e *Engine) SearchN(ctx context.Context, raw string, limit int) (*Result, error) {
	start := time.Now()
	if limit < 1 || limit > e.opts.MaxResults {
		limit = e.opts.MaxResults
	}
	norm := symbol.Normalize(raw)
	if norm == "" || utf8.RuneCountInString(norm) < e.opts.MinQueryLength {
		res := emptyResult(raw, norm)
		res.Took = time.Since(start)
		e.opts.Metrics.ObserveSearch("empty", 0, res.Took)
		return res, nil
	}

	ctx, span := tracing.Start(ctx, "query.search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log(e.logger)
	}()
	span.SetAttr("query", norm)

	res := emptyResult(raw, norm)
	ks, err := e.loader.Keyspace(ctx)
	if ks == nil {
		return nil, fmt.Errorf("resolving shards for %q: %w", norm, err)
	}
	if err != nil {
		res.Partial = true
	}

	ids := ks.IDsForQuery(norm)
	span.SetAttr("shards", len(ids))
	shards, failed, err := e.loadAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		res.Partial = true
		res.FailedShards = failed
	}

	_, rankSpan := tracing.Start(ctx, "query.rank", "")
	hits, total, err := e.rank(ks, ids, shards, norm, limit)
	rankSpan.End()
	if err != nil {
		e.logger.Error("ranking failed, returning degraded result", "query", norm, "error", err)
		res.Degraded = true
	} else {
		res.Hits = hits
		res.Total = total
		res.HasMore = total > len(hits)
	}
	res.Took = time.Since(start)
	span.SetAttr("total", res.Total)

	outcome := "ok"
	switch {
	case res.Degraded:
		outcome = "degraded"
	case res.Partial:
		outcome = "partial"
	}
	e.opts.Metrics.ObserveSearch(outcome, res.Total, res.Took)
	return res, nil
}

// Lookup returns the group whose normalized name equals raw's, preferring
// the best-ranked one when several shards hold it.
func (e *Engine) Lookup(ctx context.Context, raw string) (*symbol.Group, error) {
	res, err := e.SearchN(ctx, raw, 1)
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 || res.Hits[0].Match.Kind != symbol.MatchExact {
		return nil, fmt.Errorf("%w: no symbol named %q", apperrors.ErrSymbolNotFound, raw)
	}
	return res.Hits[0].Group, nil
}

// loadAll ensures every shard in ids is loaded, at most MaxConcurrentLoads
// at a time. The returned slice is parallel to ids with nil for failures.
func (e *Engine) loadAll(ctx context.Context, ids []shard.ID) ([]*shard.Shard, []shard.ID, error) {
	ctx, span := tracing.Start(ctx, "query.load", "")
	defer span.End()

	shards := make([]*shard.Shard, len(ids))
	errs := make([]error, len(ids))
	sem := make(chan struct{}, e.opts.MaxConcurrentLoads)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id shard.ID) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()
			shards[i], errs[i] = e.loader.EnsureLoaded(ctx, id)
		}(i, id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var failed []shard.ID
	for i, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrClosed):
			return nil, nil, err
		default:
			failed = append(failed, ids[i])
			shards[i] = nil
		}
	}
	span.SetAttr("failed", len(failed))
	return shards, failed, nil
}

// rank matches every group of the loaded shards and keeps the best limit.
// A panic or a failed self-check becomes an ErrQueryInvariant error.
func (e *Engine) rank(ks *shard.Keyspace, ids []shard.ID, shards []*shard.Shard, norm string, limit int) (hits []Hit, total int, err error) {
	defer func() {
		if r := recover(); r != nil {
			hits, total = nil, 0
			err = fmt.Errorf("%w: panic while ranking: %v", apperrors.ErrQueryInvariant, r)
		}
	}()

	policy := ks.Policy()
	top := newTopN(limit, e.ranker)
	for i, sh := range shards {
		if sh == nil {
			continue
		}
		order := ks.Order(ids[i])
		for pos, g := range sh.Groups {
			m, ok := symbol.MatchKey(g.Key, norm, policy)
			if !ok {
				continue
			}
			total++
			top.offer(candidate{
				group: g,
				match: m,
				kind:  g.Kind(e.opts.KindOrder),
				shard: order,
				id:    string(ids[i]),
				pos:   pos,
			})
		}
	}

	ranked := top.sorted()
	if err := verify(ranked, norm, e.ranker); err != nil {
		return nil, 0, err
	}
	hits = make([]Hit, 0, len(ranked))
	for _, c := range ranked {
		km := symbol.NormalizeMap(c.group.Name)
		hits = append(hits, Hit{
			Group:     c.group,
			Kind:      c.kind,
			Match:     c.match,
			Score:     c.match.Score(),
			Highlight: km.Span(c.match.Offset, c.match.Length),
		})
	}
	return hits, total, nil
}
