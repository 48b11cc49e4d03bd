// Package cache keeps rendered search views in Redis. Keys include the
// store session id, which is unique across processes, so a shard reload or
// a restart makes every older entry unreachable without a flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "symsearch:view:"

	defaultComputeTimeout = 10 * time.Second
)

// Backend is the byte store behind the cache. *redis.Client satisfies it.
type Backend interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type ViewCache struct {
	client Backend
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64

	// ComputeTimeout bounds a shared computation whose first caller had no
	// deadline.
	ComputeTimeout time.Duration
}

func New(client Backend, ttl time.Duration) *ViewCache {
	return &ViewCache{
		client:         client,
		ttl:            ttl,
		logger:         slog.Default().With("component", "view-cache"),
		ComputeTimeout: defaultComputeTimeout,
	}
}

func (c *ViewCache) Get(ctx context.Context, session, normalized string, limit int) (*query.View, bool) {
	key := buildKey(session, normalized, limit)
	data, ok, err := c.client.GetBytes(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	var view query.View
	if err := json.Unmarshal(data, &view); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &view, true
}

// Set stores view unless it is incomplete; partial and degraded answers are
// recomputed on the next request.
func (c *ViewCache) Set(ctx context.Context, session, normalized string, limit int, view *query.View) {
	if view.Partial || view.Degraded {
		return
	}
	key := buildKey(session, normalized, limit)
	data, err := json.Marshal(view)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.SetBytes(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached view or computes it once for all
// concurrent callers with the same key. The shared computation runs detached
// from any single caller, so one caller giving up does not fail the others;
// each caller stops waiting when its own ctx is done.
func (c *ViewCache) GetOrCompute(
	ctx context.Context,
	session string,
	normalized string,
	limit int,
	computeFn func(ctx context.Context) (*query.View, error),
) (*query.View, bool, error) {
	if view, ok := c.Get(ctx, session, normalized, limit); ok {
		return view, true, nil
	}
	key := buildKey(session, normalized, limit)
	ch := c.group.DoChan(key, func() (any, error) {
		computeCtx, cancel := c.detach(ctx)
		defer cancel()
		view, err := computeFn(computeCtx)
		if err != nil {
			return nil, err
		}
		c.Set(computeCtx, session, normalized, limit, view)
		return view, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*query.View), false, nil
	}
}

// detach drops ctx's cancellation but keeps its values and deadline. Without
// a deadline the computation is bounded by ComputeTimeout.
func (c *ViewCache) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	timeout := c.ComputeTimeout
	if timeout <= 0 {
		timeout = defaultComputeTimeout
	}
	return context.WithTimeout(detached, timeout)
}

// Invalidate drops every cached view of every session.
func (c *ViewCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating view cache: %w", err)
	}
	c.logger.Info("view cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *ViewCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(session, normalized string, limit int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", normalized, limit)))
	return fmt.Sprintf("%s%s:%x", keyPrefix, session, hash[:16])
}
