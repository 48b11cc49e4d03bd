package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
)

// BlobCache is the byte cache CachedSource reads through. *redis.Client
// satisfies it.
type BlobCache interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// CachedSource serves shard payloads and the manifest from a shared cache,
// falling back to the wrapped source on a miss. Cache errors are logged
// and never fail a fetch.
type CachedSource struct {
	inner     Source
	cache     BlobCache
	namespace string
	ttl       time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCachedSource wraps inner. namespace separates the keys of different
// documentation sites sharing one cache.
func NewCachedSource(inner Source, cache BlobCache, namespace string, ttl time.Duration, m *metrics.Metrics) *CachedSource {
	return &CachedSource{
		inner:     inner,
		cache:     cache,
		namespace: namespace,
		ttl:       ttl,
		metrics:   m,
		logger:    slog.Default().With("component", "shard-cache", "namespace", namespace),
	}
}

func (c *CachedSource) key(name string) string {
	return "symsearch:" + c.namespace + ":" + name
}

func (c *CachedSource) shardKey(id ID) string { return c.key("shard:" + string(id)) }

func (c *CachedSource) List(ctx context.Context) (Manifest, error) {
	key := c.key("manifest")
	if data, ok := c.lookup(ctx, key); ok {
		var m Manifest
		if err := json.Unmarshal(data, &m); err == nil {
			return m, nil
		}
		c.logger.Warn("discarding unreadable cached manifest")
	}
	m, err := c.inner.List(ctx)
	if err != nil {
		return Manifest{}, err
	}
	if data, err := json.Marshal(m); err == nil {
		c.store(ctx, key, data)
	}
	return m, nil
}

func (c *CachedSource) Fetch(ctx context.Context, id ID) ([]byte, error) {
	key := c.shardKey(id)
	if data, ok := c.lookup(ctx, key); ok {
		return data, nil
	}
	data, err := c.inner.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, data)
	return data, nil
}

// Invalidate drops the cached payloads of ids and the cached manifest.
func (c *CachedSource) Invalidate(ctx context.Context, ids ...ID) error {
	keys := []string{c.key("manifest")}
	for _, id := range ids {
		keys = append(keys, c.shardKey(id))
	}
	return c.cache.Del(ctx, keys...)
}

// Purge drops every cached key of this namespace.
func (c *CachedSource) Purge(ctx context.Context) error {
	deleted, err := c.cache.FlushByPattern(ctx, c.key("*"))
	if err != nil {
		return fmt.Errorf("purging shard cache: %w", err)
	}
	c.logger.Info("shard cache purged", "keys_deleted", deleted)
	return nil
}

// Stats reports cache hits and misses since creation.
func (c *CachedSource) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedSource) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, found, err := c.cache.GetBytes(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("cache read failed", "key", key, "error", err)
		c.metrics.ShardCache("error")
		c.misses.Add(1)
		return nil, false
	case !found:
		c.metrics.ShardCache("miss")
		c.misses.Add(1)
		return nil, false
	}
	c.metrics.ShardCache("hit")
	c.hits.Add(1)
	return data, true
}

func (c *CachedSource) store(ctx context.Context, key string, data []byte) {
	if err := c.cache.SetBytes(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
