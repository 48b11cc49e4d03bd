// Package backend owns the live shard store of the HTTP service. When shards
// are regenerated it builds a fresh store session, swaps it in atomically,
// and retires the old one once its in-flight searches finish.
package backend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
	"github.com/google/uuid"
)

// Generation is one store session and the engine over it. Seq counts
// reloads within this process; Session is unique across processes and keys
// anything shared beyond it.
type Generation struct {
	Seq     uint64
	Session string
	Store   *shard.Store
	Engine  *query.Engine
	Started time.Time

	mu      sync.RWMutex
	retired bool
}

// Options configures a Backend.
type Options struct {
	// NewStore builds a fresh store session over the current shard files.
	NewStore func() *shard.Store
	Engine   query.Options
	// Invalidate drops cached shard bytes before a reload; may be nil.
	Invalidate func(ctx context.Context, change shard.Change) error
	// OnReload observes every swapped-in generation; may be nil.
	OnReload func(g *Generation, change shard.Change)
	Metrics  *metrics.Metrics
}

type Backend struct {
	opts    Options
	current atomic.Pointer[Generation]
	logger  *slog.Logger

	reloadMu sync.Mutex
	closed   bool
}

// New starts the first generation.
func New(opts Options) *Backend {
	b := &Backend{
		opts:   opts,
		logger: slog.Default().With("component", "backend"),
	}
	b.current.Store(b.build(1))
	return b
}

func (b *Backend) build(seq uint64) *Generation {
	store := b.opts.NewStore()
	return &Generation{
		Seq:     seq,
		Session: uuid.NewString(),
		Store:   store,
		Engine:  query.NewEngine(store, b.opts.Engine),
		Started: time.Now(),
	}
}

// Acquire pins the current generation until release is called. A pinned
// generation is never closed underneath its caller.
func (b *Backend) Acquire() (g *Generation, release func(), err error) {
	for {
		g = b.current.Load()
		if g == nil {
			return nil, nil, apperrors.ErrClosed
		}
		g.mu.RLock()
		if !g.retired {
			return g, g.mu.RUnlock, nil
		}
		g.mu.RUnlock()
	}
}

// Current returns the live generation without pinning it, or nil once
// closed.
func (b *Backend) Current() *Generation {
	return b.current.Load()
}

// Reload swaps in a fresh store session. Cached bytes for the changed shards
// are invalidated first so the new session fetches regenerated files.
func (b *Backend) Reload(ctx context.Context, change shard.Change) (*Generation, error) {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	if b.closed {
		return nil, apperrors.ErrClosed
	}

	if b.opts.Invalidate != nil {
		if err := b.opts.Invalidate(ctx, change); err != nil {
			b.logger.Warn("cache invalidation failed, reloading anyway", "error", err)
		}
	}

	prev := b.current.Load()
	next := b.build(prev.Seq + 1)
	if _, err := next.Store.Keyspace(ctx); err != nil {
		b.logger.Warn("new session has no usable manifest", "generation", next.Seq, "error", err)
	}
	b.current.Store(next)
	b.opts.Metrics.ResetShardsLoaded()
	go b.retire(prev)

	b.logger.Info("shard session reloaded",
		"generation", next.Seq,
		"session", next.Session,
		"full", change.Full,
		"changed", len(change.IDs),
	)
	if b.opts.OnReload != nil {
		b.opts.OnReload(next, change)
	}
	return next, nil
}

// retire waits for searches pinned to g, then closes its store.
func (b *Backend) retire(g *Generation) {
	g.mu.Lock()
	g.retired = true
	g.mu.Unlock()
	if err := g.Store.Close(); err != nil {
		b.logger.Error("closing retired store", "generation", g.Seq, "error", err)
	}
}

// Close retires the live generation and rejects further use.
func (b *Backend) Close() error {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if g := b.current.Swap(nil); g != nil {
		b.retire(g)
	}
	return nil
}
