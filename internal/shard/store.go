// Package shard loads partitions of a documentation symbol index on demand.
// A Store is one session: it fetches each shard at most once, shares the
// fetch between concurrent callers, and keeps what it loaded (or the error
// it hit) until it is closed.
package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle of one shard slot. Transitions only move forward:
// NotLoaded, Loading, then Loaded or Failed.
type State int

const (
	StateNotLoaded State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "not_loaded"
	}
}

func (s State) final() bool { return s == StateLoaded || s == StateFailed }

// manifestKey cannot collide with a shard id, which is always hex.
const manifestKey = "manifest"

// StoreOptions configures a Store.
type StoreOptions struct {
	KeyLength    int
	Policy       symbol.Policy
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
}

type slot struct {
	state State
	shard *Shard
	err   error
}

// Store is a session-scoped shard cache with no eviction.
type Store struct {
	src    Source
	opts   StoreOptions
	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group
	logger *slog.Logger

	mu          sync.Mutex
	slots       map[ID]*slot
	keyspace    *Keyspace
	manifestErr error
	closed      bool
	inflight    sync.WaitGroup

	fetches   atomic.Int64
	malformed atomic.Int64
	createdAt time.Time
}

func NewStore(src Source, opts StoreOptions) *Store {
	if opts.KeyLength < 1 {
		opts.KeyLength = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		src:       src,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		logger:    slog.Default().With("component", "shard-store"),
		slots:     make(map[ID]*slot),
		createdAt: time.Now(),
	}
}

// Keyspace lists the source's manifest once per session. When listing
// fails the returned keyspace is still usable, routing each query to its
// leading shard only, and the error wraps ErrShardLoad.
func (s *Store) Keyspace(ctx context.Context) (*Keyspace, error) {
	s.mu.Lock()
	if s.keyspace != nil {
		ks, err := s.keyspace, s.manifestErr
		s.mu.Unlock()
		return ks, err
	}
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("shard store: %w", apperrors.ErrClosed)
	}
	s.mu.Unlock()

	ch := s.group.DoChan(manifestKey, func() (any, error) {
		return s.listManifest()
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		s.mu.Lock()
		err := s.manifestErr
		s.mu.Unlock()
		return r.Val.(*Keyspace), err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) listManifest() (*Keyspace, error) {
	s.mu.Lock()
	if s.keyspace != nil {
		ks := s.keyspace
		s.mu.Unlock()
		return ks, nil
	}
	if !s.begin() {
		s.mu.Unlock()
		return nil, fmt.Errorf("shard store: %w", apperrors.ErrClosed)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)
	defer cancel()
	m, err := s.src.List(ctx)
	if err != nil {
		err = fmt.Errorf("%w: listing manifest: %w", apperrors.ErrShardLoad, err)
		s.logger.Warn("manifest unavailable, routing queries to leading shards only", "error", err)
		m = Manifest{}
	} else {
		s.logger.Info("manifest loaded", "shards", len(m.Shards), "key_length", m.KeyLength)
	}
	ks := NewKeyspace(m, s.opts.KeyLength, s.opts.Policy)

	s.mu.Lock()
	s.keyspace = ks
	s.manifestErr = err
	s.mu.Unlock()
	return ks, nil
}

// begin registers an in-flight load. The caller must hold s.mu.
func (s *Store) begin() bool {
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// EnsureLoaded returns the shard with the given id, fetching it if no
// earlier call has. Concurrent callers share one fetch. A caller whose ctx
// ends stops waiting while the fetch carries on for later callers. A shard
// the source does not have loads as empty; one a loaded manifest does not
// list is empty without a fetch or a slot.
func (s *Store) EnsureLoaded(ctx context.Context, id ID) (*Shard, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("shard store: %w", apperrors.ErrClosed)
	}
	if s.keyspace != nil && s.manifestErr == nil && s.keyspace.Unlisted(id) {
		s.mu.Unlock()
		return &Shard{ID: id}, nil
	}
	sl, ok := s.slots[id]
	coalesced := false
	switch {
	case !ok:
		s.slots[id] = &slot{state: StateLoading}
	case sl.state == StateLoaded:
		sh := sl.shard
		s.mu.Unlock()
		return sh, nil
	case sl.state == StateFailed:
		err := sl.err
		s.mu.Unlock()
		return nil, err
	default:
		coalesced = true
	}
	s.mu.Unlock()
	if coalesced {
		s.opts.Metrics.ShardLoadCoalesced()
	}

	ch := s.group.DoChan(string(id), func() (any, error) {
		return s.load(id)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Shard), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) load(id ID) (*Shard, error) {
	s.mu.Lock()
	if sl := s.slots[id]; sl != nil && sl.state.final() {
		s.mu.Unlock()
		return sl.shard, sl.err
	}
	if !s.begin() {
		s.mu.Unlock()
		return nil, fmt.Errorf("shard store: %w", apperrors.ErrClosed)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	start := time.Now()
	s.fetches.Add(1)
	sh, err := s.fetch(id)
	took := time.Since(start)
	s.opts.Metrics.ObserveShardLoad(err, took)

	s.mu.Lock()
	sl := s.slots[id]
	if sl == nil {
		sl = &slot{}
		s.slots[id] = sl
	}
	if err != nil {
		sl.state, sl.err = StateFailed, err
	} else {
		sl.state, sl.shard = StateLoaded, sh
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("shard load failed", "shard", id, "error", err, "took", took)
		return nil, err
	}
	s.logger.Debug("shard loaded", "shard", id, "symbols", len(sh.Groups), "took", took)
	return sh, nil
}

func (s *Store) fetch(id ID) (*Shard, error) {
	data, err := resilience.WithTimeout(s.ctx, s.opts.FetchTimeout, "fetch shard "+string(id), func(ctx context.Context) ([]byte, error) {
		return s.src.Fetch(ctx, id)
	})
	if errors.Is(err, apperrors.ErrShardNotFound) {
		s.logger.Debug("shard absent from source, treating as empty", "shard", id)
		return &Shard{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: shard %s: %w", apperrors.ErrShardLoad, id, err)
	}

	sh, report, err := Decode(id, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrShardLoad, err)
	}
	if report.Malformed > 0 {
		s.malformed.Add(int64(report.Malformed))
		s.opts.Metrics.MalformedRecords(report.Malformed)
		s.logger.Warn("skipped malformed records",
			"shard", id,
			"format", report.Format,
			"skipped", report.Malformed,
			"records", report.Records,
			"samples", fmt.Sprint(report.Samples),
		)
	}
	return sh, nil
}

// Peek reports a slot's state without loading it.
func (s *Store) Peek(id ID) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return StateNotLoaded, nil
	}
	return sl.state, sl.err
}

// Stats is a snapshot of a store session.
type Stats struct {
	Loaded         int           `json:"loaded"`
	Loading        int           `json:"loading"`
	Failed         int           `json:"failed"`
	Fetches        int64         `json:"fetches"`
	Symbols        int           `json:"symbols"`
	Entries        int           `json:"entries"`
	Malformed      int64         `json:"malformedRecords"`
	ManifestShards int           `json:"manifestShards"`
	ManifestError  string        `json:"manifestError,omitempty"`
	Failures       map[ID]string `json:"failures,omitempty"`
	States         map[ID]string `json:"states,omitempty"`
	Age            time.Duration `json:"-"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Fetches:   s.fetches.Load(),
		Malformed: s.malformed.Load(),
		States:    make(map[ID]string, len(s.slots)),
		Age:       time.Since(s.createdAt),
	}
	if s.keyspace != nil {
		st.ManifestShards = len(s.keyspace.ids)
	}
	if s.manifestErr != nil {
		st.ManifestError = s.manifestErr.Error()
	}
	for id, sl := range s.slots {
		st.States[id] = sl.state.String()
		switch sl.state {
		case StateLoaded:
			st.Loaded++
			st.Symbols += len(sl.shard.Groups)
			st.Entries += sl.shard.Entries()
		case StateLoading:
			st.Loading++
		case StateFailed:
			st.Failed++
			if st.Failures == nil {
				st.Failures = make(map[ID]string)
			}
			st.Failures[id] = sl.err.Error()
		}
	}
	return st
}

// Loaded returns the ids of loaded shards in ascending order.
func (s *Store) Loaded() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []ID
	for id, sl := range s.slots {
		if sl.state == StateLoaded {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close ends the session. In-flight fetches are cancelled and waited for;
// later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.inflight.Wait()
	s.logger.Info("shard store closed", "fetches", s.fetches.Load())
	return nil
}
