// Package session turns a stream of keystroke-level inputs into displayed
// results. Every input starts a new generation; only the newest generation's
// result ever reaches the display, and never after a newer one.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
)

// Searcher answers one query. *query.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, raw string) (*query.Result, error)
}

// Update is one settled generation handed to the display.
type Update struct {
	Generation uint64
	Query      string
	Result     *query.Result
}

// Display renders settled results. Calls are serialized by the controller
// and must not call back into it.
type Display interface {
	Show(Update)
	Clear()
}

// StateKind is the coarse state of a session.
type StateKind int

const (
	Idle StateKind = iota
	Pending
	Settled
)

func (k StateKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Settled:
		return "settled"
	default:
		return "idle"
	}
}

// State is a snapshot of the controller.
type State struct {
	Kind       StateKind
	Query      string
	Generation uint64
	Result     *query.Result
}

// Options configures a Controller.
type Options struct {
	// Debounce is how long input must be quiet before a search starts.
	Debounce time.Duration
	Metrics  *metrics.Metrics
	// OnSettled, when set, observes every update after it is displayed.
	OnSettled func(Update)
	// Owned is closed by Close after in-flight searches finish.
	Owned io.Closer
}

const DefaultDebounce = 150 * time.Millisecond

type waiter struct {
	ch   chan query.Result
	stop func() bool
}

type Controller struct {
	searcher Searcher
	display  Display
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	gen     uint64
	applied uint64
	state   State
	timer   *time.Timer
	waiters map[uint64]*waiter
	closed  bool
}

func NewController(searcher Searcher, display Display, opts Options) *Controller {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		searcher: searcher,
		display:  display,
		opts:     opts,
		logger:   slog.Default().With("component", "session"),
		ctx:      ctx,
		cancel:   cancel,
		waiters:  make(map[uint64]*waiter),
	}
}

// Input records a new query text and returns its generation. Blank input
// clears the display at once; anything else is searched after the debounce
// interval unless newer input arrives first. It returns 0 once closed.
func (c *Controller) Input(raw string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputLocked(raw)
}

// Search is Input plus a channel that receives the result if this
// generation settles. The channel is closed without a value when the
// generation is superseded, ctx ends, or the controller closes.
func (c *Controller) Search(ctx context.Context, raw string) <-chan query.Result {
	ch := make(chan query.Result, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.inputLocked(raw)
	switch {
	case gen == 0:
		close(ch)
	case c.state.Kind == Idle:
		ch <- query.Result{Query: raw, Hits: []query.Hit{}}
		close(ch)
	default:
		w := &waiter{ch: ch}
		w.stop = context.AfterFunc(ctx, func() { c.dropWaiter(gen) })
		c.waiters[gen] = w
	}
	return ch
}

func (c *Controller) inputLocked(raw string) uint64 {
	if c.closed {
		return 0
	}
	c.gen++
	gen := c.gen
	c.opts.Metrics.SessionInput()
	c.supersedeLocked(gen)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if strings.TrimSpace(raw) == "" {
		c.applied = gen
		c.state = State{Kind: Idle, Generation: gen}
		c.display.Clear()
		return gen
	}
	c.state = State{Kind: Pending, Query: raw, Generation: gen}
	c.timer = time.AfterFunc(c.opts.Debounce, func() { c.fire(gen, raw) })
	return gen
}

// fire runs the search for gen once its debounce interval has passed.
func (c *Controller) fire(gen uint64, raw string) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	res, err := c.searcher.Search(c.ctx, raw)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrClosed) {
			return
		}
		c.logger.Error("search failed, showing degraded result", "query", raw, "generation", gen, "error", err)
		res = &query.Result{Query: raw, Hits: []query.Hit{}, Degraded: true}
	}
	c.apply(gen, raw, res)
}

// apply hands res to the display if gen is still the newest generation and
// nothing newer has been shown.
func (c *Controller) apply(gen uint64, raw string, res *query.Result) {
	c.mu.Lock()
	if c.closed || gen != c.gen || gen <= c.applied {
		c.mu.Unlock()
		c.opts.Metrics.SessionStale()
		c.logger.Debug("discarding stale result", "query", raw, "generation", gen)
		return
	}
	c.applied = gen
	c.state = State{Kind: Settled, Query: raw, Generation: gen, Result: res}
	u := Update{Generation: gen, Query: raw, Result: res}
	c.display.Show(u)
	if w, ok := c.waiters[gen]; ok {
		delete(c.waiters, gen)
		w.stop()
		w.ch <- *res
		close(w.ch)
	}
	c.mu.Unlock()

	if c.opts.OnSettled != nil {
		c.opts.OnSettled(u)
	}
}

func (c *Controller) supersedeLocked(gen uint64) {
	for g, w := range c.waiters {
		if g < gen {
			delete(c.waiters, g)
			w.stop()
			close(w.ch)
		}
	}
}

func (c *Controller) dropWaiter(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.waiters[gen]; ok {
		delete(c.waiters, gen)
		close(w.ch)
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the pending timer, waits for in-flight searches, and closes
// the owned resource. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	for g, w := range c.waiters {
		delete(c.waiters, g)
		w.stop()
		close(w.ch)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
	if c.opts.Owned != nil {
		return c.opts.Owned.Close()
	}
	return nil
}
