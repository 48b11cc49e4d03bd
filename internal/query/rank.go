package query

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
)

// candidate is a matching group with everything needed to order it.
type candidate struct {
	group *symbol.Group
	match symbol.Match
	kind  symbol.Kind
	shard int
	id    string
	pos   int
}

// ranker orders candidates best first. The order is total: two distinct
// candidates never compare equal because (id, pos) is unique.
type ranker struct {
	kinds symbol.KindOrder
}

func (r ranker) better(a, b candidate) bool {
	if c := symbol.Compare(a.match, b.match); c != 0 {
		return c < 0
	}
	if a.group.Key != b.group.Key {
		return a.group.Key < b.group.Key
	}
	if a.group.Name != b.group.Name {
		return a.group.Name < b.group.Name
	}
	if c := r.kinds.Compare(a.kind, b.kind); c != 0 {
		return c < 0
	}
	if a.shard != b.shard {
		return a.shard < b.shard
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return a.pos < b.pos
}

// topN keeps the best limit candidates seen so far. The heap root is the
// worst kept candidate, so a new one only needs to beat the root.
type topN struct {
	limit int
	r     ranker
	items []candidate
}

func newTopN(limit int, r ranker) *topN {
	return &topN{limit: limit, r: r, items: make([]candidate, 0, limit)}
}

func (t *topN) Len() int           { return len(t.items) }
func (t *topN) Less(i, j int) bool { return t.r.better(t.items[j], t.items[i]) }
func (t *topN) Swap(i, j int)      { t.items[i], t.items[j] = t.items[j], t.items[i] }

func (t *topN) Push(x any) {
	t.items = append(t.items, x.(candidate))
}

func (t *topN) Pop() any {
	old := t.items
	n := len(old)
	item := old[n-1]
	t.items = old[:n-1]
	return item
}

func (t *topN) offer(c candidate) {
	if t.limit <= 0 {
		return
	}
	if len(t.items) < t.limit {
		heap.Push(t, c)
		return
	}
	if t.r.better(c, t.items[0]) {
		t.items[0] = c
		heap.Fix(t, 0)
	}
}

// sorted drains the heap best first.
func (t *topN) sorted() []candidate {
	out := make([]candidate, len(t.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(candidate)
	}
	return out
}

// verify checks the ranked output before it is shown: every hit contains the
// query, exact matches come first, and the order is strictly descending.
func verify(ranked []candidate, query string, r ranker) error {
	seenNonExact := false
	for i, c := range ranked {
		if !strings.Contains(c.group.Key, query) {
			return fmt.Errorf("%w: hit %q does not contain %q", apperrors.ErrQueryInvariant, c.group.Name, query)
		}
		if c.match.Kind == symbol.MatchExact {
			if seenNonExact {
				return fmt.Errorf("%w: exact hit %q ranked after a partial one", apperrors.ErrQueryInvariant, c.group.Name)
			}
		} else {
			seenNonExact = true
		}
		if i > 0 && !r.better(ranked[i-1], c) {
			return fmt.Errorf("%w: %q and %q out of order", apperrors.ErrQueryInvariant, ranked[i-1].group.Name, c.group.Name)
		}
	}
	return nil
}
