package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeLoader struct {
	manifest shard.Manifest
	policy   symbol.Policy
	shards   map[shard.ID]*shard.Shard
	fail     map[shard.ID]error
	loads    atomic.Int32
}

func (f *fakeLoader) Keyspace(ctx context.Context) (*shard.Keyspace, error) {
	return shard.NewKeyspace(f.manifest, 1, f.policy), nil
}

func (f *fakeLoader) EnsureLoaded(ctx context.Context, id shard.ID) (*shard.Shard, error) {
	f.loads.Add(1)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	if sh, ok := f.shards[id]; ok {
		return sh, nil
	}
	return &shard.Shard{ID: id}, nil
}

type symbolSpec struct {
	name  string
	kinds []symbol.Kind
}

func sym(name string, kinds ...symbol.Kind) symbolSpec {
	if len(kinds) == 0 {
		kinds = []symbol.Kind{symbol.KindFunction}
	}
	return symbolSpec{name: name, kinds: kinds}
}

// newLoader shards specs by their leading rune, the way a generator would,
// and publishes a manifest with per-shard alphabets.
func newLoader(t testing.TB, specs ...symbolSpec) *fakeLoader {
	t.Helper()
	builders := make(map[shard.ID]*symbol.Builder)
	keys := make(map[shard.ID][]string)
	for _, s := range specs {
		for i, k := range s.kinds {
			e, err := symbol.NewEntry(s.name, k, []string{"ns"}, fmt.Sprintf("%s.html#%d", s.name, i), "")
			if err != nil {
				t.Fatalf("NewEntry(%q): %v", s.name, err)
			}
			id := shard.IDFor(e.Key, 1)
			if builders[id] == nil {
				builders[id] = symbol.NewBuilder()
			}
			builders[id].Add(e)
			keys[id] = append(keys[id], e.Key)
		}
	}
	l := &fakeLoader{shards: make(map[shard.ID]*shard.Shard), fail: make(map[shard.ID]error)}
	ids := make([]shard.ID, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		l.shards[id] = &shard.Shard{ID: id, Groups: builders[id].Groups()}
		l.manifest.Shards = append(l.manifest.Shards, shard.ManifestEntry{ID: id, Alphabet: shard.Alphabet(keys[id])})
	}
	return l
}

func hitNames(res *Result) []string {
	names := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		names = append(names, h.Group.Name)
	}
	return names
}

func corpus() []symbolSpec {
	return []symbolSpec{
		sym("size", symbol.KindFunction, symbol.KindFunction),
		sym("size_type", symbol.KindTypedef),
		sym("set", symbol.KindClass),
		sym("settle"),
		sym("reset"),
		sym("offset", symbol.KindVariable),
		sym("Size_Type", symbol.KindTypedef),
		sym("type_traits", symbol.KindFile),
		sym("erase"),
		sym("empty"),
		sym("emplace"),
		sym("allocator", symbol.KindClass),
	}
}

// ---------------------------------------------------------------------------
// Behaviour
// ---------------------------------------------------------------------------

func TestSearchSizeScenario(t *testing.T) {
	e := NewEngine(newLoader(t, corpus()...), Options{})
	res, err := e.Search(context.Background(), "size")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"size", "Size_Type", "size_type"}
	if got := hitNames(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("hits = %v, want %v", got, want)
	}
	if res.Hits[0].Match.Kind != symbol.MatchExact {
		t.Errorf("first hit match = %v", res.Hits[0].Match.Kind)
	}
	if len(res.Hits[0].Group.Entries) != 2 {
		t.Errorf("overloads should be returned together, got %d entries", len(res.Hits[0].Group.Entries))
	}
	for _, h := range res.Hits {
		if h.Group.Name == "set" {
			t.Error("set does not contain size")
		}
	}
}

func TestSearchSubstringScenario(t *testing.T) {
	e := NewEngine(newLoader(t, corpus()...), Options{})
	res, err := e.Search(context.Background(), "et")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"set", "settle", "reset", "offset"}
	if got := hitNames(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("hits = %v, want %v", got, want)
	}

	res, err = e.Search(context.Background(), "set")
	if err != nil {
		t.Fatal(err)
	}
	want = []string{"set", "settle", "reset", "offset"}
	if got := hitNames(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("hits = %v, want %v", got, want)
	}
}

func TestSearchPrefixPolicyExcludesSubstrings(t *testing.T) {
	l := newLoader(t, corpus()...)
	l.policy = symbol.PolicyPrefix
	e := NewEngine(l, Options{})
	res, err := e.Search(context.Background(), "set")
	if err != nil {
		t.Fatal(err)
	}
	if got := hitNames(res); !reflect.DeepEqual(got, []string{"set", "settle"}) {
		t.Errorf("hits = %v", got)
	}
}

func TestSearchHitsContainQuery(t *testing.T) {
	specs := corpus()
	e := NewEngine(newLoader(t, specs...), Options{MaxResults: 100})
	for _, s := range specs {
		key := symbol.Normalize(s.name)
		for i := 0; i < len(key); i++ {
			for j := i + 1; j <= len(key); j++ {
				q := key[i:j]
				res, err := e.Search(context.Background(), q)
				if err != nil {
					t.Fatal(err)
				}
				found := false
				for _, h := range res.Hits {
					if !strings.Contains(h.Group.Key, q) {
						t.Errorf("query %q returned %q", q, h.Group.Name)
					}
					if h.Group.Name == s.name {
						found = true
					}
				}
				if !found {
					t.Errorf("query %q missed %q", q, s.name)
				}
			}
		}
	}
}

func TestSearchExactMatchesComeFirst(t *testing.T) {
	e := NewEngine(newLoader(t, corpus()...), Options{})
	for _, q := range []string{"size", "set", "SIZE_TYPE", "empty"} {
		res, err := e.Search(context.Background(), q)
		if err != nil {
			t.Fatal(err)
		}
		seenPartial := false
		for _, h := range res.Hits {
			if h.Match.Kind != symbol.MatchExact {
				seenPartial = true
			} else if seenPartial {
				t.Errorf("%q: exact hit %q after a partial hit", q, h.Group.Name)
			}
		}
		if res.Hits[0].Match.Kind != symbol.MatchExact {
			t.Errorf("%q: expected an exact hit first", q)
		}
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	l := newLoader(t, corpus()...)
	e := NewEngine(l, Options{MaxConcurrentLoads: 3})
	first, err := e.Search(context.Background(), "e")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		res, err := e.Search(context.Background(), "e")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(hitNames(res), hitNames(first)) {
			t.Fatalf("run %d: %v != %v", i, hitNames(res), hitNames(first))
		}
	}

	// Reversing the manifest must not change the order of hits that differ
	// by name.
	rev := newLoader(t, corpus()...)
	for i, j := 0, len(rev.manifest.Shards)-1; i < j; i, j = i+1, j-1 {
		rev.manifest.Shards[i], rev.manifest.Shards[j] = rev.manifest.Shards[j], rev.manifest.Shards[i]
	}
	res, err := NewEngine(rev, Options{}).Search(context.Background(), "e")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hitNames(res), hitNames(first)) {
		t.Errorf("manifest order changed ranking: %v != %v", hitNames(res), hitNames(first))
	}
}

func TestSearchEmptyQueryLoadsNothing(t *testing.T) {
	l := newLoader(t, corpus()...)
	e := NewEngine(l, Options{})
	for _, q := range []string{"", "   ", "()", "\t`"} {
		res, err := e.Search(context.Background(), q)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Hits) != 0 || res.Total != 0 || res.HasMore {
			t.Errorf("%q: %+v", q, res)
		}
	}
	if n := l.loads.Load(); n != 0 {
		t.Errorf("empty queries loaded %d shards", n)
	}
}

func TestSearchMinQueryLength(t *testing.T) {
	l := newLoader(t, corpus()...)
	e := NewEngine(l, Options{MinQueryLength: 2})
	res, _ := e.Search(context.Background(), "s")
	if len(res.Hits) != 0 || l.loads.Load() != 0 {
		t.Errorf("a query below the minimum length should not search")
	}
}

func TestSearchFailingShardIsFailOpen(t *testing.T) {
	l := newLoader(t, corpus()...)
	l.fail["65"] = fmt.Errorf("%w: connection reset", apperrors.ErrShardLoad)
	e := NewEngine(l, Options{})

	res, err := e.Search(context.Background(), "et")
	if err != nil {
		t.Fatalf("a failed shard must not fail the query: %v", err)
	}
	if !res.Partial || !reflect.DeepEqual(res.FailedShards, []shard.ID{"65"}) {
		t.Errorf("partial=%v failed=%v", res.Partial, res.FailedShards)
	}
	if got := hitNames(res); !reflect.DeepEqual(got, []string{"set", "settle", "reset", "offset"}) {
		t.Errorf("hits from healthy shards = %v", got)
	}
}

func TestSearchCapsHits(t *testing.T) {
	e := NewEngine(newLoader(t, corpus()...), Options{MaxResults: 2})
	res, err := e.Search(context.Background(), "e")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 2 || !res.HasMore || res.Total <= 2 {
		t.Errorf("hits=%d total=%d hasMore=%v", len(res.Hits), res.Total, res.HasMore)
	}

	res, err = e.SearchN(context.Background(), "e", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 {
		t.Errorf("SearchN limit ignored: %d hits", len(res.Hits))
	}
	res, _ = e.SearchN(context.Background(), "e", 50)
	if len(res.Hits) != 2 {
		t.Errorf("limit above MaxResults should clamp, got %d", len(res.Hits))
	}
}

func TestSearchHighlightUsesDisplayCoordinates(t *testing.T) {
	e := NewEngine(newLoader(t, sym("Size_Type")), Options{})
	res, err := e.Search(context.Background(), "type")
	if err != nil {
		t.Fatal(err)
	}
	h := res.Hits[0]
	if h.Highlight != (symbol.Span{Start: 5, Length: 4}) {
		t.Errorf("highlight = %+v", h.Highlight)
	}
	if got := h.Group.Name[h.Highlight.Start : h.Highlight.Start+h.Highlight.Length]; got != "Type" {
		t.Errorf("highlighted %q", got)
	}
}

func TestSearchKindOrderBreaksTies(t *testing.T) {
	l := newLoader(t, sym("swap", symbol.KindFunction))
	// A second group with the same name in another shard.
	other := symbol.NewBuilder()
	e, _ := symbol.NewEntry("swap", symbol.KindClass, nil, "swap_class.html", "")
	other.Add(e)
	l.shards["ff"] = &shard.Shard{ID: "ff", Groups: other.Groups()}
	l.manifest.Shards = append(l.manifest.Shards, shard.ManifestEntry{ID: "ff"})

	res, err := NewEngine(l, Options{}).Search(context.Background(), "swap")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 2 || res.Hits[0].Kind != symbol.KindClass {
		t.Fatalf("default order should rank class before function: %+v", res.Hits)
	}

	fnFirst := symbol.NewKindOrder([]symbol.Kind{symbol.KindFunction, symbol.KindClass})
	res, _ = NewEngine(l, Options{KindOrder: fnFirst}).Search(context.Background(), "swap")
	if res.Hits[0].Kind != symbol.KindFunction {
		t.Errorf("configured order should rank function first")
	}
}

func TestSearchRankingPanicDegrades(t *testing.T) {
	l := newLoader(t, corpus()...)
	l.shards["73"].Groups = append(l.shards["73"].Groups, nil)
	e := NewEngine(l, Options{})
	res, err := e.Search(context.Background(), "s")
	if err != nil {
		t.Fatalf("invariant failures must not surface as errors: %v", err)
	}
	if !res.Degraded || len(res.Hits) != 0 {
		t.Errorf("degraded=%v hits=%d", res.Degraded, len(res.Hits))
	}
}

func TestSearchCancelledContext(t *testing.T) {
	e := NewEngine(newLoader(t, corpus()...), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Search(ctx, "size"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLookup(t *testing.T) {
	e := NewEngine(newLoader(t, corpus()...), Options{})
	g, err := e.Lookup(context.Background(), "SIZE")
	if err != nil || g.Name != "size" {
		t.Fatalf("Lookup = %v, %v", g, err)
	}
	if _, err := e.Lookup(context.Background(), "siz"); !errors.Is(err, apperrors.ErrSymbolNotFound) {
		t.Errorf("partial match should not resolve: %v", err)
	}
}

func TestResultView(t *testing.T) {
	l := newLoader(t, sym("size", symbol.KindFunction, symbol.KindVariable, symbol.KindFunction))
	e := NewEngine(l, Options{})
	res, err := e.Search(context.Background(), "size")
	if err != nil {
		t.Fatal(err)
	}
	v := res.View(e.KindOrder())
	if len(v.Rows) != 1 {
		t.Fatalf("rows = %d", len(v.Rows))
	}
	row := v.Rows[0]
	if row.Kind != symbol.KindFunction || row.Match != symbol.MatchExact {
		t.Errorf("row = %+v", row)
	}
	if len(row.Sections) != 2 || row.Sections[0].Kind != symbol.KindFunction || len(row.Sections[0].Entries) != 2 {
		t.Fatalf("sections = %+v", row.Sections)
	}
	if row.Sections[0].Entries[0].URL != "size.html#0" || row.Sections[0].Entries[1].URL != "size.html#2" {
		t.Errorf("entries should keep generation order: %+v", row.Sections[0].Entries)
	}
	if row.Sections[0].Entries[0].Scope != "ns" {
		t.Errorf("scope = %q", row.Sections[0].Entries[0].Scope)
	}
}

// Many concurrent searches over a real store fetch each shard once.
func TestConcurrentSearchesShareShardLoads(t *testing.T) {
	src := &countingSource{payload: []byte(`[{"name": "size", "entries": [{"kind": "function", "url": "a.html"}]}]`)}
	store := shard.NewStore(src, shard.StoreOptions{KeyLength: 1})
	defer store.Close()
	e := NewEngine(store, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Search(context.Background(), "size")
			if err != nil || len(res.Hits) != 1 {
				t.Errorf("search: %v %v", res, err)
			}
		}()
	}
	wg.Wait()
	if n := src.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

type countingSource struct {
	payload []byte
	fetches atomic.Int32
}

func (c *countingSource) List(ctx context.Context) (shard.Manifest, error) {
	return shard.Manifest{Shards: []shard.ManifestEntry{{ID: "73"}}}, nil
}

func (c *countingSource) Fetch(ctx context.Context, id shard.ID) ([]byte, error) {
	c.fetches.Add(1)
	return c.payload, nil
}
