package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/health"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBackend) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string][]byte)
	return n, nil
}

const sizeShard = `[
	{"name": "size", "entries": [
		{"kind": "function", "scope": ["vector"], "url": "vector/size.html"},
		{"kind": "function", "scope": ["string"], "url": "string/size.html"}]},
	{"name": "size_type", "entries": [{"kind": "typedef", "scope": ["vector"], "url": "vector.html#size_type"}]},
	{"name": "set", "entries": [{"kind": "class", "url": "set.html"}]}
]`

type fixture struct {
	dir     string
	handler http.Handler
	agg     *analytics.Aggregator
	backend *backend.Backend
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "73.json", sizeShard)

	b := backend.New(backend.Options{
		NewStore: func() *shard.Store {
			return shard.NewStore(shard.NewDirSource(dir), shard.StoreOptions{KeyLength: 1})
		},
	})
	t.Cleanup(func() { b.Close() })

	agg := analytics.NewAggregator()
	viewCache := cache.New(&memBackend{data: make(map[string][]byte)}, time.Minute)
	checker := health.NewChecker()
	checker.Register("redis", health.PingCheck(nil))

	h := New(Deps{
		Search:       handler.New(b, viewCache, agg, 10, 20),
		Analytics:    analytics.NewHandler(agg, nil),
		Health:       checker,
		Limiter:      limiter,
		AllowOrigins: []string{"https://docs.example.com"},
		Timeout:      5 * time.Second,
	})
	return &fixture{dir: dir, handler: h, agg: agg, backend: b}
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) query.View {
	t.Helper()
	var v query.View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

func rowNames(v query.View) []string {
	names := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		names[i] = r.Name
	}
	return names
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchRanksAndRendersRows(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/v1/symbols/search?q=Size", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	v := decodeView(t, rec)
	if got := strings.Join(rowNames(v), ","); got != "size,size_type" {
		t.Errorf("rows = %s", got)
	}
	if v.Query != "Size" {
		t.Errorf("query = %q", v.Query)
	}
	first := v.Rows[0]
	if first.Match != symbol.MatchExact || len(first.Sections) != 1 || len(first.Sections[0].Entries) != 2 {
		t.Errorf("first row = %+v", first)
	}
}

func TestSearchParameters(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name   string
		target string
		status int
		rows   int
	}{
		{"missing q", "/api/v1/symbols/search", http.StatusBadRequest, 0},
		{"bad limit", "/api/v1/symbols/search?q=s&limit=abc", http.StatusBadRequest, 0},
		{"zero limit", "/api/v1/symbols/search?q=s&limit=0", http.StatusBadRequest, 0},
		{"blank q", "/api/v1/symbols/search?q=", http.StatusOK, 0},
		{"limit one", "/api/v1/symbols/search?q=s&limit=1", http.StatusOK, 1},
		{"limit clamped", "/api/v1/symbols/search?q=s&limit=500", http.StatusOK, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if rec.Code == http.StatusOK {
				if v := decodeView(t, rec); len(v.Rows) != tt.rows {
					t.Errorf("rows = %d, want %d", len(v.Rows), tt.rows)
				}
			}
		})
	}
}

func TestRepeatedSearchHitsViewCache(t *testing.T) {
	f := newFixture(t, nil)
	for range 2 {
		if rec := f.do(http.MethodGet, "/api/v1/symbols/search?q=set", ""); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	var resp handler.ShardsResponse
	rec := f.do(http.MethodGet, "/api/v1/shards", "")
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ViewCache == nil || resp.ViewCache.Hits != 1 {
		t.Errorf("view cache = %+v", resp.ViewCache)
	}
	if resp.Generation != 1 {
		t.Errorf("generation = %d", resp.Generation)
	}
	if stats := f.agg.Stats(); stats.TotalSearches != 2 || stats.CacheHits != 1 {
		t.Errorf("analytics = %+v", stats)
	}
}

// ---------------------------------------------------------------------------
// Lookup and reload
// ---------------------------------------------------------------------------

func TestLookup(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.do(http.MethodGet, "/api/v1/symbols/lookup?name=size_type", ""); rec.Code != http.StatusOK {
		t.Errorf("lookup size_type = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/symbols/lookup?name=siz", ""); rec.Code != http.StatusNotFound {
		t.Errorf("lookup siz = %d, want 404", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/symbols/lookup", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("lookup without name = %d, want 400", rec.Code)
	}
}

func TestReloadServesNewGeneration(t *testing.T) {
	f := newFixture(t, nil)
	if v := decodeView(t, f.do(http.MethodGet, "/api/v1/symbols/search?q=sizeof", "")); len(v.Rows) != 0 {
		t.Fatalf("sizeof before reload: %v", rowNames(v))
	}

	writeFile(t, f.dir, "73.json", strings.Replace(sizeShard, "[\n",
		"[\n\t{\"name\": \"sizeof\", \"entries\": [{\"kind\": \"keyword\", \"url\": \"sizeof.html\"}]},\n", 1))
	rec := f.do(http.MethodPost, "/api/v1/shards/reload", `{"shards": ["73"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Generation uint64 `json:"generation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Generation != 2 {
		t.Fatalf("reload body = %+v, %v", body, err)
	}

	v := decodeView(t, f.do(http.MethodGet, "/api/v1/symbols/search?q=sizeof", ""))
	if got := strings.Join(rowNames(v), ","); got != "sizeof" {
		t.Errorf("after reload rows = %s", got)
	}
	if rec := f.do(http.MethodPost, "/api/v1/shards/reload", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad reload body = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Edge middleware
// ---------------------------------------------------------------------------

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	limiter := ratelimit.New(2, time.Minute)
	t.Cleanup(limiter.Stop)
	f := newFixture(t, limiter)

	for i := range 2 {
		if rec := f.do(http.MethodGet, "/api/v1/symbols/search?q=set", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := f.do(http.MethodGet, "/api/v1/symbols/search?q=set", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := f.do(http.MethodGet, "/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("health under rate limit = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/symbols/search", nil)
	req.Header.Set("Origin", "https://docs.example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://docs.example.com" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestAnalyticsAndHealthRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodGet, "/api/v1/symbols/search?q=nothing_here", "")

	var stats analytics.AggregatedStats
	rec := f.do(http.MethodGet, "/api/v1/analytics", "")
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.ZeroResultCount != 1 {
		t.Errorf("zero results = %d", stats.ZeroResultCount)
	}
	if rec := f.do(http.MethodGet, "/api/v1/analytics/snapshots", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("snapshots without persistence = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/health/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}
}
