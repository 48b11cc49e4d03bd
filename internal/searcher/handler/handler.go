// Package handler serves the symbol search HTTP API over the live backend
// generation.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/middleware"
)

type Handler struct {
	backend      *backend.Backend
	cache        *cache.ViewCache
	tracker      analytics.Tracker
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New builds a Handler. cache and tracker may be nil.
func New(b *backend.Backend, viewCache *cache.ViewCache, tracker analytics.Tracker, defaultLimit, maxResults int) *Handler {
	if maxResults < 1 {
		maxResults = 20
	}
	if defaultLimit < 1 || defaultLimit > maxResults {
		defaultLimit = maxResults
	}
	return &Handler{
		backend:      b,
		cache:        viewCache,
		tracker:      tracker,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Search answers GET /api/v1/symbols/search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	if !params.Has("q") {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	raw := params.Get("q")
	limit := h.defaultLimit
	if v := params.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, h.maxResults)
	}

	g, release, err := h.backend.Acquire()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	defer release()

	normalized := symbol.Normalize(raw)
	compute := func(ctx context.Context) (*query.View, error) {
		res, err := g.Engine.SearchN(ctx, raw, limit)
		if err != nil {
			return nil, err
		}
		v := res.View(g.Engine.KindOrder())
		return &v, nil
	}

	var (
		view     *query.View
		cacheHit bool
	)
	if h.cache != nil && normalized != "" {
		view, cacheHit, err = h.cache.GetOrCompute(ctx, g.Session, normalized, limit, compute)
	} else {
		view, err = compute(ctx)
	}
	if err != nil {
		log.Error("search failed", "query", raw, "error", err)
		h.writeFailure(w, err)
		return
	}
	// Views may be shared with concurrent callers; copy before stamping the
	// caller's query text.
	own := *view
	own.Query = raw
	view = &own

	log.Info("search completed",
		"query", raw,
		"total", view.Total,
		"returned", len(view.Rows),
		"partial", view.Partial,
		"degraded", view.Degraded,
		"cache_hit", cacheHit,
		"generation", g.Seq,
		"session", g.Session,
	)
	if h.tracker != nil && normalized != "" {
		h.tracker.Track(analytics.NewViewEvent("http", view, normalized, cacheHit, middleware.GetRequestID(ctx)))
	}
	h.writeJSON(w, http.StatusOK, view)
}

// Lookup answers GET /api/v1/symbols/lookup?name= with the exact group.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if symbol.Normalize(name) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'name' is required")
		return
	}
	g, release, err := h.backend.Acquire()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	defer release()

	group, err := g.Engine.Lookup(r.Context(), name)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, group)
}

// ShardsResponse describes the live store session.
type ShardsResponse struct {
	Generation uint64      `json:"generation"`
	Session    string      `json:"session"`
	Started    time.Time   `json:"started"`
	Store      shard.Stats `json:"store"`
	ViewCache  *CacheStats `json:"viewCache,omitempty"`
}

type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Shards answers GET /api/v1/shards.
func (h *Handler) Shards(w http.ResponseWriter, r *http.Request) {
	g := h.backend.Current()
	if g == nil {
		h.writeFailure(w, apperrors.ErrClosed)
		return
	}
	resp := ShardsResponse{
		Generation: g.Seq,
		Session:    g.Session,
		Started:    g.Started.UTC(),
		Store:      g.Store.Stats(),
	}
	if h.cache != nil {
		hits, misses := h.cache.Stats()
		resp.ViewCache = &CacheStats{Hits: hits, Misses: misses}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ReloadRequest optionally names the regenerated shards. An empty list
// reloads everything.
type ReloadRequest struct {
	Shards []shard.ID `json:"shards"`
}

// Reload answers POST /api/v1/shards/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	var req ReloadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid reload request body")
			return
		}
	}
	change := shard.Change{IDs: req.Shards, Full: len(req.Shards) == 0}
	g, err := h.backend.Reload(r.Context(), change)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"generation": g.Seq,
	})
}

// writeFailure maps an error onto a status. Deadlines become 504 and
// cancelled requests get no body.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "search timed out")
	case errors.Is(err, context.Canceled):
		w.WriteHeader(499)
	default:
		status := apperrors.HTTPStatusCode(err)
		msg := http.StatusText(status)
		if status < http.StatusInternalServerError {
			msg = err.Error()
		}
		h.writeError(w, status, msg)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
