// Package router wires the symbol search routes and the middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/analytics"
	gwmw "github.com/Adithya-Monish-Kumar-K/symbol-search/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/middleware"
)

// Deps are the handlers and policies the router mounts. Analytics, Limiter
// and Metrics may be nil.
type Deps struct {
	Search       *handler.Handler
	Analytics    *analytics.Handler
	Health       *health.Checker
	Limiter      *ratelimit.Limiter
	Metrics      *metrics.Metrics
	AllowOrigins []string
	Timeout      time.Duration
}

// New builds the HTTP handler.
//
// Route table:
//
//	GET    /api/v1/symbols/search        → ranked view for ?q=&limit=
//	GET    /api/v1/symbols/lookup        → exact group for ?name=
//	GET    /api/v1/shards                → store session stats
//	POST   /api/v1/shards/reload         → start a fresh store session
//	GET    /api/v1/analytics             → aggregated search stats
//	GET    /api/v1/analytics/snapshots   → persisted snapshots
//	GET    /health/live, /health/ready   → probes
//	GET    /metrics                      → Prometheus scrape
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → RateLimit → Timeout → mux
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/symbols/search", d.Search.Search)
	mux.HandleFunc("GET /api/v1/symbols/lookup", d.Search.Lookup)
	mux.HandleFunc("GET /api/v1/shards", d.Search.Shards)
	mux.HandleFunc("POST /api/v1/shards/reload", d.Search.Reload)

	if d.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", d.Analytics.Stats)
		mux.HandleFunc("GET /api/v1/analytics/snapshots", d.Analytics.Snapshots)
	}

	if d.Health != nil {
		mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())
	}
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = pkgmw.Timeout(d.Timeout)(chain)
	chain = gwmw.RateLimit(d.Limiter)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig(d.AllowOrigins))(chain)
	chain = pkgmw.Metrics(d.Metrics)(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
