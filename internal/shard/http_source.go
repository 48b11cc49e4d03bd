package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/resilience"
	"golang.org/x/time/rate"
)

// maxShardBytes bounds a single shard download.
const maxShardBytes = 64 << 20

// HTTPSourceConfig tunes a remote shard source.
type HTTPSourceConfig struct {
	BaseURL string
	Client  *http.Client
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	// RequestsPerSecond caps outgoing requests; zero means unlimited.
	RequestsPerSecond float64
}

// HTTPSource fetches <base>/manifest.json and <base>/<id>.json from a
// documentation site, retrying transient failures behind a circuit breaker.
type HTTPSource struct {
	base    *url.URL
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	files map[ID]string
}

func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing shard base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("shard base url %q must be http or https", cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Benign == nil {
		breakerCfg.Benign = func(err error) bool { return errors.Is(err, apperrors.ErrShardNotFound) }
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &HTTPSource{
		base:    base,
		client:  client,
		retry:   cfg.Retry,
		breaker: resilience.NewCircuitBreaker("shard-source", breakerCfg),
		limiter: limiter,
		logger:  slog.Default().With("component", "http-shard-source", "base", base.String()),
		files:   make(map[ID]string),
	}, nil
}

// Breaker exposes the source's circuit breaker for health reporting.
func (h *HTTPSource) Breaker() *resilience.CircuitBreaker { return h.breaker }

func (h *HTTPSource) List(ctx context.Context) (Manifest, error) {
	data, err := h.get(ctx, manifestFile)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing remote manifest: %w", err)
	}
	h.mu.Lock()
	for _, e := range m.Shards {
		if e.File != "" {
			h.files[e.ID] = e.File
		}
	}
	h.mu.Unlock()
	return m, nil
}

func (h *HTTPSource) Fetch(ctx context.Context, id ID) ([]byte, error) {
	h.mu.Lock()
	file, ok := h.files[id]
	h.mu.Unlock()
	if !ok {
		file = string(id) + ".json"
	}
	data, err := h.get(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", id, err)
	}
	return data, nil
}

func (h *HTTPSource) get(ctx context.Context, name string) ([]byte, error) {
	ref, err := url.Parse(name)
	if err != nil || ref.IsAbs() || strings.HasPrefix(name, "/") {
		return nil, fmt.Errorf("invalid shard path %q", name)
	}
	target := h.base.ResolveReference(ref).String()

	var body []byte
	err = resilience.Retry(ctx, "fetch "+name, h.retry, func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return resilience.Permanent(err)
		}
		err := h.breaker.Execute(func() error {
			b, err := h.do(ctx, target)
			body = b
			return err
		})
		if errors.Is(err, apperrors.ErrShardNotFound) || errors.Is(err, resilience.ErrCircuitOpen) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (h *HTTPSource) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrShardNotFound, target)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, resilience.Permanent(fmt.Errorf("GET %s: status %d", target, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShardBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	if len(body) > maxShardBytes {
		return nil, resilience.Permanent(fmt.Errorf("%s exceeds %d bytes", target, maxShardBytes))
	}
	h.logger.Debug("fetched", "url", target, "bytes", len(body), "took", time.Since(start))
	return body, nil
}
