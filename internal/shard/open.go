package shard

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/resilience"
)

// OpenSource builds the source named by cfg: the local directory when Dir
// is set, otherwise the remote site at BaseURL.
func OpenSource(cfg config.ShardsConfig, m *metrics.Metrics) (Source, error) {
	if cfg.Dir != "" {
		return NewDirSource(cfg.Dir), nil
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no shard dir or base url configured")
	}
	return NewHTTPSource(HTTPSourceConfig{
		BaseURL: cfg.BaseURL,
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		Breaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, to resilience.State) {
				m.BreakerState(name, int(to))
			},
		},
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}

// StoreOptionsFrom maps shard config onto store options.
func StoreOptionsFrom(cfg config.ShardsConfig, m *metrics.Metrics) (StoreOptions, error) {
	policy, err := symbol.ParsePolicy(cfg.MatchPolicy)
	if err != nil {
		return StoreOptions{}, err
	}
	return StoreOptions{
		KeyLength:    cfg.KeyLength,
		Policy:       policy,
		FetchTimeout: cfg.FetchTimeout,
		Metrics:      m,
	}, nil
}

// Namespace keys a shared shard cache by documentation site.
func Namespace(cfg config.ShardsConfig) string {
	if cfg.Dir != "" {
		return "dir:" + cfg.Dir
	}
	return "url:" + cfg.BaseURL
}
