package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.MaxResults != 20 {
		t.Errorf("expected maxResults 20, got %d", cfg.Search.MaxResults)
	}
	if cfg.Session.Debounce != 150*time.Millisecond {
		t.Errorf("expected 150ms debounce, got %v", cfg.Session.Debounce)
	}
	if cfg.Shards.MatchPolicy != "substring" {
		t.Errorf("expected substring policy, got %q", cfg.Shards.MatchPolicy)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
shards:
  dir: /srv/docs/search
  keyLength: 2
search:
  maxResults: 5
  kindOrder: [class, function]
session:
  debounce: 50ms
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SS_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Shards.Dir != "/srv/docs/search" || cfg.Shards.KeyLength != 2 {
		t.Errorf("unexpected shards config: %+v", cfg.Shards)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("expected maxResults 5, got %d", cfg.Search.MaxResults)
	}
	if len(cfg.Search.KindOrder) != 2 || cfg.Search.KindOrder[0] != "class" {
		t.Errorf("unexpected kind order: %v", cfg.Search.KindOrder)
	}
	if cfg.Session.Debounce != 50*time.Millisecond {
		t.Errorf("expected 50ms debounce, got %v", cfg.Session.Debounce)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override of logging level, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port to survive partial YAML, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no source", func(c *Config) { c.Shards.Dir = ""; c.Shards.BaseURL = "" }},
		{"zero key length", func(c *Config) { c.Shards.KeyLength = 0 }},
		{"bad policy", func(c *Config) { c.Shards.MatchPolicy = "fuzzy" }},
		{"zero results", func(c *Config) { c.Search.MaxResults = 0 }},
		{"zero min length", func(c *Config) { c.Search.MinQueryLength = 0 }},
		{"duplicate kind", func(c *Config) { c.Search.KindOrder = []string{"class", "class"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
