// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Shards, Search, Session, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Shards    ShardsConfig    `yaml:"shards"`
	Search    SearchConfig    `yaml:"search"`
	Session   SessionConfig   `yaml:"session"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// ShardsConfig describes where index shards come from and how they are keyed.
// Exactly one of Dir or BaseURL is normally set; Dir wins when both are.
type ShardsConfig struct {
	Dir          string        `yaml:"dir"`
	BaseURL      string        `yaml:"baseUrl"`
	KeyLength    int           `yaml:"keyLength"`
	MatchPolicy  string        `yaml:"matchPolicy"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	Retry        RetryConfig   `yaml:"retry"`
	// RequestsPerSecond caps HTTP shard fetches; zero disables the limiter.
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Watch             bool          `yaml:"watch"`
	WatchDebounce     time.Duration `yaml:"watchDebounce"`
}

// RetryConfig controls exponential backoff for shard fetches.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// SearchConfig controls query execution limits and ranking policy.
type SearchConfig struct {
	MaxResults         int      `yaml:"maxResults"`
	DefaultLimit       int      `yaml:"defaultLimit"`
	MinQueryLength     int      `yaml:"minQueryLength"`
	MaxConcurrentLoads int      `yaml:"maxConcurrentLoads"`
	KindOrder          []string `yaml:"kindOrder"`
}

// SessionConfig controls the interactive query session.
type SessionConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and shard-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig controls search-event collection and snapshotting.
type AnalyticsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BufferSize       int           `yaml:"bufferSize"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// RateLimitConfig controls per-client request limits on the search API.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requestsPerWindow"`
	Window            time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the search core cannot run with.
func (c *Config) Validate() error {
	if c.Shards.Dir == "" && c.Shards.BaseURL == "" {
		return fmt.Errorf("config: one of shards.dir or shards.baseUrl is required")
	}
	if c.Shards.KeyLength < 1 {
		return fmt.Errorf("config: shards.keyLength must be >= 1, got %d", c.Shards.KeyLength)
	}
	switch c.Shards.MatchPolicy {
	case "substring", "prefix":
	default:
		return fmt.Errorf("config: shards.matchPolicy must be substring or prefix, got %q", c.Shards.MatchPolicy)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("config: search.maxResults must be >= 1, got %d", c.Search.MaxResults)
	}
	if c.Search.MinQueryLength < 1 {
		return fmt.Errorf("config: search.minQueryLength must be >= 1, got %d", c.Search.MinQueryLength)
	}
	seen := make(map[string]struct{}, len(c.Search.KindOrder))
	for _, k := range c.Search.KindOrder {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("config: search.kindOrder lists %q twice", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development against a directory of generated shards.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Shards: ShardsConfig{
			Dir:          "docs/search",
			KeyLength:    1,
			MatchPolicy:  "substring",
			FetchTimeout: 5 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
			WatchDebounce: 500 * time.Millisecond,
		},
		Search: SearchConfig{
			MaxResults:         20,
			DefaultLimit:       20,
			MinQueryLength:     1,
			MaxConcurrentLoads: 8,
		},
		Session: SessionConfig{
			Debounce: 150 * time.Millisecond,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "symbolsearch",
			User:            "symbolsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "symbolsearch-group",
			Topics: KafkaTopics{
				SearchEvents: "symbol-search-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			SnapshotInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 600,
			Window:            time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SS_SHARDS_DIR"); v != "" {
		cfg.Shards.Dir = v
	}
	if v := os.Getenv("SS_SHARDS_BASE_URL"); v != "" {
		cfg.Shards.BaseURL = v
	}
	if v := os.Getenv("SS_SHARDS_MATCH_POLICY"); v != "" {
		cfg.Shards.MatchPolicy = v
	}
	if v := os.Getenv("SS_SEARCH_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxResults = n
		}
	}
	if v := os.Getenv("SS_SEARCH_KIND_ORDER"); v != "" {
		cfg.Search.KindOrder = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_SESSION_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.Debounce = d
		}
	}
	if v := os.Getenv("SS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
