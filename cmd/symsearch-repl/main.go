// Command symsearch-repl is an interactive symbol search over the same
// shards the HTTP service serves. Each line is a query; tab completes
// symbol names.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/session"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/logger"
	pkgredis "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/redis"
	"github.com/peterh/liner"
)

const completionLimit = 10

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	plain := flag.Bool("plain", false, "disable terminal colors")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, "text")

	if err := run(cfg, !*plain); err != nil {
		slog.Error("repl failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, color bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := shard.OpenSource(cfg.Shards, nil)
	if err != nil {
		return err
	}
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, reading shards directly", "error", err)
		} else {
			defer rc.Close()
			src = shard.NewCachedSource(src, rc, shard.Namespace(cfg.Shards), cfg.Redis.CacheTTL, nil)
		}
	}
	storeOpts, err := shard.StoreOptionsFrom(cfg.Shards, nil)
	if err != nil {
		return err
	}
	store := shard.NewStore(src, storeOpts)
	order := symbol.ParseKindOrder(cfg.Search.KindOrder)
	engine := query.NewEngine(store, query.Options{
		MaxResults:         cfg.Search.MaxResults,
		MinQueryLength:     cfg.Search.MinQueryLength,
		MaxConcurrentLoads: cfg.Search.MaxConcurrentLoads,
		KindOrder:          order,
	})

	opts := session.Options{Debounce: cfg.Session.Debounce, Owned: store}
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		collector := analytics.NewCollector(producer, cfg.Analytics.BufferSize, 50, 5*time.Second)
		collector.Start(ctx)
		defer func() {
			cancel()
			collector.Close()
			producer.Close()
		}()
		opts.OnSettled = func(u session.Update) {
			collector.Track(analytics.NewSearchEvent("repl", u.Result, ""))
		}
	}

	ctrl := session.NewController(engine, &terminal{out: os.Stdout, order: order, color: color}, opts)
	defer ctrl.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		return complete(ctx, engine, prefix)
	})

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if history == "" {
			return
		}
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("symbol search: type a name, :lookup NAME, :stats, or :quit")
	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch cmd, arg, _ := strings.Cut(input, " "); cmd {
		case ":q", ":quit", ":exit":
			return nil
		case ":stats":
			printStats(store.Stats())
		case ":lookup", ":go":
			lookup(ctx, engine, arg)
		default:
			// The display prints the result; wait so the prompt follows it.
			<-ctrl.Search(ctx, input)
		}
	}
}

func complete(ctx context.Context, engine *query.Engine, prefix string) []string {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	res, err := engine.SearchN(ctx, prefix, completionLimit)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		names = append(names, h.Group.Name)
	}
	return names
}

func lookup(ctx context.Context, engine *query.Engine, name string) {
	g, err := engine.Lookup(ctx, name)
	if err != nil {
		fmt.Printf("%s: %v\n", name, err)
		return
	}
	for _, e := range g.Entries {
		fmt.Printf("  %-10s %s  %s\n", e.Kind, e.QualifiedName(), e.URL)
	}
}

func printStats(st shard.Stats) {
	fmt.Printf("shards loaded=%d loading=%d failed=%d fetches=%d symbols=%d entries=%d malformed=%d\n",
		st.Loaded, st.Loading, st.Failed, st.Fetches, st.Symbols, st.Entries, st.Malformed)
	if st.ManifestError != "" {
		fmt.Printf("manifest: %s\n", st.ManifestError)
	}
	for id, msg := range st.Failures {
		fmt.Printf("  %s: %s\n", id, msg)
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".symsearch_history")
}
