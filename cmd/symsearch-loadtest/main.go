// Command symsearch-loadtest replays typing sessions against the search API:
// every worker types symbol names one keystroke at a time and each keystroke
// is a search request, the way an incremental search box drives the service.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"golang.org/x/time/rate"
)

// frameBudget is the latency a keystroke answer must beat to feel instant.
const frameBudget = 16 * time.Millisecond

var defaultNames = []string{
	"size", "size_type", "set", "reset", "settle", "offset", "vector",
	"push_back", "emplace_back", "allocator", "basic_string", "unique_ptr",
	"shared_ptr", "make_shared", "iterator", "const_iterator", "begin",
	"end", "erase", "insert", "find", "operator==", "std::move", "swap",
}

type Config struct {
	BaseURL        string
	Concurrency    int
	Duration       time.Duration
	KeystrokesPerS float64
	Limit          int
	Names          []string
}

type Stats struct {
	keystrokes atomic.Int64
	errors     atomic.Int64
	empty      atomic.Int64
	partial    atomic.Int64
	degraded   atomic.Int64
	overBudget atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) Record(took time.Duration, status int, view *query.View, err error) {
	s.keystrokes.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if took > frameBudget {
		s.overBudget.Add(1)
	}
	switch {
	case status != http.StatusOK:
		s.errors.Add(1)
	case view.Degraded:
		s.degraded.Add(1)
	case view.Partial:
		s.partial.Add(1)
	case len(view.Rows) == 0:
		s.empty.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, took)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the symbol search service")
	concurrency := flag.Int("concurrency", 10, "number of simulated typists")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	kps := flag.Float64("kps", 8, "keystrokes per second per typist")
	limit := flag.Int("limit", 20, "rows requested per keystroke")
	namesFile := flag.String("names", "", "file with one symbol name per line (default: built-in list)")
	flag.Parse()

	names := defaultNames
	if *namesFile != "" {
		loaded, err := readNames(*namesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading names: %v\n", err)
			os.Exit(1)
		}
		names = loaded
	}

	cfg := Config{
		BaseURL:        strings.TrimSuffix(*baseURL, "/"),
		Concurrency:    *concurrency,
		Duration:       *duration,
		KeystrokesPerS: *kps,
		Limit:          *limit,
		Names:          names,
	}

	fmt.Println("=== Symbol Search Typing Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Typists:     %d at %.1f keystrokes/s\n", cfg.Concurrency, cfg.KeystrokesPerS)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Names:       %d\n", len(cfg.Names))
	fmt.Println()

	stats := run(cfg)
	if !printReport(stats, cfg.Duration) {
		os.Exit(1)
	}
}

func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s lists no names", path)
	}
	return names, nil
}

// keystrokes returns the successive prefixes typed for name.
func keystrokes(name string) []string {
	runes := []rune(name)
	out := make([]string, len(runes))
	for i := range runes {
		out[i] = string(runes[:i+1])
	}
	return out
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			pace := rate.NewLimiter(rate.Limit(cfg.KeystrokesPerS), 1)
			for i := worker; ; i++ {
				for _, prefix := range keystrokes(cfg.Names[i%len(cfg.Names)]) {
					if err := pace.Wait(ctx); err != nil {
						return
					}
					took, status, view, err := search(ctx, client, cfg, prefix)
					if ctx.Err() != nil {
						return
					}
					stats.Record(took, status, view, err)
				}
			}
		}(w)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func search(ctx context.Context, client *http.Client, cfg Config, prefix string) (time.Duration, int, *query.View, error) {
	target := fmt.Sprintf("%s/api/v1/symbols/search?q=%s&limit=%d", cfg.BaseURL, url.QueryEscape(prefix), cfg.Limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, nil, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), 0, nil, err
	}
	defer resp.Body.Close()

	var view query.View
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			return time.Since(start), resp.StatusCode, nil, fmt.Errorf("decoding view: %w", err)
		}
	}
	return time.Since(start), resp.StatusCode, &view, nil
}

// printReport reports false when nothing completed.
func printReport(stats *Stats, duration time.Duration) bool {
	total := stats.keystrokes.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Keystrokes:      %d\n", total)
	fmt.Printf("Errors:          %d\n", stats.errors.Load())
	fmt.Printf("Empty results:   %d\n", stats.empty.Load())
	fmt.Printf("Partial:         %d\n", stats.partial.Load())
	fmt.Printf("Degraded:        %d\n", stats.degraded.Load())
	if total > 0 {
		fmt.Printf("Over %s:     %.2f%%\n", frameBudget, float64(stats.overBudget.Load())/float64(total)*100)
		fmt.Printf("Keystrokes/sec:  %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	counts := make(map[int]int64, len(codes))
	for _, code := range codes {
		counts[code] = stats.statusCodes[code]
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Keystroke latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, counts[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No keystrokes completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
