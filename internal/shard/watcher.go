package shard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is one debounced batch of shard directory edits.
type Change struct {
	// IDs are the shards whose files changed, when the file name names
	// the shard directly.
	IDs []ID
	// Files are the changed file names relative to the directory.
	Files []string
	// Full is set when the manifest or an unmapped shard file changed, so
	// every shard may differ.
	Full bool
}

// Watcher reports regenerated shard files in a directory. Bursts of events,
// as a documentation build rewrites hundreds of shards, collapse into one
// Change after the debounce window goes quiet.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(context.Context, Change)
	logger   *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches dir. onChange runs on the watcher goroutine, one batch
// at a time.
func NewWatcher(dir string, debounce time.Duration, onChange func(context.Context, Change)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating shard watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		logger:   slog.Default().With("component", "shard-watcher", "dir", dir),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins delivering changes until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop ends the watch loop and releases the OS watch.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.watcher.Close()
	})
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	pending := make(map[string]struct{})
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-w.stopCh:
			stopTimer()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				stopTimer()
				return
			}
			name, relevant := w.relevant(event)
			if !relevant {
				continue
			}
			pending[name] = struct{}{}
			stopTimer()
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if len(pending) == 0 {
				continue
			}
			change := classify(pending)
			pending = make(map[string]struct{})
			w.logger.Info("shard files changed", "files", len(change.Files), "full", change.Full)
			w.onChange(ctx, change)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				stopTimer()
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	name := filepath.Base(event.Name)
	switch filepath.Ext(name) {
	case ".json", ".js":
		return name, true
	}
	return "", false
}

func classify(files map[string]struct{}) Change {
	var c Change
	seen := make(map[ID]struct{})
	for name := range files {
		c.Files = append(c.Files, name)
		if name == manifestFile || name == doxygenSummary {
			c.Full = true
			continue
		}
		id := ID(strings.TrimSuffix(name, filepath.Ext(name)))
		if _, ok := id.Prefix(); !ok || id == "" {
			c.Full = true
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			c.IDs = append(c.IDs, id)
		}
	}
	sort.Strings(c.Files)
	sort.Slice(c.IDs, func(i, j int) bool { return c.IDs[i] < c.IDs[j] })
	return c
}
