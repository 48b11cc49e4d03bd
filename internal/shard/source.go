package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
)

// Source delivers raw shard payloads. Fetch returns an error wrapping
// errors.ErrShardNotFound when the shard does not exist, which stores treat
// as an empty shard rather than a failure.
type Source interface {
	List(ctx context.Context) (Manifest, error)
	Fetch(ctx context.Context, id ID) ([]byte, error)
}

const (
	manifestFile   = "manifest.json"
	doxygenSummary = "searchdata.js"
)

// DirSource serves shards from a local directory. The manifest comes from
// manifest.json when present, then from a Doxygen searchdata.js, and
// otherwise from the <id>.json and <id>.js files in the directory.
type DirSource struct {
	dir string

	mu    sync.Mutex
	files map[ID]string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Dir returns the directory the source reads.
func (d *DirSource) Dir() string { return d.dir }

func (d *DirSource) List(ctx context.Context) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	m, err := d.list()
	if err != nil {
		return Manifest{}, err
	}
	files := make(map[ID]string, len(m.Shards))
	for _, e := range m.Shards {
		if e.File != "" {
			files[e.ID] = e.File
		}
	}
	d.mu.Lock()
	d.files = files
	d.mu.Unlock()
	return m, nil
}

func (d *DirSource) list() (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, manifestFile))
	switch {
	case err == nil:
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("parsing %s: %w", manifestFile, err)
		}
		return m, nil
	case !errors.Is(err, fs.ErrNotExist):
		return Manifest{}, fmt.Errorf("reading %s: %w", manifestFile, err)
	}

	data, err = os.ReadFile(filepath.Join(d.dir, doxygenSummary))
	switch {
	case err == nil:
		return DoxygenManifest(data)
	case !errors.Is(err, fs.ErrNotExist):
		return Manifest{}, fmt.Errorf("reading %s: %w", doxygenSummary, err)
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return Manifest{}, fmt.Errorf("listing shard directory: %w", err)
	}
	var m Manifest
	seen := make(map[ID]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".json" && ext != ".js" {
			continue
		}
		id := ID(strings.TrimSuffix(e.Name(), ext))
		if _, ok := id.Prefix(); !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m.Shards = append(m.Shards, ManifestEntry{ID: id, File: e.Name()})
	}
	sort.Slice(m.Shards, func(i, j int) bool { return m.Shards[i].ID < m.Shards[j].ID })
	return m, nil
}

func (d *DirSource) Fetch(ctx context.Context, id ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	file, ok := d.files[id]
	d.mu.Unlock()

	candidates := []string{string(id) + ".json", string(id) + ".js"}
	if ok {
		candidates = []string{file}
	}
	for _, name := range candidates {
		if filepath.Base(name) != name {
			return nil, fmt.Errorf("shard %s: file %q escapes the shard directory", id, name)
		}
		data, err := os.ReadFile(filepath.Join(d.dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading shard %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrShardNotFound, id)
}

// DoxygenManifest maps a Doxygen searchdata.js onto shard ids. Doxygen
// numbers its all_<n>.js files by position in the indexSectionsWithContent
// string, one file per leading character.
func DoxygenManifest(data []byte) (Manifest, error) {
	src := string(data)
	const marker = "var indexSectionsWithContent"
	i := strings.Index(src, marker)
	if i < 0 {
		return Manifest{}, fmt.Errorf("%s: indexSectionsWithContent not found", doxygenSummary)
	}
	_, v, err := parseJSAssignment(src[i:])
	if err != nil {
		return Manifest{}, fmt.Errorf("parsing %s: %w", doxygenSummary, err)
	}
	sections, ok := v.(map[string]any)
	if !ok {
		return Manifest{}, fmt.Errorf("%s: indexSectionsWithContent is not an object", doxygenSummary)
	}
	chars, _ := sections["0"].(string)
	m := Manifest{KeyLength: 1}
	seen := make(map[ID]struct{})
	n := 0
	for _, r := range chars {
		file := "all_" + strconv.FormatInt(int64(n), 16) + ".js"
		n++
		key := symbol.Normalize(string(r))
		if key == "" {
			continue
		}
		id := IDFor(key, 1)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m.Shards = append(m.Shards, ManifestEntry{ID: id, File: file})
	}
	return m, nil
}
