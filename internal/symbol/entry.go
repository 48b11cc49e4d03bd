// Package symbol is the in-memory model of a documentation symbol index:
// individual occurrences (IndexEntry), their aggregation by name (Group), the
// normalization used for matching, and the match policy itself.
package symbol

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
)

// IndexEntry is one documented occurrence of a symbol.
type IndexEntry struct {
	Name  string   `json:"name"`
	Key   string   `json:"-"`
	Kind  Kind     `json:"kind"`
	Scope []string `json:"scope,omitempty"`
	URL   string   `json:"url"`
	Label string   `json:"label,omitempty"`
}

// NewEntry validates and normalizes one raw record. It returns an error
// wrapping ErrMalformedRecord when the record cannot be displayed or linked.
func NewEntry(name string, kind Kind, scope []string, url, label string) (IndexEntry, error) {
	if strings.TrimSpace(name) == "" {
		return IndexEntry{}, fmt.Errorf("%w: empty name", apperrors.ErrMalformedRecord)
	}
	if strings.TrimSpace(url) == "" {
		return IndexEntry{}, fmt.Errorf("%w: %q has no target url", apperrors.ErrMalformedRecord, name)
	}
	key := Normalize(name)
	if key == "" {
		return IndexEntry{}, fmt.Errorf("%w: %q normalizes to nothing", apperrors.ErrMalformedRecord, name)
	}
	if kind == "" {
		kind = KindUnknown
	}
	return IndexEntry{
		Name:  name,
		Key:   key,
		Kind:  kind,
		Scope: scope,
		URL:   url,
		Label: label,
	}, nil
}

// QualifiedName joins the scope and name with "::".
func (e IndexEntry) QualifiedName() string {
	if len(e.Scope) == 0 {
		return e.Name
	}
	return strings.Join(e.Scope, "::") + "::" + e.Name
}

// Group is every entry sharing one exact Name within a shard: one logical
// symbol with its overloads and declarations, in generation order.
type Group struct {
	Name    string       `json:"name"`
	Key     string       `json:"-"`
	Entries []IndexEntry `json:"entries"`
}

// Builder assembles groups from entries in arrival order. Entries with the
// same Name join the existing group even when they are not adjacent.
type Builder struct {
	groups []*Group
	byName map[string]*Group
}

func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]*Group)}
}

// Add appends e to its group, creating the group on first sight.
func (b *Builder) Add(e IndexEntry) {
	g, ok := b.byName[e.Name]
	if !ok {
		g = &Group{Name: e.Name, Key: e.Key}
		b.byName[e.Name] = g
		b.groups = append(b.groups, g)
	}
	g.Entries = append(g.Entries, e)
}

// Groups returns the groups in first-seen order.
func (b *Builder) Groups() []*Group {
	return b.groups
}

// Len reports the number of groups built so far.
func (b *Builder) Len() int {
	return len(b.groups)
}

// Kind is the highest-precedence kind among the group's entries.
func (g *Group) Kind(order KindOrder) Kind {
	return order.Best(g.Entries)
}
