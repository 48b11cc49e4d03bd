package shard

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
)

// ID addresses one shard. It is the lowercase hex encoding of the UTF-8
// bytes of the leading runes of the normalized keys the shard holds, so
// names starting with "s" live in shard "73".
type ID string

// IDFor returns the shard holding a normalized key. Keys shorter than
// keyLength use all of their runes.
func IDFor(key string, keyLength int) ID {
	if keyLength < 1 {
		keyLength = 1
	}
	end := 0
	for n := 0; n < keyLength && end < len(key); n++ {
		_, size := utf8.DecodeRuneInString(key[end:])
		end += size
	}
	return ID(hex.EncodeToString([]byte(key[:end])))
}

// Prefix decodes the leading characters the shard is keyed on. It returns
// false for ids that are not valid hex.
func (id ID) Prefix() (string, bool) {
	b, err := hex.DecodeString(string(id))
	if err != nil || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// Manifest enumerates the shards a source can serve.
type Manifest struct {
	KeyLength int             `json:"keyLength,omitempty"`
	Shards    []ManifestEntry `json:"shards"`
}

// ManifestEntry describes one shard. Alphabet, when present, lists every
// rune occurring in the shard's normalized keys and lets substring queries
// skip shards that cannot contain them. File overrides the default
// "<id>.json" location.
type ManifestEntry struct {
	ID       ID     `json:"id"`
	File     string `json:"file,omitempty"`
	Alphabet string `json:"alphabet,omitempty"`
	Symbols  int    `json:"symbols,omitempty"`
}

// IDs returns the manifest's shard ids in manifest order.
func (m Manifest) IDs() []ID {
	ids := make([]ID, 0, len(m.Shards))
	for _, e := range m.Shards {
		ids = append(ids, e.ID)
	}
	return ids
}

// Alphabet collects the distinct runes of keys in first-seen order.
func Alphabet(keys []string) string {
	seen := make(map[rune]struct{})
	var b strings.Builder
	for _, k := range keys {
		for _, r := range k {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Keyspace maps normalized queries to the shards that could answer them.
type Keyspace struct {
	keyLength int
	policy    symbol.Policy
	ids       []ID
	known     map[ID]struct{}
	alphabets map[ID]map[rune]struct{}
}

// NewKeyspace builds a keyspace over m. A positive m.KeyLength overrides
// keyLength, since the generator knows how it partitioned the index.
func NewKeyspace(m Manifest, keyLength int, policy symbol.Policy) *Keyspace {
	if m.KeyLength > 0 {
		keyLength = m.KeyLength
	}
	if keyLength < 1 {
		keyLength = 1
	}
	k := &Keyspace{
		keyLength: keyLength,
		policy:    policy,
		known:     make(map[ID]struct{}, len(m.Shards)),
		alphabets: make(map[ID]map[rune]struct{}),
	}
	for _, e := range m.Shards {
		if _, dup := k.known[e.ID]; dup {
			continue
		}
		k.known[e.ID] = struct{}{}
		k.ids = append(k.ids, e.ID)
		if e.Alphabet == "" {
			continue
		}
		set := make(map[rune]struct{}, len(e.Alphabet))
		for _, r := range e.Alphabet {
			set[r] = struct{}{}
		}
		k.alphabets[e.ID] = set
	}
	return k
}

// KeyLength is the number of leading runes shard ids are derived from.
func (k *Keyspace) KeyLength() int { return k.keyLength }

// Policy is the match policy the keyspace prunes for.
func (k *Keyspace) Policy() symbol.Policy { return k.policy }

// All returns every known shard id in manifest order.
func (k *Keyspace) All() []ID {
	out := make([]ID, len(k.ids))
	copy(out, k.ids)
	return out
}

// Unlisted reports whether a non-empty manifest omits id. Such a shard
// cannot exist in this session.
func (k *Keyspace) Unlisted(id ID) bool {
	if len(k.ids) == 0 {
		return false
	}
	_, ok := k.known[id]
	return !ok
}

// Order returns the manifest position of id, or len(manifest) for ids the
// manifest does not list.
func (k *Keyspace) Order(id ID) int {
	for i, known := range k.ids {
		if known == id {
			return i
		}
	}
	return len(k.ids)
}

// IDsForQuery returns every shard that could hold a match for the
// normalized query. It never omits such a shard; extra shards only cost a
// load. Queries shorter than the key length get the full set. For non-empty
// queries the result is never empty.
func (k *Keyspace) IDsForQuery(q string) []ID {
	if utf8.RuneCountInString(q) < k.keyLength {
		if len(k.ids) == 0 && q != "" {
			return []ID{IDFor(q, k.keyLength)}
		}
		return k.All()
	}
	leading := IDFor(q, k.keyLength)
	if k.policy == symbol.PolicyPrefix || len(k.ids) == 0 {
		return []ID{leading}
	}

	out := make([]ID, 0, len(k.ids))
	if _, ok := k.known[leading]; ok {
		out = append(out, leading)
	}
	for _, id := range k.ids {
		if id == leading {
			continue
		}
		if k.mayContain(id, q) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		out = append(out, leading)
	}
	return out
}

func (k *Keyspace) mayContain(id ID, q string) bool {
	set, ok := k.alphabets[id]
	if !ok {
		return true
	}
	for _, r := range q {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
