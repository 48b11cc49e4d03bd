package shard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"path"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
)

// Shard is one decoded partition of the symbol index. It is immutable once
// a store publishes it.
type Shard struct {
	ID     ID              `json:"id"`
	Groups []*symbol.Group `json:"symbols"`
}

// Entries counts the index entries across all groups.
func (s *Shard) Entries() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Entries)
	}
	return n
}

// Format identifies a shard encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatDoxygen Format = "doxygen"
)

// DecodeReport describes what a tolerant decode dropped.
type DecodeReport struct {
	Format    Format
	Records   int
	Malformed int
	// Samples holds up to a few malformed-record errors for logging.
	Samples []error
}

const maxSamples = 3

func (r *DecodeReport) skip(err error) {
	r.Malformed++
	if len(r.Samples) < maxSamples {
		r.Samples = append(r.Samples, err)
	}
}

// Decode parses shard bytes in either supported format. Malformed records
// are skipped and counted in the report; an error is returned only when the
// outer container cannot be parsed.
func Decode(id ID, data []byte) (*Shard, DecodeReport, error) {
	trimmed := bytes.TrimSpace(data)
	trimmed = bytes.TrimPrefix(trimmed, []byte("\xef\xbb\xbf"))
	if len(trimmed) == 0 {
		return &Shard{ID: id}, DecodeReport{Format: FormatJSON}, nil
	}
	switch trimmed[0] {
	case '{', '[':
		return decodeJSON(id, trimmed)
	default:
		return decodeDoxygen(id, trimmed)
	}
}

type jsonShard struct {
	ID      ID                `json:"id"`
	Symbols []json.RawMessage `json:"symbols"`
}

type jsonSymbol struct {
	Name    string            `json:"name"`
	Entries []json.RawMessage `json:"entries"`
}

type jsonEntry struct {
	Kind  string   `json:"kind"`
	Scope []string `json:"scope"`
	URL   string   `json:"url"`
	Label string   `json:"label"`
}

func decodeJSON(id ID, data []byte) (*Shard, DecodeReport, error) {
	report := DecodeReport{Format: FormatJSON}
	var symbols []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &symbols); err != nil {
			return nil, report, fmt.Errorf("decoding shard %s: %w", id, err)
		}
	} else {
		var doc jsonShard
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, report, fmt.Errorf("decoding shard %s: %w", id, err)
		}
		symbols = doc.Symbols
	}

	b := symbol.NewBuilder()
	for i, raw := range symbols {
		var sym jsonSymbol
		if err := json.Unmarshal(raw, &sym); err != nil {
			report.skip(fmt.Errorf("%w: symbol %d: %v", apperrors.ErrMalformedRecord, i, err))
			continue
		}
		for j, rawEntry := range sym.Entries {
			report.Records++
			var e jsonEntry
			if err := json.Unmarshal(rawEntry, &e); err != nil {
				report.skip(fmt.Errorf("%w: symbol %d entry %d: %v", apperrors.ErrMalformedRecord, i, j, err))
				continue
			}
			entry, err := symbol.NewEntry(sym.Name, symbol.ParseKind(e.Kind), e.Scope, e.URL, e.Label)
			if err != nil {
				report.skip(err)
				continue
			}
			b.Add(entry)
		}
		if len(sym.Entries) == 0 {
			report.Records++
			report.skip(fmt.Errorf("%w: %q has no entries", apperrors.ErrMalformedRecord, sym.Name))
		}
	}
	return &Shard{ID: id, Groups: b.Groups()}, report, nil
}

// decodeDoxygen reads the `var searchData=[...]` shards Doxygen writes to
// search/all_*.js. Each record is
//
//	['id', ['name', ['url', flag, 'scope'], ['url', flag, 'scope'], ...]]
//
// where every inner triple is one occurrence of name.
func decodeDoxygen(id ID, data []byte) (*Shard, DecodeReport, error) {
	report := DecodeReport{Format: FormatDoxygen}
	_, v, err := parseJSAssignment(string(data))
	if err != nil {
		return nil, report, fmt.Errorf("decoding shard %s: %w", id, err)
	}
	records, ok := v.([]any)
	if !ok {
		return nil, report, fmt.Errorf("decoding shard %s: searchData is not an array", id)
	}

	b := symbol.NewBuilder()
	for i, rec := range records {
		fields, ok := rec.([]any)
		if !ok || len(fields) < 2 {
			report.Records++
			report.skip(fmt.Errorf("%w: record %d is not a pair", apperrors.ErrMalformedRecord, i))
			continue
		}
		body, ok := fields[1].([]any)
		if !ok || len(body) < 1 {
			report.Records++
			report.skip(fmt.Errorf("%w: record %d has no body", apperrors.ErrMalformedRecord, i))
			continue
		}
		name, _ := body[0].(string)
		name = html.UnescapeString(name)
		for j, occ := range body[1:] {
			report.Records++
			triple, ok := occ.([]any)
			if !ok || len(triple) < 1 {
				report.skip(fmt.Errorf("%w: record %d occurrence %d", apperrors.ErrMalformedRecord, i, j))
				continue
			}
			url, _ := triple[0].(string)
			var label string
			if len(triple) > 2 {
				label, _ = triple[2].(string)
				label = html.UnescapeString(label)
			}
			entry, err := symbol.NewEntry(name, InferKind(url, name, label), scopeFromLabel(name, label), trimRelative(url), label)
			if err != nil {
				report.skip(err)
				continue
			}
			b.Add(entry)
		}
	}
	return &Shard{ID: id, Groups: b.Groups()}, report, nil
}

// trimRelative drops the "../" Doxygen prefixes onto links because its
// search shards live one directory below the pages.
func trimRelative(url string) string {
	for strings.HasPrefix(url, "../") {
		url = url[3:]
	}
	return url
}

// scopeFromLabel splits a Doxygen scope label such as
// "metall::basic_manager::set_description(const std::string &)" into its
// enclosing scopes, dropping the parameter list and the trailing name.
func scopeFromLabel(name, label string) []string {
	if i := strings.IndexByte(label, '('); i >= 0 {
		label = label[:i]
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil
	}
	parts := strings.Split(label, "::")
	if len(parts) > 0 && parts[len(parts)-1] == name {
		parts = parts[:len(parts)-1]
	}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// InferKind guesses a symbol's kind from the Doxygen page it links to.
// Compound pages (class, namespace, file) link without an anchor; their
// members link with one.
func InferKind(url, name, label string) symbol.Kind {
	page, anchor, _ := strings.Cut(url, "#")
	base := strings.TrimSuffix(path.Base(page), path.Ext(page))
	member := anchor != ""

	var compound symbol.Kind
	switch {
	case strings.HasPrefix(base, "namespace"):
		compound = symbol.KindNamespace
	case strings.HasPrefix(base, "class"):
		compound = symbol.KindClass
	case strings.HasPrefix(base, "struct"):
		compound = symbol.KindStruct
	case strings.HasPrefix(base, "union"):
		compound = symbol.KindUnion
	case strings.HasPrefix(base, "interface"), strings.HasPrefix(base, "protocol"):
		compound = symbol.KindInterface
	case strings.HasPrefix(base, "concept"):
		compound = symbol.KindConcept
	case strings.HasPrefix(base, "group__"):
		compound = symbol.KindGroup
	case strings.Contains(base, "_8"):
		compound = symbol.KindFile
	case base == "":
		return symbol.KindUnknown
	default:
		compound = symbol.KindPage
	}
	if !member {
		return compound
	}
	if strings.Contains(label, "(") {
		return symbol.KindFunction
	}
	if compound == symbol.KindFile && strings.ToUpper(name) == name {
		return symbol.KindDefine
	}
	return symbol.KindVariable
}
