package symbol

import (
	"sort"
	"strings"
)

// Kind classifies what a documented symbol is.
type Kind string

const (
	KindNamespace Kind = "namespace"
	KindClass     Kind = "class"
	KindStruct    Kind = "struct"
	KindUnion     Kind = "union"
	KindInterface Kind = "interface"
	KindEnum      Kind = "enum"
	KindTypedef   Kind = "typedef"
	KindConcept   Kind = "concept"
	KindFunction  Kind = "function"
	KindVariable  Kind = "variable"
	KindEnumValue Kind = "enumvalue"
	KindDefine    Kind = "define"
	KindFile      Kind = "file"
	KindPage      Kind = "page"
	KindGroup     Kind = "group"
	KindUnknown   Kind = "unknown"
)

var kindAliases = map[string]Kind{
	"namespace":   KindNamespace,
	"module":      KindNamespace,
	"package":     KindNamespace,
	"class":       KindClass,
	"struct":      KindStruct,
	"union":       KindUnion,
	"interface":   KindInterface,
	"protocol":    KindInterface,
	"enum":        KindEnum,
	"typedef":     KindTypedef,
	"type":        KindTypedef,
	"alias":       KindTypedef,
	"concept":     KindConcept,
	"function":    KindFunction,
	"func":        KindFunction,
	"method":      KindFunction,
	"member":      KindFunction,
	"variable":    KindVariable,
	"var":         KindVariable,
	"field":       KindVariable,
	"property":    KindVariable,
	"enumvalue":   KindEnumValue,
	"enum_member": KindEnumValue,
	"define":      KindDefine,
	"macro":       KindDefine,
	"file":        KindFile,
	"page":        KindPage,
	"group":       KindGroup,
}

// ParseKind maps a generator-supplied kind name onto a Kind. Unrecognised
// names become KindUnknown rather than failing the record.
func ParseKind(s string) Kind {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return KindUnknown
}

// DefaultKindOrder lists types before functions before members before files.
var DefaultKindOrder = []Kind{
	KindNamespace,
	KindClass,
	KindStruct,
	KindUnion,
	KindInterface,
	KindEnum,
	KindTypedef,
	KindConcept,
	KindFunction,
	KindVariable,
	KindEnumValue,
	KindDefine,
	KindFile,
	KindPage,
	KindGroup,
	KindUnknown,
}

// KindOrder is a total precedence order over kinds. Kinds it does not list
// rank after every listed kind, alphabetically among themselves.
type KindOrder struct {
	rank map[Kind]int
}

// NewKindOrder builds an order from kinds, first = highest precedence. An
// empty list selects DefaultKindOrder. Duplicates keep their first position.
func NewKindOrder(kinds []Kind) KindOrder {
	if len(kinds) == 0 {
		kinds = DefaultKindOrder
	}
	rank := make(map[Kind]int, len(kinds))
	for _, k := range kinds {
		if _, dup := rank[k]; !dup {
			rank[k] = len(rank)
		}
	}
	return KindOrder{rank: rank}
}

// IsZero reports whether o was never built and orders kinds alphabetically.
func (o KindOrder) IsZero() bool { return o.rank == nil }

// ParseKindOrder builds an order from configuration strings.
func ParseKindOrder(names []string) KindOrder {
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, ParseKind(n))
	}
	return NewKindOrder(kinds)
}

// Compare returns -1 when a precedes b, 1 when b precedes a, 0 when equal.
func (o KindOrder) Compare(a, b Kind) int {
	if a == b {
		return 0
	}
	ra, okA := o.rank[a]
	rb, okB := o.rank[b]
	switch {
	case okA && okB:
		if ra < rb {
			return -1
		}
		return 1
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(string(a), string(b))
}

// Sort orders kinds by precedence in place.
func (o KindOrder) Sort(kinds []Kind) {
	sort.SliceStable(kinds, func(i, j int) bool {
		return o.Compare(kinds[i], kinds[j]) < 0
	})
}

// Best returns the highest-precedence kind among entries, or KindUnknown.
func (o KindOrder) Best(entries []IndexEntry) Kind {
	if len(entries) == 0 {
		return KindUnknown
	}
	best := entries[0].Kind
	for _, e := range entries[1:] {
		if o.Compare(e.Kind, best) < 0 {
			best = e.Kind
		}
	}
	return best
}
