package symbol

import (
	"fmt"
	"strings"
)

// MatchKind is the tier of a match; higher tiers always rank first.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchSubstring
	MatchPrefix
	MatchExact
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchPrefix:
		return "prefix"
	case MatchSubstring:
		return "substring"
	default:
		return "none"
	}
}

// MarshalText lets match kinds appear by name in JSON views.
func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MatchKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "exact":
		*k = MatchExact
	case "prefix":
		*k = MatchPrefix
	case "substring":
		*k = MatchSubstring
	case "none":
		*k = MatchNone
	default:
		return fmt.Errorf("unknown match kind %q", b)
	}
	return nil
}

// Policy selects which relations count as a match.
type Policy int

const (
	// PolicySubstring accepts exact, prefix and substring matches.
	PolicySubstring Policy = iota
	// PolicyPrefix accepts exact and prefix matches only.
	PolicyPrefix
)

// ParsePolicy reads "substring" or "prefix".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "substring":
		return PolicySubstring, nil
	case "prefix":
		return PolicyPrefix, nil
	}
	return 0, fmt.Errorf("unknown match policy %q", s)
}

func (p Policy) String() string {
	if p == PolicyPrefix {
		return "prefix"
	}
	return "substring"
}

// Match describes where a query hit a normalized key. Offset and Length are
// byte positions in the key.
type Match struct {
	Kind   MatchKind `json:"kind"`
	Offset int       `json:"offset"`
	Length int       `json:"length"`
	// Excess is how many key bytes the name carries beyond the query.
	Excess int `json:"excess"`
}

// MatchKey applies the match policy to a normalized key and a normalized,
// non-empty query.
func MatchKey(key, query string, policy Policy) (Match, bool) {
	if query == "" || len(query) > len(key) {
		return Match{}, false
	}
	excess := len(key) - len(query)
	if excess == 0 {
		if key == query {
			return Match{Kind: MatchExact, Length: len(query)}, true
		}
		return Match{}, false
	}
	if strings.HasPrefix(key, query) {
		return Match{Kind: MatchPrefix, Length: len(query), Excess: excess}, true
	}
	if policy == PolicyPrefix {
		return Match{}, false
	}
	if off := strings.Index(key, query); off > 0 {
		return Match{Kind: MatchSubstring, Offset: off, Length: len(query), Excess: excess}, true
	}
	return Match{}, false
}

// Compare orders matches best first: higher tier, then earlier offset, then
// smaller excess. It returns -1 when a is better, 1 when b is, 0 on a tie.
func Compare(a, b Match) int {
	switch {
	case a.Kind != b.Kind:
		if a.Kind > b.Kind {
			return -1
		}
		return 1
	case a.Offset != b.Offset:
		if a.Offset < b.Offset {
			return -1
		}
		return 1
	case a.Excess != b.Excess:
		if a.Excess < b.Excess {
			return -1
		}
		return 1
	}
	return 0
}

// Score flattens a match into a single number for display. Ranking uses
// Compare; Score agrees with it for keys shorter than a thousand bytes.
func (m Match) Score() float64 {
	if m.Kind == MatchNone {
		return 0
	}
	return float64(m.Kind)*1e6 - float64(m.Offset)*1e3 - float64(m.Excess)
}
