package symbol

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// displayOnly holds punctuation that only decorates a name for display, such
// as the "()" Doxygen appends to functions. It never takes part in matching.
const displayOnly = "()[]{}'\"`"

func dropRune(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(displayOnly, r)
}

// Normalize case-folds s and strips display-only punctuation. Names and
// queries go through the same function, so a query matches a name exactly
// when their normalized forms are equal.
func Normalize(s string) string {
	key, _ := normalize(s, false)
	return key
}

// Span is a byte range within a display name.
type Span struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// KeyMap translates byte ranges of a normalized key back into the name it
// was derived from.
type KeyMap struct {
	Key   string
	name  string
	start []int
	end   []int
}

// NormalizeMap normalizes s and records, for every byte of the key, the
// byte range of the source rune that produced it.
func NormalizeMap(s string) KeyMap {
	key, m := normalize(s, true)
	m.Key = key
	m.name = s
	return m
}

// Span maps the key range [off, off+n) onto the name. A range that starts or
// ends inside a multi-byte fold expansion widens to cover the whole source
// rune.
func (m KeyMap) Span(off, n int) Span {
	if n <= 0 || off < 0 || off+n > len(m.start) {
		return Span{}
	}
	start := m.start[off]
	end := m.end[off+n-1]
	return Span{Start: start, Length: end - start}
}

func normalize(s string, track bool) (string, KeyMap) {
	var (
		b     strings.Builder
		m     KeyMap
		caser *cases.Caser
	)
	b.Grow(len(s))
	if track {
		m.start = make([]int, 0, len(s))
		m.end = make([]int, 0, len(s))
	}
	for i, r := range s {
		if dropRune(r) {
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		before := b.Len()
		if r < utf8.RuneSelf {
			if 'A' <= r && r <= 'Z' {
				r += 'a' - 'A'
			}
			b.WriteByte(byte(r))
		} else {
			if caser == nil {
				c := cases.Fold()
				caser = &c
			}
			b.WriteString(caser.String(string(r)))
		}
		if track {
			for j := before; j < b.Len(); j++ {
				m.start = append(m.start, i)
				m.end = append(m.end, i+size)
			}
		}
	}
	return b.String(), m
}
