package symbol

import (
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/errors"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"size", "size"},
		{"Size_Type", "size_type"},
		{"  size()  ", "size"},
		{"operator[]", "operator"},
		{"scoped_allocator.hpp", "scoped_allocator.hpp"},
		{"~basic_manager", "~basic_manager"},
		{"`Foo` Bar", "foobar"},
		{"STRASSE", "strasse"},
		{"Straße", "strasse"},
		{"ΣΊΣΥΦΟΣ", "σίσυφοσ"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeyMapSpan(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		off, n    int
		wantStart int
		wantLen   int
	}{
		{"plain", "size_type", 5, 4, 5, 4},
		{"stripped prefix", "  (size)", 0, 4, 3, 4},
		{"skip interior space", "get Value", 3, 5, 4, 5},
		{"fold expansion", "Straße", 4, 2, 4, 2},
		{"half of expansion widens", "Straße", 4, 1, 4, 2},
		{"out of range", "abc", 2, 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NormalizeMap(tt.in)
			got := m.Span(tt.off, tt.n)
			if got.Start != tt.wantStart || got.Length != tt.wantLen {
				t.Errorf("Span(%d,%d) on %q = %+v, want {%d %d}", tt.off, tt.n, tt.in, got, tt.wantStart, tt.wantLen)
			}
		})
	}
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		key, query string
		policy     Policy
		want       MatchKind
		offset     int
		excess     int
	}{
		{"size", "size", PolicySubstring, MatchExact, 0, 0},
		{"size_type", "size", PolicySubstring, MatchPrefix, 0, 5},
		{"set", "et", PolicySubstring, MatchSubstring, 1, 1},
		{"size_type", "et", PolicySubstring, MatchNone, 0, 0},
		{"set", "et", PolicyPrefix, MatchNone, 0, 0},
		{"set", "settle", PolicySubstring, MatchNone, 0, 0},
		{"size", "zie", PolicySubstring, MatchNone, 0, 0},
		{"aab", "ab", PolicySubstring, MatchSubstring, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.key+"/"+tt.query, func(t *testing.T) {
			m, ok := MatchKey(tt.key, tt.query, tt.policy)
			if tt.want == MatchNone {
				if ok {
					t.Fatalf("expected no match, got %+v", m)
				}
				return
			}
			if !ok || m.Kind != tt.want {
				t.Fatalf("MatchKey(%q, %q) = %+v, %v; want %v", tt.key, tt.query, m, ok, tt.want)
			}
			if m.Offset != tt.offset || m.Excess != tt.excess || m.Length != len(tt.query) {
				t.Errorf("unexpected match geometry %+v", m)
			}
		})
	}
}

func TestCompareOrdersTiersThenOffsetThenExcess(t *testing.T) {
	exact := Match{Kind: MatchExact}
	prefixShort := Match{Kind: MatchPrefix, Excess: 1}
	prefixLong := Match{Kind: MatchPrefix, Excess: 9}
	subEarly := Match{Kind: MatchSubstring, Offset: 1, Excess: 30}
	subLate := Match{Kind: MatchSubstring, Offset: 4, Excess: 5}

	ordered := []Match{exact, prefixShort, prefixLong, subEarly, subLate}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("expected %+v before %+v", ordered[i], ordered[i+1])
		}
		if ordered[i].Score() <= ordered[i+1].Score() {
			t.Errorf("score of %+v should exceed %+v", ordered[i], ordered[i+1])
		}
	}
	if Compare(prefixShort, prefixShort) != 0 {
		t.Error("identical matches should compare equal")
	}
}

func TestKindOrder(t *testing.T) {
	order := NewKindOrder([]Kind{KindFunction, KindClass})
	if order.Compare(KindFunction, KindClass) >= 0 {
		t.Error("configured order should put function before class")
	}
	if order.Compare(KindClass, KindDefine) >= 0 {
		t.Error("listed kinds should precede unlisted ones")
	}
	if order.Compare(KindDefine, KindVariable) >= 0 {
		t.Error("unlisted kinds should fall back to alphabetical order")
	}

	def := NewKindOrder(nil)
	kinds := []Kind{KindFile, KindFunction, KindClass, KindVariable}
	def.Sort(kinds)
	want := []Kind{KindClass, KindFunction, KindVariable, KindFile}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("default order sorted to %v, want %v", kinds, want)
		}
	}

	best := def.Best([]IndexEntry{{Kind: KindFunction}, {Kind: KindClass}})
	if best != KindClass {
		t.Errorf("Best = %v, want class", best)
	}
}

func TestParseKind(t *testing.T) {
	if ParseKind(" Method ") != KindFunction {
		t.Error("method should alias function")
	}
	if ParseKind("gizmo") != KindUnknown {
		t.Error("unknown names should map to KindUnknown")
	}
}

func TestNewEntryRejectsMalformed(t *testing.T) {
	tests := []struct {
		name, url string
	}{
		{"", "x.html"},
		{"size", ""},
		{"()", "x.html"},
	}
	for _, tt := range tests {
		_, err := NewEntry(tt.name, KindFunction, nil, tt.url, "")
		if !errors.Is(err, apperrors.ErrMalformedRecord) {
			t.Errorf("NewEntry(%q, %q) error = %v, want ErrMalformedRecord", tt.name, tt.url, err)
		}
	}
}

func TestBuilderGroupsByExactNamePreservingOrder(t *testing.T) {
	b := NewBuilder()
	add := func(name, url string) {
		e, err := NewEntry(name, KindFunction, nil, url, "")
		if err != nil {
			t.Fatal(err)
		}
		b.Add(e)
	}
	add("size", "a.html#1")
	add("Size", "b.html")
	add("size", "a.html#2")
	add("size", "a.html#2")

	groups := b.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups (case-distinct names), got %d", len(groups))
	}
	if groups[0].Name != "size" || len(groups[0].Entries) != 3 {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
	if groups[0].Entries[0].URL != "a.html#1" || groups[0].Entries[2].URL != "a.html#2" {
		t.Error("group entries should keep insertion order and duplicates")
	}
	if groups[1].Key != "size" {
		t.Errorf("second group key = %q", groups[1].Key)
	}
}
