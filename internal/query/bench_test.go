package query

import (
	"context"
	"fmt"
	"testing"
)

func benchLoader(b *testing.B, n int) *fakeLoader {
	specs := make([]symbolSpec, 0, n)
	for i := 0; i < n; i++ {
		specs = append(specs, sym(fmt.Sprintf("%c_symbol_%d", 'a'+rune(i%26), i)))
	}
	return newLoader(b, specs...)
}

func BenchmarkSearchSubstring(b *testing.B) {
	e := NewEngine(benchLoader(b, 20000), Options{})
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(ctx, "bol_12"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchExact(b *testing.B) {
	e := NewEngine(benchLoader(b, 20000), Options{})
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(ctx, "q_symbol_16"); err != nil {
			b.Fatal(err)
		}
	}
}
