package main

import (
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
)

func TestKeystrokes(t *testing.T) {
	got := keystrokes("set")
	want := []string{"s", "se", "set"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("keystrokes = %v, want %v", got, want)
	}
	if got := keystrokes("ü_x"); len(got) != 3 || got[0] != "ü" {
		t.Errorf("keystrokes split inside a rune: %q", got)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 1}, {50, 5}, {90, 9}, {99, 10}, {100, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestRecordClassifiesOutcomes(t *testing.T) {
	s := NewStats()
	s.Record(time.Millisecond, http.StatusOK, &query.View{Rows: []query.Row{{Name: "set"}}}, nil)
	s.Record(time.Millisecond, http.StatusOK, &query.View{}, nil)
	s.Record(time.Millisecond, http.StatusOK, &query.View{Partial: true}, nil)
	s.Record(20*time.Millisecond, http.StatusTooManyRequests, &query.View{}, nil)

	if s.keystrokes.Load() != 4 || s.empty.Load() != 1 || s.partial.Load() != 1 || s.errors.Load() != 1 {
		t.Errorf("keystrokes=%d empty=%d partial=%d errors=%d",
			s.keystrokes.Load(), s.empty.Load(), s.partial.Load(), s.errors.Load())
	}
	if s.overBudget.Load() != 1 {
		t.Errorf("over budget = %d", s.overBudget.Load())
	}
}
