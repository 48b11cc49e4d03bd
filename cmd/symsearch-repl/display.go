package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/session"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
)

const (
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// terminal renders settled results as an indented list. Matched text is
// bolded when color is on and bracketed otherwise.
type terminal struct {
	out   io.Writer
	order symbol.KindOrder
	color bool
}

func (t *terminal) Show(u session.Update) {
	v := u.Result.View(t.order)
	if len(v.Rows) == 0 {
		fmt.Fprintf(t.out, "no symbols match %q\n", u.Query)
	}
	for _, row := range v.Rows {
		fmt.Fprintf(t.out, "%s  %s\n", t.highlight(row.Name, row.Highlight), t.dim(string(row.Kind)))
		for _, sec := range row.Sections {
			for _, e := range sec.Entries {
				name := row.Name
				if e.Scope != "" {
					name = e.Scope + "::" + name
				}
				if e.Label != "" {
					name += " " + e.Label
				}
				fmt.Fprintf(t.out, "    %-10s %s %s\n", sec.Kind, name, t.dim(e.URL))
			}
		}
	}
	fmt.Fprintln(t.out, t.dim(footer(v)))
}

func (t *terminal) Clear() {}

func (t *terminal) highlight(name string, span symbol.Span) string {
	end := span.Start + span.Length
	if span.Length == 0 || span.Start < 0 || end > len(name) {
		return name
	}
	on, off := "[", "]"
	if t.color {
		on, off = ansiBold, ansiReset
	}
	return name[:span.Start] + on + name[span.Start:end] + off + name[end:]
}

func (t *terminal) dim(s string) string {
	if !t.color {
		return s
	}
	return ansiDim + s + ansiReset
}

func footer(v query.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d matches in %.1fms", len(v.Rows), v.Total, v.TookMs)
	if v.HasMore {
		b.WriteString(", more available")
	}
	if v.Partial {
		fmt.Fprintf(&b, ", incomplete: shards %v failed", v.FailedShards)
	}
	if v.Degraded {
		b.WriteString(", ranking failed")
	}
	return b.String()
}
