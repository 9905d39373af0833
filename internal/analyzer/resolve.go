package analyzer

import (
	"sort"
	"strings"

	"openanonymiser/internal/entity"
)

// resolve turns a raw, possibly-overlapping multiset of spans into a sorted,
// non-overlapping sequence.
//
// Candidates are ordered by: start ascending, longer span first, higher
// score first (absent score sorts after any present score), then pattern
// source before NER. Full ties keep first-seen input order, which makes the
// resolver deterministic for identical input.
//
// A left-to-right sweep then commits a candidate only if it starts at or
// after the rightmost committed end. Rejected candidates are dropped whole:
// a span strictly contained in a committed one is the expected case (an NER
// hit inside a pattern match), and partial overlaps lose outright rather
// than being truncated, so placeholders never nest or split.
func resolve(raw []entity.Span) []entity.Span {
	if len(raw) == 0 {
		return nil
	}
	candidates := make([]entity.Span, len(raw))
	copy(candidates, raw)
	sort.SliceStable(candidates, func(i, j int) bool {
		return spanLess(candidates[i], candidates[j])
	})

	out := make([]entity.Span, 0, len(candidates))
	rightmost := 0
	for _, sp := range candidates {
		if len(out) > 0 && sp.Start < rightmost {
			continue
		}
		out = append(out, sp)
		rightmost = sp.End
	}
	return out
}

// spanLess is the resolver's priority ordering. Higher priority sorts first.
func spanLess(a, b entity.Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
		return la > lb
	}
	sa, aok := a.ScoreValue()
	sb, bok := b.ScoreValue()
	if aok != bok {
		return aok // a present score outranks an absent one
	}
	if aok && sa != sb {
		return sa > sb
	}
	if a.Source != b.Source {
		return a.Source == entity.SourcePattern
	}
	return false // equal priority: stable sort keeps input order
}

// cachedSpan is the persisted form of a detection: offsets and type only,
// never the matched text. Spans are re-sliced from the live document text
// on a cache hit.
type cachedSpan struct {
	Type   string        `json:"t"`
	Start  int           `json:"s"`
	End    int           `json:"e"`
	Score  *float64      `json:"c,omitempty"`
	Source entity.Source `json:"o"`
}

func dehydrate(spans []entity.Span) []cachedSpan {
	out := make([]cachedSpan, len(spans))
	for i, sp := range spans {
		out[i] = cachedSpan{Type: sp.Type, Start: sp.Start, End: sp.End, Score: sp.Score, Source: sp.Source}
	}
	return out
}

// hydrate rebuilds full spans from cached offsets. Returns ok=false when any
// offset no longer fits the text, in which case the entry must be ignored.
func hydrate(text string, cached []cachedSpan) ([]entity.Span, bool) {
	out := make([]entity.Span, len(cached))
	for i, c := range cached {
		if c.Start < 0 || c.End > len(text) || c.Start >= c.End {
			return nil, false
		}
		out[i] = entity.Span{
			Type:   c.Type,
			Text:   text[c.Start:c.End],
			Start:  c.Start,
			End:    c.End,
			Score:  c.Score,
			Source: c.Source,
		}
	}
	return out, true
}

// sortedTypes returns the normalized, sorted allow-list for cache keying.
func sortedTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, strings.ToUpper(strings.TrimSpace(t)))
	}
	sort.Strings(out)
	return out
}
