// Package entity defines the shared span model for PII detections.
//
// A Span is one detection over a text: a half-open byte range [Start, End),
// the entity type, the matched text, the producing source (pattern recognizer
// or NER engine) and an optional confidence score. Spans are created per
// analysis call, merged into a non-overlapping set, and discarded once the
// substitution map has been built from them.
package entity

import (
	"errors"
	"fmt"
)

// Source identifies which kind of detector produced a span.
type Source int

// Detector sources. Pattern recognizers encode structural evidence
// (a checksum or format match) and outrank NER on conflicting spans.
const (
	SourcePattern Source = iota
	SourceNER
)

// String returns the source name used in logs and API responses.
func (s Source) String() string {
	switch s {
	case SourcePattern:
		return "pattern"
	case SourceNER:
		return "ner"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Entity types produced by the built-in recognizers and the Dutch NER models.
const (
	TypePerson       = "PERSON"
	TypeLocation     = "LOCATION"
	TypeOrganization = "ORGANIZATION"
	TypeAddress      = "ADDRESS"
	TypePhoneNumber  = "PHONE_NUMBER"
	TypeEmail        = "EMAIL"
	TypeIBAN         = "IBAN"
)

// DefaultTypes is the full set of entity types detected when a caller does
// not restrict the analysis.
var DefaultTypes = []string{
	TypePerson,
	TypeLocation,
	TypePhoneNumber,
	TypeEmail,
	TypeOrganization,
	TypeIBAN,
	TypeAddress,
}

// Span is a single PII detection.
type Span struct {
	Type   string   `json:"entity_type"`
	Text   string   `json:"text"`
	Start  int      `json:"start"`
	End    int      `json:"end"`
	Score  *float64 `json:"score,omitempty"` // nil when the backend reports no confidence
	Source Source   `json:"-"`
}

// ScoreValue returns the confidence and whether one is present.
func (s Span) ScoreValue() (float64, bool) {
	if s.Score == nil {
		return 0, false
	}
	return *s.Score, true
}

// Valid reports whether the span's range and text are consistent with the
// document text it was detected in.
func (s Span) Valid(text string) bool {
	if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
		return false
	}
	return s.Text == text[s.Start:s.End]
}

// ErrInvariantViolation indicates a merged entity set that is not sorted and
// non-overlapping. Seeing it means a resolver bug, not bad input.
var ErrInvariantViolation = errors.New("merged entity set violates ordering invariant")

// CheckMerged verifies the merged-set invariant: ascending by start, and no
// two consecutive spans overlapping.
func CheckMerged(spans []Span) error {
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].End {
			return fmt.Errorf("%w: span %d [%d:%d) against [%d:%d)",
				ErrInvariantViolation, i,
				spans[i].Start, spans[i].End,
				spans[i-1].Start, spans[i-1].End)
		}
	}
	return nil
}

// Float returns a pointer to v. Helper for building spans with a score.
func Float(v float64) *float64 { return &v }
