// Package recognizer provides the deterministic pattern recognizers for
// Dutch text: phone numbers, IBAN bank accounts and email addresses.
//
// Each recognizer is a compiled regex paired with an entity type and a base
// confidence. Recognizers are independent: a failing recognizer degrades
// recall for its own type only and never aborts a detection run.
package recognizer

import (
	"regexp"

	"openanonymiser/internal/entity"
	"openanonymiser/internal/logger"
)

// Recognizer finds pattern-based PII spans in a text.
// Implementations must be safe for concurrent use.
type Recognizer interface {
	// Type returns the entity type this recognizer produces.
	Type() string

	// Find returns zero or more spans over text, tagged SourcePattern.
	Find(text string) ([]entity.Span, error)
}

// baseScore is the confidence assigned to a plain regex match.
// Matches additionally confirmed by a checksum are promoted to 1.0.
const baseScore = 0.6

// patternRecognizer is a Recognizer built from a single regex.
type patternRecognizer struct {
	entityType string
	re         *regexp.Regexp

	// validate optionally confirms a regex match with a structural check
	// (e.g. IBAN mod-97). It returns the score for the match and whether the
	// match should be kept at all.
	validate func(match string) (score float64, ok bool)
}

func (p *patternRecognizer) Type() string { return p.entityType }

func (p *patternRecognizer) Find(text string) ([]entity.Span, error) {
	var spans []entity.Span
	for _, loc := range p.re.FindAllStringIndex(text, -1) {
		match := text[loc[0]:loc[1]]
		score := baseScore
		if p.validate != nil {
			s, ok := p.validate(match)
			if !ok {
				continue
			}
			score = s
		}
		spans = append(spans, entity.Span{
			Type:   p.entityType,
			Text:   match,
			Start:  loc[0],
			End:    loc[1],
			Score:  entity.Float(score),
			Source: entity.SourcePattern,
		})
	}
	return spans, nil
}

// Defaults compiles the built-in Dutch recognizer set. Patterns that fail to
// compile are logged and skipped so one bad expression never takes down the
// whole set.
func Defaults(log *logger.Logger) []Recognizer {
	specs := []struct {
		entityType string
		expr       string
		validate   func(string) (float64, bool)
	}{
		{entity.TypePhoneNumber, `\b(?:0|(?:\+|00)31)[- ]?(?:\d[- ]?){9}\b`, nil},
		{entity.TypeIBAN, `\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`, validateIBAN},
		{entity.TypeEmail, `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, nil},
	}

	var out []Recognizer
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			if log != nil {
				log.Warnf("pattern_compile", "skipping %s pattern %q: %v", s.entityType, s.expr, err)
			}
			continue
		}
		out = append(out, &patternRecognizer{entityType: s.entityType, re: re, validate: s.validate})
	}
	return out
}
