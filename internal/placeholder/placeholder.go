// Package placeholder implements the reversible text substitution between
// detected PII spans and stable placeholder tokens.
//
// Build replaces every merged span with a token of the form [PERSON] or,
// when several distinct values of one type occur in a document, [PERSON_2],
// [PERSON_3], and so on. Tokens are injective per document: two different
// original values never collapse to the same token, while repeated identical
// values share one. A token that already occurs literally in the text outside
// the spans is never handed out, so Restore is the exact left-inverse of
// Build for the text and spans Build was given.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"openanonymiser/internal/entity"
)

// ErrUnknownPlaceholder is returned by Restore when the redacted text holds
// a placeholder for a known entity type that has no entry in the map. That
// means tampering or a corrupted map and must not be silently ignored.
var ErrUnknownPlaceholder = errors.New("placeholder without substitution entry")

// Entry records what one placeholder token stands for.
type Entry struct {
	Type string `json:"entity_type"`
	Text string `json:"original_text"`

	// Start/End locate the first occurrence in the original text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Occurrences counts how many spans were folded into this token
	// (identical values of one type share a single placeholder).
	Occurrences int `json:"occurrences"`
}

// Map is the substitution mapping for one document, keyed by placeholder
// token. It is the sole carrier of the information needed to reverse
// anonymization and only ever crosses a persistence boundary encrypted.
type Map map[string]Entry

// tokenRe matches placeholder-shaped tokens in redacted text.
var tokenRe = regexp.MustCompile(`\[[A-Z][A-Z0-9_]*\]`)

// Substitution is one text edit: write Value over the range [Start, End).
// In a forward plan Value is a placeholder token; in a restore plan it is
// the original text. Plans are sorted ascending (document order), which is
// what the document-rewrite layer consumes.
type Substitution struct {
	Start int
	End   int
	Value string
}

// Plan assigns placeholder tokens to spans and returns the substitutions in
// document order together with the substitution map. spans must be the
// resolver's output: sorted ascending and non-overlapping. Token numbering
// follows reading order: the first distinct value of a type gets [TYPE],
// the next [TYPE_2], and so on, skipping any token that already occurs
// literally in the text outside the spans. Such pre-existing literals are
// entered into the map as their own replacement.
func Plan(text string, spans []entity.Span) ([]Substitution, Map, error) {
	if err := entity.CheckMerged(spans); err != nil {
		return nil, nil, err
	}
	for _, sp := range spans {
		if !sp.Valid(text) {
			return nil, nil, fmt.Errorf("span %s [%d:%d) does not match text", sp.Type, sp.Start, sp.End)
		}
	}

	// Mask the span ranges so token assignment only sees the text that
	// survives the rewrite. A literal [PERSON] the author already wrote
	// outside the spans must not be handed out as a token, or Restore
	// would rewrite the author's text along with the redaction.
	masked := []byte(text)
	for _, sp := range spans {
		for i := sp.Start; i < sp.End; i++ {
			masked[i] = 0
		}
	}
	surviving := string(masked)

	m := make(Map, len(spans))

	// Surviving placeholder-shaped literals of a known type map to
	// themselves: Restore writes them back unchanged instead of rejecting
	// them as tampering.
	literalTypes := make(map[string]bool, len(entity.DefaultTypes)+len(spans))
	for _, t := range entity.DefaultTypes {
		literalTypes[t] = true
	}
	for _, sp := range spans {
		literalTypes[strings.ToUpper(sp.Type)] = true
	}
	for _, loc := range tokenRe.FindAllStringIndex(surviving, -1) {
		tok := surviving[loc[0]:loc[1]]
		if !literalTypes[baseType(tok)] {
			continue
		}
		e, seen := m[tok]
		if !seen {
			e = Entry{Type: baseType(tok), Text: tok, Start: loc[0], End: loc[1]}
		}
		e.Occurrences++
		m[tok] = e
	}

	subs := make([]Substitution, len(spans))
	byValue := map[string]string{} // type \x00 value -> token
	perType := map[string]int{}    // highest numbered token handed out per type

	for i, sp := range spans {
		typ := strings.ToUpper(sp.Type)
		valueKey := typ + "\x00" + sp.Text
		tok, seen := byValue[valueKey]
		if !seen {
			n := perType[typ]
			for {
				n++
				if n == 1 {
					tok = "[" + typ + "]"
				} else {
					tok = "[" + typ + "_" + strconv.Itoa(n) + "]"
				}
				if _, taken := m[tok]; !taken && !strings.Contains(surviving, tok) {
					break
				}
			}
			perType[typ] = n
			byValue[valueKey] = tok
			m[tok] = Entry{Type: typ, Text: sp.Text, Start: sp.Start, End: sp.End}
		}
		e := m[tok]
		e.Occurrences++
		m[tok] = e
		subs[i] = Substitution{Start: sp.Start, End: sp.End, Value: tok}
	}
	return subs, m, nil
}

// Build redacts text by replacing every span with its placeholder token and
// returns the redacted text plus the substitution map.
func Build(text string, spans []entity.Span) (string, Map, error) {
	subs, m, err := Plan(text, spans)
	if err != nil {
		return "", nil, err
	}
	// Apply back to front so earlier offsets stay valid while later spans
	// are rewritten.
	redacted := text
	for i := len(subs) - 1; i >= 0; i-- {
		redacted = redacted[:subs[i].Start] + subs[i].Value + redacted[subs[i].End:]
	}
	return redacted, m, nil
}

// RestorePlan locates every placeholder occurrence in redacted and returns
// the substitutions that put the original text back, in document order.
// Placeholder-shaped tokens whose base name is not a known entity type are
// skipped (ordinary bracketed text); a token for a known type with no map
// entry fails with ErrUnknownPlaceholder.
func RestorePlan(redacted string, m Map) ([]Substitution, error) {
	known := knownTypes(m)

	var subs []Substitution
	for _, loc := range tokenRe.FindAllStringIndex(redacted, -1) {
		tok := redacted[loc[0]:loc[1]]
		if e, ok := m[tok]; ok {
			subs = append(subs, Substitution{Start: loc[0], End: loc[1], Value: e.Text})
			continue
		}
		if known[baseType(tok)] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlaceholder, tok)
		}
	}
	return subs, nil
}

// Restore replaces every placeholder occurrence in redacted with its mapped
// original text. The exact left-inverse of Build for the text and spans
// Build was given.
func Restore(redacted string, m Map) (string, error) {
	subs, err := RestorePlan(redacted, m)
	if err != nil {
		return "", err
	}
	out := redacted
	for i := len(subs) - 1; i >= 0; i-- {
		out = out[:subs[i].Start] + subs[i].Value + out[subs[i].End:]
	}
	return out, nil
}

// Tokens returns the map's placeholder tokens in document order (by the
// first occurrence's start offset). Used to report replacements to the
// document-rewrite layer.
func (m Map) Tokens() []string {
	out := make([]string, 0, len(m))
	for tok := range m {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool {
		return m[out[i]].Start < m[out[j]].Start
	})
	return out
}

// baseType strips the brackets and any _n suffix from a placeholder token.
func baseType(tok string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(tok, "["), "]")
	if i := strings.LastIndex(name, "_"); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			return name[:i]
		}
	}
	return name
}

// knownTypes is the set of entity types Restore treats as placeholder
// producers: the built-in types plus whatever the map itself carries.
func knownTypes(m Map) map[string]bool {
	known := make(map[string]bool, len(entity.DefaultTypes)+len(m))
	for _, t := range entity.DefaultTypes {
		known[t] = true
	}
	for _, e := range m {
		known[e.Type] = true
	}
	return known
}
