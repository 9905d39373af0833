package document

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Text is the in-memory document container for plain-text content. Its JSON
// form (body + metadata map) is the artifact the HTTP API and the inbox
// watcher read and write.
type Text struct {
	Body string            `json:"body"`
	Meta map[string]string `json:"metadata,omitempty"`
}

// NewText wraps a plain string as a document.
func NewText(body string) *Text {
	return &Text{Body: body, Meta: make(map[string]string)}
}

// PlainText returns the current body. Never fails for in-memory documents.
func (t *Text) PlainText() (string, error) { return t.Body, nil }

// ApplyReplacements rewrites the given ranges back to front so earlier
// offsets stay valid while later ranges change length.
func (t *Text) ApplyReplacements(reps []Replacement) error {
	sorted := make([]Replacement, len(reps))
	copy(sorted, reps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	body := t.Body
	prevStart := len(body) + 1
	for _, r := range sorted {
		if r.Start < 0 || r.End > len(body) || r.Start >= r.End {
			return fmt.Errorf("document: replacement [%d:%d) out of range", r.Start, r.End)
		}
		if r.End > prevStart {
			return fmt.Errorf("document: overlapping replacement [%d:%d)", r.Start, r.End)
		}
		body = body[:r.Start] + r.Text + body[r.End:]
		prevStart = r.Start
	}
	t.Body = body
	return nil
}

func (t *Text) Metadata(key string) (string, bool) {
	v, ok := t.Meta[key]
	return v, ok
}

func (t *Text) SetMetadata(key, value string) error {
	if t.Meta == nil {
		t.Meta = make(map[string]string)
	}
	t.Meta[key] = value
	return nil
}

// Marshal renders the document as its JSON artifact form.
func (t *Text) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// UnmarshalText parses a JSON artifact back into a Text document.
func UnmarshalText(data []byte) (*Text, error) {
	var t Text
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("document: parse text artifact: %w", err)
	}
	return &t, nil
}
