// Package document carries encrypted payloads inside document containers
// and abstracts the text/rewrite layer the pipeline drives.
//
// The core never parses a container's binary structure. It sees a Document
// as three capabilities: plain text with stable offsets, offset-based text
// replacement, and a string metadata channel. The in-memory Text type backs
// the HTTP API and the inbox watcher; PDF support is delegated to the Python
// sidecar behind the same interface (pdf.go).
package document

import "errors"

// Embed/extract failure kinds.
var (
	// ErrNoEmbeddedPayload means the metadata channel holds no payload.
	// The document was never anonymized, or its metadata was stripped.
	ErrNoEmbeddedPayload = errors.New("no embedded payload")

	// ErrUnsupportedPayloadVersion means the payload's format version is not
	// one this build understands. A hard failure: guessing at an unknown
	// format risks a silent partial deanonymization.
	ErrUnsupportedPayloadVersion = errors.New("unsupported payload version")
)

// Replacement rewrites the half-open range [Start, End) of a document's
// plain text with Text. Offsets refer to the text as returned by PlainText
// before any replacement of this batch is applied.
type Replacement struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Document is the contract between the pipeline and a container
// implementation.
type Document interface {
	// PlainText returns the document's full text with stable offsets.
	PlainText() (string, error)

	// ApplyReplacements rewrites the given ranges in one batch. Ranges must
	// be non-overlapping; implementations apply them back to front.
	ApplyReplacements([]Replacement) error

	// Metadata returns the value stored under key, if any.
	Metadata(key string) (string, bool)

	// SetMetadata stores value under key, replacing any previous value.
	// A non-nil error means the document carries no new metadata; the
	// payload embed step depends on this being reported, not swallowed.
	SetMetadata(key, value string) error
}
