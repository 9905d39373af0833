package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PDF is a Document backed by the Python PDF sidecar. The sidecar owns all
// pymupdf/pikepdf work: text extraction with offsets, page rewriting and
// XMP metadata. This client only moves the document bytes back and forth.
//
// A PDF holds the current container bytes; every mutating call replaces
// them with the sidecar's output, so Bytes() is always the latest artifact.
type PDF struct {
	service string
	http    *http.Client
	ctx     context.Context
	data    []byte
}

// NewPDF wraps raw PDF bytes with a sidecar client. serviceURL defaults to
// the conventional local sidecar port when empty.
func NewPDF(ctx context.Context, serviceURL string, data []byte) *PDF {
	if serviceURL == "" {
		serviceURL = "http://localhost:8001"
	}
	return &PDF{
		service: serviceURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		ctx:     ctx,
		data:    data,
	}
}

// Bytes returns the current container bytes.
func (p *PDF) Bytes() []byte { return p.data }

type pdfTextRequest struct {
	Document []byte `json:"document"`
}

type pdfTextResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// PlainText asks the sidecar for the document's full text.
func (p *PDF) PlainText() (string, error) {
	body, err := json.Marshal(pdfTextRequest{Document: p.data})
	if err != nil {
		return "", fmt.Errorf("document: marshal text request: %w", err)
	}
	var resp pdfTextResponse
	if err := p.post("/text", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("document: pdf text extraction: %s", resp.Error)
	}
	return resp.Text, nil
}

type pdfRewriteRequest struct {
	Document     []byte        `json:"document"`
	Replacements []Replacement `json:"replacements"`
}

type pdfRewriteResponse struct {
	Document []byte `json:"document"`
	Error    string `json:"error,omitempty"`
}

// ApplyReplacements has the sidecar rewrite the page content and swaps in
// the returned container bytes.
func (p *PDF) ApplyReplacements(reps []Replacement) error {
	body, err := json.Marshal(pdfRewriteRequest{Document: p.data, Replacements: reps})
	if err != nil {
		return fmt.Errorf("document: marshal rewrite request: %w", err)
	}
	var resp pdfRewriteResponse
	if err := p.post("/rewrite", body, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("document: pdf rewrite: %s", resp.Error)
	}
	p.data = resp.Document
	return nil
}

type pdfMetadataRequest struct {
	Document []byte `json:"document"`
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Set      bool   `json:"set"`
}

type pdfMetadataResponse struct {
	Document []byte `json:"document,omitempty"`
	Value    string `json:"value"`
	Found    bool   `json:"found"`
	Error    string `json:"error,omitempty"`
}

// Metadata reads one XMP field via the sidecar. Sidecar failures read as
// "absent": the caller's ErrNoEmbeddedPayload is the right surface for a
// document whose metadata cannot be reached.
func (p *PDF) Metadata(key string) (string, bool) {
	body, err := json.Marshal(pdfMetadataRequest{Document: p.data, Key: key})
	if err != nil {
		return "", false
	}
	var resp pdfMetadataResponse
	if err := p.post("/metadata", body, &resp); err != nil || resp.Error != "" {
		return "", false
	}
	return resp.Value, resp.Found
}

// SetMetadata writes one XMP field via the sidecar. The new container bytes
// replace the old only on success, so a failed write leaves the document
// unchanged and the error is the caller's to handle.
func (p *PDF) SetMetadata(key, value string) error {
	body, err := json.Marshal(pdfMetadataRequest{Document: p.data, Key: key, Value: value, Set: true})
	if err != nil {
		return fmt.Errorf("document: marshal metadata request: %w", err)
	}
	var resp pdfMetadataResponse
	if err := p.post("/metadata", body, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("document: pdf metadata write: %s", resp.Error)
	}
	if len(resp.Document) == 0 {
		return fmt.Errorf("document: pdf metadata write returned no document")
	}
	p.data = resp.Document
	return nil
}

// SetBytes replaces the container bytes wholesale. The pipeline uses it to
// restore a pre-rewrite snapshot when a later step fails.
func (p *PDF) SetBytes(data []byte) { p.data = data }

func (p *PDF) post(path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodPost, p.service+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("document: build sidecar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("document: pdf sidecar call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("document: pdf sidecar status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("document: read sidecar response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("document: decode sidecar response: %w", err)
	}
	return nil
}
