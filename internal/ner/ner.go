// Package ner defines the NER engine interface and an HTTP client for the
// Python NLP sidecar that hosts the actual models.
//
// The sidecar exposes one /analyze endpoint and loads either a spaCy-like
// model (no confidence scores) or a transformer-like model (per-span scores)
// depending on the model name it is asked for. Engine choice is made once at
// construction time from configuration; the core holds no model state.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"openanonymiser/internal/entity"
)

// Engine analyzes free text and returns named-entity spans.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Analyze returns spans tagged SourceNER. A nil Score on a span means
	// the backend reports no confidence; that is a supported value.
	Analyze(ctx context.Context, text, language string) ([]entity.Span, error)

	// Name identifies the engine for logs and API responses.
	Name() string
}

// Kind selects which NER backend variant a Client drives.
type Kind string

// Supported engine variants.
const (
	KindSpacy        Kind = "spacy"
	KindTransformers Kind = "transformers"
)

// Client calls the NLP sidecar's /analyze endpoint.
type Client struct {
	url    string
	kind   Kind
	model  string
	scored bool // transformer-like backends return confidences
	http   *http.Client
}

// NewClient creates a sidecar client for the given engine kind and model
// name (e.g. "nl_core_news_md" for spacy, "pdelobelle/robbert-v2-dutch-base"
// for transformers).
func NewClient(baseURL string, kind Kind, model string) *Client {
	return &Client{
		url:    baseURL + "/analyze",
		kind:   kind,
		model:  model,
		scored: kind == KindTransformers,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "<kind>/<model>".
func (c *Client) Name() string { return string(c.kind) + "/" + c.model }

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Engine   string `json:"engine"`
	Model    string `json:"model"`
}

type analyzeResponse struct {
	Entities []struct {
		Type  string   `json:"entity_type"`
		Text  string   `json:"text"`
		Start int      `json:"start"`
		End   int      `json:"end"`
		Score *float64 `json:"score"`
	} `json:"entities"`
}

// Analyze sends text to the sidecar. Unlike pattern recognizers, a sidecar
// failure is returned to the caller: the merge engine surfaces it as
// EngineUnavailable rather than silently dropping the NER layer.
func (c *Client) Analyze(ctx context.Context, text, language string) ([]entity.Span, error) {
	body, err := json.Marshal(analyzeRequest{
		Text:     text,
		Language: language,
		Engine:   string(c.kind),
		Model:    c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner: sidecar call: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner: sidecar returned status %d", resp.StatusCode)
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ner: decode response: %w", err)
	}

	spans := make([]entity.Span, 0, len(result.Entities))
	for _, e := range result.Entities {
		sp := entity.Span{
			Type:   e.Type,
			Text:   e.Text,
			Start:  e.Start,
			End:    e.End,
			Source: entity.SourceNER,
		}
		if c.scored {
			sp.Score = e.Score
		}
		spans = append(spans, sp)
	}
	return spans, nil
}
