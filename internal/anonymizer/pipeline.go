// Package anonymizer orchestrates the reversible anonymization pipeline.
//
// Forward, a document moves through detection, token substitution, payload
// encryption, and embedding. Reverse, it moves through extraction, payload
// decryption, and restoration. Every fallible stage runs before the document
// is touched: the text rewrite plus metadata write is the single mutating
// step, so a failure anywhere earlier leaves the document exactly as it
// arrived.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"openanonymiser/internal/analyzer"
	"openanonymiser/internal/document"
	"openanonymiser/internal/entity"
	"openanonymiser/internal/logger"
	"openanonymiser/internal/metrics"
	"openanonymiser/internal/placeholder"
	"openanonymiser/internal/vault"
)

// Pipeline wires the analyzer, placeholder codec, vault and document layers
// into the two top-level document operations.
type Pipeline struct {
	analyzer *analyzer.Analyzer
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New returns a Pipeline around the given analyzer. metrics may be nil when
// no counters are wanted (tests, one-shot CLI use).
func New(a *analyzer.Analyzer, m *metrics.Metrics, log *logger.Logger) (*Pipeline, error) {
	if a == nil {
		return nil, errors.New("anonymizer: analyzer is required")
	}
	if log == nil {
		log = logger.New("PIPELINE", "info")
	}
	return &Pipeline{analyzer: a, metrics: m, log: log}, nil
}

// AnalyzeText detects entities in text without touching any document. types
// restricts detection to the given entity types; empty means all.
func (p *Pipeline) AnalyzeText(ctx context.Context, text, lang string, types []string) ([]entity.Span, error) {
	start := time.Now()
	spans, err := p.analyzer.Detect(ctx, text, lang, types)
	if err != nil {
		p.countDetectError(err)
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.AnalysesTotal.Add(1)
		p.metrics.RecordDetectLatency(time.Since(start))
		for _, sp := range spans {
			p.metrics.RecordDetection(sp.Type)
		}
	}
	return spans, nil
}

// AnonymizeDocument replaces every detected entity in doc with a placeholder
// token and embeds the encrypted substitution map in the document's metadata.
// It returns the number of entity occurrences replaced.
//
// The document is modified only after detection, token planning and payload
// encryption have all succeeded, and only if ctx is still live at that point.
func (p *Pipeline) AnonymizeDocument(ctx context.Context, doc document.Document, lang string, types []string, secret []byte) (int, error) {
	start := time.Now()
	n, err := p.anonymize(ctx, doc, lang, types, secret)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ErrorsAnonymize.Add(1)
		}
		return 0, err
	}
	if p.metrics != nil {
		p.metrics.DocumentsAnonymized.Add(1)
		p.metrics.EntitiesReplaced.Add(int64(n))
		p.metrics.RecordPipelineLatency(time.Since(start))
	}
	return n, nil
}

func (p *Pipeline) anonymize(ctx context.Context, doc document.Document, lang string, types []string, secret []byte) (int, error) {
	text, err := doc.PlainText()
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}
	p.log.Debugf("ANONYMIZE", "received %d bytes of text", len(text))

	detectStart := time.Now()
	spans, err := p.analyzer.Detect(ctx, text, lang, types)
	if err != nil {
		p.countDetectError(err)
		return 0, err
	}
	if p.metrics != nil {
		p.metrics.RecordDetectLatency(time.Since(detectStart))
		for _, sp := range spans {
			p.metrics.RecordDetection(sp.Type)
		}
	}
	p.log.Debugf("ANONYMIZE", "detected %d entities", len(spans))

	subs, m, err := placeholder.Plan(text, spans)
	if err != nil {
		return 0, fmt.Errorf("plan substitutions: %w", err)
	}

	payload, err := vault.Seal(m, secret)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ErrorsSeal.Add(1)
		}
		return 0, fmt.Errorf("seal substitution map: %w", err)
	}

	// Everything fallible is done. Check for cancellation once, then mutate.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Container-backed documents snapshot their bytes so an embed failure
	// after the rewrite cannot leave a redacted document with no payload.
	var pre []byte
	c, restorable := doc.(container)
	if restorable {
		pre = c.Bytes()
	}

	if err := doc.ApplyReplacements(toReplacements(subs)); err != nil {
		return 0, fmt.Errorf("rewrite document: %w", err)
	}
	if err := document.Embed(doc, payload, vault.Fingerprint(secret)); err != nil {
		if restorable {
			c.SetBytes(pre)
		}
		return 0, fmt.Errorf("embed payload: %w", err)
	}

	p.log.Infof("ANONYMIZE", "replaced %d entities (%d distinct), fingerprint %.12s",
		len(subs), len(m), vault.Fingerprint(secret))
	return len(subs), nil
}

// DeanonymizeDocument extracts the embedded payload from doc, decrypts the
// substitution map with secret, and writes the original text back over every
// placeholder token. The document is modified only after extraction and
// decryption have succeeded, and only if ctx is still live at that point.
func (p *Pipeline) DeanonymizeDocument(ctx context.Context, doc document.Document, secret []byte) (int, error) {
	start := time.Now()
	n, err := p.deanonymize(ctx, doc, secret)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ErrorsDeanonymize.Add(1)
		}
		return 0, err
	}
	if p.metrics != nil {
		p.metrics.DocumentsDeanonymized.Add(1)
		p.metrics.EntitiesRestored.Add(int64(n))
		p.metrics.RecordPipelineLatency(time.Since(start))
	}
	return n, nil
}

func (p *Pipeline) deanonymize(ctx context.Context, doc document.Document, secret []byte) (int, error) {
	payload, fingerprint, err := document.Extract(doc)
	if err != nil {
		return 0, err
	}
	p.log.Debugf("DEANONYMIZE", "extracted payload, fingerprint %.12s", fingerprint)

	m, err := vault.Open(payload, secret)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ErrorsOpen.Add(1)
		}
		// The error is deliberately uniform; the fingerprint comparison is a
		// log-only hint for operators holding multiple keys.
		if fingerprint != "" && fingerprint != vault.Fingerprint(secret) {
			p.log.Debug("DEANONYMIZE", "key fingerprint does not match embedded fingerprint")
		}
		return 0, err
	}

	text, err := doc.PlainText()
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}

	subs, err := placeholder.RestorePlan(text, m)
	if err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := doc.ApplyReplacements(toReplacements(subs)); err != nil {
		return 0, fmt.Errorf("rewrite document: %w", err)
	}

	p.log.Infof("DEANONYMIZE", "restored %d entities (%d distinct)", len(subs), len(m))
	return len(subs), nil
}

func (p *Pipeline) countDetectError(err error) {
	if p.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, analyzer.ErrUnsupportedLanguage):
		p.metrics.ErrorsLanguage.Add(1)
	case errors.Is(err, analyzer.ErrEngineUnavailable):
		p.metrics.ErrorsEngine.Add(1)
	}
}

// container is implemented by documents whose raw bytes can be captured
// and restored (the PDF sidecar path).
type container interface {
	Bytes() []byte
	SetBytes([]byte)
}

func toReplacements(subs []placeholder.Substitution) []document.Replacement {
	out := make([]document.Replacement, len(subs))
	for i, s := range subs {
		out[i] = document.Replacement{Start: s.Start, End: s.End, Text: s.Value}
	}
	return out
}
