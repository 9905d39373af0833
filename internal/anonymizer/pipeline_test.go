package anonymizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"openanonymiser/internal/analyzer"
	"openanonymiser/internal/document"
	"openanonymiser/internal/entity"
	"openanonymiser/internal/logger"
	"openanonymiser/internal/metrics"
	"openanonymiser/internal/placeholder"
	"openanonymiser/internal/recognizer"
	"openanonymiser/internal/vault"
)

// stubEngine returns a fixed set of spans for any text.
type stubEngine struct {
	spans []entity.Span
	err   error
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Analyze(_ context.Context, _, _ string) ([]entity.Span, error) {
	return s.spans, s.err
}

func testLogger() *logger.Logger { return logger.New("TEST", "error") }

func newTestPipeline(t *testing.T, eng *stubEngine) *Pipeline {
	t.Helper()
	log := testLogger()
	a, err := analyzer.New(eng, recognizer.Defaults(log), nil, nil, log)
	if err != nil {
		t.Fatalf("analyzer.New: %v", err)
	}
	p, err := New(a, metrics.New(), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func dutchSentenceEngine() *stubEngine {
	return &stubEngine{spans: []entity.Span{
		{Type: entity.TypePerson, Text: "Jan de Vries", Start: 0, End: 12, Source: entity.SourceNER},
		{Type: entity.TypeLocation, Text: "Amsterdam", Start: 22, End: 31, Source: entity.SourceNER},
	}}
}

func TestAnonymizeDocument_RoundTrip(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())
	secret := []byte("s3cret")
	original := "Jan de Vries woont in Amsterdam"
	doc := document.NewText(original)

	n, err := p.AnonymizeDocument(context.Background(), doc, "nl", nil, secret)
	if err != nil {
		t.Fatalf("AnonymizeDocument: %v", err)
	}
	if n != 2 {
		t.Errorf("replaced count: got %d, want 2", n)
	}
	if doc.Body != "[PERSON] woont in [LOCATION]" {
		t.Errorf("redacted body: got %q", doc.Body)
	}
	if _, ok := doc.Metadata(document.MetadataKey); !ok {
		t.Fatal("no payload embedded")
	}

	n, err = p.DeanonymizeDocument(context.Background(), doc, secret)
	if err != nil {
		t.Fatalf("DeanonymizeDocument: %v", err)
	}
	if n != 2 {
		t.Errorf("restored count: got %d, want 2", n)
	}
	if doc.Body != original {
		t.Errorf("restored body: got %q, want %q", doc.Body, original)
	}
}

func TestDeanonymizeDocument_WrongKeyLeavesDocumentUntouched(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())
	doc := document.NewText("Jan de Vries woont in Amsterdam")

	if _, err := p.AnonymizeDocument(context.Background(), doc, "nl", nil, []byte("right key")); err != nil {
		t.Fatalf("AnonymizeDocument: %v", err)
	}
	redacted := doc.Body
	payload, _ := doc.Metadata(document.MetadataKey)

	_, err := p.DeanonymizeDocument(context.Background(), doc, []byte("wrong key"))
	if !errors.Is(err, vault.ErrDecryptionFailed) {
		t.Fatalf("error: got %v, want ErrDecryptionFailed", err)
	}
	if doc.Body != redacted {
		t.Error("document body modified despite failed decryption")
	}
	if got, _ := doc.Metadata(document.MetadataKey); got != payload {
		t.Error("document metadata modified despite failed decryption")
	}
}

func TestDeanonymizeDocument_NoPayload(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())
	doc := document.NewText("geen payload hier")

	_, err := p.DeanonymizeDocument(context.Background(), doc, []byte("key"))
	if !errors.Is(err, document.ErrNoEmbeddedPayload) {
		t.Errorf("error: got %v, want ErrNoEmbeddedPayload", err)
	}
	if doc.Body != "geen payload hier" {
		t.Error("document modified")
	}
}

func TestAnonymizeDocument_UnsupportedLanguage(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())
	doc := document.NewText("Jan de Vries woont in Amsterdam")

	_, err := p.AnonymizeDocument(context.Background(), doc, "de", nil, []byte("key"))
	if !errors.Is(err, analyzer.ErrUnsupportedLanguage) {
		t.Fatalf("error: got %v, want ErrUnsupportedLanguage", err)
	}
	if doc.Body != "Jan de Vries woont in Amsterdam" {
		t.Error("document modified despite rejected language")
	}
}

func TestAnonymizeDocument_EngineDownLeavesDocumentUntouched(t *testing.T) {
	p := newTestPipeline(t, &stubEngine{err: errors.New("connection refused")})
	doc := document.NewText("Jan de Vries woont in Amsterdam")

	_, err := p.AnonymizeDocument(context.Background(), doc, "nl", nil, []byte("key"))
	if !errors.Is(err, analyzer.ErrEngineUnavailable) {
		t.Fatalf("error: got %v, want ErrEngineUnavailable", err)
	}
	if doc.Body != "Jan de Vries woont in Amsterdam" {
		t.Error("document modified despite engine failure")
	}
}

func TestAnonymizeDocument_CancelledContext(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())
	doc := document.NewText("Jan de Vries woont in Amsterdam")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.AnonymizeDocument(ctx, doc, "nl", nil, []byte("key"))
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if doc.Body != "Jan de Vries woont in Amsterdam" {
		t.Error("document modified despite cancellation")
	}
	if _, ok := doc.Metadata(document.MetadataKey); ok {
		t.Error("payload embedded despite cancellation")
	}
}

func TestAnonymizeDocument_RepeatedValuesShareToken(t *testing.T) {
	text := "Jan belt Piet en daarna belt Jan weer"
	eng := &stubEngine{spans: []entity.Span{
		{Type: entity.TypePerson, Text: "Jan", Start: 0, End: 3, Source: entity.SourceNER},
		{Type: entity.TypePerson, Text: "Piet", Start: 9, End: 13, Source: entity.SourceNER},
		{Type: entity.TypePerson, Text: "Jan", Start: 29, End: 32, Source: entity.SourceNER},
	}}
	p := newTestPipeline(t, eng)
	doc := document.NewText(text)
	secret := []byte("key")

	n, err := p.AnonymizeDocument(context.Background(), doc, "nl", nil, secret)
	if err != nil {
		t.Fatalf("AnonymizeDocument: %v", err)
	}
	if n != 3 {
		t.Errorf("replaced count: got %d, want 3", n)
	}
	if doc.Body != "[PERSON] belt [PERSON_2] en daarna belt [PERSON] weer" {
		t.Errorf("redacted body: got %q", doc.Body)
	}

	if _, err := p.DeanonymizeDocument(context.Background(), doc, secret); err != nil {
		t.Fatalf("DeanonymizeDocument: %v", err)
	}
	if doc.Body != text {
		t.Errorf("restored body: got %q, want %q", doc.Body, text)
	}
}

func TestAnalyzeText(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())

	spans, err := p.AnalyzeText(context.Background(), "Jan de Vries woont in Amsterdam", "nl", nil)
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("spans: got %d, want 2", len(spans))
	}
	if spans[0].Type != entity.TypePerson || spans[1].Type != entity.TypeLocation {
		t.Errorf("span types: got %s, %s", spans[0].Type, spans[1].Type)
	}
}

func TestAnalyzeText_TypeFilter(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())

	spans, err := p.AnalyzeText(context.Background(), "Jan de Vries woont in Amsterdam", "nl", []string{"LOCATION"})
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if len(spans) != 1 || spans[0].Type != entity.TypeLocation {
		t.Errorf("spans: got %+v, want single LOCATION", spans)
	}
}

func TestPipeline_MetricsRecorded(t *testing.T) {
	p := newTestPipeline(t, dutchSentenceEngine())
	doc := document.NewText("Jan de Vries woont in Amsterdam")
	secret := []byte("key")

	if _, err := p.AnonymizeDocument(context.Background(), doc, "nl", nil, secret); err != nil {
		t.Fatalf("AnonymizeDocument: %v", err)
	}
	if _, err := p.DeanonymizeDocument(context.Background(), doc, secret); err != nil {
		t.Fatalf("DeanonymizeDocument: %v", err)
	}

	s := p.metrics.Snapshot()
	if s.Operations.DocumentsAnonymized != 1 {
		t.Errorf("DocumentsAnonymized: got %d, want 1", s.Operations.DocumentsAnonymized)
	}
	if s.Operations.DocumentsDeanonymized != 1 {
		t.Errorf("DocumentsDeanonymized: got %d, want 1", s.Operations.DocumentsDeanonymized)
	}
	if s.Entities.Replaced != 2 || s.Entities.Restored != 2 {
		t.Errorf("entities: replaced %d restored %d, want 2/2", s.Entities.Replaced, s.Entities.Restored)
	}
	if s.Entities.Detections[entity.TypePerson] != 1 {
		t.Errorf("PERSON detections: got %d, want 1", s.Entities.Detections[entity.TypePerson])
	}
}

func TestAnonymizeDocument_PDFMetadataFailureRestoresBytes(t *testing.T) {
	// Sidecar that extracts and rewrites fine but cannot write metadata.
	mux := http.NewServeMux()
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "Jan de Vries woont in Amsterdam"})
	})
	mux.HandleFunc("/rewrite", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]byte{"document": []byte("%PDF-redacted")})
	})
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "xmp write failed", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestPipeline(t, dutchSentenceEngine())
	original := []byte("%PDF-original")
	doc := document.NewPDF(context.Background(), srv.URL, original)

	_, err := p.AnonymizeDocument(context.Background(), doc, "nl", nil, []byte("key"))
	if err == nil {
		t.Fatal("expected error when payload embed fails")
	}
	// A redacted container without its payload is unrecoverable, so the
	// pre-rewrite bytes must come back.
	if !bytes.Equal(doc.Bytes(), original) {
		t.Errorf("container bytes: got %q, want original restored", doc.Bytes())
	}
}

func TestRestorePlanErrorSurfaced(t *testing.T) {
	p := newTestPipeline(t, &stubEngine{})
	doc := document.NewText("tekst met [PERSON_9] erin")

	// Embed a payload whose map does not cover the token in the body.
	m := placeholder.Map{"[EMAIL]": {Type: entity.TypeEmail, Text: "a@b.nl", Start: 0, End: 6, Occurrences: 1}}
	secret := []byte("key")
	payload, err := vault.Seal(m, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := document.Embed(doc, payload, vault.Fingerprint(secret)); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	_, err = p.DeanonymizeDocument(context.Background(), doc, secret)
	if !errors.Is(err, placeholder.ErrUnknownPlaceholder) {
		t.Errorf("error: got %v, want ErrUnknownPlaceholder", err)
	}
	if doc.Body != "tekst met [PERSON_9] erin" {
		t.Error("document modified despite unknown placeholder")
	}
}
