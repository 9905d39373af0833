// Package api provides the HTTP API of the anonymiser service.
//
// Endpoints:
//
//	POST /api/v1/analyze                 - detect entities in text
//	POST /api/v1/documents/anonymize     - redact a document, embed the sealed map
//	POST /api/v1/documents/deanonymize   - restore a document from its embedded map
//	GET  /status                         - service info, active engine, supported languages
//	GET  /metrics                        - runtime counters
//	GET  /health                         - liveness probe
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"openanonymiser/internal/analyzer"
	"openanonymiser/internal/anonymizer"
	"openanonymiser/internal/config"
	"openanonymiser/internal/document"
	"openanonymiser/internal/entity"
	"openanonymiser/internal/logger"
	"openanonymiser/internal/metrics"
	"openanonymiser/internal/placeholder"
	"openanonymiser/internal/vault"
)

// maxBodyBytes caps request bodies; documents larger than this are rejected.
const maxBodyBytes = 16 << 20

// Server is the anonymiser HTTP API server.
type Server struct {
	cfg       *config.Config
	pipeline  *anonymizer.Pipeline
	engine    string
	metrics   *metrics.Metrics
	log       *logger.Logger
	startTime time.Time
	token     string // bearer token for auth; empty = no auth
}

// New creates an API server. engine names the active NER engine for /status.
func New(cfg *config.Config, p *anonymizer.Pipeline, engine string, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New("API", cfg.LogLevel)
	}
	s := &Server{
		cfg:       cfg,
		pipeline:  p,
		engine:    engine,
		metrics:   m,
		log:       log,
		startTime: time.Now(),
		token:     cfg.APIToken,
	}
	if s.token != "" {
		s.log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/v1/documents/anonymize", s.handleAnonymize)
	mux.HandleFunc("/api/v1/documents/deanonymize", s.handleDeanonymize)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	return s.authMiddleware(s.requestID(mux))
}

// requestID tags every request with a UUID for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		s.log.Debugf("request", "%s %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks for a valid Bearer token if one is configured.
// /health stays open so liveness probes never need credentials.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

type analyzeResponse struct {
	Entities []entity.Span `json:"entities"`
	Engine   string        `json:"engine"`
	Language string        `json:"language"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "invalid request: need {\"text\":\"...\"}", http.StatusBadRequest)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = s.cfg.DefaultLanguage
	}

	spans, err := s.pipeline.AnalyzeText(r.Context(), req.Text, lang, req.Entities)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if spans == nil {
		spans = []entity.Span{}
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Entities: spans, Engine: s.engine, Language: lang})
}

type anonymizeRequest struct {
	Document *document.Text `json:"document"`
	Language string         `json:"language,omitempty"`
	Entities []string       `json:"entities,omitempty"`
	Key      string         `json:"key,omitempty"`
}

type anonymizeResponse struct {
	Document         *document.Text `json:"document"`
	EntitiesReplaced int            `json:"entitiesReplaced"`
	Fingerprint      string         `json:"keyFingerprint"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Document == nil {
		http.Error(w, "invalid request: need {\"document\":{\"body\":\"...\"}}", http.StatusBadRequest)
		return
	}
	secret, err := s.secret(req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = s.cfg.DefaultLanguage
	}

	n, err := s.pipeline.AnonymizeDocument(r.Context(), req.Document, lang, req.Entities, secret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anonymizeResponse{
		Document:         req.Document,
		EntitiesReplaced: n,
		Fingerprint:      vault.Fingerprint(secret),
	})
}

type deanonymizeRequest struct {
	Document *document.Text `json:"document"`
	Key      string         `json:"key,omitempty"`
}

type deanonymizeResponse struct {
	Document         *document.Text `json:"document"`
	EntitiesRestored int            `json:"entitiesRestored"`
}

func (s *Server) handleDeanonymize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req deanonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Document == nil {
		http.Error(w, "invalid request: need {\"document\":{\"body\":\"...\"}}", http.StatusBadRequest)
		return
	}
	secret, err := s.secret(req.Key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := s.pipeline.DeanonymizeDocument(r.Context(), req.Document, secret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deanonymizeResponse{Document: req.Document, EntitiesRestored: n})
}

// secret resolves the crypto key: the per-request key wins, the configured
// key is the fallback, and having neither is a client error.
func (s *Server) secret(requestKey string) ([]byte, error) {
	if requestKey != "" {
		return []byte(requestKey), nil
	}
	if s.cfg.CryptoKey != "" {
		return []byte(s.cfg.CryptoKey), nil
	}
	return nil, errors.New("no key: provide \"key\" or set ANONYMISER_CRYPTO_KEY")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status    string   `json:"status"`
		Uptime    string   `json:"uptime"`
		Engine    string   `json:"engine"`
		Languages []string `json:"supportedLanguages"`
		Entities  []string `json:"entityTypes"`
	}
	writeJSON(w, http.StatusOK, response{
		Status:    "running",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Engine:    s.engine,
		Languages: s.cfg.SupportedLangs,
		Entities:  entity.DefaultTypes,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps pipeline errors onto HTTP status codes. Decryption
// failures stay deliberately vague: wrong key and corrupted payload are the
// same answer.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, analyzer.ErrUnsupportedLanguage):
		status = http.StatusBadRequest
	case errors.Is(err, analyzer.ErrEngineUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, document.ErrNoEmbeddedPayload),
		errors.Is(err, document.ErrUnsupportedPayloadVersion),
		errors.Is(err, placeholder.ErrUnknownPlaceholder):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrDecryptionFailed):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		s.log.Errorf("request", "internal error: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the API server with h2c enabled so gRPC-style
// HTTP/2 clients work without TLS termination in front.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	s.log.Infof("listen", "listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
