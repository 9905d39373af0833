// Package analyzer merges detections from pattern recognizers and a NER
// engine into one authoritative, non-overlapping set of entity spans.
//
// Detection runs in two independent stages that are joined before conflict
// resolution:
//  1. Deterministic pattern recognizers (phone, IBAN, email). A failing
//     recognizer is logged and skipped; it degrades recall, not availability.
//  2. The configured NER engine (person names, locations, organizations,
//     addresses). An engine failure aborts the whole detect call.
//
// The combined multiset goes through the overlap resolver (resolve.go),
// which guarantees the output is sorted and non-overlapping.
package analyzer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"openanonymiser/internal/entity"
	"openanonymiser/internal/logger"
	"openanonymiser/internal/metrics"
	"openanonymiser/internal/ner"
	"openanonymiser/internal/recognizer"
)

// Detection failure kinds surfaced to callers.
var (
	// ErrUnsupportedLanguage is returned when the requested language is not
	// in the configured supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrEngineUnavailable is returned when the NER engine fails or times out.
	ErrEngineUnavailable = errors.New("ner engine unavailable")
)

// Analyzer is the entity merge engine. It holds long-lived handles to the
// pattern recognizers and the NER engine; all per-call state is local to
// Detect, so one Analyzer serves concurrent requests.
type Analyzer struct {
	recognizers []recognizer.Recognizer
	engine      ner.Engine
	supported   []language.Tag
	matcher     language.Matcher
	cache       SpanCache // nil = no caching
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// WithMetrics attaches a metrics registry so cache hits and misses are
// counted. Call before the Analyzer starts serving.
func (a *Analyzer) WithMetrics(m *metrics.Metrics) *Analyzer {
	a.metrics = m
	return a
}

// New creates an Analyzer. supported lists the accepted language tags
// (e.g. "nl"); an empty list defaults to Dutch only. cache may be nil.
func New(engine ner.Engine, recognizers []recognizer.Recognizer, supported []string, cache SpanCache, log *logger.Logger) (*Analyzer, error) {
	if engine == nil {
		return nil, errors.New("analyzer: nil ner engine")
	}
	if len(supported) == 0 {
		supported = []string{"nl"}
	}
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("analyzer: bad supported language %q: %w", s, err)
		}
		tags = append(tags, tag)
	}
	if log == nil {
		log = logger.New("ANALYZER", "info")
	}
	return &Analyzer{
		recognizers: recognizers,
		engine:      engine,
		supported:   tags,
		matcher:     language.NewMatcher(tags),
		cache:       cache,
		log:         log,
	}, nil
}

// Engine returns the name of the active NER engine.
func (a *Analyzer) Engine() string { return a.engine.Name() }

// checkLanguage matches lang against the supported set. Region subtags are
// tolerated ("nl-NL" matches "nl"); anything looser is rejected.
func (a *Analyzer) checkLanguage(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	if _, _, conf := a.matcher.Match(tag); conf < language.High {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return nil
}

// detectResult carries one detector's output across the fan-out join.
type detectResult struct {
	spans []entity.Span
	err   error
	name  string
	ner   bool
}

// Detect produces the merged entity set for text. requestedTypes is an
// optional allow-list; nil or empty means all types. The pattern recognizers
// and the NER engine run concurrently; their completion order does not
// affect the result because resolution is a deterministic sort.
func (a *Analyzer) Detect(ctx context.Context, text, lang string, requestedTypes []string) ([]entity.Span, error) {
	if err := a.checkLanguage(lang); err != nil {
		return nil, err
	}

	want := typeFilter(requestedTypes)
	key := a.cacheKey(text, lang, requestedTypes)

	if a.cache != nil {
		if spans, ok := a.cache.Get(key); ok {
			if hydrated, ok := hydrate(text, spans); ok {
				if a.metrics != nil {
					a.metrics.CacheHits.Add(1)
				}
				a.log.Debugf("detect", "cache hit, %d spans", len(hydrated))
				return hydrated, nil
			}
			// Stale entry for a colliding key; fall through to a fresh run.
		}
		if a.metrics != nil {
			a.metrics.CacheMisses.Add(1)
		}
	}

	ch := make(chan detectResult, len(a.recognizers)+1)

	go func() {
		spans, err := a.engine.Analyze(ctx, text, lang)
		ch <- detectResult{spans: spans, err: err, name: a.engine.Name(), ner: true}
	}()
	for _, rec := range a.recognizers {
		go func(r recognizer.Recognizer) {
			spans, err := r.Find(text)
			ch <- detectResult{spans: spans, err: err, name: r.Type()}
		}(rec)
	}

	var raw []entity.Span
	for i := 0; i < len(a.recognizers)+1; i++ {
		res := <-ch
		if res.err != nil {
			if res.ner {
				return nil, fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, res.name, res.err)
			}
			// Recognizer failures are absorbed: detection continues with
			// reduced recall for that type.
			a.log.Warnf("recognizer", "%s recognizer failed: %v", res.name, res.err)
			continue
		}
		raw = append(raw, res.spans...)
	}

	// Drop malformed spans and unrequested types before resolving conflicts
	// that would be discarded anyway.
	filtered := raw[:0]
	for _, sp := range raw {
		if !sp.Valid(text) {
			a.log.Warnf("detect", "dropping inconsistent span %s [%d:%d)", sp.Type, sp.Start, sp.End)
			continue
		}
		if want != nil && !want[strings.ToUpper(sp.Type)] {
			continue
		}
		filtered = append(filtered, sp)
	}

	merged := resolve(filtered)
	if err := entity.CheckMerged(merged); err != nil {
		return nil, err
	}

	if a.cache != nil {
		a.cache.Set(key, dehydrate(merged))
	}
	a.log.Debugf("detect", "%d raw, %d merged entities", len(raw), len(merged))
	return merged, nil
}

// typeFilter normalizes an allow-list into a set. nil means "all types".
func typeFilter(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return set
}

// cacheKey derives the span-cache key. The text itself is hashed so the
// cache file never contains document content.
func (a *Analyzer) cacheKey(text, lang string, types []string) [32]byte {
	h := sha256.New()
	h.Write([]byte(a.engine.Name()))
	h.Write([]byte{0})
	h.Write([]byte(lang))
	h.Write([]byte{0})
	for _, t := range sortedTypes(types) {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})
	h.Write([]byte(text))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}
