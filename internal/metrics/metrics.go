// Package metrics provides lightweight, lock-minimal runtime counters for
// the anonymiser service.
//
// Counters use sync/atomic so hot paths (detection, token replacement) incur
// no mutex contention. Latency statistics use a single mutex per dimension;
// they are updated at most once per operation.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"openanonymiser/internal/entity"
)

// Metrics holds all runtime counters for a running anonymiser instance.
// The zero value is NOT valid for the per-type detection counters — use New().
type Metrics struct {
	// Operation counters
	AnalysesTotal         atomic.Int64
	DocumentsAnonymized   atomic.Int64
	DocumentsDeanonymized atomic.Int64

	// Error counters
	ErrorsLanguage    atomic.Int64 // rejected for unsupported language
	ErrorsEngine      atomic.Int64 // NER engine unavailable
	ErrorsSeal        atomic.Int64 // payload encryption failures
	ErrorsOpen        atomic.Int64 // payload decryption failures (wrong key or corruption)
	ErrorsAnonymize   atomic.Int64
	ErrorsDeanonymize atomic.Int64

	// Entity volume
	EntitiesReplaced atomic.Int64
	EntitiesRestored atomic.Int64

	// Per-type detection counters.
	// The map is written only in New(); concurrent reads are safe without a lock.
	detections map[string]*atomic.Int64

	// Span cache effectiveness
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	detectMu   sync.Mutex
	detectStat latencyStats

	pipelineMu   sync.Mutex
	pipelineStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-type
// detection counters pre-populated for every default entity type.
func New() *Metrics {
	m := &Metrics{
		startTime:  time.Now(),
		detections: make(map[string]*atomic.Int64, len(entity.DefaultTypes)),
	}
	for _, t := range entity.DefaultTypes {
		m.detections[t] = new(atomic.Int64)
	}
	return m
}

// RecordDetection increments the detection counter for the given entity type.
// Unknown types are silently ignored.
func (m *Metrics) RecordDetection(entityType string) {
	if c, ok := m.detections[entityType]; ok {
		c.Add(1)
	}
}

// RecordDetectLatency records the duration of one detection pass.
func (m *Metrics) RecordDetectLatency(d time.Duration) {
	m.detectMu.Lock()
	m.detectStat.record(float64(d.Microseconds()) / 1000.0)
	m.detectMu.Unlock()
}

// RecordPipelineLatency records the end-to-end duration of one document
// anonymization or deanonymization.
func (m *Metrics) RecordPipelineLatency(d time.Duration) {
	m.pipelineMu.Lock()
	m.pipelineStat.record(float64(d.Microseconds()) / 1000.0)
	m.pipelineMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.pipelineMu.Lock()
	pipeline := m.pipelineStat.snapshot()
	m.pipelineMu.Unlock()

	detections := make(map[string]int64, len(m.detections))
	for t, c := range m.detections {
		if n := c.Load(); n > 0 {
			detections[t] = n
		}
	}

	return Snapshot{
		Operations: OperationSnapshot{
			Analyses:              m.AnalysesTotal.Load(),
			DocumentsAnonymized:   m.DocumentsAnonymized.Load(),
			DocumentsDeanonymized: m.DocumentsDeanonymized.Load(),
		},
		Errors: ErrorSnapshot{
			Language:    m.ErrorsLanguage.Load(),
			Engine:      m.ErrorsEngine.Load(),
			Seal:        m.ErrorsSeal.Load(),
			Open:        m.ErrorsOpen.Load(),
			Anonymize:   m.ErrorsAnonymize.Load(),
			Deanonymize: m.ErrorsDeanonymize.Load(),
		},
		Entities: EntitySnapshot{
			Replaced:   m.EntitiesReplaced.Load(),
			Restored:   m.EntitiesRestored.Load(),
			Detections: detections,
		},
		Cache: CacheSnapshot{
			Hits:   m.CacheHits.Load(),
			Misses: m.CacheMisses.Load(),
		},
		Latency: LatencyGroup{
			DetectionMs: detect,
			PipelineMs:  pipeline,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Operations OperationSnapshot `json:"operations"`
	Errors     ErrorSnapshot     `json:"errors"`
	Entities   EntitySnapshot    `json:"entities"`
	Cache      CacheSnapshot     `json:"cache"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// OperationSnapshot holds operation-level counters.
type OperationSnapshot struct {
	Analyses              int64 `json:"analyses"`
	DocumentsAnonymized   int64 `json:"documentsAnonymized"`
	DocumentsDeanonymized int64 `json:"documentsDeanonymized"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Language    int64 `json:"language"`
	Engine      int64 `json:"engine"`
	Seal        int64 `json:"seal"`
	Open        int64 `json:"open"`
	Anonymize   int64 `json:"anonymize"`
	Deanonymize int64 `json:"deanonymize"`
}

// EntitySnapshot holds entity volume counters.
type EntitySnapshot struct {
	Replaced int64 `json:"replaced"`
	Restored int64 `json:"restored"`

	// Per-type detections (only types with non-zero counts appear).
	Detections map[string]int64 `json:"detections,omitempty"`
}

// CacheSnapshot holds span cache effectiveness counters.
type CacheSnapshot struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	DetectionMs LatencySnapshot `json:"detectionMs"`
	PipelineMs  LatencySnapshot `json:"pipelineMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
