package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New()
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestOperationCounters(t *testing.T) {
	m := New()
	m.AnalysesTotal.Add(10)
	m.DocumentsAnonymized.Add(7)
	m.DocumentsDeanonymized.Add(2)

	s := m.Snapshot()
	if s.Operations.Analyses != 10 {
		t.Errorf("Analyses: got %d, want 10", s.Operations.Analyses)
	}
	if s.Operations.DocumentsAnonymized != 7 {
		t.Errorf("DocumentsAnonymized: got %d, want 7", s.Operations.DocumentsAnonymized)
	}
	if s.Operations.DocumentsDeanonymized != 2 {
		t.Errorf("DocumentsDeanonymized: got %d, want 2", s.Operations.DocumentsDeanonymized)
	}
}

func TestErrorCounters(t *testing.T) {
	m := New()
	m.ErrorsLanguage.Add(1)
	m.ErrorsEngine.Add(2)
	m.ErrorsOpen.Add(3)

	s := m.Snapshot()
	if s.Errors.Language != 1 {
		t.Errorf("Language: got %d, want 1", s.Errors.Language)
	}
	if s.Errors.Engine != 2 {
		t.Errorf("Engine: got %d, want 2", s.Errors.Engine)
	}
	if s.Errors.Open != 3 {
		t.Errorf("Open: got %d, want 3", s.Errors.Open)
	}
}

func TestRecordDetection_PerType(t *testing.T) {
	m := New()
	m.RecordDetection("PERSON")
	m.RecordDetection("PERSON")
	m.RecordDetection("EMAIL")
	m.RecordDetection("NOT_A_TYPE") // silently ignored

	s := m.Snapshot()
	if s.Entities.Detections["PERSON"] != 2 {
		t.Errorf("PERSON: got %d, want 2", s.Entities.Detections["PERSON"])
	}
	if s.Entities.Detections["EMAIL"] != 1 {
		t.Errorf("EMAIL: got %d, want 1", s.Entities.Detections["EMAIL"])
	}
	if _, ok := s.Entities.Detections["NOT_A_TYPE"]; ok {
		t.Error("unknown type should not appear in snapshot")
	}
	if _, ok := s.Entities.Detections["IBAN"]; ok {
		t.Error("zero-count type should be omitted from snapshot")
	}
}

func TestRecordDetection_Concurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordDetection("PHONE_NUMBER")
		}()
	}
	wg.Wait()

	if got := m.Snapshot().Entities.Detections["PHONE_NUMBER"]; got != 50 {
		t.Errorf("PHONE_NUMBER: got %d, want 50", got)
	}
}

func TestLatencyStats(t *testing.T) {
	m := New()
	m.RecordDetectLatency(10 * time.Millisecond)
	m.RecordDetectLatency(20 * time.Millisecond)
	m.RecordDetectLatency(30 * time.Millisecond)

	s := m.Snapshot().Latency.DetectionMs
	if s.Count != 3 {
		t.Errorf("Count: got %d, want 3", s.Count)
	}
	if s.MinMs != 10 {
		t.Errorf("MinMs: got %v, want 10", s.MinMs)
	}
	if s.MeanMs != 20 {
		t.Errorf("MeanMs: got %v, want 20", s.MeanMs)
	}
	if s.MaxMs != 30 {
		t.Errorf("MaxMs: got %v, want 30", s.MaxMs)
	}
}

func TestLatencyStats_EmptyIsZero(t *testing.T) {
	m := New()
	s := m.Snapshot().Latency.PipelineMs
	if s.Count != 0 || s.MinMs != 0 || s.MeanMs != 0 || s.MaxMs != 0 {
		t.Errorf("empty latency snapshot not zero: %+v", s)
	}
}

func TestSnapshot_JSONEncodes(t *testing.T) {
	m := New()
	m.RecordDetection("IBAN")
	m.EntitiesReplaced.Add(4)

	b, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if len(b) == 0 {
		t.Error("empty snapshot JSON")
	}
}
