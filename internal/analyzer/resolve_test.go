package analyzer

import (
	"math/rand"
	"testing"

	"openanonymiser/internal/entity"
)

func span(typ string, start, end int, score *float64, src entity.Source) entity.Span {
	return entity.Span{Type: typ, Start: start, End: end, Score: score, Source: src}
}

func TestResolveNoOverlapProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		n := rng.Intn(20)
		raw := make([]entity.Span, 0, n)
		for i := 0; i < n; i++ {
			start := rng.Intn(100)
			end := start + 1 + rng.Intn(20)
			var score *float64
			if rng.Intn(2) == 0 {
				score = entity.Float(rng.Float64())
			}
			src := entity.SourceNER
			if rng.Intn(2) == 0 {
				src = entity.SourcePattern
			}
			raw = append(raw, span("T", start, end, score, src))
		}

		merged := resolve(raw)
		if err := entity.CheckMerged(merged); err != nil {
			t.Fatalf("run %d: %v (input %+v)", run, err, raw)
		}
	}
}

func TestResolveLongerSpanWins(t *testing.T) {
	raw := []entity.Span{
		span("SHORT", 0, 5, nil, entity.SourceNER),
		span("LONG", 0, 12, nil, entity.SourceNER),
	}
	merged := resolve(raw)
	if len(merged) != 1 || merged[0].Type != "LONG" {
		t.Errorf("expected LONG to win, got %+v", merged)
	}
}

func TestResolveScorePresentBeatsAbsent(t *testing.T) {
	raw := []entity.Span{
		span("UNSCORED", 0, 5, nil, entity.SourceNER),
		span("SCORED", 0, 5, entity.Float(0.1), entity.SourceNER),
	}
	merged := resolve(raw)
	if len(merged) != 1 || merged[0].Type != "SCORED" {
		t.Errorf("a present score must outrank an absent one, got %+v", merged)
	}
}

func TestResolveHigherScoreWins(t *testing.T) {
	raw := []entity.Span{
		span("LOW", 3, 9, entity.Float(0.4), entity.SourceNER),
		span("HIGH", 3, 9, entity.Float(0.9), entity.SourceNER),
	}
	merged := resolve(raw)
	if len(merged) != 1 || merged[0].Type != "HIGH" {
		t.Errorf("expected HIGH to win, got %+v", merged)
	}
}

func TestResolvePatternBeatsNEROnTie(t *testing.T) {
	raw := []entity.Span{
		span("FROM_NER", 0, 10, entity.Float(0.6), entity.SourceNER),
		span("FROM_PATTERN", 0, 10, entity.Float(0.6), entity.SourcePattern),
	}
	merged := resolve(raw)
	if len(merged) != 1 || merged[0].Type != "FROM_PATTERN" {
		t.Errorf("pattern source must win score ties, got %+v", merged)
	}
}

func TestResolveFullTieKeepsInputOrder(t *testing.T) {
	raw := []entity.Span{
		span("FIRST", 0, 10, entity.Float(0.6), entity.SourceNER),
		span("SECOND", 0, 10, entity.Float(0.6), entity.SourceNER),
	}
	merged := resolve(raw)
	if len(merged) != 1 || merged[0].Type != "FIRST" {
		t.Errorf("full tie must keep first-seen span, got %+v", merged)
	}
}

func TestResolvePartialOverlapNotTruncated(t *testing.T) {
	raw := []entity.Span{
		span("A", 0, 8, nil, entity.SourceNER),
		span("B", 5, 15, nil, entity.SourceNER),
	}
	merged := resolve(raw)
	if len(merged) != 1 {
		t.Fatalf("partial overlap must drop the loser whole, got %+v", merged)
	}
	if merged[0].Start != 0 || merged[0].End != 8 {
		t.Errorf("winner must keep its original range, got %+v", merged[0])
	}
}

func TestResolveAdjacentSpansBothKept(t *testing.T) {
	raw := []entity.Span{
		span("A", 0, 5, nil, entity.SourceNER),
		span("B", 5, 10, nil, entity.SourceNER),
	}
	merged := resolve(raw)
	if len(merged) != 2 {
		t.Errorf("adjacent spans do not overlap, got %+v", merged)
	}
}
