package entity

import (
	"errors"
	"testing"
)

func TestSpanValid(t *testing.T) {
	text := "Jan de Vries woont in Amsterdam"

	good := Span{Type: TypePerson, Text: "Jan de Vries", Start: 0, End: 12}
	if !good.Valid(text) {
		t.Errorf("expected span %+v to be valid", good)
	}

	cases := []Span{
		{Type: TypePerson, Text: "Jan", Start: -1, End: 3},
		{Type: TypePerson, Text: "Jan", Start: 3, End: 3},
		{Type: TypePerson, Text: "Jan", Start: 5, End: 2},
		{Type: TypePerson, Text: "Jan", Start: 0, End: 100},
		{Type: TypePerson, Text: "Piet", Start: 0, End: 4}, // text mismatch
	}
	for _, sp := range cases {
		if sp.Valid(text) {
			t.Errorf("expected span %+v to be invalid", sp)
		}
	}
}

func TestCheckMerged(t *testing.T) {
	ok := []Span{
		{Start: 0, End: 12},
		{Start: 12, End: 15}, // adjacent is allowed
		{Start: 22, End: 31},
	}
	if err := CheckMerged(ok); err != nil {
		t.Errorf("unexpected invariant error: %v", err)
	}

	overlapping := []Span{
		{Start: 0, End: 12},
		{Start: 8, End: 13},
	}
	if err := CheckMerged(overlapping); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestScoreValue(t *testing.T) {
	none := Span{}
	if _, ok := none.ScoreValue(); ok {
		t.Error("expected no score")
	}
	scored := Span{Score: Float(0.85)}
	if v, ok := scored.ScoreValue(); !ok || v != 0.85 {
		t.Errorf("expected score 0.85, got %v (present=%v)", v, ok)
	}
}
