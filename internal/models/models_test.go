package models

import (
	"errors"
	"testing"
)

func TestMatchPolicyValid(t *testing.T) {
	for _, p := range []MatchPolicy{"", "any", "ALL", "Any"} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	for _, p := range []MatchPolicy{"al", "none", "any "} {
		if p.Valid() {
			t.Errorf("%q should be rejected", p)
		}
	}
}

func TestPriorityNormalize(t *testing.T) {
	if p, err := Priority(0).Normalize(); err != nil || p != PriorityLow {
		t.Fatalf("zero priority: got %v %v", p, err)
	}
	if p, err := PriorityHigh.Normalize(); err != nil || p != PriorityHigh {
		t.Fatalf("high priority: got %v %v", p, err)
	}
	for _, p := range []Priority{-1, 4} {
		if _, err := p.Normalize(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("priority %d: expected ErrInvalidInput, got %v", p, err)
		}
	}
}
