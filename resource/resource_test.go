package resource

import (
	"errors"
	"testing"
)

func TestParseTypeAcceptsKnownAndNewKinds(t *testing.T) {
	for _, raw := range []string{"CODE_POINTS", "FUNDING_TOKENS", "QUANTUM_CREDITS", "X1"} {
		got, err := ParseType(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if string(got) != raw {
			t.Fatalf("expected %q, got %q", raw, got)
		}
	}
}

func TestParseTypeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "code_points", "1CODE", "CODE-POINTS", " CODE"} {
		_, err := ParseType(raw)
		if !errors.Is(err, ErrInvalidType) {
			t.Fatalf("expected ErrInvalidType for %q, got %v", raw, err)
		}
	}
}

func TestKnownTypesAreWellFormed(t *testing.T) {
	if len(Known) != 7 {
		t.Fatalf("expected 7 known resource types, got %d", len(Known))
	}
	for _, kind := range Known {
		if _, err := ParseType(string(kind)); err != nil {
			t.Fatalf("known type %q rejected: %v", kind, err)
		}
	}
}
