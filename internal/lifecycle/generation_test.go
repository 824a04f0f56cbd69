package lifecycle

import "testing"

func TestGenerationNames(t *testing.T) {
	gen := NewGeneration("v3")
	if gen.CoreName() != "core-v3" {
		t.Fatalf("unexpected core name: %s", gen.CoreName())
	}
	if gen.RuntimeName() != "runtime-v3" {
		t.Fatalf("unexpected runtime name: %s", gen.RuntimeName())
	}
}

func TestGenerationOwns(t *testing.T) {
	gen := NewGeneration("v3")
	testCases := []struct {
		name string
		want bool
	}{
		{"core-v3", true},
		{"runtime-v3", true},
		{"core-v2", false},
		{"runtime-v2", false},
		{"core-v30", false},
		{"unrelated", false},
	}
	for _, tc := range testCases {
		if got := gen.Owns(tc.name); got != tc.want {
			t.Fatalf("Owns(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGenerationMatchOrderCoreFirst(t *testing.T) {
	order := NewGeneration("v3").MatchOrder()
	if len(order) != 2 || order[0] != "core-v3" || order[1] != "runtime-v3" {
		t.Fatalf("unexpected match order: %v", order)
	}
}
