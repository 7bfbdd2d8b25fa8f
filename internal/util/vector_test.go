// ABOUTME: Tests for embedding vector math
// ABOUTME: Covers L2 idempotence, the zero vector, truncation and cosine distance
package util

import (
	"math"
	"testing"
)

const tolerance = 1e-6

func TestL2Normalize_UnitLength(t *testing.T) {
	v := L2Normalize([]float32{3, 4})
	if math.Abs(L2Norm(v)-1) > tolerance {
		t.Errorf("norm = %v, want 1", L2Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > tolerance || math.Abs(float64(v[1])-0.8) > tolerance {
		t.Errorf("L2Normalize([3 4]) = %v, want [0.6 0.8]", v)
	}
}

func TestL2Normalize_Idempotent(t *testing.T) {
	inputs := [][]float32{
		{1, 2, 3, 4},
		{-0.5, 0.25, 10},
		{0.001, 0, 0, 0.002},
	}
	for _, in := range inputs {
		once := L2Normalize(in)
		twice := L2Normalize(once)
		for i := range once {
			if math.Abs(float64(once[i]-twice[i])) > tolerance {
				t.Errorf("normalize not idempotent for %v: %v vs %v", in, once, twice)
				break
			}
		}
	}
}

func TestL2Normalize_ZeroVector(t *testing.T) {
	v := L2Normalize([]float32{0, 0, 0})
	for i, x := range v {
		if x != 0 || math.IsNaN(float64(x)) {
			t.Errorf("component %d = %v, want 0", i, x)
		}
	}
	if len(L2Normalize(nil)) != 0 {
		t.Error("nil vector should stay empty")
	}
}

func TestL2Normalize_DoesNotMutateInput(t *testing.T) {
	in := []float32{3, 4}
	_ = L2Normalize(in)
	if in[0] != 3 || in[1] != 4 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestTruncate(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	if got := Truncate(v, 2); len(got) != 2 || got[1] != 2 {
		t.Errorf("Truncate(v, 2) = %v", got)
	}
	if got := Truncate(v, 10); len(got) != 4 {
		t.Errorf("Truncate to larger dims should keep all, got %v", got)
	}
	if got := Truncate(v, 0); len(got) != 4 {
		t.Errorf("Truncate to 0 dims should keep all, got %v", got)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"length mismatch", []float32{1, 0}, []float32{1}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > tolerance {
				t.Errorf("CosineDistance = %v, want %v", got, tt.want)
			}
		})
	}
}
