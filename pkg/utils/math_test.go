package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v, want [0.6 0.8]", x)
	}
	if n := L2Norm(x); math.Abs(n-1) > 1e-6 {
		t.Errorf("norm = %f", n)
	}

	zero := []float32{0, 0, 0}
	NormalizeL2(zero)
	for _, v := range zero {
		if v != 0 {
			t.Fatalf("zero vector should stay zero: %v", zero)
		}
	}
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	if got := Dot(a, b); got != 32 {
		t.Errorf("Dot = %f, want 32", got)
	}
	if Dot(a, b) != Dot(b, a) {
		t.Error("Dot should be symmetric")
	}
	if Dot(a, []float32{1}) != 0 {
		t.Error("length mismatch should return 0")
	}
}

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		5, 6,
	}
	got := MeanPool(hidden, 3, 2)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("MeanPool = %v, want [3 4]", got)
	}
	if MeanPool(hidden, 4, 2) != nil {
		t.Error("short input should return nil")
	}
	if MeanPool(hidden, 0, 2) != nil {
		t.Error("zero tokens should return nil")
	}
}
