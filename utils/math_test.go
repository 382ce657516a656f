package utils

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAddBiasBroadcasts(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	b := mat.NewDense(2, 1, []float64{10, -1})
	got := AddBias(m, b)
	want := mat.NewDense(2, 3, []float64{11, 12, 13, 3, 4, 5})
	if !mat.Equal(got, want) {
		t.Fatalf("AddBias = %v, want %v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestReluMask(t *testing.T) {
	act := mat.NewDense(1, 3, []float64{0, 2, -1})
	grad := mat.NewDense(1, 3, []float64{5, 5, 5})
	got := ReluMask(grad, act)
	want := mat.NewDense(1, 3, []float64{0, 5, 0})
	if !mat.Equal(got, want) {
		t.Fatalf("ReluMask = %v", mat.Formatted(got))
	}
}

func TestLogAddExp(t *testing.T) {
	cases := []struct{ a, b float64 }{
		{0, 0}, {1, -3}, {-700, -701}, {2.5, 2.5},
	}
	for _, c := range cases {
		want := math.Log(math.Exp(c.a) + math.Exp(c.b))
		if got := LogAddExp(c.a, c.b); math.Abs(got-want) > 1e-9 {
			t.Errorf("LogAddExp(%g,%g) = %g, want %g", c.a, c.b, got, want)
		}
	}
	if got := LogAddExp(800, 800); math.IsInf(got, 0) {
		t.Errorf("LogAddExp overflowed")
	}
	if got := LogAddExp(math.Inf(-1), 3); got != 3 {
		t.Errorf("LogAddExp(-inf, 3) = %g", got)
	}
}

func TestGatherAndArgmax(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{
		1, 9,
		7, 2,
		3, 4,
	})
	if got := ColArgmax(m); got[0] != 1 || got[1] != 0 {
		t.Fatalf("ColArgmax = %v", got)
	}
	rows := GatherRows(m, []int{2, 0, 2})
	if r, _ := rows.Dims(); r != 3 || rows.At(0, 1) != 4 || rows.At(1, 0) != 1 {
		t.Fatalf("GatherRows = %v", mat.Formatted(rows))
	}
}

func TestRandomArrayBoundsAndSeed(t *testing.T) {
	a := RandomArray(200, 0.05, rand.NewPCG(7, 7))
	b := RandomArray(200, 0.05, rand.NewPCG(7, 7))
	for i := range a {
		if a[i] < -0.05 || a[i] > 0.05 {
			t.Fatalf("sample %d = %g out of range", i, a[i])
		}
		if a[i] != b[i] {
			t.Fatalf("same seed produced different samples at %d", i)
		}
	}
}
