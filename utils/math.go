package utils

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix functions used by the scorer and the loss.
// Instances are columns: an (r x B) matrix holds one column per batch entry.

// r = rows of matrix
// c = columns of matrix
// o = output

func Dot(m, n mat.Matrix) *mat.Dense {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

// AddBias broadcasts an (r x 1) bias over every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.DenseCopyOf(m)
	for i := 0; i < r; i++ {
		floats.AddConst(bias.At(i, 0), out.RawRowView(i))
	}
	return out
}

// RowSums returns the (r x 1) column of per-row sums.
func RowSums(m *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, floats.Sum(m.RawRowView(i)))
	}
	return out
}

// ---------- Rectifier ----------

func ReluApply(i, j int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ReluMask zeroes grad wherever the activation was not positive.
func ReluMask(grad, act *mat.Dense) *mat.Dense {
	return Apply(func(i, j int, v float64) float64 {
		if act.At(i, j) > 0 {
			return v
		}
		return 0
	}, grad)
}

// ---------- Gathering ----------

// GatherRows returns the rows of m listed in idx, in order.
func GatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, k := range idx {
		out.SetRow(i, m.RawRowView(k))
	}
	return out
}

// ---------- Numerics ----------

// LogAddExp computes log(exp(a) + exp(b)) without overflow.
func LogAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

// ColArgmax returns, for each column, the row holding the largest value.
func ColArgmax(m *mat.Dense) []int {
	r, c := m.Dims()
	out := make([]int, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		out[j] = floats.MaxIdx(col)
	}
	return out
}

// RandomArray returns size samples from U(-v, v) drawn from src.
func RandomArray(size int, v float64, src rand.Source) []float64 {
	dist := distuv.Uniform{Min: -v, Max: v, Src: src}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

// SameShape panics with name if a and b differ in shape.
func SameShape(name string, a, b mat.Matrix) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("%s: shape mismatch (%dx%d vs %dx%d)", name, ar, ac, br, bc))
	}
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}
