package optimizations

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/params"
)

// SparseGrad holds the gradient of a subset of a parameter's columns
// (Cols) or rows. Value column/row k belongs to Index[k]; indices are unique.
type SparseGrad struct {
	Cols  bool
	Index []int
	Value *mat.Dense
}

// Scale multiplies the gradient by f in place.
func (g *SparseGrad) Scale(f float64) { g.Value.Scale(f, g.Value) }

// At reads the gradient of parameter entry (i, j); untouched entries are 0.
func (g *SparseGrad) At(i, j int) float64 {
	for k, idx := range g.Index {
		if g.Cols && idx == j {
			return g.Value.At(i, k)
		}
		if !g.Cols && idx == i {
			return g.Value.At(k, j)
		}
	}
	return 0
}

func (g *SparseGrad) check(name string, p *mat.Dense) {
	pr, pc := p.Dims()
	vr, vc := g.Value.Dims()
	if g.Cols && (vr != pr || vc != len(g.Index)) || !g.Cols && (vc != pc || vr != len(g.Index)) {
		panic(fmt.Sprintf("%s: sparse grad shape %dx%d does not fit %dx%d with %d indices",
			name, vr, vc, pr, pc, len(g.Index)))
	}
}

// each visits every (parameter entry, gradient value) pair of g.
func (g *SparseGrad) each(fn func(i, j int, v float64)) {
	r, c := g.Value.Dims()
	for a := 0; a < r; a++ {
		for b := 0; b < c; b++ {
			if g.Cols {
				fn(a, g.Index[b], g.Value.At(a, b))
			} else {
				fn(g.Index[a], b, g.Value.At(a, b))
			}
		}
	}
}

// Optimizer applies one descent step to a named parameter in place.
// The gradient is of the loss being minimised.
type Optimizer interface {
	Dense(name string, p, g *mat.Dense)
	Sparse(name string, p *mat.Dense, g *SparseGrad)
}

// New returns the optimizer selected by cfg.Optimizer.
func New(cfg params.TrainingConfig) (Optimizer, error) {
	switch cfg.Optimizer {
	case params.SGD:
		return &SGD{LearningRate: cfg.LearningRate}, nil
	case params.Adadelta:
		return NewAdadelta(cfg.DecayRate, cfg.Epsilon), nil
	}
	return nil, errors.Wrapf(params.ErrConfig, "unknown optimizer %q", cfg.Optimizer)
}
