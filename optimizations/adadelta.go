package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/utils"
)

// Adadelta keeps decayed averages of squared gradients and squared updates
// per parameter entry:
//
//	E[g²]  = ρE[g²] + (1-ρ)g²
//	Δ      = -sqrt(E[Δ²]+ε) / sqrt(E[g²]+ε) · g
//	E[Δ²]  = ρE[Δ²] + (1-ρ)Δ²
//
// Sparse gradients only touch the accumulators of the entries they cover,
// so untouched entries are not decayed until they next receive a gradient.
type Adadelta struct {
	DecayRate float64
	Epsilon   float64
	state     map[string]*adadeltaState
}

type adadeltaState struct {
	eg2, edx2 *mat.Dense
}

func NewAdadelta(decayRate, epsilon float64) *Adadelta {
	return &Adadelta{DecayRate: decayRate, Epsilon: epsilon, state: make(map[string]*adadeltaState)}
}

func (a *Adadelta) stateFor(name string, p *mat.Dense) *adadeltaState {
	st, ok := a.state[name]
	if !ok {
		st = &adadeltaState{eg2: utils.ZerosLike(p), edx2: utils.ZerosLike(p)}
		a.state[name] = st
	}
	utils.SameShape(name+" adadelta state", st.eg2, p)
	return st
}

func (a *Adadelta) update(st *adadeltaState, p *mat.Dense, i, j int, g float64) {
	rho, eps := a.DecayRate, a.Epsilon
	eg2 := rho*st.eg2.At(i, j) + (1-rho)*g*g
	dx := -math.Sqrt(st.edx2.At(i, j)+eps) / math.Sqrt(eg2+eps) * g
	st.eg2.Set(i, j, eg2)
	st.edx2.Set(i, j, rho*st.edx2.At(i, j)+(1-rho)*dx*dx)
	p.Set(i, j, p.At(i, j)+dx)
}

func (a *Adadelta) Dense(name string, p, g *mat.Dense) {
	utils.SameShape(name, p, g)
	st := a.stateFor(name, p)
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			a.update(st, p, i, j, g.At(i, j))
		}
	}
}

func (a *Adadelta) Sparse(name string, p *mat.Dense, g *SparseGrad) {
	g.check(name, p)
	st := a.stateFor(name, p)
	g.each(func(i, j int, v float64) {
		a.update(st, p, i, j, v)
	})
}
