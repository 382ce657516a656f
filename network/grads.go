package network

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/nce"
	"github.com/shuoyangd/neural-tuning/optimizations"
	"github.com/shuoyangd/neural-tuning/utils"
)

// Grads are the NCE loss gradients of one mini-batch. D is sparse over the
// embedding columns the batch used; E and Eb over the gold and noise rows.
type Grads struct {
	Loss  float64
	D     *optimizations.SparseGrad
	C, Cb *mat.Dense
	M, Mb *mat.Dense
	E, Eb *optimizations.SparseGrad
}

// Scale multiplies every gradient by f.
func (g *Grads) Scale(f float64) {
	g.D.Scale(f)
	g.E.Scale(f)
	g.Eb.Scale(f)
	for _, m := range []*mat.Dense{g.C, g.Cb, g.M, g.Mb} {
		if m != nil {
			m.Scale(f, m)
		}
	}
}

// outputRows computes the log-scores of just the given output ids.
func (n *Network) outputRows(h2 *mat.Dense, rows []int) (Er, S *mat.Dense) {
	Er = utils.GatherRows(n.E, rows)
	return Er, utils.AddBias(utils.Dot(Er, h2), utils.GatherRows(n.Eb, rows))
}

// Loss is the NCE loss of a batch, evaluated on the gold and noise rows only.
func (n *Network) Loss(ctx, gold, noise []int, l nce.Loss) float64 {
	a := n.forward(ctx)
	rows, g, nr := nce.Gather(gold, noise)
	_, S := n.outputRows(a.h2, rows)
	loss, _ := l.EvaluateRows(S, rows, g, nr)
	return loss
}

// Gradients runs forward and backward for one batch sharing one noise sample.
func (n *Network) Gradients(ctx, gold, noise []int, l nce.Loss) *Grads {
	a := n.forward(ctx)
	rows, g, nr := nce.Gather(gold, noise)
	Er, S := n.outputRows(a.h2, rows)
	loss, dS := l.EvaluateRows(S, rows, g, nr)

	grads := &Grads{Loss: loss}
	grads.E = &optimizations.SparseGrad{Index: rows, Value: utils.Dot(dS, a.h2.T())}
	grads.Eb = &optimizations.SparseGrad{Index: rows, Value: utils.RowSums(dS)}
	dh2 := utils.Dot(Er.T(), dS)
	dX := n.hidden.backward(&n.Params, a, dh2, grads)
	grads.D = n.embeddingGrad(ctx, dX)
	return grads
}

// embeddingGrad scatters dX back onto the columns of D used by ctx,
// summing repeated tokens.
func (n *Network) embeddingGrad(ctx []int, dX *mat.Dense) *optimizations.SparseGrad {
	wd := n.WordDim
	col := make(map[int]int)
	var index []int
	for _, tok := range ctx {
		if _, ok := col[tok]; !ok {
			col[tok] = len(index)
			index = append(index, tok)
		}
	}
	v := mat.NewDense(wd, len(index), nil)
	for k, tok := range ctx {
		b, w := k/n.Width, k%n.Width
		c := col[tok]
		for i := 0; i < wd; i++ {
			v.Set(i, c, v.At(i, c)+dX.At(w*wd+i, b))
		}
	}
	return &optimizations.SparseGrad{Cols: true, Index: index, Value: v}
}

// Apply hands every gradient to opt.
func (n *Network) Apply(opt optimizations.Optimizer, g *Grads) {
	opt.Sparse("D", n.D, g.D)
	if n.C != nil {
		opt.Dense("C", n.C, g.C)
		opt.Dense("Cb", n.Cb, g.Cb)
	}
	opt.Dense("M", n.M, g.M)
	opt.Dense("Mb", n.Mb, g.Mb)
	opt.Sparse("E", n.E, g.E)
	opt.Sparse("Eb", n.Eb, g.Eb)
}

// GradCheck is the worst finite-difference disagreement for one parameter.
type GradCheck struct {
	Name     string
	MaxError float64
}

// CheckGradient compares the analytic gradient of a batch against central
// differences at up to samples entries per parameter. Sparse parameters are
// probed only where the batch touches them.
func (n *Network) CheckGradient(ctx, gold, noise []int, l nce.Loss, samples int, rng *rand.Rand) []GradCheck {
	const eps = 1e-5
	g := n.Gradients(ctx, gold, noise, l)
	probe := func(name string, p *mat.Dense, at func(i, j int) float64, cells [][2]int) GradCheck {
		worst := 0.0
		for _, ij := range cells {
			i, j := ij[0], ij[1]
			w0 := p.At(i, j)
			p.Set(i, j, w0+eps)
			lp := n.Loss(ctx, gold, noise, l)
			p.Set(i, j, w0-eps)
			lm := n.Loss(ctx, gold, noise, l)
			p.Set(i, j, w0)
			worst = math.Max(worst, math.Abs((lp-lm)/(2*eps)-at(i, j)))
		}
		return GradCheck{Name: name, MaxError: worst}
	}
	denseCells := func(p *mat.Dense) [][2]int {
		r, c := p.Dims()
		cells := make([][2]int, samples)
		for k := range cells {
			cells[k] = [2]int{rng.IntN(r), rng.IntN(c)}
		}
		return cells
	}
	sparseCells := func(p *mat.Dense, sg *optimizations.SparseGrad) [][2]int {
		r, c := p.Dims()
		cells := make([][2]int, samples)
		for k := range cells {
			t := sg.Index[rng.IntN(len(sg.Index))]
			if sg.Cols {
				cells[k] = [2]int{rng.IntN(r), t}
			} else {
				cells[k] = [2]int{t, rng.IntN(c)}
			}
		}
		return cells
	}

	out := []GradCheck{probe("D", n.D, g.D.At, sparseCells(n.D, g.D))}
	if n.C != nil {
		out = append(out,
			probe("C", n.C, g.C.At, denseCells(n.C)),
			probe("Cb", n.Cb, g.Cb.At, denseCells(n.Cb)))
	}
	return append(out,
		probe("M", n.M, g.M.At, denseCells(n.M)),
		probe("Mb", n.Mb, g.Mb.At, denseCells(n.Mb)),
		probe("E", n.E, g.E.At, sparseCells(n.E, g.E)),
		probe("Eb", n.Eb, g.Eb.At, sparseCells(n.Eb, g.Eb)))
}
