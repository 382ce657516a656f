package network

import (
	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/utils"
)

type activations struct {
	x, h1, h2 *mat.Dense
}

// hiddenStack is the part of the network between the concatenated
// embeddings and the output layer.
type hiddenStack interface {
	forward(p *Params, x *mat.Dense) *activations
	// backward fills the hidden layer gradients of g and returns dX.
	backward(p *Params, a *activations, dh2 *mat.Dense, g *Grads) *mat.Dense
}

func newHiddenStack(hidden1 int) hiddenStack {
	if hidden1 > 0 {
		return doubleHidden{}
	}
	return singleHidden{}
}

// singleHidden: h2 = relu(M·x + Mb).
type singleHidden struct{}

func (singleHidden) forward(p *Params, x *mat.Dense) *activations {
	h2 := utils.Apply(utils.ReluApply, utils.AddBias(utils.Dot(p.M, x), p.Mb))
	return &activations{x: x, h2: h2}
}

func (singleHidden) backward(p *Params, a *activations, dh2 *mat.Dense, g *Grads) *mat.Dense {
	da2 := utils.ReluMask(dh2, a.h2)
	g.M = utils.Dot(da2, a.x.T())
	g.Mb = utils.RowSums(da2)
	return utils.Dot(p.M.T(), da2)
}

// doubleHidden: h1 = relu(C·x + Cb), h2 = relu(M·h1 + Mb).
type doubleHidden struct{}

func (doubleHidden) forward(p *Params, x *mat.Dense) *activations {
	h1 := utils.Apply(utils.ReluApply, utils.AddBias(utils.Dot(p.C, x), p.Cb))
	h2 := utils.Apply(utils.ReluApply, utils.AddBias(utils.Dot(p.M, h1), p.Mb))
	return &activations{x: x, h1: h1, h2: h2}
}

func (doubleHidden) backward(p *Params, a *activations, dh2 *mat.Dense, g *Grads) *mat.Dense {
	da2 := utils.ReluMask(dh2, a.h2)
	g.M = utils.Dot(da2, a.h1.T())
	g.Mb = utils.RowSums(da2)
	da1 := utils.ReluMask(utils.Dot(p.M.T(), da2), a.h1)
	g.C = utils.Dot(da1, a.x.T())
	g.Cb = utils.RowSums(da1)
	return utils.Dot(p.C.T(), da1)
}
