// Package network is the feed-forward scorer: embedding lookup, one or two
// rectified hidden layers and unnormalised output scores.
package network

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/utils"
)

// InitScale bounds the uniform weight initialisation.
const InitScale = 0.05

// Shape fixes every parameter dimension.
type Shape struct {
	Width       int // context positions per instance
	InputVocab  int
	OutputVocab int
	WordDim     int
	Hidden1     int // 0 selects the single hidden layer variant
	Hidden2     int
}

// Params are the trainable matrices. Columns of D are word embeddings.
// C and Cb are nil in the single hidden layer variant.
type Params struct {
	D     *mat.Dense // WordDim x InputVocab
	C, Cb *mat.Dense // Hidden1 x Width·WordDim, Hidden1 x 1
	M, Mb *mat.Dense // Hidden2 x (Hidden1 | Width·WordDim), Hidden2 x 1
	E, Eb *mat.Dense // OutputVocab x Hidden2, OutputVocab x 1
}

type Network struct {
	Shape
	Params
	hidden hiddenStack
}

// New builds a network with weights from U(-InitScale, InitScale), zero
// hidden biases and output biases of -log(OutputVocab).
func New(s Shape, src rand.Source) *Network {
	in := s.Width * s.WordDim
	uniform := func(r, c int) *mat.Dense {
		return mat.NewDense(r, c, utils.RandomArray(r*c, InitScale, src))
	}
	p := Params{D: uniform(s.WordDim, s.InputVocab)}
	if s.Hidden1 > 0 {
		p.C = uniform(s.Hidden1, in)
		p.Cb = mat.NewDense(s.Hidden1, 1, nil)
		in = s.Hidden1
	}
	p.M = uniform(s.Hidden2, in)
	p.Mb = mat.NewDense(s.Hidden2, 1, nil)
	p.E = uniform(s.OutputVocab, s.Hidden2)
	eb := make([]float64, s.OutputVocab)
	for i := range eb {
		eb[i] = -math.Log(float64(s.OutputVocab))
	}
	p.Eb = mat.NewDense(s.OutputVocab, 1, eb)
	return fromParams(s, p)
}

func fromParams(s Shape, p Params) *Network {
	return &Network{Shape: s, Params: p, hidden: newHiddenStack(s.Hidden1)}
}

// Embed looks up and concatenates the embeddings of each context. ctx is
// row-major with Width entries per instance; the result has one column per
// instance.
func (n *Network) Embed(ctx []int) *mat.Dense {
	if len(ctx)%n.Width != 0 {
		panic(fmt.Sprintf("embed: %d context entries is not a multiple of width %d", len(ctx), n.Width))
	}
	B := len(ctx) / n.Width
	wd := n.WordDim
	X := mat.NewDense(n.Width*wd, B, nil)
	for b := 0; b < B; b++ {
		for w := 0; w < n.Width; w++ {
			tok := ctx[b*n.Width+w]
			for i := 0; i < wd; i++ {
				X.Set(w*wd+i, b, n.D.At(i, tok))
			}
		}
	}
	return X
}

// forward runs the embedding and hidden layers.
func (n *Network) forward(ctx []int) *activations {
	return n.hidden.forward(&n.Params, n.Embed(ctx))
}

// LogScores returns S = E·h2 + Eb over the full output vocabulary.
func (n *Network) LogScores(ctx []int) *mat.Dense {
	a := n.forward(ctx)
	return utils.AddBias(utils.Dot(n.E, a.h2), n.Eb)
}

// Scores returns the raw positive scores O = exp(S).
func (n *Network) Scores(ctx []int) *mat.Dense {
	S := n.LogScores(ctx)
	S.Apply(func(i, j int, v float64) float64 { return math.Exp(v) }, S)
	return S
}

// Predict returns the highest scoring output id per instance.
func (n *Network) Predict(ctx []int) []int {
	return utils.ColArgmax(n.LogScores(ctx))
}

// XEnt is the monitoring cross-entropy Σ -log O[y]. O is not normalised,
// so this is only a pseudo-likelihood.
func (n *Network) XEnt(ctx, gold []int) float64 {
	S := n.LogScores(ctx)
	x := 0.0
	for b, y := range gold {
		x -= S.At(y, b)
	}
	return x
}

var ErrShape = errors.New("parameter shape mismatch")

// Validate checks every matrix against the shape.
func (n *Network) Validate() error {
	s := n.Shape
	in := s.Width * s.WordDim
	check := func(name string, m *mat.Dense, r, c int) error {
		if m == nil {
			return errors.Wrapf(ErrShape, "%s missing", name)
		}
		if mr, mc := m.Dims(); mr != r || mc != c {
			return errors.Wrapf(ErrShape, "%s is %dx%d, want %dx%d", name, mr, mc, r, c)
		}
		return nil
	}
	checks := []error{check("D", n.D, s.WordDim, s.InputVocab)}
	if s.Hidden1 > 0 {
		checks = append(checks, check("C", n.C, s.Hidden1, in), check("Cb", n.Cb, s.Hidden1, 1))
		in = s.Hidden1
	}
	checks = append(checks,
		check("M", n.M, s.Hidden2, in), check("Mb", n.Mb, s.Hidden2, 1),
		check("E", n.E, s.OutputVocab, s.Hidden2), check("Eb", n.Eb, s.OutputVocab, 1))
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}
