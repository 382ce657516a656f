// Package nce implements the noise-contrastive estimation objective used to
// train the scorer without normalising over the output vocabulary.
package nce

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrBadDistribution = errors.New("bad noise distribution")

// Distribution is the noise distribution Q over output ids.
type Distribution struct {
	probs []float64
}

// Unigram normalises target counts into a distribution.
func Unigram(counts []int) Distribution {
	p := make([]float64, len(counts))
	for i, c := range counts {
		p[i] = float64(c)
	}
	if s := floats.Sum(p); s > 0 {
		floats.Scale(1/s, p)
	}
	return Distribution{probs: p}
}

// Uniform is the fallback noise distribution over n ids.
func Uniform(n int) Distribution {
	p := make([]float64, n)
	for i := range p {
		p[i] = 1 / float64(n)
	}
	return Distribution{probs: p}
}

func (d Distribution) Len() int { return len(d.probs) }

func (d Distribution) Prob(i int) float64 { return d.probs[i] }

func (d Distribution) Probs() []float64 { return d.probs }

// Validate checks that d sums to one and gives every id positive mass.
func (d Distribution) Validate() error {
	if len(d.probs) == 0 {
		return errors.Wrap(ErrBadDistribution, "empty")
	}
	for i, p := range d.probs {
		if !(p > 0) || math.IsInf(p, 0) {
			return errors.Wrapf(ErrBadDistribution, "id %d has probability %g", i, p)
		}
	}
	if s := floats.Sum(d.probs); math.Abs(s-1) > 1e-6 {
		return errors.Wrapf(ErrBadDistribution, "sums to %g", s)
	}
	return nil
}

// Sampler draws the noise sample shared by one mini-batch.
type Sampler struct {
	K   int
	cat distuv.Categorical
}

func NewSampler(d Distribution, k int, src rand.Source) *Sampler {
	return &Sampler{K: k, cat: distuv.NewCategorical(d.probs, src)}
}

// Sample draws K ids i.i.d. from the distribution.
func (s *Sampler) Sample() []int {
	out := make([]int, s.K)
	for i := range out {
		out[i] = int(s.cat.Rand())
	}
	return out
}
