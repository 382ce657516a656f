package optimizations

import (
	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/utils"
)

// SGD is plain stochastic gradient descent: p -= lr * g.
type SGD struct {
	LearningRate float64
}

func (s *SGD) Dense(name string, p, g *mat.Dense) {
	utils.SameShape(name, p, g)
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			p.Set(i, j, p.At(i, j)-s.LearningRate*g.At(i, j))
		}
	}
}

func (s *SGD) Sparse(name string, p *mat.Dense, g *SparseGrad) {
	g.check(name, p)
	g.each(func(i, j int, v float64) {
		p.Set(i, j, p.At(i, j)-s.LearningRate*v)
	})
}
