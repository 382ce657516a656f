package nce

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/utils"
)

// Loss is the NCE objective with K noise draws from Q.
//
// Scores are log-scores S with raw scores O = exp(S), one column per
// instance. For gold y and each shared noise draw n:
//
//	p1 = O[y] / (O[y] + K·Q[y])
//	p0 = K·Q[n] / (O[n] + K·Q[n])
//	loss = -Σ_b [log p1 + Σ_n log p0]
type Loss struct {
	K int
	Q Distribution
}

func New(q Distribution, k int) Loss { return Loss{K: k, Q: q} }

// Evaluate returns the loss over full-vocabulary scores (V x B).
func (l Loss) Evaluate(scores *mat.Dense, gold, noise []int) float64 {
	loss, _ := l.evaluate(scores, identity, gold, noise, false)
	return loss
}

// EvaluateGrad also returns ∂loss/∂S, shaped like scores: p1-1 at each gold
// entry and 1-p0 at each noise entry, accumulated over repeated draws.
func (l Loss) EvaluateGrad(scores *mat.Dense, gold, noise []int) (float64, *mat.Dense) {
	return l.evaluate(scores, identity, gold, noise, true)
}

// EvaluateRows works on scores gathered for a subset of output ids:
// row i of scores belongs to id rows[i], and gold/noise index into rows.
func (l Loss) EvaluateRows(scores *mat.Dense, rows, gold, noise []int) (float64, *mat.Dense) {
	return l.evaluate(scores, func(i int) int { return rows[i] }, gold, noise, true)
}

func identity(i int) int { return i }

func (l Loss) evaluate(scores *mat.Dense, id func(int) int, gold, noise []int, wantGrad bool) (float64, *mat.Dense) {
	_, B := scores.Dims()
	if len(gold) != B {
		panic(fmt.Sprintf("nce: %d gold labels for %d score columns", len(gold), B))
	}
	var grad *mat.Dense
	if wantGrad {
		grad = utils.ZerosLike(scores)
	}
	logK := math.Log(float64(l.K))
	logKQ := func(row int) float64 { return logK + math.Log(l.Q.Prob(id(row))) }

	loss := 0.0
	for b := 0; b < B; b++ {
		y := gold[b]
		s := scores.At(y, b)
		lkq := logKQ(y)
		logP1 := s - utils.LogAddExp(s, lkq)
		loss -= logP1
		if wantGrad {
			grad.Set(y, b, grad.At(y, b)+math.Exp(logP1)-1)
		}
		for _, n := range noise {
			s := scores.At(n, b)
			lkq := logKQ(n)
			den := utils.LogAddExp(s, lkq)
			loss -= lkq - den
			if wantGrad {
				// 1 - p0 = O[n] / (O[n] + K·Q[n])
				grad.Set(n, b, grad.At(n, b)+math.Exp(s-den))
			}
		}
	}
	return loss, grad
}

// Gather returns the sorted distinct ids of gold ∪ noise and both lists
// re-expressed as positions into it.
func Gather(gold, noise []int) (rows, goldRows, noiseRows []int) {
	seen := make(map[int]struct{}, len(gold)+len(noise))
	for _, ids := range [][]int{gold, noise} {
		for _, i := range ids {
			if _, ok := seen[i]; !ok {
				seen[i] = struct{}{}
				rows = append(rows, i)
			}
		}
	}
	sort.Ints(rows)
	pos := make(map[int]int, len(rows))
	for i, r := range rows {
		pos[r] = i
	}
	goldRows = make([]int, len(gold))
	for i, g := range gold {
		goldRows[i] = pos[g]
	}
	noiseRows = make([]int, len(noise))
	for i, n := range noise {
		noiseRows[i] = pos[n]
	}
	return rows, goldRows, noiseRows
}
