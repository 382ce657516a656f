package trainer

import (
	"math/rand/v2"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/extract"
	"github.com/shuoyangd/neural-tuning/nce"
	"github.com/shuoyangd/neural-tuning/network"
	"github.com/shuoyangd/neural-tuning/params"
)

// Tuner adapts a trained model to decoder n-best lists: each step lowers the
// NCE loss on a batch from the best hypotheses and raises it on a batch from
// the worst, both contrasted with the same noise sample.
type Tuner struct {
	*Trainer
	neg *extract.Instances
}

func NewTuner(cfg params.TrainingConfig, net *network.Network, q nce.Distribution,
	pos, neg *extract.Instances, rng *rand.Rand) (*Tuner, error) {
	if pos.Len() != neg.Len() {
		return nil, errors.Errorf("%d positive but %d negative instances", pos.Len(), neg.Len())
	}
	t, err := New(cfg, net, q, pos, nil, rng)
	if err != nil {
		return nil, err
	}
	return &Tuner{Trainer: t, neg: neg}, nil
}

func (t *Tuner) Run() error { return t.run(t.Epoch) }

// Epoch shuffles both lists independently and returns the mean of
// L_pos - L_neg per instance pair.
func (t *Tuner) Epoch(e int) float64 {
	t.train.Shuffle(t.rng)
	t.neg.Shuffle(t.rng)
	bs := t.cfg.BatchSize
	n := t.train.Batches(bs)
	total := 0.0
	for b := 0; b < n; b++ {
		pos, neg := t.train.Batch(b*bs, bs), t.neg.Batch(b*bs, bs)
		noise := t.sampler.Sample()

		gp := t.net.Gradients(pos.Contexts, pos.Labels, noise, t.loss)
		t.net.Apply(t.opt, gp)
		gn := t.net.Gradients(neg.Contexts, neg.Labels, noise, t.loss)
		gn.Scale(-1)
		t.net.Apply(t.opt, gn)

		t.batches++
		total += gp.Loss - gn.Loss
		glog.V(1).Infof("epoch %d batch %d/%d pos %.4f neg %.4f", e, b+1, n,
			gp.Loss/float64(bs), gn.Loss/float64(bs))
	}
	if n == 0 {
		return 0
	}
	return total / float64(n*bs)
}
