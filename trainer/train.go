// Package trainer drives NCE training of the scorer over shuffled
// mini-batches with optional validation and periodic checkpoints.
package trainer

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/extract"
	"github.com/shuoyangd/neural-tuning/nce"
	"github.com/shuoyangd/neural-tuning/network"
	"github.com/shuoyangd/neural-tuning/optimizations"
	"github.com/shuoyangd/neural-tuning/params"
)

// Phase is where a training run currently is.
type Phase int

const (
	Idle Phase = iota
	EpochRunning
	Validating
	Checkpointing
	Done
)

var phaseNames = [...]string{"idle", "epoch", "validating", "checkpointing", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// gradCheckTolerance is the largest finite-difference error logged as info.
const gradCheckTolerance = 1e-4

type Trainer struct {
	cfg     params.TrainingConfig
	net     *network.Network
	loss    nce.Loss
	sampler *nce.Sampler
	opt     optimizations.Optimizer
	rng     *rand.Rand

	train, val *extract.Instances
	vocab      *network.Vocabularies // written into checkpoints when set

	phase   Phase
	batches int // optimizer steps so far
}

// New wires a trainer. q must be a valid noise distribution over the
// network's output vocabulary; rng is the run's only random stream.
func New(cfg params.TrainingConfig, net *network.Network, q nce.Distribution,
	train, val *extract.Instances, rng *rand.Rand) (*Trainer, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Len() != net.OutputVocab {
		return nil, errors.Wrapf(nce.ErrBadDistribution, "%d noise probabilities for %d output ids",
			q.Len(), net.OutputVocab)
	}
	if train.Width != net.Width {
		return nil, errors.Errorf("instances have width %d, network expects %d", train.Width, net.Width)
	}
	opt, err := optimizations.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:     cfg,
		net:     net,
		loss:    nce.New(q, cfg.NoiseSampleSize),
		sampler: nce.NewSampler(q, cfg.NoiseSampleSize, rng),
		opt:     opt,
		rng:     rng,
		train:   train,
		val:     val,
	}, nil
}

// SetVocabularies makes checkpoints carry token lists.
func (t *Trainer) SetVocabularies(v *network.Vocabularies) { t.vocab = v }

func (t *Trainer) Phase() Phase              { return t.phase }
func (t *Trainer) Network() *network.Network { return t.net }

func (t *Trainer) setPhase(p Phase) {
	glog.V(2).Infof("phase %v -> %v", t.phase, p)
	t.phase = p
}

// Run trains for MaxEpoch epochs.
func (t *Trainer) Run() error { return t.run(t.Epoch) }

func (t *Trainer) run(epoch func(e int) float64) error {
	glog.Infof("training %v model: %d instances, width %d, batch %d, %d noise samples, optimizer %s",
		t.cfg.Mode, t.train.Len(), t.train.Width, t.cfg.BatchSize, t.cfg.NoiseSampleSize, t.cfg.Optimizer)
	if t.train.Batches(t.cfg.BatchSize) == 0 {
		glog.Warningf("%d instances do not fill one batch of %d; epochs will be empty", t.train.Len(), t.cfg.BatchSize)
	}
	for e := 1; e <= t.cfg.MaxEpoch; e++ {
		t.setPhase(EpochRunning)
		start := time.Now()
		loss := epoch(e)
		glog.Infof("epoch %d: mean NCE loss %.4f (%v)", e, loss, time.Since(start))

		if t.val != nil {
			t.setPhase(Validating)
			xent, vloss := t.Validate()
			glog.Infof("epoch %d validation: cross-entropy %.4f, NCE loss %.4f", e, xent, vloss)
		}
		if e%t.cfg.SaveInterval == 0 {
			t.setPhase(Checkpointing)
			if err := t.Checkpoint(e); err != nil {
				return err
			}
		}
	}
	t.setPhase(Done)
	glog.Infof("training finished")
	return nil
}

// Epoch shuffles the instances and takes one optimizer step per full batch.
// It returns the mean loss per instance.
func (t *Trainer) Epoch(e int) float64 {
	t.train.Shuffle(t.rng)
	bs := t.cfg.BatchSize
	n := t.train.Batches(bs)
	total := 0.0
	for b := 0; b < n; b++ {
		batch := t.train.Batch(b*bs, bs)
		noise := t.sampler.Sample()
		t.maybeCheckGradient(batch, noise)
		g := t.net.Gradients(batch.Contexts, batch.Labels, noise, t.loss)
		t.net.Apply(t.opt, g)
		t.batches++
		total += g.Loss
		glog.V(1).Infof("epoch %d batch %d/%d loss %.4f", e, b+1, n, g.Loss/float64(bs))
	}
	if n == 0 {
		return 0
	}
	return total / float64(n*bs)
}

func (t *Trainer) maybeCheckGradient(batch *extract.Instances, noise []int) {
	if t.cfg.GradientCheck <= 0 || t.batches%t.cfg.GradientCheck != 0 {
		return
	}
	for _, c := range t.net.CheckGradient(batch.Contexts, batch.Labels, noise, t.loss, 3, t.rng) {
		if c.MaxError > gradCheckTolerance {
			glog.Warningf("gradient check after %d batches: %s off by %.3g", t.batches, c.Name, c.MaxError)
		} else {
			glog.Infof("gradient check after %d batches: %s ok (%.3g)", t.batches, c.Name, c.MaxError)
		}
	}
}

// Validate returns the per-instance monitoring cross-entropy and NCE loss
// on the held-out set. It never changes the parameters.
func (t *Trainer) Validate() (xent, loss float64) {
	if t.val == nil || t.val.Len() == 0 {
		return 0, 0
	}
	bs := t.cfg.BatchSize
	for start := 0; start < t.val.Len(); start += bs {
		batch := t.val.Batch(start, min(bs, t.val.Len()-start))
		xent += t.net.XEnt(batch.Contexts, batch.Labels)
		loss += t.net.Loss(batch.Contexts, batch.Labels, t.sampler.Sample(), t.loss)
	}
	n := float64(t.val.Len())
	return xent / n, loss / n
}

// CheckpointPath names the model file written after epoch.
func (t *Trainer) CheckpointPath(epoch int) string {
	prefix := "NNJM.model"
	if t.cfg.Mode == params.Ngram {
		prefix = "nplm.model"
	}
	return filepath.Join(t.cfg.WorkingDir, fmt.Sprintf("%s.%d", prefix, epoch))
}

// Checkpoint writes the full parameter set.
func (t *Trainer) Checkpoint(epoch int) error {
	path := t.CheckpointPath(epoch)
	if err := network.SaveModel(path, t.net, t.vocab); err != nil {
		return err
	}
	glog.Infof("saved %s", path)
	return nil
}
