package trainer

import (
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/IO"
	"github.com/shuoyangd/neural-tuning/extract"
	"github.com/shuoyangd/neural-tuning/nce"
	"github.com/shuoyangd/neural-tuning/network"
	"github.com/shuoyangd/neural-tuning/params"
	"github.com/shuoyangd/neural-tuning/vocab"
)

// NumberizerFile is where a training run stores its numberizer when no
// explicit path is configured.
const NumberizerFile = "numberizer.gob"

// NewRand returns the single random stream of a run.
func NewRand(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed)) }

func prepareDir(cfg params.TrainingConfig) error {
	if cfg.WorkingDir == "" {
		return nil
	}
	return errors.Wrap(os.MkdirAll(cfg.WorkingDir, 0o755), "working dir")
}

// numberizer loads cfg.VocabFile when set, so ids match the model it was
// trained with. Otherwise it builds a fresh one with build and saves it to
// the working dir. Either way the vocab dumps are written for the decoder.
func numberizer(cfg params.TrainingConfig, build func(nz *vocab.Numberizer), sides ...vocab.Side) (*vocab.Numberizer, error) {
	var nz *vocab.Numberizer
	if cfg.VocabFile != "" {
		var err error
		if nz, err = vocab.Load(cfg.VocabFile); err != nil {
			return nil, err
		}
		for _, s := range sides {
			if !nz.Built(s) {
				return nil, errors.Errorf("%s has no %v vocabulary", cfg.VocabFile, s)
			}
		}
		glog.Infof("reusing numberizer %s", cfg.VocabFile)
	} else {
		nz = vocab.New(cfg.VocabSize)
		build(nz)
		path := filepath.Join(cfg.WorkingDir, NumberizerFile)
		if err := nz.Save(path); err != nil {
			return nil, err
		}
		glog.Infof("saved numberizer to %s", path)
	}
	return nz, nz.WriteVocab(filepath.Join(cfg.WorkingDir, "vocab"))
}

// initNetwork loads cfg.ModelFile when set, otherwise builds a fresh network.
func initNetwork(cfg params.TrainingConfig, s network.Shape, rng *rand.Rand) (*network.Network, error) {
	if cfg.ModelFile == "" {
		return network.New(s, rng), nil
	}
	net, _, err := network.LoadModel(cfg.ModelFile)
	if err != nil {
		return nil, err
	}
	if net.Width != s.Width || net.InputVocab != s.InputVocab || net.OutputVocab != s.OutputVocab {
		return nil, errors.Wrapf(network.ErrShape, "%s: model is width %d, vocab %d/%d; data needs width %d, vocab %d/%d",
			cfg.ModelFile, net.Width, net.InputVocab, net.OutputVocab, s.Width, s.InputVocab, s.OutputVocab)
	}
	glog.Infof("loaded initial model %s", cfg.ModelFile)
	return net, nil
}

func jointShape(cfg params.TrainingConfig, nz *vocab.Numberizer) network.Shape {
	return network.Shape{
		Width:       cfg.ContextWidth(),
		InputVocab:  nz.InputSize(),
		OutputVocab: nz.Size(vocab.Target),
		WordDim:     cfg.WordDim,
		Hidden1:     cfg.HiddenDim1,
		Hidden2:     cfg.HiddenDim2,
	}
}

// PrepareJoint builds the numberizer, instances and network for the joint
// model from the configured source/target/alignment triple.
func PrepareJoint(cfg params.TrainingConfig) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := prepareDir(cfg); err != nil {
		return nil, err
	}
	rng := NewRand(cfg.Seed)

	text, err := IO.ReadParallel(cfg.SourceFile, cfg.TargetFile, cfg.AlignFile)
	if err != nil {
		return nil, err
	}
	nz, err := numberizer(cfg, func(nz *vocab.Numberizer) {
		nz.Build(vocab.Source, text.Source)
		nz.Build(vocab.Target, text.Target)
	}, vocab.Source, vocab.Target)
	if err != nil {
		return nil, err
	}
	pairs, err := text.Numberize(nz)
	if err != nil {
		return nil, err
	}
	b := extract.NewBuilder(nz, cfg.SourceWindow, cfg.TargetContext)
	train, err := extract.JointInstances(b, pairs)
	if err != nil {
		return nil, errors.Wrap(err, cfg.TargetFile)
	}

	var val *extract.Instances
	if cfg.HasValidation() {
		vp, err := IO.LoadParallel(nz, cfg.ValSourceFile, cfg.ValTargetFile, cfg.ValAlignFile)
		if err != nil {
			return nil, err
		}
		if val, err = extract.JointInstances(b, vp); err != nil {
			return nil, errors.Wrap(err, cfg.ValTargetFile)
		}
	}

	net, err := initNetwork(cfg, jointShape(cfg, nz), rng)
	if err != nil {
		return nil, err
	}
	return New(cfg, net, nce.Unigram(nz.Counts(vocab.Target)), train, val, rng)
}

// PrepareNgram builds the plain target-side n-gram model.
func PrepareNgram(cfg params.TrainingConfig) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := prepareDir(cfg); err != nil {
		return nil, err
	}
	rng := NewRand(cfg.Seed)

	lines, err := IO.ReadLines(cfg.TargetFile)
	if err != nil {
		return nil, err
	}
	nz, err := numberizer(cfg, func(nz *vocab.Numberizer) {
		nz.Build(vocab.Target, lines)
	}, vocab.Target)
	if err != nil {
		return nil, err
	}
	sents := make([][]int, len(lines))
	for i, l := range lines {
		sents[i] = nz.Numberize(vocab.Target, l)
	}
	bos := nz.BOSId(vocab.Target)
	train := extract.NgramInstances(sents, cfg.NGram, bos)

	var val *extract.Instances
	if cfg.HasValidation() {
		vs, err := IO.LoadMonolingual(nz, cfg.ValTargetFile)
		if err != nil {
			return nil, err
		}
		val = extract.NgramInstances(vs, cfg.NGram, bos)
	}

	size := nz.Size(vocab.Target)
	shape := network.Shape{
		Width: cfg.ContextWidth(), InputVocab: size, OutputVocab: size,
		WordDim: cfg.WordDim, Hidden1: cfg.HiddenDim1, Hidden2: cfg.HiddenDim2,
	}
	net, err := initNetwork(cfg, shape, rng)
	if err != nil {
		return nil, err
	}
	t, err := New(cfg, net, nce.Unigram(nz.Counts(vocab.Target)), train, val, rng)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, size)
	for i := range tokens {
		tokens[i] = nz.Token(vocab.Target, i)
	}
	t.SetVocabularies(&network.Vocabularies{Input: tokens, Output: tokens})
	return t, nil
}

// PrepareTune loads a trained joint model and its numberizer and splits the
// configured n-best triple into positive and negative instances.
func PrepareTune(cfg params.TrainingConfig) (*Tuner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := prepareDir(cfg); err != nil {
		return nil, err
	}
	rng := NewRand(cfg.Seed)

	nz, err := vocab.Load(cfg.VocabFile)
	if err != nil {
		return nil, err
	}
	pairs, err := IO.LoadParallel(nz, cfg.SourceFile, cfg.TargetFile, cfg.AlignFile)
	if err != nil {
		return nil, err
	}
	b := extract.NewBuilder(nz, cfg.SourceWindow, cfg.TargetContext)
	pos, neg, err := extract.TuningInstances(b, pairs, cfg.NBestSize, cfg.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, cfg.TargetFile)
	}
	net, err := initNetwork(cfg, jointShape(cfg, nz), rng)
	if err != nil {
		return nil, err
	}
	return NewTuner(cfg, net, nce.Unigram(nz.Counts(vocab.Target)), pos, neg, rng)
}
