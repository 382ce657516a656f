package params

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// ErrConfig marks configuration problems that must stop a run before training.
var ErrConfig = errors.New("invalid configuration")

// Mode selects which model and objective a run trains.
type Mode int

const (
	// Joint is the source-conditioned model: source window + target history.
	Joint Mode = iota
	// Ngram is the plain target-only n-gram model.
	Ngram
	// Tune is the pairwise positive/negative n-best objective over a joint model.
	Tune
)

func (m Mode) String() string {
	switch m {
	case Joint:
		return "joint"
	case Ngram:
		return "ngram"
	case Tune:
		return "tune"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Optimizer names accepted by TrainingConfig.Optimizer.
const (
	SGD      = "sgd"
	Adadelta = "adadelta"
)

type TrainingConfig struct {
	Mode Mode

	// Network shape
	VocabSize       int // cap per side; 0 keeps every token
	WordDim         int // embedding width
	HiddenDim1      int // 0 drops the first hidden layer
	HiddenDim2      int
	NoiseSampleSize int // k

	// Context shape
	SourceWindow  int // one-sided source window (sw_size)
	TargetContext int // target history (tc_size)
	NGram         int // plain model order

	// Optimization
	Optimizer    string
	LearningRate float64
	DecayRate    float64 // adadelta rho
	Epsilon      float64 // adadelta epsilon
	BatchSize    int
	MaxEpoch     int
	SaveInterval int
	Seed         uint64

	GradientCheck int // check gradients every N batches (0 = never)
	NBestSize     int // hypotheses per source sentence in tune mode

	// Files
	SourceFile, TargetFile, AlignFile          string
	ValSourceFile, ValTargetFile, ValAlignFile string
	ModelFile                                  string // initial model
	VocabFile                                  string // persisted numberizer
	WorkingDir                                 string
}

// DefaultJoint mirrors the defaults of the joint model trainer.
func DefaultJoint() TrainingConfig {
	return TrainingConfig{
		Mode:            Joint,
		VocabSize:       16000,
		WordDim:         150,
		HiddenDim1:      0,
		HiddenDim2:      750,
		NoiseSampleSize: 100,
		SourceWindow:    4,
		TargetContext:   4,
		Optimizer:       SGD,
		LearningRate:    0.001,
		DecayRate:       0.95,
		Epsilon:         1e-6,
		BatchSize:       1000,
		MaxEpoch:        5,
		SaveInterval:    1,
		Seed:            1,
		NBestSize:       200,
	}
}

// DefaultNgram mirrors the defaults of the plain n-gram trainer (adadelta).
func DefaultNgram() TrainingConfig {
	c := DefaultJoint()
	c.Mode = Ngram
	c.VocabSize = 500000
	c.HiddenDim1 = 150
	c.NGram = 5
	c.Optimizer = Adadelta
	return c
}

// DefaultTune mirrors the defaults of the n-best tuning trainer.
func DefaultTune() TrainingConfig {
	c := DefaultJoint()
	c.Mode = Tune
	c.HiddenDim1 = 512
	c.HiddenDim2 = 512
	c.TargetContext = 5
	c.BatchSize = 128
	return c
}

// ContextWidth is the number of input positions of one instance.
func (c TrainingConfig) ContextWidth() int {
	if c.Mode == Ngram {
		return c.NGram - 1
	}
	return 2*c.SourceWindow + 1 + c.TargetContext
}

// HasValidation reports whether a full validation triple was supplied.
func (c TrainingConfig) HasValidation() bool {
	if c.Mode == Ngram {
		return c.ValTargetFile != ""
	}
	return c.ValSourceFile != "" && c.ValTargetFile != "" && c.ValAlignFile != ""
}

// IgnoredValidationFiles lists the configured validation files a run will
// not read: the plain n-gram model uses only the target side.
func (c TrainingConfig) IgnoredValidationFiles() []string {
	if c.Mode != Ngram {
		return nil
	}
	var out []string
	for _, f := range []string{c.ValSourceFile, c.ValAlignFile} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate reports configuration errors; it never adjusts values.
func (c TrainingConfig) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrConfig, format, args...)
	}
	if c.WordDim <= 0 || c.HiddenDim2 <= 0 || c.HiddenDim1 < 0 {
		return bad("dimensions must be positive (word %d, hidden1 %d, hidden2 %d)", c.WordDim, c.HiddenDim1, c.HiddenDim2)
	}
	if c.VocabSize < 0 {
		return bad("vocabulary size %d is negative", c.VocabSize)
	}
	if c.NoiseSampleSize <= 0 {
		return bad("noise sample size must be positive, got %d", c.NoiseSampleSize)
	}
	if c.BatchSize <= 0 {
		return bad("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxEpoch < 0 || c.SaveInterval <= 0 {
		return bad("max epoch %d / save interval %d out of range", c.MaxEpoch, c.SaveInterval)
	}
	switch c.Optimizer {
	case SGD:
		if c.LearningRate <= 0 {
			return bad("learning rate must be positive, got %g", c.LearningRate)
		}
	case Adadelta:
		if c.DecayRate <= 0 || c.DecayRate >= 1 || c.Epsilon <= 0 {
			return bad("adadelta needs 0 < decay rate < 1 and epsilon > 0 (got %g, %g)", c.DecayRate, c.Epsilon)
		}
	default:
		return bad("unknown optimizer %q", c.Optimizer)
	}
	switch c.Mode {
	case Ngram:
		if c.NGram < 2 {
			return bad("n-gram order must be at least 2, got %d", c.NGram)
		}
		if ignored := c.IgnoredValidationFiles(); len(ignored) > 0 {
			glog.Warningf("plain n-gram model validates on the target side only; ignoring %v", ignored)
		}
	case Joint, Tune:
		if c.SourceWindow < 0 || c.TargetContext < 0 {
			return bad("source window %d / target context %d must not be negative", c.SourceWindow, c.TargetContext)
		}
		n := 0
		for _, f := range []string{c.ValSourceFile, c.ValTargetFile, c.ValAlignFile} {
			if f != "" {
				n++
			}
		}
		if n != 0 && n != 3 {
			return bad("supply all three validation files (source, target, alignment) to trigger validation")
		}
	default:
		return bad("unknown mode %v", c.Mode)
	}
	if c.Mode == Tune {
		if c.ModelFile == "" || c.VocabFile == "" {
			return bad("tuning needs an initial model and a numberizer file")
		}
		if c.NBestSize < 2 {
			return bad("n-best size must be at least 2, got %d", c.NBestSize)
		}
	}
	return nil
}
