// Command nnjm trains and tunes neural joint models for machine translation.
package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"gopkg.in/urfave/cli.v1"

	"github.com/shuoyangd/neural-tuning/IO"
	"github.com/shuoyangd/neural-tuning/extract"
	"github.com/shuoyangd/neural-tuning/network"
	"github.com/shuoyangd/neural-tuning/params"
	"github.com/shuoyangd/neural-tuning/trainer"
	"github.com/shuoyangd/neural-tuning/vocab"
)

func main() {
	app := cli.NewApp()
	app.Name = "nnjm"
	app.Usage = "train, tune and score neural joint models with noise-contrastive estimation"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "verbosity", Usage: "glog verbosity `level` (1 logs every batch)"},
		cli.StringFlag{Name: "log_dir", Usage: "write glog files to `dir` instead of stderr"},
		cli.StringFlag{Name: "profile", Usage: "write a `cpu` or `mem` profile to the working directory"},
	}
	app.Before = setupLogging
	app.Commands = []cli.Command{
		{
			Name:   "train",
			Usage:  "Train a joint model from a source/target/alignment triple",
			Flags:  append(dataFlags(), modelFlags(params.DefaultJoint())...),
			Action: runJoint,
		},
		{
			Name:   "nplm",
			Usage:  "Train a plain target-side n-gram model",
			Flags:  append(dataFlags(), modelFlags(params.DefaultNgram())...),
			Action: runNgram,
		},
		{
			Name:   "tune",
			Usage:  "Tune a trained joint model on decoder n-best lists",
			Flags:  append(dataFlags(), modelFlags(params.DefaultTune())...),
			Action: runTune,
		},
		{
			Name:  "score",
			Usage: "Print the log-score of every sentence pair under a trained joint model",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model", Usage: "trained model `file`"},
				cli.StringFlag{Name: "vocab", Usage: "numberizer `file` written at training time"},
				cli.StringFlag{Name: "src", Usage: "source sentences `file`"},
				cli.StringFlag{Name: "trg", Usage: "target sentences `file`"},
				cli.StringFlag{Name: "align", Usage: "alignments `file`"},
				cli.IntFlag{Name: "sw", Value: params.DefaultJoint().SourceWindow, Usage: "source window on each side of the head"},
				cli.IntFlag{Name: "tc", Value: params.DefaultJoint().TargetContext, Usage: "target history length"},
			},
			Action: runScore,
		},
	}
	if err := app.Run(os.Args); err != nil {
		glog.Exitf("%v", err)
	}
	glog.Flush()
}

// setupLogging hands the global flags to glog, which registers on the
// standard flag set.
func setupLogging(c *cli.Context) error {
	flag.Set("logtostderr", strconv.FormatBool(c.GlobalString("log_dir") == ""))
	if dir := c.GlobalString("log_dir"); dir != "" {
		flag.Set("log_dir", dir)
	}
	flag.Set("v", strconv.Itoa(c.GlobalInt("verbosity")))
	return flag.CommandLine.Parse(nil)
}

func dataFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "src", Usage: "training source `file`"},
		cli.StringFlag{Name: "trg", Usage: "training target `file`"},
		cli.StringFlag{Name: "align", Usage: "training alignments `file`"},
		cli.StringFlag{Name: "val-src", Usage: "validation source `file`"},
		cli.StringFlag{Name: "val-trg", Usage: "validation target `file`"},
		cli.StringFlag{Name: "val-align", Usage: "validation alignments `file`"},
		cli.StringFlag{Name: "model", Usage: "initial model `file`"},
		cli.StringFlag{Name: "vocab", Usage: "numberizer `file` to reuse instead of building <working-dir>/numberizer.gob"},
		cli.StringFlag{Name: "working-dir", Value: ".", Usage: "`dir` for checkpoints, vocabularies and profiles"},
	}
}

func modelFlags(d params.TrainingConfig) []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{Name: "vocab-size", Value: d.VocabSize, Usage: "per-side vocabulary limit, plus <unk>"},
		cli.IntFlag{Name: "word-dim", Value: d.WordDim, Usage: "embedding size"},
		cli.IntFlag{Name: "hidden1", Value: d.HiddenDim1, Usage: "first hidden layer size, 0 for a single hidden layer"},
		cli.IntFlag{Name: "hidden2", Value: d.HiddenDim2, Usage: "second hidden layer size"},
		cli.IntFlag{Name: "noise", Value: d.NoiseSampleSize, Usage: "noise samples per batch"},
		cli.IntFlag{Name: "sw", Value: d.SourceWindow, Usage: "source window on each side of the head"},
		cli.IntFlag{Name: "tc", Value: d.TargetContext, Usage: "target history length"},
		cli.IntFlag{Name: "ngram", Value: d.NGram, Usage: "n-gram order of the plain model"},
		cli.StringFlag{Name: "optimizer", Value: d.Optimizer, Usage: "sgd or adadelta"},
		cli.Float64Flag{Name: "lr", Value: d.LearningRate, Usage: "sgd learning rate"},
		cli.Float64Flag{Name: "rho", Value: d.DecayRate, Usage: "adadelta decay rate"},
		cli.Float64Flag{Name: "eps", Value: d.Epsilon, Usage: "adadelta epsilon"},
		cli.IntFlag{Name: "batch", Value: d.BatchSize, Usage: "mini-batch size"},
		cli.IntFlag{Name: "epochs", Value: d.MaxEpoch, Usage: "training epochs"},
		cli.IntFlag{Name: "save-interval", Value: d.SaveInterval, Usage: "checkpoint every `n` epochs"},
		cli.IntFlag{Name: "gradient-check", Usage: "compare gradients with finite differences every `n` batches"},
		cli.IntFlag{Name: "nbest", Value: d.NBestSize, Usage: "hypotheses per source sentence in the tuning n-best list"},
		cli.Uint64Flag{Name: "seed", Value: d.Seed, Usage: "random seed"},
	}
}

func configFrom(c *cli.Context, cfg params.TrainingConfig) params.TrainingConfig {
	cfg.SourceFile, cfg.TargetFile, cfg.AlignFile = c.String("src"), c.String("trg"), c.String("align")
	cfg.ValSourceFile, cfg.ValTargetFile, cfg.ValAlignFile = c.String("val-src"), c.String("val-trg"), c.String("val-align")
	cfg.ModelFile, cfg.VocabFile, cfg.WorkingDir = c.String("model"), c.String("vocab"), c.String("working-dir")

	cfg.VocabSize = c.Int("vocab-size")
	cfg.WordDim, cfg.HiddenDim1, cfg.HiddenDim2 = c.Int("word-dim"), c.Int("hidden1"), c.Int("hidden2")
	cfg.NoiseSampleSize = c.Int("noise")
	cfg.SourceWindow, cfg.TargetContext, cfg.NGram = c.Int("sw"), c.Int("tc"), c.Int("ngram")
	cfg.Optimizer = c.String("optimizer")
	cfg.LearningRate, cfg.DecayRate, cfg.Epsilon = c.Float64("lr"), c.Float64("rho"), c.Float64("eps")
	cfg.BatchSize, cfg.MaxEpoch, cfg.SaveInterval = c.Int("batch"), c.Int("epochs"), c.Int("save-interval")
	cfg.GradientCheck, cfg.NBestSize = c.Int("gradient-check"), c.Int("nbest")
	cfg.Seed = c.Uint64("seed")
	return cfg
}

// startProfile returns the stopper of the profile selected by --profile.
func startProfile(c *cli.Context, dir string) (interface{ Stop() }, error) {
	switch mode := c.GlobalString("profile"); mode {
	case "":
		return noProfile{}, nil
	case "cpu":
		return profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.NoShutdownHook), nil
	case "mem":
		return profile.Start(profile.MemProfile, profile.ProfilePath(dir), profile.NoShutdownHook), nil
	default:
		return nil, errors.Errorf("unknown profile %q, want cpu or mem", mode)
	}
}

type noProfile struct{}

func (noProfile) Stop() {}

type runner interface{ Run() error }

func train(c *cli.Context, cfg params.TrainingConfig, prepare func(params.TrainingConfig) (runner, error)) error {
	cfg = configFrom(c, cfg)
	p, err := startProfile(c, cfg.WorkingDir)
	if err != nil {
		return err
	}
	defer p.Stop()
	r, err := prepare(cfg)
	if err != nil {
		return err
	}
	return r.Run()
}

func runJoint(c *cli.Context) error {
	return train(c, params.DefaultJoint(), func(cfg params.TrainingConfig) (runner, error) {
		return trainer.PrepareJoint(cfg)
	})
}

func runNgram(c *cli.Context) error {
	return train(c, params.DefaultNgram(), func(cfg params.TrainingConfig) (runner, error) {
		return trainer.PrepareNgram(cfg)
	})
}

func runTune(c *cli.Context) error {
	return train(c, params.DefaultTune(), func(cfg params.TrainingConfig) (runner, error) {
		return trainer.PrepareTune(cfg)
	})
}

func runScore(c *cli.Context) error {
	for _, name := range []string{"model", "vocab", "src", "trg", "align"} {
		if c.String(name) == "" {
			return errors.Errorf("score: --%s is required", name)
		}
	}
	nz, err := vocab.Load(c.String("vocab"))
	if err != nil {
		return err
	}
	net, _, err := network.LoadModel(c.String("model"))
	if err != nil {
		return err
	}
	b := extract.NewBuilder(nz, c.Int("sw"), c.Int("tc"))
	if b.Width() != net.Width {
		return errors.Wrapf(network.ErrShape, "--sw %d --tc %d give width %d, model has %d",
			b.SourceWindow, b.TargetContext, b.Width(), net.Width)
	}
	pairs, err := IO.LoadParallel(nz, c.String("src"), c.String("trg"), c.String("align"))
	if err != nil {
		return err
	}
	return trainer.Score(os.Stdout, net, b, pairs)
}
