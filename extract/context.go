// Package extract turns numberized sentences into fixed-width
// (context, label) training instances.
package extract

import (
	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/IO"
	"github.com/shuoyangd/neural-tuning/vocab"
)

var ErrHeadOutOfRange = errors.New("aligned head beyond source sentence")

// Builder assembles joint contexts: a source window of SourceWindow tokens
// either side of the aligned head, followed by TargetContext target tokens.
// Context entries are joint input indices (see vocab.Numberizer.InputIndex);
// labels are target ids.
type Builder struct {
	SourceWindow  int
	TargetContext int
	nz            *vocab.Numberizer
}

func NewBuilder(nz *vocab.Numberizer, sourceWindow, targetContext int) *Builder {
	return &Builder{SourceWindow: sourceWindow, TargetContext: targetContext, nz: nz}
}

func (b *Builder) Width() int { return 2*b.SourceWindow + 1 + b.TargetContext }

// Context builds the instance predicting pair.Target[position]. position
// indexes the BOS/EOS-augmented target and runs from 1 to len(Target)-1.
func (b *Builder) Context(pair IO.SentencePair, position int) ([]int, int, error) {
	src, trg := pair.Source, pair.Target
	if position < 1 || position >= len(trg) {
		return nil, 0, errors.Errorf("target position %d outside 1..%d", position, len(trg)-1)
	}
	raw, err := pair.Align.Head(position - 1)
	if err != nil {
		return nil, 0, err
	}
	if raw >= len(src)-2 {
		return nil, 0, errors.Wrapf(ErrHeadOutOfRange, "target position %d resolved to source %d, source length %d",
			position-1, raw, len(src)-2)
	}
	head := raw + 1

	ctx := make([]int, 0, b.Width())
	srcIn := func(id int) int { return b.nz.InputIndex(vocab.Source, id) }
	bos, eos := b.nz.BOSId(vocab.Source), b.nz.EOSId(vocab.Source)
	for k := head - b.SourceWindow; k < head; k++ {
		if k < 0 {
			ctx = append(ctx, srcIn(bos))
		} else {
			ctx = append(ctx, srcIn(src[k]))
		}
	}
	ctx = append(ctx, srcIn(src[head]))
	for k := head + 1; k <= head+b.SourceWindow; k++ {
		if k >= len(src) {
			ctx = append(ctx, srcIn(eos))
		} else {
			ctx = append(ctx, srcIn(src[k]))
		}
	}
	ctx = append(ctx, history(trg, position, b.TargetContext, b.nz.BOSId(vocab.Target))...)
	return ctx, trg[position], nil
}

// Dummy is a full-width all-<unk> instance used to pad tuning lists.
func (b *Builder) Dummy() ([]int, int) {
	ctx := make([]int, 0, b.Width())
	su := b.nz.InputIndex(vocab.Source, b.nz.UnkId(vocab.Source))
	tu := b.nz.UnkId(vocab.Target)
	for i := 0; i < 2*b.SourceWindow+1; i++ {
		ctx = append(ctx, su)
	}
	for i := 0; i < b.TargetContext; i++ {
		ctx = append(ctx, tu)
	}
	return ctx, tu
}

// history returns the n tokens before position, left-padded with bos.
func history(sent []int, position, n, bos int) []int {
	out := make([]int, 0, n)
	for k := position - n; k < position; k++ {
		if k < 0 {
			out = append(out, bos)
		} else {
			out = append(out, sent[k])
		}
	}
	return out
}

// NgramContext returns the order-1 target tokens before position and the
// label at position. The last position of a sentence predicts EOS.
func NgramContext(sent []int, position, order, bos int) ([]int, int) {
	return history(sent, position, order-1, bos), sent[position]
}

// JointInstances extracts one instance per augmented target position of
// every pair.
func JointInstances(b *Builder, pairs []IO.SentencePair) (*Instances, error) {
	inst := NewInstances(b.Width())
	for s, p := range pairs {
		for pos := 1; pos < len(p.Target); pos++ {
			ctx, y, err := b.Context(p, pos)
			if err != nil {
				return nil, errors.Wrapf(err, "sentence %d", s+1)
			}
			inst.Append(ctx, y)
		}
	}
	return inst, nil
}

// NgramInstances slides an order-gram window over each augmented sentence.
func NgramInstances(sents [][]int, order, bos int) *Instances {
	inst := NewInstances(order - 1)
	for _, sent := range sents {
		for pos := 1; pos < len(sent); pos++ {
			ctx, y := NgramContext(sent, pos, order, bos)
			inst.Append(ctx, y)
		}
	}
	return inst
}

// TuningInstances splits an n-best list, grouped nbest hypotheses per source
// sentence, into positive instances (first hypothesis of each group) and
// negative instances (last hypothesis). Both lists are padded with Dummy
// instances to equal length and then to a multiple of batch.
func TuningInstances(b *Builder, pairs []IO.SentencePair, nbest, batch int) (pos, neg *Instances, err error) {
	pos, neg = NewInstances(b.Width()), NewInstances(b.Width())
	for n, p := range pairs {
		var dst *Instances
		switch n % nbest {
		case 0:
			dst = pos
		case nbest - 1:
			dst = neg
		default:
			continue
		}
		for i := 1; i < len(p.Target); i++ {
			ctx, y, err := b.Context(p, i)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "hypothesis %d", n+1)
			}
			dst.Append(ctx, y)
		}
	}
	dctx, dy := b.Dummy()
	for pos.Len() < neg.Len() {
		pos.Append(dctx, dy)
	}
	for neg.Len() < pos.Len() {
		neg.Append(dctx, dy)
	}
	for pos.Len()%batch != 0 {
		pos.Append(dctx, dy)
		neg.Append(dctx, dy)
	}
	return pos, neg, nil
}
