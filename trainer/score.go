package trainer

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/IO"
	"github.com/shuoyangd/neural-tuning/extract"
	"github.com/shuoyangd/neural-tuning/network"
)

// Score writes, per sentence pair, the sum of the model's log-scores of
// every target token (EOS included) given its joint context.
func Score(w io.Writer, net *network.Network, b *extract.Builder, pairs []IO.SentencePair) error {
	bw := bufio.NewWriter(w)
	for s, p := range pairs {
		inst, err := extract.JointInstances(b, []IO.SentencePair{p})
		if err != nil {
			return errors.Wrapf(err, "sentence %d", s+1)
		}
		score := 0.0
		if inst.Len() > 0 {
			score = -net.XEnt(inst.Contexts, inst.Labels)
		}
		fmt.Fprintf(bw, "%.6f\n", score)
	}
	return bw.Flush()
}
