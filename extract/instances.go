package extract

import (
	"fmt"
	"math/rand/v2"
)

// Instances stores fixed-width contexts row-major with their gold labels.
type Instances struct {
	Width    int
	Contexts []int
	Labels   []int
}

func NewInstances(width int) *Instances { return &Instances{Width: width} }

func (in *Instances) Len() int { return len(in.Labels) }

func (in *Instances) Append(ctx []int, label int) {
	if len(ctx) != in.Width {
		panic(fmt.Sprintf("instances: context width %d, want %d", len(ctx), in.Width))
	}
	in.Contexts = append(in.Contexts, ctx...)
	in.Labels = append(in.Labels, label)
}

func (in *Instances) Context(i int) []int {
	return in.Contexts[i*in.Width : (i+1)*in.Width]
}

// Shuffle permutes instances in place, keeping labels with their contexts.
func (in *Instances) Shuffle(rng *rand.Rand) {
	w := in.Width
	rng.Shuffle(in.Len(), func(i, j int) {
		in.Labels[i], in.Labels[j] = in.Labels[j], in.Labels[i]
		for k := 0; k < w; k++ {
			in.Contexts[i*w+k], in.Contexts[j*w+k] = in.Contexts[j*w+k], in.Contexts[i*w+k]
		}
	})
}

// Batch returns a view of instances [start, start+size).
func (in *Instances) Batch(start, size int) *Instances {
	return &Instances{
		Width:    in.Width,
		Contexts: in.Contexts[start*in.Width : (start+size)*in.Width],
		Labels:   in.Labels[start : start+size],
	}
}

// Batches is the number of full batches; a trailing partial batch is dropped.
func (in *Instances) Batches(size int) int { return in.Len() / size }
