// Package align resolves the source "head" position of each target word
// from a sparse many-to-many word alignment.
package align

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxSearch bounds the outward walk for unaligned target positions.
const MaxSearch = 100

var (
	ErrUnresolvable = errors.New("no aligned neighbour within search bound")
	ErrMalformed    = errors.New("malformed alignment token")
	ErrOutOfRange   = errors.New("alignment position out of range")
)

// Alignment maps a target position to the sorted source positions aligned to it.
// Positions are 0-based into the sentences before BOS/EOS are added.
type Alignment struct {
	links map[int][]int
	pairs [][2]int
}

// New builds an Alignment from (source, target) pairs.
func New(pairs [][2]int) Alignment {
	a := Alignment{links: make(map[int][]int, len(pairs))}
	for _, p := range pairs {
		a.Add(p[0], p[1])
	}
	return a
}

// Parse reads one line of "i-j" tokens (source i aligned to target j).
// An empty line is a sentence without alignments.
func Parse(line string) (Alignment, error) {
	a := Alignment{links: make(map[int][]int)}
	for _, tok := range strings.Fields(line) {
		s, t, ok := strings.Cut(tok, "-")
		if !ok {
			return Alignment{}, errors.Wrapf(ErrMalformed, "%q", tok)
		}
		si, err1 := strconv.Atoi(s)
		ti, err2 := strconv.Atoi(t)
		if err1 != nil || err2 != nil || si < 0 || ti < 0 {
			return Alignment{}, errors.Wrapf(ErrMalformed, "%q", tok)
		}
		a.Add(si, ti)
	}
	return a, nil
}

// Add records that source position src aligns to target position trg.
func (a *Alignment) Add(src, trg int) {
	if a.links == nil {
		a.links = make(map[int][]int)
	}
	srcs := a.links[trg]
	i := sort.SearchInts(srcs, src)
	if i < len(srcs) && srcs[i] == src {
		return
	}
	srcs = append(srcs, 0)
	copy(srcs[i+1:], srcs[i:])
	srcs[i] = src
	a.links[trg] = srcs
	a.pairs = append(a.pairs, [2]int{src, trg})
}

// Len is the number of distinct links.
func (a Alignment) Len() int { return len(a.pairs) }

// Sources returns the sorted source positions aligned to trg.
func (a Alignment) Sources(trg int) []int { return a.links[trg] }

// Validate rejects links pointing outside sentences of the given raw lengths.
func (a Alignment) Validate(srcLen, trgLen int) error {
	for _, p := range a.pairs {
		if p[0] >= srcLen || p[1] >= trgLen {
			return errors.Wrapf(ErrOutOfRange, "%d-%d with source length %d, target length %d",
				p[0], p[1], srcLen, trgLen)
		}
	}
	return nil
}

// Head returns the single source position standing for target position trg.
//
// One link resolves to itself; several resolve to the lower median
// (sorted[len/2]). An unaligned position borrows the head of the nearest
// aligned target neighbour, trying trg+d before trg-d for d = 1, 2, ...
func (a Alignment) Head(trg int) (int, error) {
	if srcs := a.links[trg]; len(srcs) > 0 {
		return srcs[len(srcs)/2], nil
	}
	for d := 1; d < MaxSearch; d++ {
		if srcs := a.links[trg+d]; len(srcs) > 0 {
			return srcs[len(srcs)/2], nil
		}
		if trg-d < 0 {
			continue
		}
		if srcs := a.links[trg-d]; len(srcs) > 0 {
			return srcs[len(srcs)/2], nil
		}
	}
	return 0, errors.Wrapf(ErrUnresolvable, "target position %d", trg)
}
