// Package vocab maps source and target tokens to dense integer ids with
// frequency-based truncation.
package vocab

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

type Side int

const (
	Source Side = iota
	Target
)

func (s Side) String() string {
	if s == Source {
		return "source"
	}
	return "target"
}

const (
	DefaultUnk = "<unk>"
	DefaultBOS = "<s>"
	DefaultEOS = "</s>"
)

const (
	snapshotMagic   = "nnjm-numberizer"
	snapshotVersion = 1
)

var ErrVersionMismatch = errors.New("numberizer snapshot version mismatch")

// table is one side's vocabulary. Index i of Tokens and Counts is token id i.
type table struct {
	tokens []string
	counts []int
	ids    map[string]int
}

func newTable(tokens []string, counts []int) *table {
	t := &table{tokens: tokens, counts: counts, ids: make(map[string]int, len(tokens))}
	for i, tok := range tokens {
		t.ids[tok] = i
	}
	return t
}

// Numberizer holds independent source and target tables. Limit caps the
// number of kept tokens per side (0 keeps all); <unk> is always appended.
type Numberizer struct {
	Limit         int
	Unk, BOS, EOS string
	sides         [2]*table
}

func New(limit int) *Numberizer {
	return &Numberizer{Limit: limit, Unk: DefaultUnk, BOS: DefaultBOS, EOS: DefaultEOS}
}

// Build counts the tokens of lines (plus one BOS and one EOS per line) and
// keeps the Limit most frequent, ties broken by token. The appended <unk>
// carries the count of everything truncated, floored at 1 so a unigram
// noise distribution over the table has full support.
func (nz *Numberizer) Build(side Side, lines []string) {
	counts := make(map[string]int)
	for _, line := range lines {
		counts[nz.BOS]++
		counts[nz.EOS]++
		for _, w := range strings.Fields(line) {
			counts[w]++
		}
	}
	delete(counts, nz.Unk)

	type wc struct {
		w string
		c int
	}
	sorted := make([]wc, 0, len(counts))
	for w, c := range counts {
		sorted = append(sorted, wc{w, c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].c != sorted[j].c {
			return sorted[i].c > sorted[j].c
		}
		return sorted[i].w < sorted[j].w
	})

	keep := len(sorted)
	if nz.Limit > 0 {
		if nz.Limit > len(sorted) {
			glog.Warningf("%v vocabulary size %d exceeds the %d distinct tokens; using %d",
				side, nz.Limit, len(sorted), len(sorted))
		} else {
			keep = nz.Limit
		}
	}

	tokens := make([]string, 0, keep+1)
	kept := make([]int, 0, keep+1)
	for _, e := range sorted[:keep] {
		tokens = append(tokens, e.w)
		kept = append(kept, e.c)
	}
	oov := 0
	for _, e := range sorted[keep:] {
		oov += e.c
	}
	tokens = append(tokens, nz.Unk)
	kept = append(kept, max(oov, 1))
	nz.sides[side] = newTable(tokens, kept)
	glog.Infof("%v vocabulary: %d types (%d truncated tokens mapped to %s)", side, len(tokens), oov, nz.Unk)
}

func (nz *Numberizer) table(side Side) *table {
	t := nz.sides[side]
	if t == nil {
		panic(fmt.Sprintf("numberizer: %v vocabulary not built", side))
	}
	return t
}

// Built reports whether side has a table.
func (nz *Numberizer) Built(side Side) bool { return nz.sides[side] != nil }

// Size is the number of ids on side, <unk> included.
func (nz *Numberizer) Size(side Side) int { return len(nz.table(side).tokens) }

// Counts returns the retained frequency of every id on side.
func (nz *Numberizer) Counts(side Side) []int { return nz.table(side).counts }

// Id looks up tok, mapping unknown tokens to <unk>.
func (nz *Numberizer) Id(side Side, tok string) int {
	t := nz.table(side)
	if i, ok := t.ids[tok]; ok {
		return i
	}
	return t.ids[nz.Unk]
}

func (nz *Numberizer) Token(side Side, id int) string { return nz.table(side).tokens[id] }

func (nz *Numberizer) UnkId(side Side) int { return nz.Id(side, nz.Unk) }
func (nz *Numberizer) BOSId(side Side) int { return nz.Id(side, nz.BOS) }
func (nz *Numberizer) EOSId(side Side) int { return nz.Id(side, nz.EOS) }

// Numberize converts a whitespace-tokenized line into BOS + ids + EOS.
func (nz *Numberizer) Numberize(side Side, line string) []int {
	words := strings.Fields(line)
	out := make([]int, 0, len(words)+2)
	out = append(out, nz.BOSId(side))
	for _, w := range words {
		out = append(out, nz.Id(side, w))
	}
	return append(out, nz.EOSId(side))
}

// InputIndex places a side-local id into the joint input embedding space:
// target ids first, then source ids offset by the target size.
func (nz *Numberizer) InputIndex(side Side, id int) int {
	if side == Target {
		return id
	}
	return nz.Size(Target) + id
}

// InputSize is the size of the joint input embedding space.
func (nz *Numberizer) InputSize() int {
	n := nz.Size(Target)
	if nz.Built(Source) {
		n += nz.Size(Source)
	}
	return n
}

type snapshot struct {
	Magic         string
	Version       int
	Limit         int
	Unk, BOS, EOS string
	Tokens        [2][]string
	Counts        [2][]int
}

// Save writes a gob snapshot of both tables to path.
func (nz *Numberizer) Save(path string) error {
	s := snapshot{
		Magic: snapshotMagic, Version: snapshotVersion, Limit: nz.Limit,
		Unk: nz.Unk, BOS: nz.BOS, EOS: nz.EOS,
	}
	for side, t := range nz.sides {
		if t != nil {
			s.Tokens[side], s.Counts[side] = t.tokens, t.counts
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save numberizer")
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode numberizer to %s", path)
	}
	return f.Close()
}

// Load reads a snapshot written by Save.
func Load(path string) (*Numberizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load numberizer")
	}
	defer f.Close()
	var s snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode numberizer %s", path)
	}
	if s.Magic != snapshotMagic || s.Version != snapshotVersion {
		return nil, errors.Wrapf(ErrVersionMismatch, "%s: got %q v%d, want %q v%d",
			path, s.Magic, s.Version, snapshotMagic, snapshotVersion)
	}
	nz := &Numberizer{Limit: s.Limit, Unk: s.Unk, BOS: s.BOS, EOS: s.EOS}
	for side := range s.Tokens {
		if len(s.Tokens[side]) == 0 {
			continue
		}
		if len(s.Counts[side]) != len(s.Tokens[side]) {
			return nil, errors.Errorf("%s: %v table has %d tokens but %d counts",
				path, Side(side), len(s.Tokens[side]), len(s.Counts[side]))
		}
		nz.sides[side] = newTable(s.Tokens[side], s.Counts[side])
	}
	return nz, nil
}

// WriteVocab dumps each built table to prefix.source / prefix.target,
// one token per line in id order.
func (nz *Numberizer) WriteVocab(prefix string) error {
	for _, side := range []Side{Source, Target} {
		if !nz.Built(side) {
			continue
		}
		path := prefix + "." + side.String()
		if err := writeTokens(path, nz.table(side).tokens); err != nil {
			return err
		}
	}
	return nil
}

func writeTokens(path string, tokens []string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "write vocabulary")
	}
	w := bufio.NewWriter(f)
	for _, tok := range tokens {
		fmt.Fprintln(w, tok)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write vocabulary %s", path)
	}
	return f.Close()
}
