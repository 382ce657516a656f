package IO

import (
	"bufio"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/align"
	"github.com/shuoyangd/neural-tuning/vocab"
)

// SentencePair is one numberized training pair. Source and Target carry
// BOS/EOS; Align positions index the sentences without them.
type SentencePair struct {
	Source []int
	Target []int
	Align  align.Alignment
}

// ReadLines returns every line of path without trailing newlines.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read corpus")
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return lines, nil
}

// ParallelText holds the raw lines of a source/target/alignment triple.
type ParallelText struct {
	Source, Target, Align []string
	paths                 [3]string
}

// ReadParallel reads a triple and checks that the three files agree in length.
func ReadParallel(srcPath, trgPath, alignPath string) (*ParallelText, error) {
	paths := [3]string{srcPath, trgPath, alignPath}
	var text [3][]string
	for i, p := range paths {
		lines, err := ReadLines(p)
		if err != nil {
			return nil, err
		}
		text[i] = lines
	}
	if len(text[0]) != len(text[1]) || len(text[0]) != len(text[2]) {
		return nil, errors.Errorf("line count mismatch: %s has %d, %s has %d, %s has %d",
			srcPath, len(text[0]), trgPath, len(text[1]), alignPath, len(text[2]))
	}
	return &ParallelText{Source: text[0], Target: text[1], Align: text[2], paths: paths}, nil
}

// Numberize converts the triple into sentence pairs with nz, rejecting
// malformed or out-of-range alignments with file:line context.
func (p *ParallelText) Numberize(nz *vocab.Numberizer) ([]SentencePair, error) {
	pairs := make([]SentencePair, len(p.Source))
	for i := range p.Source {
		a, err := align.Parse(p.Align[i])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", p.paths[2], i+1)
		}
		src := nz.Numberize(vocab.Source, p.Source[i])
		trg := nz.Numberize(vocab.Target, p.Target[i])
		if err := a.Validate(len(src)-2, len(trg)-2); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", p.paths[2], i+1)
		}
		pairs[i] = SentencePair{Source: src, Target: trg, Align: a}
	}
	glog.Infof("numberized %d sentence pairs from %s", len(pairs), p.paths[1])
	return pairs, nil
}

// LoadParallel reads and numberizes a source/target/alignment triple.
func LoadParallel(nz *vocab.Numberizer, srcPath, trgPath, alignPath string) ([]SentencePair, error) {
	text, err := ReadParallel(srcPath, trgPath, alignPath)
	if err != nil {
		return nil, err
	}
	return text.Numberize(nz)
}

// LoadMonolingual numberizes a target-side corpus for the plain n-gram model.
func LoadMonolingual(nz *vocab.Numberizer, path string) ([][]int, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	sents := make([][]int, len(lines))
	for i, l := range lines {
		sents[i] = nz.Numberize(vocab.Target, l)
	}
	return sents, nil
}
