package network

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// The text model format read by the decoder. Section order and header
// spelling are fixed.
const (
	secConfig     = `\config`
	secInputVocab = `\input_vocab`
	secOutVocab   = `\output_vocab`
	secEmbeddings = `\input_embeddings`
	secHiddenW1   = `\hidden_weights 1`
	secHiddenB1   = `\hidden_biases 1`
	secHiddenW2   = `\hidden_weights 2`
	secHiddenB2   = `\hidden_biases 2`
	secOutputW    = `\output_weights`
	secOutputB    = `\output_biases`
	secEnd        = `\end`

	// placeholder written for layer 2 when the model has one hidden layer
	placeholder = "0.5"
)

var ErrMissingSection = errors.New("model file missing section")

// Vocabularies are the optional token lists stored alongside the weights.
type Vocabularies struct {
	Input, Output []string
}

// WriteModel dumps n in the text model format. With a single hidden layer,
// M and Mb are written as layer 1 and layer 2 holds a placeholder.
func WriteModel(w io.Writer, n *Network, v *Vocabularies) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, secConfig)
	fmt.Fprintln(bw, "version 1")
	fmt.Fprintf(bw, "ngram_size %d\n", n.Width+1)
	fmt.Fprintf(bw, "input_vocab_size %d\n", n.InputVocab)
	fmt.Fprintf(bw, "output_vocab_size %d\n", n.OutputVocab)
	fmt.Fprintf(bw, "input_embedding_dimension %d\n", n.WordDim)
	fmt.Fprintf(bw, "num_hidden %d\n", n.Hidden1)
	fmt.Fprintf(bw, "output_embedding_dimension %d\n", n.Hidden2)
	fmt.Fprintf(bw, "activation_function rectifier\n\n")

	if v != nil {
		writeTokens(bw, secInputVocab, v.Input)
		writeTokens(bw, secOutVocab, v.Output)
	}

	writeMatrix(bw, secEmbeddings, n.D.T())
	if n.C != nil {
		writeMatrix(bw, secHiddenW1, n.C)
		writeMatrix(bw, secHiddenB1, n.Cb)
		writeMatrix(bw, secHiddenW2, n.M)
		writeMatrix(bw, secHiddenB2, n.Mb)
	} else {
		writeMatrix(bw, secHiddenW1, n.M)
		writeMatrix(bw, secHiddenB1, n.Mb)
		fmt.Fprintf(bw, "%s\n%s\n\n", secHiddenW2, placeholder)
		fmt.Fprintf(bw, "%s\n%s\n\n", secHiddenB2, placeholder)
	}
	writeMatrix(bw, secOutputW, n.E)
	writeMatrix(bw, secOutputB, n.Eb)
	fmt.Fprintln(bw, secEnd)
	return bw.Flush()
}

func writeTokens(w *bufio.Writer, header string, tokens []string) {
	fmt.Fprintln(w, header)
	for _, t := range tokens {
		fmt.Fprintln(w, t)
	}
	fmt.Fprintln(w)
}

// writeMatrix writes m as tab-separated rows with six decimals.
func writeMatrix(w *bufio.Writer, header string, m mat.Matrix) {
	fmt.Fprintln(w, header)
	r, c := m.Dims()
	buf := make([]byte, 0, 16*c)
	for i := 0; i < r; i++ {
		buf = buf[:0]
		for j := 0; j < c; j++ {
			if j > 0 {
				buf = append(buf, '\t')
			}
			buf = strconv.AppendFloat(buf, m.At(i, j), 'f', 6, 64)
		}
		buf = append(buf, '\n')
		w.Write(buf)
	}
	fmt.Fprintln(w)
}

// section is the raw body of one header: lines up to the next blank line.
type section struct {
	lines []string
	line  int // line number of the header
}

// ReadModel parses a model written by WriteModel (or by the decoder's own
// tools). Vocabularies is nil when the file has no vocabulary sections.
func ReadModel(r io.Reader) (*Network, *Vocabularies, error) {
	sections, err := splitSections(r)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range []string{secConfig, secEmbeddings, secHiddenW1, secHiddenB1,
		secHiddenW2, secHiddenB2, secOutputW, secOutputB, secEnd} {
		if _, ok := sections[name]; !ok {
			return nil, nil, errors.Wrapf(ErrMissingSection, "%s", name)
		}
	}

	s, err := parseConfig(sections[secConfig])
	if err != nil {
		return nil, nil, err
	}
	parse := func(name string) (*mat.Dense, error) { return parseMatrix(name, sections[name]) }
	var p Params
	var emb, w1, b1 *mat.Dense
	if emb, err = parse(secEmbeddings); err != nil {
		return nil, nil, err
	}
	p.D = mat.DenseCopyOf(emb.T())
	if w1, err = parse(secHiddenW1); err != nil {
		return nil, nil, err
	}
	if b1, err = parse(secHiddenB1); err != nil {
		return nil, nil, err
	}
	if s.Hidden1 > 0 {
		p.C, p.Cb = w1, b1
		if p.M, err = parse(secHiddenW2); err != nil {
			return nil, nil, err
		}
		if p.Mb, err = parse(secHiddenB2); err != nil {
			return nil, nil, err
		}
	} else {
		p.M, p.Mb = w1, b1
		glog.V(1).Infof("single hidden layer model; ignoring %s / %s", secHiddenW2, secHiddenB2)
	}
	if p.E, err = parse(secOutputW); err != nil {
		return nil, nil, err
	}
	if p.Eb, err = parse(secOutputB); err != nil {
		return nil, nil, err
	}

	n := fromParams(s, p)
	if err := n.Validate(); err != nil {
		return nil, nil, err
	}
	var v *Vocabularies
	in, okIn := sections[secInputVocab]
	out, okOut := sections[secOutVocab]
	if okIn || okOut {
		v = &Vocabularies{Input: in.lines, Output: out.lines}
	}
	return n, v, nil
}

func splitSections(r io.Reader) (map[string]section, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 256*1024*1024)
	sections := make(map[string]section)
	var cur string
	for ln := 1; sc.Scan(); ln++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			cur = ""
		case cur != "":
			s := sections[cur]
			s.lines = append(s.lines, line)
			sections[cur] = s
		case strings.HasPrefix(line, `\`):
			cur = line
			sections[cur] = section{line: ln}
			if cur == secEnd {
				return sections, nil
			}
		default:
			return nil, errors.Errorf("line %d: data outside any section", ln)
		}
	}
	return sections, errors.Wrap(sc.Err(), "read model")
}

func parseConfig(sec section) (Shape, error) {
	var s Shape
	fields := map[string]*int{
		"ngram_size":                 &s.Width,
		"input_vocab_size":           &s.InputVocab,
		"output_vocab_size":          &s.OutputVocab,
		"input_embedding_dimension":  &s.WordDim,
		"num_hidden":                 &s.Hidden1,
		"output_embedding_dimension": &s.Hidden2,
	}
	seen := make(map[string]bool)
	for i, line := range sec.lines {
		key, val, _ := strings.Cut(line, " ")
		dst, ok := fields[key]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return s, errors.Wrapf(err, "%s line %d: %s", secConfig, sec.line+i+1, key)
		}
		*dst = v
		seen[key] = true
	}
	for key := range fields {
		if !seen[key] {
			return s, errors.Wrapf(ErrMissingSection, "%s entry %s", secConfig, key)
		}
	}
	s.Width--
	return s, nil
}

func parseMatrix(name string, sec section) (*mat.Dense, error) {
	if len(sec.lines) == 0 {
		return nil, errors.Errorf("%s: empty section", name)
	}
	cols := len(strings.Fields(sec.lines[0]))
	data := make([]float64, 0, cols*len(sec.lines))
	for i, line := range sec.lines {
		f := strings.Fields(line)
		if len(f) != cols {
			return nil, errors.Errorf("%s line %d: %d values, want %d", name, sec.line+i+1, len(f), cols)
		}
		for _, tok := range f {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s line %d", name, sec.line+i+1)
			}
			data = append(data, v)
		}
	}
	return mat.NewDense(len(sec.lines), cols, data), nil
}

// SaveModel writes n to path.
func SaveModel(path string, n *Network, v *Vocabularies) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save model")
	}
	if err := WriteModel(f, n, v); err != nil {
		f.Close()
		return errors.Wrapf(err, "write model %s", path)
	}
	return f.Close()
}

// LoadModel reads a model from path.
func LoadModel(path string) (*Network, *Vocabularies, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load model")
	}
	defer f.Close()
	n, v, err := ReadModel(f)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "model %s", path)
	}
	return n, v, nil
}
