package network

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/shuoyangd/neural-tuning/nce"
	"github.com/shuoyangd/neural-tuning/optimizations"
)

func toyShape(hidden1 int) Shape {
	return Shape{Width: 3, InputVocab: 9, OutputVocab: 7, WordDim: 4, Hidden1: hidden1, Hidden2: 5}
}

// toyBatch: 4 instances of width 3, with a repeated context token.
func toyBatch() (ctx, gold, noise []int) {
	ctx = []int{
		0, 1, 2,
		3, 3, 4,
		8, 1, 0,
		5, 6, 7,
	}
	return ctx, []int{1, 4, 6, 1}, []int{2, 4, 0, 2}
}

// finiteDiffCheck compares one analytic gradient entry with a central difference.
func finiteDiffCheck(t *testing.T, name string, param *mat.Dense, grad func(i, j int) float64,
	forward func() float64, i, j int) {
	t.Helper()
	eps := 1e-5
	w0 := param.At(i, j)
	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad(i, j)
	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g", name, i, j, numGrad, anaGrad)
	}
}

func TestInitialisation(t *testing.T) {
	n := New(toyShape(0), rand.NewPCG(1, 1))
	if err := n.Validate(); err != nil {
		t.Fatal(err)
	}
	if n.C != nil || n.Cb != nil {
		t.Fatalf("single hidden layer variant must not allocate C")
	}
	if got, want := n.Eb.At(3, 0), -math.Log(7); got != want {
		t.Fatalf("output bias %g, want %g", got, want)
	}
	if mat.Sum(n.Mb) != 0 {
		t.Fatalf("hidden bias should start at zero")
	}
	r, c := n.D.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.Abs(n.D.At(i, j)) > InitScale {
				t.Fatalf("D[%d,%d] = %g outside init range", i, j, n.D.At(i, j))
			}
		}
	}
	d := New(toyShape(6), rand.NewPCG(1, 1))
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	if cr, cc := d.C.Dims(); cr != 6 || cc != 12 {
		t.Fatalf("C is %dx%d", cr, cc)
	}
}

func TestForwardShapes(t *testing.T) {
	n := New(toyShape(6), rand.NewPCG(2, 2))
	ctx, gold, _ := toyBatch()
	S := n.LogScores(ctx)
	if r, c := S.Dims(); r != 7 || c != 4 {
		t.Fatalf("scores %dx%d", r, c)
	}
	O := n.Scores(ctx)
	if math.Abs(O.At(2, 1)-math.Exp(S.At(2, 1))) > 1e-12 {
		t.Fatalf("Scores must be exp(LogScores)")
	}
	if p := n.Predict(ctx); len(p) != 4 {
		t.Fatalf("Predict returned %d ids", len(p))
	}
	want := 0.0
	for b, y := range gold {
		want -= S.At(y, b)
	}
	if got := n.XEnt(ctx, gold); math.Abs(got-want) > 1e-12 {
		t.Fatalf("XEnt = %g, want %g", got, want)
	}
	X := n.Embed(ctx)
	if X.At(4+2, 1) != n.D.At(2, 3) {
		t.Fatalf("embedding of position 1 in instance 1 should be column 3 of D")
	}
}

func TestLossMatchesFullScores(t *testing.T) {
	n := New(toyShape(0), rand.NewPCG(3, 3))
	ctx, gold, noise := toyBatch()
	l := nce.New(nce.Uniform(7), len(noise))
	full := l.Evaluate(n.LogScores(ctx), gold, noise)
	if got := n.Loss(ctx, gold, noise, l); math.Abs(got-full) > 1e-9 {
		t.Fatalf("row-gathered loss %g, full-vocabulary loss %g", got, full)
	}
	if g := n.Gradients(ctx, gold, noise, l); math.Abs(g.Loss-full) > 1e-9 {
		t.Fatalf("Gradients loss %g, want %g", g.Loss, full)
	}
}

func TestGradCheck(t *testing.T) {
	for _, h1 := range []int{0, 6} {
		n := New(toyShape(h1), rand.NewPCG(4, 4))
		// push hidden units into the active region
		n.Mb.Apply(func(i, j int, v float64) float64 { return 0.1 }, n.Mb)
		if n.Cb != nil {
			n.Cb.Apply(func(i, j int, v float64) float64 { return 0.1 }, n.Cb)
		}
		ctx, gold, noise := toyBatch()
		l := nce.New(nce.Unigram([]int{3, 1, 4, 1, 5, 9, 2}), len(noise))
		g := n.Gradients(ctx, gold, noise, l)
		forward := func() float64 { return n.Loss(ctx, gold, noise, l) }

		finiteDiffCheck(t, "D", n.D, g.D.At, forward, 1, 3)
		finiteDiffCheck(t, "D", n.D, g.D.At, forward, 0, 1)
		finiteDiffCheck(t, "M", n.M, g.M.At, forward, 2, 1)
		finiteDiffCheck(t, "Mb", n.Mb, g.Mb.At, forward, 4, 0)
		finiteDiffCheck(t, "E", n.E, g.E.At, forward, 4, 2)
		finiteDiffCheck(t, "E", n.E, g.E.At, forward, 2, 0)
		finiteDiffCheck(t, "Eb", n.Eb, g.Eb.At, forward, 1, 0)
		if h1 > 0 {
			finiteDiffCheck(t, "C", n.C, g.C.At, forward, 3, 7)
			finiteDiffCheck(t, "Cb", n.Cb, g.Cb.At, forward, 5, 0)
		}
		for _, c := range n.CheckGradient(ctx, gold, noise, l, 5, rand.New(rand.NewPCG(9, 9))) {
			if c.MaxError > 1e-4 {
				t.Errorf("hidden1=%d %s: finite-difference error %g", h1, c.Name, c.MaxError)
			}
		}
	}
}

func TestTrainingStepReducesLoss(t *testing.T) {
	n := New(toyShape(6), rand.NewPCG(5, 5))
	ctx, gold, noise := toyBatch()
	l := nce.New(nce.Uniform(7), len(noise))
	opt := &optimizations.SGD{LearningRate: 0.1}
	before := n.Loss(ctx, gold, noise, l)
	for i := 0; i < 20; i++ {
		n.Apply(opt, n.Gradients(ctx, gold, noise, l))
	}
	if after := n.Loss(ctx, gold, noise, l); after >= before {
		t.Fatalf("loss did not decrease: %g -> %g", before, after)
	}
}

func TestModelRoundTrip(t *testing.T) {
	for _, h1 := range []int{0, 6} {
		n := New(toyShape(h1), rand.NewPCG(6, 6))
		var buf bytes.Buffer
		if err := WriteModel(&buf, n, nil); err != nil {
			t.Fatal(err)
		}
		back, v, err := ReadModel(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("hidden1=%d: %v", h1, err)
		}
		if v != nil {
			t.Fatalf("no vocabulary was written")
		}
		if back.Shape != n.Shape {
			t.Fatalf("shape %+v, want %+v", back.Shape, n.Shape)
		}
		pairs := []struct {
			name string
			a, b *mat.Dense
		}{{"D", n.D, back.D}, {"M", n.M, back.M}, {"Mb", n.Mb, back.Mb}, {"E", n.E, back.E}, {"Eb", n.Eb, back.Eb}}
		if h1 > 0 {
			pairs = append(pairs, struct {
				name string
				a, b *mat.Dense
			}{"C", n.C, back.C}, struct {
				name string
				a, b *mat.Dense
			}{"Cb", n.Cb, back.Cb})
		}
		for _, p := range pairs {
			if !mat.EqualApprox(p.a, p.b, 1e-6) {
				t.Errorf("hidden1=%d: %s differs after reload", h1, p.name)
			}
		}
	}
}

func TestModelPlaceholderAndVocab(t *testing.T) {
	n := New(toyShape(0), rand.NewPCG(7, 7))
	var buf bytes.Buffer
	v := &Vocabularies{Input: strings.Fields("a b c d e f g h i"), Output: strings.Fields("a b c d e f g")}
	if err := WriteModel(&buf, n, v); err != nil {
		t.Fatal(err)
	}
	text := buf.String()
	for _, want := range []string{"\\hidden_weights 2\n0.5\n\n", "\\hidden_biases 2\n0.5\n\n", "num_hidden 0\n", "ngram_size 4\n"} {
		if !strings.Contains(text, want) {
			t.Fatalf("model text lacks %q", want)
		}
	}
	order := []string{secConfig, secInputVocab, secOutVocab, secEmbeddings, secHiddenW1, secHiddenB1,
		secHiddenW2, secHiddenB2, secOutputW, secOutputB, secEnd}
	last := -1
	for _, h := range order {
		i := strings.Index(text, h+"\n")
		if i <= last {
			t.Fatalf("section %s out of order", h)
		}
		last = i
	}
	back, bv, err := ReadModel(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(back.M, n.M, 1e-6) {
		t.Fatalf("layer 1 section should carry M")
	}
	if bv == nil || len(bv.Input) != 9 || bv.Output[6] != "g" {
		t.Fatalf("vocabulary = %+v", bv)
	}
}

func TestReadModelRejects(t *testing.T) {
	n := New(toyShape(6), rand.NewPCG(8, 8))
	var buf bytes.Buffer
	if err := WriteModel(&buf, n, nil); err != nil {
		t.Fatal(err)
	}
	text := buf.String()

	i := strings.Index(text, secOutputB)
	j := strings.Index(text, secEnd)
	missing := text[:i] + text[j:]
	_, _, err := ReadModel(strings.NewReader(missing))
	if errors.Cause(err) != ErrMissingSection || !strings.Contains(err.Error(), "output_biases") {
		t.Fatalf("want ErrMissingSection naming output_biases, got %v", err)
	}

	truncated := text[:strings.Index(text, secEnd)]
	if _, _, err := ReadModel(strings.NewReader(truncated)); errors.Cause(err) != ErrMissingSection {
		t.Fatalf("missing \\end: got %v", err)
	}

	wrong := strings.Replace(text, "input_vocab_size 9", "input_vocab_size 10", 1)
	if _, _, err := ReadModel(strings.NewReader(wrong)); errors.Cause(err) != ErrShape {
		t.Fatalf("want ErrShape, got %v", err)
	}
}
