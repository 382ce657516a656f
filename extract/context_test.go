package extract

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/shuoyangd/neural-tuning/IO"
	"github.com/shuoyangd/neural-tuning/align"
	"github.com/shuoyangd/neural-tuning/vocab"
)

func toyNumberizer() *vocab.Numberizer {
	nz := vocab.New(0)
	nz.Build(vocab.Source, []string{"s1 s2 s3"})
	nz.Build(vocab.Target, []string{"t1 t2"})
	return nz
}

func toyPair(nz *vocab.Numberizer, alignment string) IO.SentencePair {
	a, err := align.Parse(alignment)
	if err != nil {
		panic(err)
	}
	return IO.SentencePair{
		Source: nz.Numberize(vocab.Source, "s1 s2 s3"),
		Target: nz.Numberize(vocab.Target, "t1 t2"),
		Align:  a,
	}
}

func TestContextPadding(t *testing.T) {
	nz := toyNumberizer()
	b := NewBuilder(nz, 2, 2)
	pair := toyPair(nz, "0-0 2-1")
	S := func(tok string) int { return nz.InputIndex(vocab.Source, nz.Id(vocab.Source, tok)) }
	T := func(tok string) int { return nz.Id(vocab.Target, tok) }

	t.Run("sentence start", func(t *testing.T) {
		ctx, y, err := b.Context(pair, 1)
		if err != nil {
			t.Fatal(err)
		}
		want := []int{S("<s>"), S("<s>"), S("s1"), S("s2"), S("s3"), T("<s>"), T("<s>")}
		if !reflect.DeepEqual(ctx, want) || y != T("t1") {
			t.Fatalf("context %v label %d, want %v label %d", ctx, y, want, T("t1"))
		}
	})
	t.Run("sentence end", func(t *testing.T) {
		// raw target 2 is the EOS slot: borrows the head of target 1 (source 2).
		ctx, y, err := b.Context(pair, 3)
		if err != nil {
			t.Fatal(err)
		}
		want := []int{S("s1"), S("s2"), S("s3"), S("</s>"), S("</s>"), T("t1"), T("t2")}
		if !reflect.DeepEqual(ctx, want) || y != T("</s>") {
			t.Fatalf("context %v label %d, want %v label %d", ctx, y, want, T("</s>"))
		}
	})
}

func TestContextWidth(t *testing.T) {
	nz := toyNumberizer()
	pair := toyPair(nz, "0-0 1-1")
	for sw := 0; sw <= 5; sw++ {
		for tc := 0; tc <= 5; tc++ {
			b := NewBuilder(nz, sw, tc)
			for pos := 1; pos < len(pair.Target); pos++ {
				ctx, _, err := b.Context(pair, pos)
				if err != nil {
					t.Fatal(err)
				}
				if len(ctx) != 2*sw+1+tc {
					t.Fatalf("sw=%d tc=%d pos=%d: width %d", sw, tc, pos, len(ctx))
				}
			}
		}
	}
}

func TestContextErrors(t *testing.T) {
	nz := toyNumberizer()
	b := NewBuilder(nz, 1, 1)
	pair := toyPair(nz, "")
	pair.Align = align.New([][2]int{{3, 0}})
	if _, _, err := b.Context(pair, 1); errors.Cause(err) != ErrHeadOutOfRange {
		t.Fatalf("want ErrHeadOutOfRange, got %v", err)
	}
	pair = toyPair(nz, "")
	if _, _, err := b.Context(pair, 1); errors.Cause(err) != align.ErrUnresolvable {
		t.Fatalf("want ErrUnresolvable, got %v", err)
	}
	if _, err := JointInstances(b, []IO.SentencePair{toyPair(nz, "0-0"), pair}); err == nil ||
		!strings.Contains(err.Error(), "sentence 2") {
		t.Fatalf("corpus error should name the sentence, got %v", err)
	}
}

func TestNgramInstances(t *testing.T) {
	sents := [][]int{{0, 5, 6, 1}, {0, 1}}
	inst := NgramInstances(sents, 3, 0)
	if inst.Len() != 4 || inst.Width != 2 {
		t.Fatalf("len %d width %d", inst.Len(), inst.Width)
	}
	wantCtx := [][]int{{0, 0}, {0, 5}, {5, 6}, {0, 0}}
	wantY := []int{5, 6, 1, 1}
	for i := range wantY {
		if !reflect.DeepEqual(inst.Context(i), wantCtx[i]) || inst.Labels[i] != wantY[i] {
			t.Errorf("instance %d = %v/%d, want %v/%d", i, inst.Context(i), inst.Labels[i], wantCtx[i], wantY[i])
		}
	}
}

func TestEndToEndInstanceCount(t *testing.T) {
	dir := t.TempDir()
	src := []string{"le chat noir", "il pleut", "je suis ici maintenant"}
	trg := []string{"the black cat", "it rains", "i am here now"}
	al := []string{"0-0 1-2 2-1", "0-0 1-1", "0-0 1-1 2-2 3-3"}
	write := func(name string, lines []string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	sp, tp, ap := write("src", src), write("trg", trg), write("align", al)

	nz := vocab.New(20)
	nz.Build(vocab.Source, src)
	nz.Build(vocab.Target, trg)
	pairs, err := IO.LoadParallel(nz, sp, tp, ap)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := JointInstances(NewBuilder(nz, 2, 2), pairs)
	if err != nil {
		t.Fatal(err)
	}
	want := 0
	for _, p := range pairs {
		want += len(p.Target) - 1
	}
	if want != 12 || inst.Len() != want {
		t.Fatalf("instances = %d, want %d (expected 12)", inst.Len(), want)
	}
	k := 0
	for s, p := range pairs {
		words := strings.Fields(trg[s])
		for pos := 1; pos < len(p.Target); pos++ {
			if inst.Labels[k] != p.Target[pos] {
				t.Fatalf("instance %d label %d, want %d", k, inst.Labels[k], p.Target[pos])
			}
			if pos <= len(words) && nz.Token(vocab.Target, inst.Labels[k]) != words[pos-1] {
				t.Fatalf("instance %d label %q, want %q", k, nz.Token(vocab.Target, inst.Labels[k]), words[pos-1])
			}
			k++
		}
	}
}

func TestShuffleKeepsLabelsWithContexts(t *testing.T) {
	inst := NewInstances(2)
	for i := 0; i < 50; i++ {
		inst.Append([]int{i, 10 * i}, i)
	}
	inst.Shuffle(rand.New(rand.NewPCG(3, 3)))
	moved := false
	for i := 0; i < inst.Len(); i++ {
		y := inst.Labels[i]
		if c := inst.Context(i); c[0] != y || c[1] != 10*y {
			t.Fatalf("instance %d: context %v detached from label %d", i, c, y)
		}
		if y != i {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("shuffle left every instance in place")
	}
	if inst.Batches(16) != 3 {
		t.Fatalf("Batches(16) = %d, trailing partial batch must be dropped", inst.Batches(16))
	}
}

func TestTuningInstances(t *testing.T) {
	nz := vocab.New(0)
	nz.Build(vocab.Source, []string{"a b c"})
	nz.Build(vocab.Target, []string{"x y z w"})
	mk := func(trg string) IO.SentencePair {
		a, _ := align.Parse("0-0")
		return IO.SentencePair{
			Source: nz.Numberize(vocab.Source, "a b c"),
			Target: nz.Numberize(vocab.Target, trg),
			Align:  a,
		}
	}
	// two groups of three hypotheses
	pairs := []IO.SentencePair{
		mk("x y z"), mk("x"), mk("w"),
		mk("x y"), mk("z"), mk("y w z x"),
	}
	b := NewBuilder(nz, 1, 2)
	pos, neg, err := TuningInstances(b, pairs, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	// positives: 4 + 3 = 7, negatives: 2 + 5 = 7, padded to 8
	if pos.Len() != 8 || neg.Len() != 8 {
		t.Fatalf("pos %d neg %d, want 8 each", pos.Len(), neg.Len())
	}
	dctx, dy := b.Dummy()
	if len(dctx) != b.Width() {
		t.Fatalf("dummy width %d, want %d", len(dctx), b.Width())
	}
	if !reflect.DeepEqual(pos.Context(7), dctx) || pos.Labels[7] != dy || neg.Labels[7] != dy {
		t.Fatalf("last instance should be the all-unk dummy")
	}
	if pos.Labels[0] != nz.Id(vocab.Target, "x") || neg.Labels[0] != nz.Id(vocab.Target, "w") {
		t.Fatalf("positive/negative split wrong: %d %d", pos.Labels[0], neg.Labels[0])
	}
}
