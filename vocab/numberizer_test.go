package vocab

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

var corpus = []string{
	"a b a c",
	"a b d",
	"e a",
}

func TestBuildTruncatesByCount(t *testing.T) {
	nz := New(3)
	nz.Build(Target, corpus)
	// counts: a=4, <s>=3, </s>=3, b=2, c=1, d=1, e=1
	want := []string{"a", "</s>", "<s>", DefaultUnk}
	for i, w := range want {
		if got := nz.Token(Target, i); got != w {
			t.Errorf("token %d = %q, want %q", i, got, w)
		}
	}
	if got := nz.Counts(Target); !reflect.DeepEqual(got, []int{4, 3, 3, 5}) {
		t.Errorf("counts = %v, want [4 3 3 5]", got)
	}
	if nz.Id(Target, "zzz") != nz.UnkId(Target) || nz.Id(Target, "b") != nz.UnkId(Target) {
		t.Errorf("truncated and unseen tokens must map to <unk>")
	}
}

func TestBuildClampsAndFloorsUnk(t *testing.T) {
	nz := New(100)
	nz.Build(Source, corpus)
	if got := nz.Size(Source); got != 8 {
		t.Fatalf("size = %d, want 7 types + <unk>", got)
	}
	counts := nz.Counts(Source)
	if counts[nz.UnkId(Source)] != 1 {
		t.Fatalf("<unk> count = %d, want floor of 1", counts[nz.UnkId(Source)])
	}
}

func TestNumberizeAndInputIndex(t *testing.T) {
	nz := New(0)
	nz.Build(Source, corpus)
	nz.Build(Target, []string{"x y", "y"})
	got := nz.Numberize(Target, "y q x")
	want := []int{nz.BOSId(Target), nz.Id(Target, "y"), nz.UnkId(Target), nz.Id(Target, "x"), nz.EOSId(Target)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Numberize = %v, want %v", got, want)
	}
	if nz.InputIndex(Target, 2) != 2 {
		t.Errorf("target ids map to themselves")
	}
	if got := nz.InputIndex(Source, 0); got != nz.Size(Target) {
		t.Errorf("source id 0 -> %d, want %d", got, nz.Size(Target))
	}
	if got := nz.InputSize(); got != nz.Size(Target)+nz.Size(Source) {
		t.Errorf("InputSize = %d", got)
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	nz := New(4)
	nz.Build(Source, corpus)
	nz.Build(Target, corpus[:2])
	path := filepath.Join(dir, "nz.gob")
	if err := nz.Save(path); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, side := range []Side{Source, Target} {
		if back.Size(side) != nz.Size(side) || !reflect.DeepEqual(back.Counts(side), nz.Counts(side)) {
			t.Fatalf("%v table differs after reload", side)
		}
		line := "a c e b"
		if !reflect.DeepEqual(back.Numberize(side, line), nz.Numberize(side, line)) {
			t.Fatalf("%v numberization differs after reload", side)
		}
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.gob")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := gob.NewEncoder(f).Encode(&snapshot{Magic: snapshotMagic, Version: snapshotVersion + 1}); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := Load(path); errors.Cause(err) != ErrVersionMismatch {
		t.Fatalf("want ErrVersionMismatch, got %v", err)
	}
}

func TestWriteVocab(t *testing.T) {
	dir := t.TempDir()
	nz := New(0)
	nz.Build(Source, corpus)
	nz.Build(Target, []string{"x"})
	prefix := filepath.Join(dir, "vocab")
	if err := nz.WriteVocab(prefix); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(prefix + ".target")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Fields(string(data))
	if len(lines) != nz.Size(Target) || lines[len(lines)-1] != DefaultUnk {
		t.Fatalf("target vocab file = %q", data)
	}
	if _, err := os.Stat(prefix + ".source"); err != nil {
		t.Fatal(err)
	}
}
