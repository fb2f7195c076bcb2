package nonce

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	testLot = 42539
	testTID = 280382
)

func sequence(g *Generator, n int) []uint32 {
	var ret []uint32
	for i := 0; i < n; i++ {
		ret = append(ret, g.Current())
		g.Advance()
	}
	return ret
}

func TestSequence(t *testing.T) {
	want := []uint32{0xa009e760, 0xf654a4ab, 0x7e72afb9, 0xe9613ed3, 0x5572ba8d}
	got := sequence(New(testLot, testTID, 0), len(want))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("nonce sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestCurrentIsStable(t *testing.T) {
	g := New(testLot, testTID, 0x1234)
	if g.Current() != g.Current() {
		t.Errorf("Current() must not advance")
	}
}

func TestRestore(t *testing.T) {
	g := New(testLot, testTID, 0xbeef)
	sequence(g, 7)
	s := g.State()
	if s.Count != 7 || s.Seed != 0xbeef {
		t.Fatalf("State() = %+v", s)
	}
	r := Restore(s)
	if diff := cmp.Diff(sequence(g, 5), sequence(r, 5)); diff != "" {
		t.Errorf("restored sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestResync(t *testing.T) {
	const podSeed = 0x5a17
	pod := New(testLot, testTID, podSeed)

	// the controller lost track and stamps a stale nonce
	ctrl := New(testLot, testTID, 0)
	sequence(ctrl, 3)
	sent := ctrl.Current()
	const seq = 9

	word := SyncWord(testLot, testTID, podSeed, sent, seq)
	ctrl.Resync(word, sent, seq)
	if ctrl.State().Seed != podSeed || ctrl.State().Count != 0 {
		t.Fatalf("State() after resync = %+v", ctrl.State())
	}
	if diff := cmp.Diff(sequence(pod, 4), sequence(ctrl, 4)); diff != "" {
		t.Errorf("resynced sequence mismatch (-want +got):\n%s", diff)
	}

	// applying the same sync word twice lands on the same seed
	again := New(testLot, testTID, 0)
	again.Resync(word, sent, seq)
	again.Resync(word, sent, seq)
	if again.State().Seed != podSeed {
		t.Errorf("second resync seed = 0x%04x", again.State().Seed)
	}
}
