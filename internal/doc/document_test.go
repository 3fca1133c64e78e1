package doc

import (
	"testing"

	"github.com/weftsync/weft/internal/core"
)

func TestSetAndGetRoundTrip(t *testing.T) {
	d := New(core.NewRepoID())
	d.Set("title", []byte("hello"))

	got, ok := d.Get("title")
	if !ok {
		t.Fatal("expected title to be present")
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDeleteTombstonesKey(t *testing.T) {
	d := New(core.NewRepoID())
	d.Set("title", []byte("hello"))
	d.Delete("title")

	if _, ok := d.Get("title"); ok {
		t.Fatal("expected deleted key to be absent")
	}
	if len(d.Keys()) != 0 {
		t.Fatalf("expected no visible keys, got %v", d.Keys())
	}
}

func TestMergeIsLastWriterWins(t *testing.T) {
	a := New(core.NewRepoID())
	a.Set("title", []byte("from-a"))

	b := New(core.NewRepoID())
	b.Set("title", []byte("from-b"))

	// Force b's write to be causally later.
	b.Set("title", []byte("from-b-later"))

	a.Merge(b)

	got, ok := a.Get("title")
	if !ok || string(got) != "from-b-later" {
		t.Fatalf("expected merge to keep the later write, got %q, ok=%v", got, ok)
	}
}

// TestMergeBreaksSameTimeTiesByOrigin covers the case two replicas tick
// to the same Lamport time independently (e.g. both start fresh and
// write once): the merge outcome must be decided by origin, not by
// comparing the written bytes, and must agree regardless of merge
// direction.
func TestMergeBreaksSameTimeTiesByOrigin(t *testing.T) {
	lo, err := core.RepoIDFromString("11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("RepoIDFromString(lo): %v", err)
	}
	hi, err := core.RepoIDFromString("22222222-2222-2222-2222-222222222222")
	if err != nil {
		t.Fatalf("RepoIDFromString(hi): %v", err)
	}

	a := New(lo)
	a.Set("title", []byte("zzzz")) // lexicographically larger value...
	b := New(hi)
	b.Set("title", []byte("aaaa")) // ...but written by the higher origin

	left := a.Clone()
	left.Merge(b)
	right := b.Clone()
	right.Merge(a)

	gotLeft, _ := left.Get("title")
	gotRight, _ := right.Get("title")
	if string(gotLeft) != "aaaa" || string(gotRight) != "aaaa" {
		t.Fatalf("expected the higher-origin write to win regardless of merge direction or value bytes, got left=%q right=%q", gotLeft, gotRight)
	}
}

func TestMergeIsIdempotentAndCommutative(t *testing.T) {
	a := New(core.NewRepoID())
	a.Set("x", []byte("1"))
	b := New(core.NewRepoID())
	b.Set("y", []byte("2"))

	left := a.Clone()
	left.Merge(b)
	left.Merge(b) // idempotent

	right := b.Clone()
	right.Merge(a) // commutative

	if v, _ := left.Get("x"); string(v) != "1" {
		t.Fatalf("left missing x: %v", v)
	}
	if v, _ := left.Get("y"); string(v) != "2" {
		t.Fatalf("left missing y: %v", v)
	}
	if v, _ := right.Get("x"); string(v) != "1" {
		t.Fatalf("right missing x: %v", v)
	}
	if v, _ := right.Get("y"); string(v) != "2" {
		t.Fatalf("right missing y: %v", v)
	}
}

func TestDeltaSinceOnlyCarriesLaterRegisters(t *testing.T) {
	d := New(core.NewRepoID())
	d.Set("a", []byte("1"))
	mark := d.ClockTime()
	d.Set("b", []byte("2"))

	delta := d.DeltaSince(mark)
	if _, ok := delta.Registers["a"]; ok {
		t.Fatal("delta should not include registers unchanged since the mark")
	}
	if _, ok := delta.Registers["b"]; !ok {
		t.Fatal("delta should include the register changed after the mark")
	}
}

func TestApplyDeltaConvergesReceiver(t *testing.T) {
	sender := New(core.NewRepoID())
	sender.Set("a", []byte("1"))
	sender.Set("b", []byte("2"))

	receiver := New(core.NewRepoID())
	receiver.ApplyDelta(sender.DeltaSince(0))

	if v, ok := receiver.Get("a"); !ok || string(v) != "1" {
		t.Fatalf("receiver missing a: %v", v)
	}
	if v, ok := receiver.Get("b"); !ok || string(v) != "2" {
		t.Fatalf("receiver missing b: %v", v)
	}
}

func TestIsReadyReflectsContent(t *testing.T) {
	d := New(core.NewRepoID())
	if d.IsReady() {
		t.Fatal("empty document should not be ready")
	}
	d.Set("a", []byte("1"))
	if !d.IsReady() {
		t.Fatal("document with a register should be ready")
	}
}

func TestStateRoundTripsThroughMarshal(t *testing.T) {
	d := New(core.NewRepoID())
	d.Set("a", []byte("1"))

	b, err := d.State().Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	state, err := UnmarshalState(b)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	restored := New(core.NewRepoID())
	restored.LoadState(state)
	if v, ok := restored.Get("a"); !ok || string(v) != "1" {
		t.Fatalf("restored document missing a: %v", v)
	}
}
