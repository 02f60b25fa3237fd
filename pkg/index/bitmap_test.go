package index

import (
	"bytes"
	"testing"
)

func TestMarkAndQuery(t *testing.T) {
	idx := NewWindowIndex()

	idx.MarkDone("ref1", 1)
	idx.MarkDone("ref1", 31)
	idx.MarkDone("ref2", 1)

	if !idx.IsDone("ref1", 31) {
		t.Error("IsDone(ref1, 31) = false after MarkDone")
	}
	if idx.IsDone("ref1", 61) {
		t.Error("IsDone(ref1, 61) = true for unmarked window")
	}
	if idx.IsDone("ref3", 1) {
		t.Error("IsDone on unknown reference = true")
	}
	if got := idx.DoneCount("ref1"); got != 2 {
		t.Errorf("DoneCount(ref1) = %d, want 2", got)
	}
	if got := len(idx.References()); got != 2 {
		t.Errorf("References() has %d entries, want 2", got)
	}
}

func TestPending(t *testing.T) {
	idx := NewWindowIndex()
	idx.MarkDone("ref1", 31)

	starts := []int64{1, 31, 61, 91}
	got := idx.Pending("ref1", starts)
	want := []int64{1, 61, 91}
	if len(got) != len(want) {
		t.Fatalf("Pending() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Pending()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	// Unknown reference leaves the plan untouched.
	if got := idx.Pending("ref2", starts); len(got) != 4 {
		t.Errorf("Pending on unknown reference kept %d starts, want 4", len(got))
	}
}

func TestClear(t *testing.T) {
	idx := NewWindowIndex()
	idx.MarkDone("ref1", 1)
	idx.Clear("ref1")
	if idx.DoneCount("ref1") != 0 {
		t.Error("Clear left completed windows behind")
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	idx := NewWindowIndex()
	idx.MarkDone("ref1", 1)
	idx.MarkDone("ref1", 301)
	idx.MarkDone("ref2", 31)

	var buf bytes.Buffer
	if _, err := idx.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	restored := NewWindowIndex()
	if _, err := restored.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}

	if !restored.IsDone("ref1", 301) || !restored.IsDone("ref2", 31) {
		t.Error("restored index lost completed windows")
	}
	if restored.IsDone("ref2", 1) {
		t.Error("restored index invented a completed window")
	}
	if got := restored.DoneCount("ref1"); got != 2 {
		t.Errorf("restored DoneCount(ref1) = %d, want 2", got)
	}
}
