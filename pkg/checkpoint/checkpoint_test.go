package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/winmsa/winmsa/pkg/index"
)

func TestManagerCreateLoad(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	rs := mgr.Create("run-1", "/data/reads.sam", "ref1", "/data/out", 300, 30)
	if rs.Phase != "running" {
		t.Errorf("Phase = %q, want running", rs.Phase)
	}

	loaded, err := mgr.Load("run-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.SamPath != "/data/reads.sam" || loaded.WindowSize != 300 {
		t.Errorf("loaded state = %+v, lost identity fields", loaded)
	}
}

func TestFindMatchesPlan(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr.Create("run-1", "/data/reads.sam", "ref1", "/data/out", 300, 30)

	if _, err := mgr.Find("/data/reads.sam", 300, 30); err != nil {
		t.Errorf("Find() with matching plan error = %v", err)
	}
	if _, err := mgr.Find("/data/reads.sam", 150, 30); err == nil {
		t.Error("Find() matched a run with a different window size")
	}
	if _, err := mgr.Find("/data/other.sam", 300, 30); err == nil {
		t.Error("Find() matched a different SAM file")
	}
}

func TestCompletedRunsAreNotResumed(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rs := mgr.Create("run-1", "/data/reads.sam", "ref1", "/data/out", 300, 30)
	rs.SetPhase("complete")
	if err := rs.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := mgr.Find("/data/reads.sam", 300, 30); err == nil {
		t.Error("Find() returned a completed run")
	}
	if rs.ShouldResume() {
		t.Error("ShouldResume() = true for completed run")
	}
}

func TestRunStateIndexRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rs := mgr.Create("run-1", "/data/reads.sam", "ref1", "/data/out", 300, 30)

	idx := index.NewWindowIndex()
	idx.MarkDone("ref1", 1)
	idx.MarkDone("ref1", 31)
	if err := rs.SetIndex(idx); err != nil {
		t.Fatalf("SetIndex() error = %v", err)
	}
	if err := rs.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := mgr.Load("run-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	restored, err := loaded.Index()
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if !restored.IsDone("ref1", 31) {
		t.Error("restored index lost a completed window")
	}
	if restored.IsDone("ref1", 61) {
		t.Error("restored index invented a completed window")
	}
}

func TestStartAutoSavePersistsOnStop(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	rs, _, err := FindOrCreate(ctx, backend, "run-1", "/data/reads.sam", "ref1", "/data/out", 300, 30)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}

	// Interval far beyond the test; only the stop-time save fires.
	stop := StartAutoSave(ctx, backend, rs, time.Hour)
	rs.RecordWindow(false)
	stop()

	loaded, err := backend.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DoneWindows != 1 {
		t.Errorf("DoneWindows = %d after stop, want 1", loaded.DoneWindows)
	}
}

func TestFindOrCreate(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	rs, resumed, err := FindOrCreate(ctx, backend, "run-1", "/data/reads.sam", "ref1", "/data/out", 300, 30)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if resumed {
		t.Error("first FindOrCreate reported a resume")
	}

	// A run with progress is picked up on the next call.
	rs.RecordWindow(false)
	if err := backend.Save(ctx, rs); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	again, resumed, err := FindOrCreate(ctx, backend, "run-2", "/data/reads.sam", "ref1", "/data/out", 300, 30)
	if err != nil {
		t.Fatalf("second FindOrCreate() error = %v", err)
	}
	if !resumed {
		t.Error("second FindOrCreate did not resume")
	}
	if again.ID != "run-1" {
		t.Errorf("resumed run ID = %q, want run-1", again.ID)
	}
}
