// Package checkpoint provides resume capability for interrupted runs. A
// run state records which windows of a SAM file have been extracted so
// a restarted run re-plans only the remainder.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/winmsa/winmsa/pkg/index"
)

// RunState tracks one sliding-window run for resume capability.
type RunState struct {
	// Identification
	ID        string `json:"id"`
	SamPath   string `json:"sam_path"`
	Reference string `json:"reference"`
	OutDir    string `json:"out_dir"`

	// Window plan; a resumed run must match it exactly.
	WindowSize   int64 `json:"window_size"`
	WindowStride int64 `json:"window_stride"`

	// Progress
	TotalWindows  int `json:"total_windows"`
	DoneWindows   int `json:"done_windows"`
	FailedWindows int `json:"failed_windows"`

	// State
	Phase       string     `json:"phase"` // running, complete
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CompletedBitmap holds the serialized window index.
	CompletedBitmap []byte `json:"completed_bitmap,omitempty"`

	// Internal
	path string
	mu   sync.Mutex
}

// Manager handles run-state persistence on the local filesystem.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	active map[string]*RunState
}

// NewManager creates a new run-state manager.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Manager{
		dir:    dir,
		active: make(map[string]*RunState),
	}, nil
}

// Create creates a new run state for a SAM file.
func (m *Manager) Create(id, samPath, reference, outDir string, windowSize, windowStride int64) *RunState {
	rs := &RunState{
		ID:           id,
		SamPath:      samPath,
		Reference:    reference,
		OutDir:       outDir,
		WindowSize:   windowSize,
		WindowStride: windowStride,
		Phase:        "running",
		StartedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		path:         filepath.Join(m.dir, id+".run"),
	}

	m.mu.Lock()
	m.active[id] = rs
	m.mu.Unlock()

	rs.Save()
	return rs
}

// Load loads a run state from disk.
func (m *Manager) Load(id string) (*RunState, error) {
	path := filepath.Join(m.dir, id+".run")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	rs.path = path

	m.mu.Lock()
	m.active[id] = &rs
	m.mu.Unlock()

	return &rs, nil
}

// Find finds an incomplete run state matching a SAM file and plan.
func (m *Manager) Find(samPath string, windowSize, windowStride int64) (*RunState, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".run" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var rs RunState
		if err := json.Unmarshal(data, &rs); err != nil {
			continue
		}

		if rs.SamPath == samPath && rs.WindowSize == windowSize &&
			rs.WindowStride == windowStride && rs.Phase != "complete" {
			rs.path = path
			return &rs, nil
		}
	}

	return nil, os.ErrNotExist
}

// Delete removes a run state.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	path := filepath.Join(m.dir, id+".run")
	return os.Remove(path)
}

// ListIncomplete returns all incomplete run states.
func (m *Manager) ListIncomplete() ([]*RunState, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var states []*RunState
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".run" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}

		var rs RunState
		if err := json.Unmarshal(data, &rs); err != nil {
			continue
		}

		if rs.Phase != "complete" {
			rs.path = filepath.Join(m.dir, entry.Name())
			states = append(states, &rs)
		}
	}

	return states, nil
}

// Cleanup removes run states older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".run" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// --- RunState Methods ---

// RecordWindow updates progress counters for one finished window.
func (rs *RunState) RecordWindow(failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.DoneWindows++
	if failed {
		rs.FailedWindows++
	}
	rs.UpdatedAt = time.Now()
}

// SetIndex serializes the window index into the run state.
func (rs *RunState) SetIndex(idx *index.WindowIndex) error {
	var buf bytes.Buffer
	if _, err := idx.WriteTo(&buf); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.CompletedBitmap = buf.Bytes()
	rs.UpdatedAt = time.Now()
	return nil
}

// Index deserializes the window index from the run state. A state with
// no bitmap yields an empty index.
func (rs *RunState) Index() (*index.WindowIndex, error) {
	rs.mu.Lock()
	bitmap := rs.CompletedBitmap
	rs.mu.Unlock()

	idx := index.NewWindowIndex()
	if len(bitmap) == 0 {
		return idx, nil
	}
	if _, err := idx.ReadFrom(bytes.NewReader(bitmap)); err != nil {
		return nil, err
	}
	return idx, nil
}

// SetPhase updates the phase.
func (rs *RunState) SetPhase(phase string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.Phase = phase
	rs.UpdatedAt = time.Now()

	if phase == "complete" {
		now := time.Now()
		rs.CompletedAt = &now
	}
}

// Save persists the run state to disk.
func (rs *RunState) Save() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tempPath := rs.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, rs.path)
}

// encode serializes the run state under its lock so a backend writes a
// consistent snapshot while progress updates keep arriving. The phase is
// returned from the same snapshot.
func (rs *RunState) encode() ([]byte, string, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	data, err := json.Marshal(rs)
	return data, rs.Phase, err
}

// ShouldResume returns true if this run can be resumed.
func (rs *RunState) ShouldResume() bool {
	return rs.Phase != "complete" && rs.DoneWindows > 0
}

// Progress returns progress as a percentage (0-100).
func (rs *RunState) Progress() float64 {
	if rs.TotalWindows == 0 {
		return 0
	}
	return float64(rs.DoneWindows) * 100 / float64(rs.TotalWindows)
}

// Duration returns how long the run has been going.
func (rs *RunState) Duration() time.Duration {
	if rs.CompletedAt != nil {
		return rs.CompletedAt.Sub(rs.StartedAt)
	}
	return time.Since(rs.StartedAt)
}

// --- Auto-Save Goroutine ---

// StartAutoSave starts periodic saving through the backend and returns
// a stop function that performs a final save before returning. The
// final save runs even after ctx is canceled so an interrupted run
// stays resumable.
func StartAutoSave(ctx context.Context, b Backend, rs *RunState, interval time.Duration) func() {
	final := context.WithoutCancel(ctx)
	done := make(chan struct{})
	saved := make(chan struct{})
	go func() {
		defer close(saved)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				b.Save(final, rs)
				return
			case <-ticker.C:
				b.Save(ctx, rs)
			}
		}
	}()
	return func() {
		close(done)
		<-saved
	}
}
