// Backend interfaces for run-state persistence.
package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Backend defines the interface for run-state storage backends.
// Implementations can store run states in various locations (local
// filesystem, Redis, S3).
type Backend interface {
	// Save persists a run state to the backend.
	Save(ctx context.Context, rs *RunState) error

	// Load retrieves a run state by ID.
	Load(ctx context.Context, id string) (*RunState, error)

	// Delete removes a run state.
	Delete(ctx context.Context, id string) error

	// ListIncomplete returns all run states that haven't completed.
	ListIncomplete(ctx context.Context) ([]*RunState, error)

	// FindBySam finds an incomplete run state for the given SAM file
	// and window plan.
	FindBySam(ctx context.Context, samPath string, windowSize, windowStride int64) (*RunState, error)

	// Name returns the backend name for logging/debugging.
	Name() string
}

// MultiBackend wraps two backends for redundancy.
type MultiBackend struct {
	primary   Backend
	secondary Backend
}

// NewMultiBackend creates a backend that writes to both primary and
// secondary.
func NewMultiBackend(primary, secondary Backend) *MultiBackend {
	return &MultiBackend{
		primary:   primary,
		secondary: secondary,
	}
}

// Save writes to both backends (primary first).
func (m *MultiBackend) Save(ctx context.Context, rs *RunState) error {
	if err := m.primary.Save(ctx, rs); err != nil {
		return err
	}
	// Secondary is best-effort
	_ = m.secondary.Save(ctx, rs)
	return nil
}

// Load reads from primary, falls back to secondary.
func (m *MultiBackend) Load(ctx context.Context, id string) (*RunState, error) {
	rs, err := m.primary.Load(ctx, id)
	if err == nil {
		return rs, nil
	}
	return m.secondary.Load(ctx, id)
}

// Delete removes from both backends.
func (m *MultiBackend) Delete(ctx context.Context, id string) error {
	err1 := m.primary.Delete(ctx, id)
	err2 := m.secondary.Delete(ctx, id)
	if err1 != nil {
		return err1
	}
	return err2
}

// ListIncomplete returns incomplete run states from primary.
func (m *MultiBackend) ListIncomplete(ctx context.Context) ([]*RunState, error) {
	return m.primary.ListIncomplete(ctx)
}

// FindBySam finds a run state from primary, falls back to secondary.
func (m *MultiBackend) FindBySam(ctx context.Context, samPath string, windowSize, windowStride int64) (*RunState, error) {
	rs, err := m.primary.FindBySam(ctx, samPath, windowSize, windowStride)
	if err == nil {
		return rs, nil
	}
	return m.secondary.FindBySam(ctx, samPath, windowSize, windowStride)
}

// Name returns the combined backend names.
func (m *MultiBackend) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}

// LocalBackend wraps the file-based Manager as a Backend.
type LocalBackend struct {
	mgr *Manager
}

// NewLocalBackend creates a backend using the local filesystem.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	mgr, err := NewManager(dir)
	if err != nil {
		return nil, err
	}
	return &LocalBackend{mgr: mgr}, nil
}

// Save persists a run state to the local filesystem. States created
// outside the manager get their file path assigned on first save.
func (b *LocalBackend) Save(ctx context.Context, rs *RunState) error {
	if rs.path == "" {
		rs.path = filepath.Join(b.mgr.dir, rs.ID+".run")
	}
	return rs.Save()
}

// Load retrieves a run state from the local filesystem.
func (b *LocalBackend) Load(ctx context.Context, id string) (*RunState, error) {
	return b.mgr.Load(id)
}

// Delete removes a run state from the local filesystem.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	return b.mgr.Delete(id)
}

// ListIncomplete returns all incomplete run states.
func (b *LocalBackend) ListIncomplete(ctx context.Context) ([]*RunState, error) {
	return b.mgr.ListIncomplete()
}

// FindBySam finds an incomplete run state for the SAM file and plan.
func (b *LocalBackend) FindBySam(ctx context.Context, samPath string, windowSize, windowStride int64) (*RunState, error) {
	return b.mgr.Find(samPath, windowSize, windowStride)
}

// Manager returns the underlying file manager.
func (b *LocalBackend) Manager() *Manager {
	return b.mgr
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

// FindOrCreate finds a resumable run state on the backend or creates a
// fresh one. The boolean reports whether an existing run was resumed.
func FindOrCreate(ctx context.Context, backend Backend, id, samPath, reference, outDir string, windowSize, windowStride int64) (*RunState, bool, error) {
	existing, err := backend.FindBySam(ctx, samPath, windowSize, windowStride)
	if err == nil && existing.ShouldResume() {
		return existing, true, nil
	}

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
	}
	if err := backend.Save(ctx, rs); err != nil {
		return nil, false, fmt.Errorf("save new run state: %w", err)
	}
	return rs, false, nil
}
