// Package watch monitors a drop directory for incoming SAM files and
// hands each one to a handler once writes to it have settled.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a directory for alignment files matching a pattern.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	pattern  string
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]*fileState

	// OnFile is called with the absolute path of a settled file.
	// A returned error is reported and the file stays eligible, so a
	// later write retriggers it.
	OnFile func(path string) error

	// OnError is called for watcher and handler errors.
	OnError func(err error)
}

type fileState struct {
	size       int64
	modTime    time.Time
	dispatched bool
	processing bool
}

// NewWatcher creates a watcher over dir for files matching pattern
// (e.g. "*.sam"). Debounce delays dispatch until writes pause.
func NewWatcher(dir, pattern string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pattern == "" {
		pattern = "*.sam"
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(absDir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		dir:      absDir,
		pattern:  pattern,
		debounce: debounce,
		logger:   logger.With("component", "watch"),
		files:    make(map[string]*fileState),
	}, nil
}

// Run dispatches files already present in the directory, then blocks
// handling events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.scanExisting(); err != nil {
		return err
	}

	debounceTimers := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	defer func() {
		timerMu.Lock()
		for _, t := range debounceTimers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if matched, _ := filepath.Match(w.pattern, filepath.Base(path)); !matched {
				continue
			}

			// Each write pushes the dispatch out by the debounce
			// interval, so a file in mid-copy is never picked up.
			timerMu.Lock()
			if timer, exists := debounceTimers[path]; exists {
				timer.Stop()
			}
			debounceTimers[path] = time.AfterFunc(w.debounce, func() {
				w.dispatch(path)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError(err)
		}
	}
}

// scanExisting dispatches matching files already in the directory.
func (w *Watcher) scanExisting() error {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.pattern))
	if err != nil {
		return fmt.Errorf("failed to scan directory: %w", err)
	}
	for _, path := range matches {
		w.dispatch(path)
	}
	return nil
}

func (w *Watcher) dispatch(path string) {
	stat, err := os.Stat(path)
	if err != nil {
		w.reportError(fmt.Errorf("failed to stat %s: %w", path, err))
		return
	}
	if stat.IsDir() {
		return
	}

	w.mu.Lock()
	state, known := w.files[path]
	if !known {
		state = &fileState{}
		w.files[path] = state
	}
	if state.processing {
		w.mu.Unlock()
		return
	}
	unchanged := stat.Size() == state.size && stat.ModTime().Equal(state.modTime)
	if state.dispatched && unchanged {
		w.mu.Unlock()
		return
	}
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	w.logger.Info("alignment file settled", "path", path, "size", stat.Size())

	if w.OnFile != nil {
		if err := w.OnFile(path); err != nil {
			w.reportError(fmt.Errorf("handler failed for %s: %w", path, err))
			return
		}
	}

	w.mu.Lock()
	state.size = stat.Size()
	state.modTime = stat.ModTime()
	state.dispatched = true
	w.mu.Unlock()
}

func (w *Watcher) reportError(err error) {
	if w.OnError != nil {
		w.OnError(err)
		return
	}
	w.logger.Error("watch error", "error", err)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
