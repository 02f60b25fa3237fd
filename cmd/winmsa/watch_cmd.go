package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/winmsa/winmsa/pkg/config"
	"github.com/winmsa/winmsa/pkg/watch"
)

var (
	watchDebounce time.Duration
	watchPattern  string
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and run every settled SAM file",
	Long: `Watch a drop directory for incoming SAM files and run the full
sliding-window extraction on each one once writes to it have settled.

Files already in the directory are processed first. Finished inputs are
skipped on later events unless the file changes, and checkpoints make a
re-triggered run cheap.

Examples:
  winmsa watch /data/incoming
  winmsa watch /data/incoming --pattern "*.sam" --debounce 2s
  winmsa watch /data/incoming --out-dir /data/windows --replicas 4`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	cfg := config.Global().Get()

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce",
		time.Duration(cfg.Watch.DebounceMillis)*time.Millisecond,
		"Quiet period before a file counts as settled")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", cfg.Watch.Pattern, "Filename pattern to match")

	// The run flags steer each triggered extraction.
	watchCmd.Flags().AddFlagSet(runCmd.Flags())

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	shutdown, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	w, err := watch.NewWatcher(args[0], watchPattern, watchDebounce, slog.Default())
	if err != nil {
		return err
	}
	defer w.Close()

	// Runs are serialized: two settled files must not interleave their
	// progress output or share the ledger writer.
	var runMu sync.Mutex
	w.OnFile = func(path string) error {
		runMu.Lock()
		defer runMu.Unlock()
		fmt.Printf("[%s] Processing %s\n", time.Now().Format("15:04:05"), filepath.Base(path))
		return executeRun(ctx, path)
	}

	fmt.Printf("Watching %s for %s files. Ctrl-C to stop.\n", args[0], watchPattern)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
