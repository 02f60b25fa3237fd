// WinMSA - Sliding-window multiple sequence alignments from SAM reads.
// Slices queryname-sorted SAM alignments into per-window FASTA files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "winmsa",
	Short: "WinMSA - Sliding-window multiple sequence alignments from SAM reads",
	Long: `WinMSA slices queryname-sorted SAM alignments into per-window multiple
sequence alignments. Each read template is merged into one padded row,
low-quality bases are masked, and rows that cover too little of the
window are dropped. Windows are distributed over a replica pool and
interrupted runs resume from their checkpoint.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// setupLogging installs the process-wide logger on stderr. Worker
// replicas share stdout with the pool protocol, so logs must never go
// there.
func setupLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	return ctx, cancel
}
