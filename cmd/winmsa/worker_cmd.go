package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/winmsa/winmsa/internal/model"
	"github.com/winmsa/winmsa/pkg/msa"
	"github.com/winmsa/winmsa/pkg/pool"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve pool jobs over stdin/stdout",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// runWorker serves window jobs framed on stdin and answers on stdout.
// The primary owns this process's lifetime: it exits on a terminate
// message or when the primary closes the stream. Interrupt signals are
// ignored so a Ctrl-C in the terminal shuts down through the primary
// rather than killing workers mid-frame.
func runWorker(cmd *cobra.Command, args []string) error {
	signal.Ignore(os.Interrupt)

	slicer := msa.NewSlicer(nil)
	exec := func(ctx context.Context, job model.WindowJob) model.WindowResult {
		return extractJob(ctx, slicer, job)
	}

	t := pool.NewStdioTransport(os.Stdin, os.Stdout)
	return pool.ReplicaLoop(context.Background(), t, exec, nil)
}
