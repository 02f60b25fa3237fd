package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/winmsa/winmsa/pkg/config"
	"github.com/winmsa/winmsa/pkg/results"
	"github.com/winmsa/winmsa/pkg/tui"
)

var (
	reportLedgerPath string
	reportRunID      string
	reportCSV        string
	reportLimit      int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize past runs from the ledger",
	Long: `Query the window-result ledger.

Without flags the most recent runs are listed. A run ID narrows the
report to one run, including its failed windows.

Examples:
  winmsa report
  winmsa report --run batch-7
  winmsa report --csv results.csv`,
	RunE: runReport,
}

func init() {
	cfg := config.Global().Get()

	reportCmd.Flags().StringVar(&reportLedgerPath, "ledger", cfg.Ledger.Database, "DuckDB ledger path")
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Run ID to inspect")
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "Export the full ledger to a CSV file")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 20, "Number of runs to list")

	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ledger, err := results.Open(reportLedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if reportCSV != "" {
		if err := ledger.ExportCSV(reportCSV); err != nil {
			return err
		}
		fmt.Printf("Exported ledger to %s\n", reportCSV)
		return nil
	}

	if reportRunID != "" {
		return reportRun(ledger, reportRunID)
	}

	runs, err := ledger.Runs(reportLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Printf("%-38s %10s %10s\n", "RUN", "WINDOWS", "FAILED")
	for _, r := range runs {
		fmt.Printf("%-38s %10d %10d\n", r.RunID, r.Windows, r.Failed)
	}
	return nil
}

func reportRun(ledger *results.Ledger, id string) error {
	s, err := ledger.RunSummary(id)
	if err != nil {
		return err
	}
	if s.Windows == 0 {
		return fmt.Errorf("no ledger rows for run %s", id)
	}

	tui.PrintRunReport(tui.RunReport{
		RunID:    id,
		Windows:  s.Windows,
		Written:  s.Rows,
		Failed:   s.Failed,
		Duration: time.Duration(s.ElapsedMillis) * time.Millisecond,
	})

	failures, err := ledger.Failures(id)
	if err != nil {
		return err
	}
	rows := make([]tui.FailureRow, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, tui.FailureRow{
			Reference: f.Reference,
			Start:     f.Start,
			End:       f.End,
			Err:       f.Err,
		})
	}
	tui.PrintFailures(rows)
	return nil
}
