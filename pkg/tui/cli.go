// Package tui renders run progress and summaries on the terminal.
// Simple streaming output, no full-screen TUI.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintHeader prints the program banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  WINMSA") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Sliding-window multiple sequence alignments from SAM reads"))
	fmt.Println()
}

// PlanReport describes the window plan before a run starts.
type PlanReport struct {
	SamPath      string
	Reference    string
	RefLength    int64
	WindowSize   int64
	WindowStride int64
	Total        int
	Pending      int
	Resumed      bool
}

// PrintPlan prints the window plan for a run.
func PrintPlan(p PlanReport) {
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Input:"), titleStyle.Render(p.SamPath))
	fmt.Printf("  %s %s (%s bases)\n", mutedStyle.Render("Reference:"), titleStyle.Render(p.Reference), formatNumber(p.RefLength))
	fmt.Printf("  %s %d wide, stride %d\n", mutedStyle.Render("Windows:"), p.WindowSize, p.WindowStride)
	if p.Resumed {
		fmt.Printf("  %s %d of %d %s\n",
			mutedStyle.Render("Pending:"), p.Pending, p.Total,
			accentStyle.Render("(resumed)"))
	} else {
		fmt.Printf("  %s %d\n", mutedStyle.Render("Pending:"), p.Pending)
	}
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID    string
	Windows  int64
	Written  int64
	Failed   int64
	Resumed  int64
	Duration time.Duration
}

// PrintRunReport prints results after a run completes.
func PrintRunReport(r RunReport) {
	fmt.Println()
	if r.Failed == 0 {
		fmt.Println(successStyle.Render("  ✓ RUN COMPLETE"))
	} else {
		fmt.Println(accentStyle.Render(fmt.Sprintf("  ✗ RUN FINISHED WITH %d FAILED WINDOWS", r.Failed)))
	}
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Run:"), titleStyle.Render(r.RunID))
	fmt.Printf("  %s %s windows, %s sequences written\n",
		mutedStyle.Render("Output:"),
		titleStyle.Render(formatNumber(r.Windows)),
		titleStyle.Render(formatNumber(r.Written)))
	if r.Resumed > 0 {
		fmt.Printf("  %s %s windows already complete\n",
			mutedStyle.Render("Skipped:"), formatNumber(r.Resumed))
	}
	if r.Duration > 0 {
		perSec := float64(r.Windows) / r.Duration.Seconds()
		fmt.Printf("  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(r.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%.1f windows/sec)", perSec)))
	}
	fmt.Println()
}

// FailureRow is one failed window for display.
type FailureRow struct {
	Reference string
	Start     int64
	End       int64
	Err       string
}

// PrintFailures lists failed windows.
func PrintFailures(rows []FailureRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Println(accentStyle.Render("  FAILED WINDOWS"))
	for _, f := range rows {
		msg := f.Err
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		fmt.Printf("  %s %s\n",
			mutedStyle.Render(fmt.Sprintf("%s %d-%d:", f.Reference, f.Start, f.End)),
			msg)
	}
	fmt.Println()
}

// ShowProgress creates a progress bar over the pending windows.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
