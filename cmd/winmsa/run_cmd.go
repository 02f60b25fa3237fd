package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/winmsa/winmsa/internal/model"
	"github.com/winmsa/winmsa/pkg/checkpoint"
	"github.com/winmsa/winmsa/pkg/config"
	"github.com/winmsa/winmsa/pkg/errors"
	"github.com/winmsa/winmsa/pkg/msa"
	"github.com/winmsa/winmsa/pkg/pool"
	"github.com/winmsa/winmsa/pkg/results"
	"github.com/winmsa/winmsa/pkg/sam"
	"github.com/winmsa/winmsa/pkg/telemetry"
	"github.com/winmsa/winmsa/pkg/tui"
	"github.com/winmsa/winmsa/pkg/util"
)

var (
	runRef        string
	runOutDir     string
	runWindow     int64
	runStride     int64
	runReplicas   int
	runMode       string
	runID         string
	runNoResume   bool
	runLedgerPath string

	runMapQuality int
	runQuality    int
	runMaxN       float64
	runBreadth    float64
	runMinDepth   int
	runInsertions bool
	runNoMask     bool
)

var runCmd = &cobra.Command{
	Use:   "run <reads.sam>",
	Short: "Slide windows across the reference and extract them all",
	Long: `Plan full-width windows over the reference, distribute them across a
replica pool and extract each one into its own FASTA file.

Progress is checkpointed, so an interrupted run picks up where it left
off. Window files that already exist are kept as they are.

Pool modes:
  local  replicas are goroutines in this process (default)
  proc   replicas are winmsa worker processes speaking over pipes

Examples:
  winmsa run reads.sam --out-dir windows/
  winmsa run reads.sam --window 300 --stride 30 --replicas 4
  winmsa run reads.sam --mode proc --replicas 8
  winmsa run reads.sam --run-id batch-7 --no-resume`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	cfg := config.Global().Get()

	runCmd.Flags().StringVar(&runRef, "ref", "", "Reference name (default: first @SQ in the header)")
	runCmd.Flags().StringVarP(&runOutDir, "out-dir", "o", cfg.Output.Dir, "Directory for window FASTA files")
	runCmd.Flags().Int64Var(&runWindow, "window", cfg.Windows.Size, "Window width in bases")
	runCmd.Flags().Int64Var(&runStride, "stride", cfg.Windows.Stride, "Window stride in bases (codon multiple)")
	runCmd.Flags().IntVar(&runReplicas, "replicas", cfg.Pool.Replicas, "Replica count (0 = inline)")
	runCmd.Flags().StringVar(&runMode, "mode", cfg.Pool.Mode, "Pool mode (local, proc)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: generated)")
	runCmd.Flags().BoolVar(&runNoResume, "no-resume", false, "Discard previous run state (existing window files are still kept)")
	runCmd.Flags().StringVar(&runLedgerPath, "ledger", cfg.Ledger.Database, "DuckDB ledger path (empty disables the ledger)")

	runCmd.Flags().IntVar(&runMapQuality, "map-quality", cfg.Extraction.MapQualityCutoff, "Minimum mapping quality per mate")
	runCmd.Flags().IntVar(&runQuality, "quality", cfg.Extraction.QualityCutoff, "Minimum Phred base quality")
	runCmd.Flags().Float64Var(&runMaxN, "max-ambiguous", cfg.Extraction.MaxAmbiguousFraction, "Maximum N fraction per row")
	runCmd.Flags().Float64Var(&runBreadth, "breadth", cfg.Extraction.BreadthThreshold, "Minimum real-base coverage per row")
	runCmd.Flags().IntVar(&runMinDepth, "min-depth", cfg.Extraction.MinDepth, "Warn when a window gets fewer rows")
	runCmd.Flags().BoolVar(&runInsertions, "insertions", cfg.Extraction.WithInsertions, "Re-splice insertions anchored inside the window")
	runCmd.Flags().BoolVar(&runNoMask, "no-mask", false, "Keep in-frame stop codons instead of masking them")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	shutdown, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	return executeRun(ctx, args[0])
}

// executeRun drives one full windowed extraction of samPath. The watch
// command reuses it for every settled input file.
func executeRun(ctx context.Context, samPath string) error {
	start := time.Now()
	cfg := config.Global().Get()

	if _, err := os.Stat(samPath); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", samPath)
	}
	if runMode != "local" && runMode != "proc" {
		return fmt.Errorf("unknown pool mode %q (local, proc)", runMode)
	}

	ctx, span := telemetry.StartSpan(ctx, "winmsa.run",
		attribute.String("sam", filepath.Base(samPath)))
	defer span.End()

	refs, err := sam.ScanHeader(samPath)
	if err != nil {
		return err
	}
	ref, refLen, err := resolveReference(refs, runRef)
	if err != nil {
		return err
	}

	windows, err := msa.Plan(refLen, runWindow, runStride)
	if err != nil {
		return err
	}

	outDir := runOutDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	if runNoResume {
		if old, err := backend.FindBySam(ctx, samPath, runWindow, runStride); err == nil {
			if err := backend.Delete(ctx, old.ID); err != nil {
				slog.Warn("stale run state not deleted", "run_id", old.ID, "error", err)
			}
		}
	}

	id := runID
	if id == "" {
		id = uuid.New().String()
	}
	rs, resumed, err := checkpoint.FindOrCreate(ctx, backend, id, samPath, ref, outDir, runWindow, runStride)
	if err != nil {
		return err
	}
	rs.TotalWindows = len(windows)

	idx, err := rs.Index()
	if err != nil {
		return fmt.Errorf("corrupt checkpoint index for run %s: %w", rs.ID, err)
	}

	starts := make([]int64, len(windows))
	for i, w := range windows {
		starts[i] = w.Start
	}
	pendingSet := make(map[int64]bool)
	for _, s := range idx.Pending(ref, starts) {
		pendingSet[s] = true
	}
	pending := make([]msa.Window, 0, len(windows))
	for _, w := range windows {
		if pendingSet[w.Start] {
			pending = append(pending, w)
		}
	}

	tui.PrintPlan(tui.PlanReport{
		SamPath:      samPath,
		Reference:    ref,
		RefLength:    refLen,
		WindowSize:   runWindow,
		WindowStride: runStride,
		Total:        len(windows),
		Pending:      len(pending),
		Resumed:      resumed,
	})

	if len(pending) == 0 {
		rs.SetPhase("complete")
		if err := backend.Save(ctx, rs); err != nil {
			slog.Warn("checkpoint save failed", "run_id", rs.ID, "error", err)
		}
		fmt.Println("All windows already extracted, nothing to do.")
		return nil
	}

	var ledger *results.Ledger
	if runLedgerPath != "" {
		l, err := openLedger(runLedgerPath)
		if err != nil {
			slog.Warn("ledger disabled", "path", runLedgerPath, "error", err)
		} else {
			ledger = l
			defer ledger.Close()
		}
	}

	sample := util.SampleName(samPath)
	jobs := make([]model.WindowJob, 0, len(pending))
	for _, w := range pending {
		jobs = append(jobs, model.WindowJob{
			ID:                   fmt.Sprintf("%s-%s", rs.ID, w.Name()),
			SamPath:              samPath,
			OutPath:              filepath.Join(outDir, fmt.Sprintf("%s.%s.fasta", sample, w.Name())),
			Reference:            ref,
			Start:                w.Start,
			End:                  w.End,
			MapQualityCutoff:     runMapQuality,
			QualityCutoff:        runQuality,
			MaxAmbiguousFraction: runMaxN,
			BreadthThreshold:     runBreadth,
			WithInsertions:       runInsertions,
			MaskStopCodons:       cfg.Extraction.MaskStopCodons && !runNoMask,
			MinDepth:             runMinDepth,
		})
	}

	stopAutoSave := checkpoint.StartAutoSave(ctx, backend, rs, 10*time.Second)
	defer stopAutoSave()

	bar := tui.ShowProgress(int64(len(jobs)), "extracting windows")
	slicer := msa.NewSlicer(nil)

	opts := pool.Options{
		Replicas: runReplicas,
		Logger:   slog.Default(),
		OnResult: func(res model.WindowResult) {
			bar.Add(1)
			rs.RecordWindow(res.Failed())
			if !res.Failed() {
				idx.MarkDone(res.Reference, res.Start)
				if err := rs.SetIndex(idx); err != nil {
					slog.Warn("window index not checkpointed", "error", err)
				}
			}
			if ledger != nil {
				if err := ledger.Record(rs.ID, res); err != nil {
					slog.Warn("ledger write failed", "job_id", res.JobID, "error", err)
				}
			}
		},
	}

	if runMode == "proc" {
		if runReplicas < 1 {
			return fmt.Errorf("proc mode needs --replicas >= 1")
		}
		workerArgs := []string{"worker"}
		if verbose {
			workerArgs = append(workerArgs, "--verbose")
		}
		transport, err := pool.NewProcTransport(ctx, runReplicas, workerArgs, slog.Default())
		if err != nil {
			return err
		}
		defer transport.Close()
		opts.Transport = transport
	}

	poolResults, runErr := pool.Run(ctx, jobs, func(ctx context.Context, job model.WindowJob) model.WindowResult {
		return extractJob(ctx, slicer, job)
	}, opts)
	bar.Finish()

	var failed, written int64
	for _, res := range poolResults {
		written += int64(res.Written)
		if res.Failed() {
			failed++
		}
	}

	if runErr == nil && failed == 0 && idx.DoneCount(ref) >= len(windows) {
		rs.SetPhase("complete")
	}
	if err := backend.Save(ctx, rs); err != nil {
		slog.Warn("checkpoint save failed", "run_id", rs.ID, "error", err)
	}

	tui.PrintRunReport(tui.RunReport{
		RunID:    rs.ID,
		Windows:  int64(len(poolResults)),
		Written:  written,
		Failed:   failed,
		Resumed:  int64(len(windows) - len(pending)),
		Duration: time.Since(start),
	})
	if failed > 0 {
		rows := make([]tui.FailureRow, 0, failed)
		for _, res := range poolResults {
			if res.Failed() {
				rows = append(rows, tui.FailureRow{
					Reference: res.Reference,
					Start:     res.Start,
					End:       res.End,
					Err:       res.Err,
				})
			}
		}
		tui.PrintFailures(rows)
	}

	if runErr != nil {
		telemetry.RecordError(ctx, runErr)
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d windows failed", failed, len(poolResults))
	}
	return nil
}

// extractJob runs one window extraction and folds the report into the
// wire result. Failures travel as text so they survive the pool
// protocol.
func extractJob(ctx context.Context, slicer *msa.Slicer, job model.WindowJob) model.WindowResult {
	ctx, span := telemetry.StartSpan(ctx, "winmsa.window",
		attribute.String("reference", job.Reference),
		attribute.Int64("start", job.Start),
		attribute.Int64("end", job.End))
	defer span.End()

	res := model.WindowResult{
		JobID:     job.ID,
		Reference: job.Reference,
		Start:     job.Start,
		End:       job.End,
	}

	report, err := slicer.ExtractWindow(ctx, msa.WindowSpec{
		SamPath:              job.SamPath,
		OutPath:              job.OutPath,
		Reference:            job.Reference,
		Start:                job.Start,
		End:                  job.End,
		MappingQualityCutoff: job.MapQualityCutoff,
		QualityCutoff:        job.QualityCutoff,
		MaxAmbiguousFraction: job.MaxAmbiguousFraction,
		BreadthThreshold:     job.BreadthThreshold,
		WithInsertions:       job.WithInsertions,
		MaskStopCodons:       job.MaskStopCodons,
		MinDepth:             job.MinDepth,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		res.Err = err.Error()
		return res
	}

	res.Written = report.Written
	res.Merged = report.Merged
	res.MaskedBases = report.MaskedBases
	res.DroppedInsertedBases = report.DroppedInsertedBases
	res.InsertConflicts = report.InsertConflicts
	res.Resumed = report.Resumed
	return res
}

// resolveReference picks the target reference and its declared length.
func resolveReference(refs []sam.RefSeq, name string) (string, int64, error) {
	if name == "" {
		if len(refs) == 0 {
			return "", 0, fmt.Errorf("no @SQ references in header, use --ref")
		}
		if len(refs) > 1 {
			slog.Warn("multiple references in header, using the first",
				"reference", refs[0].Name, "declared", len(refs))
		}
		return refs[0].Name, refs[0].Length, nil
	}
	for _, r := range refs {
		if r.Name == name {
			return r.Name, r.Length, nil
		}
	}
	return "", 0, errors.UnknownReference(name)
}

// openBackend builds the run-state backend from config: the local
// directory always, mirrored to Redis or S3 when configured.
func openBackend(ctx context.Context, cfg *config.Config) (checkpoint.Backend, func(), error) {
	local, err := checkpoint.NewLocalBackend(cfg.Checkpoint.Dir)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Checkpoint.Backend {
	case "", "local":
		return local, func() {}, nil

	case "redis":
		if cfg.Checkpoint.RedisAddr == "" {
			return nil, nil, fmt.Errorf("checkpoint backend redis needs redis_addr")
		}
		rb, err := checkpoint.NewRedisBackend(checkpoint.DefaultRedisConfig(cfg.Checkpoint.RedisAddr))
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewMultiBackend(local, rb), func() { rb.Close() }, nil

	case "s3":
		if cfg.Checkpoint.S3Bucket == "" {
			return nil, nil, fmt.Errorf("checkpoint backend s3 needs s3_bucket")
		}
		s3cfg := checkpoint.DefaultS3Config(cfg.Checkpoint.S3Bucket)
		if cfg.Checkpoint.S3Prefix != "" {
			s3cfg.Prefix = cfg.Checkpoint.S3Prefix
		}
		s3cfg.Region = cfg.Checkpoint.S3Region
		sb, err := checkpoint.NewS3Backend(ctx, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewMultiBackend(local, sb), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q (local, redis, s3)", cfg.Checkpoint.Backend)
	}
}

// openLedger creates the ledger directory if needed and opens the
// database.
func openLedger(path string) (*results.Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return results.Open(path)
}

// initTelemetry wires OTLP export when enabled.
func initTelemetry(ctx context.Context) (func(context.Context) error, error) {
	cfg := config.Global().Get()
	if !cfg.Telemetry.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tcfg := telemetry.DefaultConfig("winmsa")
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.ServiceVersion = version
	return telemetry.Init(ctx, tcfg)
}
