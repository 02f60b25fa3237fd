package msa

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/winmsa/winmsa/pkg/errors"
	"github.com/winmsa/winmsa/pkg/sam"
)

// WindowSpec describes one window extraction from a SAM input.
type WindowSpec struct {
	// SamPath is the queryname-sorted SAM input.
	SamPath string

	// OutPath is the FASTA file to produce.
	OutPath string

	// Reference selects reads by RNAME; empty accepts any reference.
	Reference string

	// RefLen overrides the header-declared reference length when non-zero.
	RefLen int64

	// Start and End are 1-based inclusive window bounds. Zero values
	// default to the reference bounds.
	Start int64
	End   int64

	MappingQualityCutoff int
	QualityCutoff        int
	MaxAmbiguousFraction float64
	BreadthThreshold     float64
	WithInsertions       bool
	MaskStopCodons       bool

	// MinDepth, when positive, logs a warning for windows whose written
	// row count falls below it.
	MinDepth int
}

// WindowReport summarizes one window extraction.
type WindowReport struct {
	Written              int
	Merged               int
	MaskedBases          int
	DroppedInsertedBases int
	InsertConflicts      int
	MaskedStopCodons     int
	Resumed              bool
}

// Slicer extracts window alignments from SAM inputs.
type Slicer struct {
	logger *slog.Logger
}

// NewSlicer returns a Slicer logging through logger, or slog.Default()
// when nil.
func NewSlicer(logger *slog.Logger) *Slicer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slicer{logger: logger.With("component", "msa")}
}

// ExtractWindow streams the SAM input once, merges each read template
// into a window row and writes the rows that pass the ambiguity and
// breadth filters. An existing non-empty output file short-circuits the
// extraction and only its row count is reported, so interrupted runs can
// resume without redoing finished windows.
func (s *Slicer) ExtractWindow(ctx context.Context, spec WindowSpec) (WindowReport, error) {
	var report WindowReport

	if st, err := os.Stat(spec.OutPath); err == nil && st.Size() > 0 {
		count, err := CountSequences(spec.OutPath)
		if err != nil {
			return report, err
		}
		s.logger.Info("window output exists, keeping it",
			"out", spec.OutPath, "rows", count)
		report.Written = count
		report.Resumed = true
		return report, nil
	}

	reader, err := sam.OpenPairReader(spec.SamPath, spec.Reference, spec.MappingQualityCutoff, spec.RefLen, s.logger)
	if err != nil {
		return report, err
	}
	defer reader.Close()

	start, end := spec.Start, spec.End
	if start == 0 {
		start = 1
	}
	if end == 0 {
		end = reader.RefLen()
	}
	if end <= 0 {
		return report, errors.New(errors.CodeIncompleteRange, "window end required when reference length is unknown").
			WithContext("sam", spec.SamPath)
	}
	if start > end {
		return report, errors.New(errors.CodeInvalidRange, "window start after window end").
			WithContext("start", start).
			WithContext("end", end)
	}

	filter := WriteFilter{
		MaxAmbiguousFraction: spec.MaxAmbiguousFraction,
		BreadthThreshold:     spec.BreadthThreshold,
	}
	opts := sam.ExtractOptions{
		Start:          start,
		End:            end,
		QualityCutoff:  spec.QualityCutoff,
		WithInsertions: spec.WithInsertions,
	}

	// Write through a temp file so a killed run never leaves a partial
	// output for the resume check to trust.
	tmpPath := spec.OutPath + ".tmp"
	out, err := NewWriter(tmpPath)
	if err != nil {
		return report, err
	}
	defer os.Remove(tmpPath)

	for {
		select {
		case <-ctx.Done():
			out.Close()
			return report, errors.ContextCanceled("window extraction")
		default:
		}

		pair, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return report, err
		}

		row, stats, err := pair.ExtractWindow(opts)
		if err != nil {
			out.Close()
			return report, err
		}
		report.Merged++
		report.MaskedBases += stats.MaskedBases
		report.DroppedInsertedBases += stats.DroppedInsertedBases
		report.InsertConflicts += stats.InsertConflicts

		if spec.MaskStopCodons {
			var masked int
			row, masked = MaskStopCodons(row)
			report.MaskedStopCodons += masked
		}

		written, err := out.WriteFiltered(pair.Name(), row, filter)
		if err != nil {
			out.Close()
			return report, err
		}
		if written {
			report.Written++
		}
	}

	if err := out.Close(); err != nil {
		return report, err
	}
	if err := os.Rename(tmpPath, spec.OutPath); err != nil {
		return report, errors.Wrap(err, errors.CodeWriteFailed, "finalize fasta output").
			WithContext("path", spec.OutPath)
	}

	if spec.MinDepth > 0 && report.Written < spec.MinDepth {
		s.logger.Warn("window below depth threshold",
			"out", spec.OutPath,
			"rows", report.Written,
			"min_depth", spec.MinDepth)
	}
	s.logger.Debug("window extracted",
		"out", spec.OutPath,
		"templates", report.Merged,
		"rows", report.Written)
	return report, nil
}
