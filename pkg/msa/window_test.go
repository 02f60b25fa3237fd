package msa

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/winmsa/winmsa/pkg/errors"
)

const (
	testHD = "@HD\tVN:1.5\tSO:queryname"
	testSQ = "@SQ\tSN:ref1\tLN:20"

	flagFirstMate  = 0x1 | 0x40
	flagSecondMate = 0x1 | 0x80
)

func writeTestSam(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reads.sam")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testSamLine(qname string, flag, pos, mapq int, cigar, rnext, seq, qual string) string {
	return strings.Join([]string{
		qname, fmt.Sprint(flag), "ref1", fmt.Sprint(pos), fmt.Sprint(mapq),
		cigar, rnext, "0", "0", seq, qual,
	}, "\t")
}

func readAllRecords(t *testing.T, path string) []Record {
	t.Helper()
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader(%q) error = %v", path, err)
	}
	defer r.Close()

	var records []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func testSpec(samPath, outPath string) WindowSpec {
	return WindowSpec{
		SamPath:              samPath,
		OutPath:              outPath,
		Reference:            "ref1",
		Start:                1,
		End:                  8,
		MappingQualityCutoff: 20,
		QualityCutoff:        20,
		MaxAmbiguousFraction: 1.0,
		BreadthThreshold:     0.0,
	}
}

func TestExtractWindowSingletons(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", 0, 1, 60, "8M", "*", "ACGTACGT", "IIIIIIII"),
		testSamLine("q2", 0, 5, 60, "4M", "*", "TTTT", "IIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	report, err := NewSlicer(nil).ExtractWindow(context.Background(), testSpec(sam, out))
	if err != nil {
		t.Fatalf("ExtractWindow() error = %v", err)
	}
	if report.Written != 2 || report.Merged != 2 {
		t.Errorf("report = %+v, want 2 written from 2 templates", report)
	}
	if report.Resumed {
		t.Error("report.Resumed = true on fresh output")
	}

	records := readAllRecords(t, out)
	if len(records) != 2 {
		t.Fatalf("output holds %d records, want 2", len(records))
	}
	if records[0].Name != "q1" || records[0].Seq != "ACGTACGT" {
		t.Errorf("first record = %+v, want q1/ACGTACGT", records[0])
	}
	if records[1].Name != "q2" || records[1].Seq != "----TTTT" {
		t.Errorf("second record = %+v, want q2/----TTTT", records[1])
	}

	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after successful extraction")
	}
}

func TestExtractWindowMergesPairs(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", flagFirstMate, 1, 60, "4M", "=", "ACGT", "IIII"),
		testSamLine("q1", flagSecondMate, 3, 60, "4M", "=", "GTAA", "IIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	report, err := NewSlicer(nil).ExtractWindow(context.Background(), testSpec(sam, out))
	if err != nil {
		t.Fatalf("ExtractWindow() error = %v", err)
	}
	if report.Written != 1 || report.Merged != 1 {
		t.Errorf("report = %+v, want one merged row", report)
	}

	records := readAllRecords(t, out)
	if len(records) != 1 || records[0].Seq != "ACGTAA--" {
		t.Fatalf("records = %+v, want single ACGTAA-- row", records)
	}
}

func TestExtractWindowBreadthFilter(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", 0, 1, 60, "8M", "*", "ACGTACGT", "IIIIIIII"),
		testSamLine("q2", 0, 5, 60, "4M", "*", "TTTT", "IIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	spec := testSpec(sam, out)
	spec.BreadthThreshold = 0.9

	report, err := NewSlicer(nil).ExtractWindow(context.Background(), spec)
	if err != nil {
		t.Fatalf("ExtractWindow() error = %v", err)
	}
	if report.Merged != 2 || report.Written != 1 {
		t.Errorf("report = %+v, want 1 of 2 templates written", report)
	}

	records := readAllRecords(t, out)
	if len(records) != 1 || records[0].Name != "q1" {
		t.Fatalf("records = %+v, want only q1", records)
	}
}

func TestExtractWindowMasksStopCodons(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", 0, 1, 60, "6M", "*", "TAACGG", "IIIIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	spec := testSpec(sam, out)
	spec.End = 6
	spec.MaskStopCodons = true

	report, err := NewSlicer(nil).ExtractWindow(context.Background(), spec)
	if err != nil {
		t.Fatalf("ExtractWindow() error = %v", err)
	}
	if report.MaskedStopCodons != 1 {
		t.Errorf("MaskedStopCodons = %d, want 1", report.MaskedStopCodons)
	}

	records := readAllRecords(t, out)
	if len(records) != 1 || records[0].Seq != "NNNCGG" {
		t.Fatalf("records = %+v, want single NNNCGG row", records)
	}
}

func TestExtractWindowResumesExistingOutput(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", 0, 1, 60, "8M", "*", "ACGTACGT", "IIIIIIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")
	existing := ">a\nACGTACGT\n>b\nGGTTGGTT\n"
	if err := os.WriteFile(out, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := NewSlicer(nil).ExtractWindow(context.Background(), testSpec(sam, out))
	if err != nil {
		t.Fatalf("ExtractWindow() error = %v", err)
	}
	if !report.Resumed {
		t.Error("report.Resumed = false for existing output")
	}
	if report.Written != 2 {
		t.Errorf("report.Written = %d, want 2 counted rows", report.Written)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != existing {
		t.Error("resume rewrote the existing output file")
	}
}

func TestExtractWindowDefaultsToReference(t *testing.T) {
	sam := writeTestSam(t,
		testHD, "@SQ\tSN:ref1\tLN:12",
		testSamLine("q1", 0, 1, 60, "4M", "*", "ACGT", "IIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	spec := testSpec(sam, out)
	spec.Start = 0
	spec.End = 0

	report, err := NewSlicer(nil).ExtractWindow(context.Background(), spec)
	if err != nil {
		t.Fatalf("ExtractWindow() error = %v", err)
	}
	if report.Written != 1 {
		t.Fatalf("report.Written = %d, want 1", report.Written)
	}

	records := readAllRecords(t, out)
	if records[0].Seq != "ACGT--------" {
		t.Errorf("row = %q, want ACGT padded to the declared reference length", records[0].Seq)
	}
}

func TestExtractWindowRequiresResolvableEnd(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", 0, 1, 60, "4M", "*", "ACGT", "IIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	spec := testSpec(sam, out)
	spec.Reference = ""
	spec.Start = 0
	spec.End = 0

	_, err := NewSlicer(nil).ExtractWindow(context.Background(), spec)
	if !errors.IsCode(err, errors.CodeIncompleteRange) {
		t.Fatalf("ExtractWindow() error = %v, want incomplete range", err)
	}
}

func TestExtractWindowHonorsCancellation(t *testing.T) {
	sam := writeTestSam(t,
		testHD, testSQ,
		testSamLine("q1", 0, 1, 60, "8M", "*", "ACGTACGT", "IIIIIIII"),
	)
	out := filepath.Join(t.TempDir(), "window.fasta")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSlicer(nil).ExtractWindow(ctx, testSpec(sam, out))
	if !errors.IsCode(err, errors.CodeContextCanceled) {
		t.Fatalf("ExtractWindow() error = %v, want context canceled", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("canceled extraction left an output file")
	}
	if _, statErr := os.Stat(out + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("canceled extraction left a temp file")
	}
}
