package sam

import (
	"strings"
	"testing"

	"github.com/winmsa/winmsa/pkg/errors"
)

// testRecord covers reference 101-110 with a central deletion:
// columns ACGT--ACGT.
func testRecord() *AlignmentRecord {
	return &AlignmentRecord{
		QName: "read1", Pos: 101, Cigar: "4M2D4M",
		Seq: "ACGTACGT", Qual: "IIIIIIII", RefLen: 120,
	}
}

func TestExtractRangeValidation(t *testing.T) {
	tests := []struct {
		name     string
		start    int64
		end      int64
		wantCode errors.Code
	}{
		{"start after end", 105, 103, errors.CodeInvalidRange},
		{"only start", 105, 0, errors.CodeIncompleteRange},
		{"only end", 0, 105, errors.CodeIncompleteRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testRecord().Extract(ExtractOptions{Start: tt.start, End: tt.end})
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("error code = %v, want %v", errors.GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestExtractWholeAlignment(t *testing.T) {
	e, err := testRecord().Extract(ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if e.Seq != "ACGT--ACGT" {
		t.Errorf("Seq = %q, want ACGT--ACGT", e.Seq)
	}
}

func TestExtractNoOverlap(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		end   int64
		pad   PadMode
		want  string
	}{
		{"after alignment unpadded", 111, 115, PadNone, ""},
		{"before alignment unpadded", 90, 100, PadNone, ""},
		{"after alignment window pad", 111, 115, PadToWindow, "-----"},
		{"before alignment reference pad", 90, 100, PadToReference, strings.Repeat("-", 120)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := testRecord().Extract(ExtractOptions{Start: tt.start, End: tt.end, Pad: tt.pad})
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if e.Seq != tt.want {
				t.Errorf("Seq = %q, want %q", e.Seq, tt.want)
			}
			if len(e.Qual) != len(e.Seq) {
				t.Errorf("Qual length %d != Seq length %d", len(e.Qual), len(e.Seq))
			}
		})
	}
}

func TestExtractClipAndPad(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		end   int64
		pad   PadMode
		want  string
	}{
		{"interior window", 103, 108, PadNone, "GT--AC"},
		{"overlap left edge", 99, 104, PadNone, "ACGT"},
		{"overlap left edge window pad", 99, 104, PadToWindow, "--ACGT"},
		{"overlap right edge window pad", 107, 112, PadToWindow, "ACGT--"},
		{"interior window reference pad", 103, 108, PadToReference,
			strings.Repeat("-", 102) + "GT--AC" + strings.Repeat("-", 12)},
		{"window wider than alignment", 95, 115, PadToWindow,
			"------ACGT--ACGT-----"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := testRecord().Extract(ExtractOptions{Start: tt.start, End: tt.end, Pad: tt.pad})
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if e.Seq != tt.want {
				t.Errorf("Seq = %q, want %q", e.Seq, tt.want)
			}
		})
	}
}

func TestExtractQualityMask(t *testing.T) {
	r := testRecord()
	r.Qual = "II##IIII" // aligned columns G,T carry low quality

	e, err := r.Extract(ExtractOptions{
		Start: 101, End: 110, Pad: PadToWindow,
		QualityCutoff: 20, MaskLowQuality: true,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if e.Seq != "ACNN--ACGT" {
		t.Errorf("Seq = %q, want ACNN--ACGT", e.Seq)
	}
	if e.MaskedBases != 2 {
		t.Errorf("MaskedBases = %d, want 2", e.MaskedBases)
	}
}

func TestExtractGapsNeverMasked(t *testing.T) {
	e, err := testRecord().Extract(ExtractOptions{
		Start: 101, End: 110, Pad: PadToWindow,
		QualityCutoff: 41, MaskLowQuality: true, // above every real score
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if e.Seq != "NNNN--NNNN" {
		t.Errorf("Seq = %q, want NNNN--NNNN", e.Seq)
	}
}

func TestExtractInsertions(t *testing.T) {
	// Insert GG anchored at reference position 104.
	mk := func(qual string) *AlignmentRecord {
		return &AlignmentRecord{
			QName: "read1", Pos: 101, Cigar: "4M2I4M",
			Seq: "ACGTGGACGT", Qual: qual, RefLen: 120,
		}
	}

	t.Run("insert inside window spliced", func(t *testing.T) {
		e, err := mk("IIIIIIIIII").Extract(ExtractOptions{
			Start: 101, End: 108, Pad: PadToWindow, WithInsertions: true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if e.Seq != "ACGTGGACGT" {
			t.Errorf("Seq = %q, want ACGTGGACGT", e.Seq)
		}
		if e.KeptInserts != 1 {
			t.Errorf("KeptInserts = %d, want 1", e.KeptInserts)
		}
	})

	t.Run("anchor at window end excluded", func(t *testing.T) {
		e, err := mk("IIIIIIIIII").Extract(ExtractOptions{
			Start: 101, End: 104, Pad: PadToWindow, WithInsertions: true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if e.Seq != "ACGT" {
			t.Errorf("Seq = %q, want ACGT", e.Seq)
		}
	})

	t.Run("anchor before window excluded", func(t *testing.T) {
		e, err := mk("IIIIIIIIII").Extract(ExtractOptions{
			Start: 105, End: 108, Pad: PadToWindow, WithInsertions: true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if e.Seq != "ACGT" {
			t.Errorf("Seq = %q, want ACGT", e.Seq)
		}
	})

	t.Run("low quality inserted bases dropped", func(t *testing.T) {
		e, err := mk("IIII#IIIII").Extract(ExtractOptions{
			Start: 101, End: 108, Pad: PadToWindow, WithInsertions: true,
			QualityCutoff: 20, MaskLowQuality: true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if e.Seq != "ACGTGACGT" {
			t.Errorf("Seq = %q, want ACGTGACGT", e.Seq)
		}
		if e.DroppedInsertedBases != 1 {
			t.Errorf("DroppedInsertedBases = %d, want 1", e.DroppedInsertedBases)
		}
	})
}

func TestExtractDoesNotMutateRecord(t *testing.T) {
	r := testRecord()
	if _, err := r.Extract(ExtractOptions{Start: 103, End: 108, Pad: PadToWindow}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	d, err := r.Alignment()
	if err != nil {
		t.Fatalf("Alignment() error = %v", err)
	}
	if d.Seq != "ACGT--ACGT" {
		t.Errorf("decoded Seq mutated to %q", d.Seq)
	}
}
