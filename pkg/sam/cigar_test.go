package sam

import (
	"testing"

	"github.com/winmsa/winmsa/pkg/errors"
)

func TestDecodeCigar(t *testing.T) {
	tests := []struct {
		name     string
		cigar    string
		seq      string
		qual     string
		pos      int64
		wantSeq  string
		wantQual string
		wantRef  int64
		wantRead int64
	}{
		{
			name:  "all match",
			cigar: "8M", seq: "ACGTACGT", qual: "IIIIIIII", pos: 1,
			wantSeq: "ACGTACGT", wantQual: "IIIIIIII", wantRef: 8, wantRead: 8,
		},
		{
			name:  "match mismatch equal mix",
			cigar: "4M2X2=", seq: "ACGTACGT", qual: "IIIIIIII", pos: 1,
			wantSeq: "ACGTACGT", wantQual: "IIIIIIII", wantRef: 8, wantRead: 8,
		},
		{
			name:  "deletion pads gaps",
			cigar: "2M3D2M", seq: "ACGT", qual: "IIII", pos: 1,
			wantSeq: "AC---GT", wantQual: "II   II", wantRef: 7, wantRead: 4,
		},
		{
			name:  "skip and pad ops gap like deletions",
			cigar: "2M2N2P2M", seq: "ACGT", qual: "IIII", pos: 1,
			wantSeq: "AC----GT", wantQual: "II    II", wantRef: 8, wantRead: 4,
		},
		{
			name:  "soft clips consumed silently",
			cigar: "2S4M2S", seq: "ttACGTtt", qual: "##IIII##", pos: 1,
			wantSeq: "ACGT", wantQual: "IIII", wantRef: 4, wantRead: 4,
		},
		{
			name:  "insertion excised from alignment",
			cigar: "3M2I3M", seq: "ACGTTACG", qual: "IIIIIIII", pos: 10,
			wantSeq: "ACGACG", wantQual: "IIIIII", wantRef: 6, wantRead: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decodeCigar(tt.cigar, tt.seq, tt.qual, tt.pos, "read1")
			if err != nil {
				t.Fatalf("decodeCigar() error = %v", err)
			}
			if d.Seq != tt.wantSeq {
				t.Errorf("Seq = %q, want %q", d.Seq, tt.wantSeq)
			}
			if d.Qual != tt.wantQual {
				t.Errorf("Qual = %q, want %q", d.Qual, tt.wantQual)
			}
			if d.RefSpan != tt.wantRef {
				t.Errorf("RefSpan = %d, want %d", d.RefSpan, tt.wantRef)
			}
			if d.ReadSpan != tt.wantRead {
				t.Errorf("ReadSpan = %d, want %d", d.ReadSpan, tt.wantRead)
			}
		})
	}
}

func TestDecodeCigarInsertAnchor(t *testing.T) {
	// Insertion after the 3rd aligned column of a read starting at 10:
	// the anchor is reference position 12.
	d, err := decodeCigar("3M2I3M", "ACGTTACG", "IIII#III", 10, "read1")
	if err != nil {
		t.Fatalf("decodeCigar() error = %v", err)
	}
	ins, ok := d.Inserts[12]
	if !ok {
		t.Fatalf("Inserts missing anchor 12, got %v", d.Inserts)
	}
	if ins.Seq != "TT" || ins.Qual != "I#" {
		t.Errorf("insert = %+v, want Seq=TT Qual=I#", ins)
	}
}

func TestDecodeCigarErrors(t *testing.T) {
	tests := []struct {
		name     string
		cigar    string
		seq      string
		qual     string
		wantCode errors.Code
	}{
		{"hard clip unsupported", "2H4M", "ACGT", "IIII", errors.CodeUnsupportedCigarOp},
		{"unknown op", "4M1B", "ACGT", "IIII", errors.CodeUnsupportedCigarOp},
		{"op without length", "M", "ACGT", "IIII", errors.CodeInvalidFormat},
		{"dangling length", "4M3", "ACGT", "IIII", errors.CodeInvalidFormat},
		{"overruns sequence", "10M", "ACGT", "IIII", errors.CodeInvalidFormat},
		{"missing cigar", "*", "ACGT", "IIII", errors.CodeInvalidFormat},
		{"qual length mismatch", "4M", "ACGT", "II", errors.CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCigar(tt.cigar, tt.seq, tt.qual, 1, "read1")
			if err == nil {
				t.Fatal("decodeCigar() expected error, got nil")
			}
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("error code = %v, want %v (err: %v)", errors.GetCode(err), tt.wantCode, err)
			}
		})
	}
}

func TestAlignmentMemoized(t *testing.T) {
	r := &AlignmentRecord{
		QName: "read1", Pos: 1, Cigar: "4M", Seq: "ACGT", Qual: "IIII",
	}
	first, err := r.Alignment()
	if err != nil {
		t.Fatalf("Alignment() error = %v", err)
	}
	second, err := r.Alignment()
	if err != nil {
		t.Fatalf("Alignment() second call error = %v", err)
	}
	if first != second {
		t.Error("Alignment() decoded twice, want memoized result")
	}
}

func TestRecordEnd(t *testing.T) {
	r := &AlignmentRecord{
		QName: "read1", Pos: 101, Cigar: "4M2D4M", Seq: "ACGTACGT", Qual: "IIIIIIII",
	}
	end, err := r.End()
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if end != 110 {
		t.Errorf("End() = %d, want 110", end)
	}
}
