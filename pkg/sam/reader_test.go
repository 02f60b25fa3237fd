package sam

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/winmsa/winmsa/pkg/errors"
)

func writeSam(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.sam")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write sam fixture: %v", err)
	}
	return path
}

func samLine(qname string, flag Flag, rname string, pos int64, mapq int, cigar, rnext string, seq, qual string) string {
	return strings.Join([]string{
		qname, fmt.Sprintf("%d", flag), rname, fmt.Sprintf("%d", pos), fmt.Sprintf("%d", mapq),
		cigar, rnext, "0", "0", seq, qual,
	}, "\t")
}

const (
	hd = "@HD\tVN:1.5\tSO:queryname"
	sq = "@SQ\tSN:ref1\tLN:100"

	flagPair1 = FlagPaired | FlagRead1
	flagPair2 = FlagPaired | FlagRead2
)

func collect(t *testing.T, r *PairReader) []*Pair {
	t.Helper()
	var pairs []*Pair
	for {
		p, err := r.Next()
		if err == io.EOF {
			return pairs
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		pairs = append(pairs, p)
	}
}

func TestOpenValidatesHeader(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"coordinate sorted", []string{"@HD\tVN:1.5\tSO:coordinate", sq}},
		{"missing sort order", []string{"@HD\tVN:1.5", sq}},
		{"no header", []string{samLine("q1", 0, "ref1", 1, 50, "4M", "*", "ACGT", "IIII")}},
		{"empty input", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSam(t, append(tt.lines, "")...)
			_, err := OpenPairReader(path, "ref1", 20, 0, nil)
			if !errors.IsCode(err, errors.CodeNotQuerySorted) {
				t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.CodeNotQuerySorted)
			}
		})
	}
}

func TestOpenResolvesReference(t *testing.T) {
	path := writeSam(t, hd, sq)

	t.Run("declared reference", func(t *testing.T) {
		r, err := OpenPairReader(path, "ref1", 20, 0, nil)
		if err != nil {
			t.Fatalf("OpenPairReader() error = %v", err)
		}
		defer r.Close()
		if r.RefLen() != 100 {
			t.Errorf("RefLen() = %d, want 100", r.RefLen())
		}
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := OpenPairReader(path, "refX", 20, 0, nil)
		if !errors.IsCode(err, errors.CodeUnknownReference) {
			t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.CodeUnknownReference)
		}
	})

	t.Run("explicit length overrides header", func(t *testing.T) {
		r, err := OpenPairReader(path, "refX", 20, 250, nil)
		if err != nil {
			t.Fatalf("OpenPairReader() error = %v", err)
		}
		defer r.Close()
		if r.RefLen() != 250 {
			t.Errorf("RefLen() = %d, want 250", r.RefLen())
		}
	})
}

func TestPairAssembly(t *testing.T) {
	path := writeSam(t, hd, sq,
		samLine("q1", flagPair1, "ref1", 1, 50, "4M", "=", "ACGT", "IIII"),
		samLine("q1", flagPair2, "ref1", 5, 50, "4M", "=", "TTTT", "IIII"),
	)
	r, err := OpenPairReader(path, "ref1", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	pairs := collect(t, r)
	if len(pairs) != 1 {
		t.Fatalf("got %d templates, want 1", len(pairs))
	}
	p := pairs[0]
	if !p.IsPaired() {
		t.Fatal("template not paired")
	}
	if p.Mate1.Pos != 1 || p.Mate2.Pos != 5 {
		t.Errorf("mate positions = %d,%d, want 1,5", p.Mate1.Pos, p.Mate2.Pos)
	}
}

func TestMapqFilters(t *testing.T) {
	tests := []struct {
		name      string
		mapq1     int
		mapq2     int
		wantCount int
		wantMapq  int
	}{
		{"both pass", 50, 60, 1, 0},
		{"first passes", 50, 10, 1, 50},
		{"second passes", 10, 60, 1, 60},
		{"neither passes", 10, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSam(t, hd, sq,
				samLine("q1", flagPair1, "ref1", 1, tt.mapq1, "4M", "=", "ACGT", "IIII"),
				samLine("q1", flagPair2, "ref1", 5, tt.mapq2, "4M", "=", "TTTT", "IIII"),
			)
			r, err := OpenPairReader(path, "ref1", 20, 0, nil)
			if err != nil {
				t.Fatalf("OpenPairReader() error = %v", err)
			}
			defer r.Close()

			pairs := collect(t, r)
			if len(pairs) != tt.wantCount {
				t.Fatalf("got %d templates, want %d", len(pairs), tt.wantCount)
			}
			if tt.wantMapq != 0 {
				p := pairs[0]
				if p.IsPaired() {
					t.Fatal("expected singleton")
				}
				if p.Mate1.MapQ != tt.wantMapq {
					t.Errorf("kept mate mapq = %d, want %d", p.Mate1.MapQ, tt.wantMapq)
				}
			}
		})
	}
}

func TestUnpairedSingleton(t *testing.T) {
	path := writeSam(t, hd, sq,
		samLine("q1", 0, "ref1", 1, 50, "4M", "*", "ACGT", "IIII"),
		samLine("q2", 0, "ref1", 9, 10, "4M", "*", "ACGT", "IIII"),
		samLine("q3", FlagPaired|FlagMateUnmapped, "ref1", 20, 50, "4M", "*", "ACGT", "IIII"),
	)
	r, err := OpenPairReader(path, "ref1", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	pairs := collect(t, r)
	if len(pairs) != 2 {
		t.Fatalf("got %d templates, want 2", len(pairs))
	}
	if pairs[0].Name() != "q1" || pairs[1].Name() != "q3" {
		t.Errorf("names = %s,%s, want q1,q3", pairs[0].Name(), pairs[1].Name())
	}
}

func TestPairingBreakFlushesPending(t *testing.T) {
	path := writeSam(t, hd, sq,
		samLine("q1", flagPair1, "ref1", 1, 50, "4M", "=", "ACGT", "IIII"),
		samLine("q2", flagPair1, "ref1", 9, 50, "4M", "=", "ACGT", "IIII"),
		samLine("q2", flagPair2, "ref1", 13, 50, "4M", "=", "TTTT", "IIII"),
	)
	r, err := OpenPairReader(path, "ref1", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	pairs := collect(t, r)
	if len(pairs) != 2 {
		t.Fatalf("got %d templates, want 2", len(pairs))
	}
	if pairs[0].Name() != "q1" || pairs[0].IsPaired() {
		t.Errorf("first template = %s paired=%v, want q1 singleton", pairs[0].Name(), pairs[0].IsPaired())
	}
	if pairs[1].Name() != "q2" || !pairs[1].IsPaired() {
		t.Errorf("second template = %s paired=%v, want q2 pair", pairs[1].Name(), pairs[1].IsPaired())
	}
	if got := r.Stats().PairingBreaks; got != 1 {
		t.Errorf("PairingBreaks = %d, want 1", got)
	}
}

func TestEOFFlushRespectsMapq(t *testing.T) {
	t.Run("pending passes", func(t *testing.T) {
		path := writeSam(t, hd, sq,
			samLine("q1", flagPair1, "ref1", 1, 50, "4M", "=", "ACGT", "IIII"),
		)
		r, err := OpenPairReader(path, "ref1", 20, 0, nil)
		if err != nil {
			t.Fatalf("OpenPairReader() error = %v", err)
		}
		defer r.Close()
		if pairs := collect(t, r); len(pairs) != 1 {
			t.Fatalf("got %d templates, want 1", len(pairs))
		}
	})

	t.Run("pending fails", func(t *testing.T) {
		path := writeSam(t, hd, sq,
			samLine("q1", flagPair1, "ref1", 1, 5, "4M", "=", "ACGT", "IIII"),
		)
		r, err := OpenPairReader(path, "ref1", 20, 0, nil)
		if err != nil {
			t.Fatalf("OpenPairReader() error = %v", err)
		}
		defer r.Close()
		if pairs := collect(t, r); len(pairs) != 0 {
			t.Fatalf("got %d templates, want 0", len(pairs))
		}
	})
}

func TestThirdPrimaryAlignmentFatal(t *testing.T) {
	path := writeSam(t, hd, sq,
		samLine("q1", flagPair1, "ref1", 1, 50, "4M", "=", "ACGT", "IIII"),
		samLine("q1", flagPair2, "ref1", 5, 50, "4M", "=", "TTTT", "IIII"),
		samLine("q1", flagPair1, "ref1", 9, 50, "4M", "=", "ACGT", "IIII"),
	)
	r, err := OpenPairReader(path, "ref1", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	_, err = r.Next()
	if !errors.IsCode(err, errors.CodeInconsistentPairing) {
		t.Errorf("error code = %v, want %v", errors.GetCode(err), errors.CodeInconsistentPairing)
	}
}

func TestSkipsFilteredRecords(t *testing.T) {
	path := writeSam(t, hd, sq,
		"@PG\tID:aligner",
		samLine("q0", FlagUnmapped, "*", 0, 0, "*", "*", "ACGT", "IIII"),
		samLine("q1", FlagSecondary, "ref1", 1, 50, "4M", "*", "ACGT", "IIII"),
		samLine("q2", FlagSupplement, "ref1", 1, 50, "4M", "*", "ACGT", "IIII"),
		samLine("q3", flagPair1, "ref1", 1, 50, "4M", "ref2", "ACGT", "IIII"),
		"q4\t0\tref1",
		samLine("q5", 0, "ref2", 1, 50, "4M", "*", "ACGT", "IIII"),
		samLine("q6", 0, "ref1", 1, 50, "4M", "*", "ACGT", "IIII"),
	)
	r, err := OpenPairReader(path, "ref1", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	pairs := collect(t, r)
	if len(pairs) != 1 || pairs[0].Name() != "q6" {
		t.Fatalf("got %d templates, want only q6", len(pairs))
	}
	if got := r.Stats().Skipped; got != 6 {
		t.Errorf("Skipped = %d, want 6", got)
	}
}

func TestWildcardReference(t *testing.T) {
	path := writeSam(t, hd, sq, "@SQ\tSN:ref2\tLN:80",
		samLine("q1", 0, "ref1", 1, 50, "4M", "*", "ACGT", "IIII"),
		samLine("q2", 0, "ref2", 1, 50, "4M", "*", "ACGT", "IIII"),
	)
	r, err := OpenPairReader(path, "", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	pairs := collect(t, r)
	if len(pairs) != 2 {
		t.Fatalf("got %d templates, want 2", len(pairs))
	}
	if r.RefLen() != 0 {
		t.Errorf("RefLen() = %d, want 0 in wildcard mode", r.RefLen())
	}
}

func TestScanHeader(t *testing.T) {
	path := writeSam(t, hd, sq, "@SQ\tSN:ref2\tLN:80",
		samLine("q1", 0, "ref1", 1, 50, "4M", "*", "ACGT", "IIII"),
	)
	refs, err := ScanHeader(path)
	if err != nil {
		t.Fatalf("ScanHeader() error = %v", err)
	}
	want := []RefSeq{{Name: "ref1", Length: 100}, {Name: "ref2", Length: 80}}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d", len(refs), len(want))
	}
	for i, r := range refs {
		if r != want[i] {
			t.Errorf("refs[%d] = %+v, want %+v", i, r, want[i])
		}
	}
}

func TestScanHeaderRejectsUnsorted(t *testing.T) {
	path := writeSam(t, "@HD\tVN:1.5\tSO:coordinate", sq)
	if _, err := ScanHeader(path); err == nil {
		t.Fatal("expected sort order error")
	}
}

func TestGzipInput(t *testing.T) {
	lines := []string{hd, sq,
		samLine("q1", flagPair1, "ref1", 1, 50, "4M", "=", "ACGT", "IIII"),
		samLine("q1", flagPair2, "ref1", 5, 50, "4M", "=", "TTTT", "IIII"),
	}
	path := filepath.Join(t.TempDir(), "in.sam.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}

	r, err := OpenPairReader(path, "ref1", 20, 0, nil)
	if err != nil {
		t.Fatalf("OpenPairReader() error = %v", err)
	}
	defer r.Close()

	pairs := collect(t, r)
	if len(pairs) != 1 || !pairs[0].IsPaired() {
		t.Fatalf("got %d templates, want 1 pair", len(pairs))
	}
}
