// Package msa builds windowed multiple sequence alignments from aligned
// short reads and writes them as FASTA files safe for tree builders.
package msa

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/winmsa/winmsa/pkg/errors"
)

// treeUnsafeChars rewrites characters Newick parsers treat as syntax.
var treeUnsafeChars = strings.NewReplacer(
	":", "_",
	";", "_",
	"(", "_",
	")", "_",
	"[", "_",
	"]", "_",
)

// SanitizeName makes a sequence name safe for Newick tree files.
func SanitizeName(name string) string {
	return treeUnsafeChars.Replace(name)
}

// WriteFilter decides whether a window row carries enough signal to keep.
type WriteFilter struct {
	// MaxAmbiguousFraction caps the fraction of N characters.
	MaxAmbiguousFraction float64

	// BreadthThreshold is the minimum fraction of real bases; N and gap
	// characters both count against it.
	BreadthThreshold float64
}

// Accepts reports whether seq passes both thresholds. Empty rows never
// pass.
func (f WriteFilter) Accepts(seq string) bool {
	if len(seq) == 0 {
		return false
	}
	n := float64(strings.Count(seq, "N"))
	gaps := float64(strings.Count(seq, "-"))
	width := float64(len(seq))
	return n/width <= f.MaxAmbiguousFraction && (n+gaps)/width <= 1.0-f.BreadthThreshold
}

// Writer appends FASTA records to a file.
type Writer struct {
	f       *os.File
	w       *bufio.Writer
	written int
}

// NewWriter creates path, truncating any existing content.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "create fasta output").
			WithContext("path", path)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// Write emits one record with a sanitized name.
func (w *Writer) Write(name, seq string) error {
	if _, err := w.w.WriteString(">" + SanitizeName(name) + "\n" + seq + "\n"); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "write fasta record").
			WithContext("name", name)
	}
	w.written++
	return nil
}

// WriteFiltered emits the record only when it passes the filter and
// reports whether it was written.
func (w *Writer) WriteFiltered(name, seq string, filter WriteFilter) (bool, error) {
	if !filter.Accepts(seq) {
		return false, nil
	}
	if err := w.Write(name, seq); err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int {
	return w.written
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return errors.Wrap(err, errors.CodeWriteFailed, "flush fasta output")
	}
	return w.f.Close()
}

// Record is one FASTA entry.
type Record struct {
	Name string
	Seq  string
}

// Reader streams records out of a FASTA file.
type Reader struct {
	f    *os.File
	sc   *bufio.Scanner
	name string
	seq  strings.Builder
	done bool
}

// OpenReader opens a FASTA file for streaming.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeFileNotFound, "open fasta input").
			WithContext("path", path)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{f: f, sc: sc}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}
	for r.sc.Scan() {
		line := strings.TrimSpace(r.sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if r.name != "" {
				rec := Record{Name: r.name, Seq: r.seq.String()}
				r.name = strings.TrimSpace(line[1:])
				r.seq.Reset()
				return rec, nil
			}
			r.name = strings.TrimSpace(line[1:])
			continue
		}
		r.seq.WriteString(line)
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, errors.Wrap(err, errors.CodeInvalidFormat, "read fasta input")
	}
	r.done = true
	if r.name != "" {
		return Record{Name: r.name, Seq: r.seq.String()}, nil
	}
	return Record{}, io.EOF
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// CountSequences counts the records in an existing FASTA file. It backs
// the resume path, where an existing window file is kept and only its
// row count is reported.
func CountSequences(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeFileNotFound, "open fasta for counting").
			WithContext("path", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), ">") {
			count++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, errors.Wrap(err, errors.CodeInvalidFormat, "count fasta records").
			WithContext("path", path)
	}
	return count, nil
}

// SliceFasta cuts the column range [start, end] (1-based, inclusive) out
// of an already-aligned FASTA and writes the surviving rows to outPath.
// Rows shorter than start are dropped; rows crossing end are clipped.
func SliceFasta(inPath, outPath string, start, end int64, filter WriteFilter) (int, error) {
	if start <= 0 || end <= 0 || start > end {
		return 0, errors.New(errors.CodeInvalidRange, "invalid fasta slice range").
			WithContext("start", start).
			WithContext("end", end)
	}

	in, err := OpenReader(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := NewWriter(outPath)
	if err != nil {
		return 0, err
	}

	for {
		rec, err := in.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return 0, err
		}
		if int64(len(rec.Seq)) < start {
			continue
		}
		hi := min64(end, int64(len(rec.Seq)))
		if _, err := out.WriteFiltered(rec.Name, rec.Seq[start-1:hi], filter); err != nil {
			out.Close()
			return 0, err
		}
	}

	written := out.Count()
	if err := out.Close(); err != nil {
		return 0, err
	}
	return written, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
