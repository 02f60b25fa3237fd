package sam

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/winmsa/winmsa/pkg/errors"
	"github.com/winmsa/winmsa/pkg/util"
)

const (
	headerPrefix    = "@"
	headerLine      = "@HD"
	refSeqLine      = "@SQ"
	sortOrderKey    = "SO"
	refNameKey      = "SN"
	refLenKey       = "LN"
	queryNameSorted = "queryname"
)

// maxLineSize bounds one SAM line; long-read quality strings can be large.
const maxLineSize = 4 * 1024 * 1024

// ReaderStats counts what the reader saw and skipped.
type ReaderStats struct {
	Records       int
	Skipped       int
	PairingBreaks int
}

// PairReader streams read templates out of a queryname-sorted SAM file.
// Consecutive records sharing a query name are joined into pairs; records
// whose mate never arrives are emitted as singletons when their mapping
// quality passes the cutoff.
type PairReader struct {
	path   string
	ref    string
	mapQ   int
	refLen int64
	logger *slog.Logger

	closer func() error
	sc     *bufio.Scanner
	peeked *string

	pending  *AlignmentRecord
	lastPair string
	queue    []*Pair
	line     int
	stats    ReaderStats
	done     bool
}

// OpenPairReader opens path and validates its header. Gzip-compressed
// inputs (.gz) are decompressed transparently. ref selects the target
// reference; empty accepts any. refLen overrides the header's declared
// reference length when non-zero. The header must declare queryname sort
// order, and a named ref must appear in an @SQ line unless refLen is
// given.
func OpenPairReader(path, ref string, mapQCutoff int, refLen int64, logger *slog.Logger) (*PairReader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	in, closer, err := util.OpenFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeFileNotFound, "open sam input").
			WithContext("path", path)
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	r := &PairReader{
		path:   path,
		ref:    ref,
		mapQ:   mapQCutoff,
		refLen: refLen,
		logger: logger.With("component", "sam"),
		closer: closer,
		sc:     sc,
	}
	if err := r.readHeader(); err != nil {
		closer()
		return nil, err
	}
	return r, nil
}

// readHeader consumes the header block, checks the sort order and
// resolves the reference length. The first alignment line, if reached, is
// held for Next.
func (r *PairReader) readHeader() error {
	refLens := make(map[string]int64)
	sawHD := false

	for r.sc.Scan() {
		r.line++
		line := r.sc.Text()

		if !strings.HasPrefix(line, headerPrefix) {
			r.peeked = &line
			break
		}

		if r.line == 1 {
			if !strings.HasPrefix(line, headerLine) {
				return errors.NotQuerySorted(r.path, "missing @HD")
			}
			so := headerTag(line, sortOrderKey)
			if so != queryNameSorted {
				return errors.NotQuerySorted(r.path, so)
			}
			sawHD = true
			continue
		}

		if strings.HasPrefix(line, refSeqLine) {
			name := headerTag(line, refNameKey)
			if ln, err := strconv.ParseInt(headerTag(line, refLenKey), 10, 64); err == nil && name != "" {
				refLens[name] = ln
			}
		}
	}
	if err := r.sc.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInvalidFormat, "read sam header").
			WithContext("path", r.path)
	}
	if !sawHD {
		return errors.NotQuerySorted(r.path, "empty input")
	}

	if r.refLen == 0 && r.ref != "" {
		ln, ok := refLens[r.ref]
		if !ok {
			return errors.UnknownReference(r.ref).WithContext("path", r.path)
		}
		r.refLen = ln
	}
	return nil
}

// headerTag extracts the value of a KEY:VALUE tag from a header line.
func headerTag(line, key string) string {
	for _, tag := range strings.Split(line, "\t")[1:] {
		kv := strings.SplitN(tag, ":", 2)
		if len(kv) == 2 && kv[0] == key {
			return kv[1]
		}
	}
	return ""
}

// RefSeq is one @SQ reference declaration from a SAM header.
type RefSeq struct {
	Name   string
	Length int64
}

// ScanHeader reads only the header block of path. It validates the
// queryname sort order and returns the declared references in header
// order, so planners can size windows without streaming alignments.
func ScanHeader(path string) ([]RefSeq, error) {
	in, closer, err := util.OpenFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeFileNotFound, "open sam input").
			WithContext("path", path)
	}
	defer closer()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var refs []RefSeq
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if !strings.HasPrefix(text, headerPrefix) {
			break
		}
		if line == 1 {
			if !strings.HasPrefix(text, headerLine) {
				return nil, errors.NotQuerySorted(path, "missing @HD")
			}
			if so := headerTag(text, sortOrderKey); so != queryNameSorted {
				return nil, errors.NotQuerySorted(path, so)
			}
			continue
		}
		if strings.HasPrefix(text, refSeqLine) {
			name := headerTag(text, refNameKey)
			if ln, err := strconv.ParseInt(headerTag(text, refLenKey), 10, 64); err == nil && name != "" {
				refs = append(refs, RefSeq{Name: name, Length: ln})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidFormat, "read sam header").
			WithContext("path", path)
	}
	if line == 0 {
		return nil, errors.NotQuerySorted(path, "empty input")
	}
	return refs, nil
}

// RefLen returns the resolved reference length, zero when unresolved.
func (r *PairReader) RefLen() int64 {
	return r.refLen
}

// Stats returns reader counters.
func (r *PairReader) Stats() ReaderStats {
	return r.stats
}

// Close releases the underlying file.
func (r *PairReader) Close() error {
	return r.closer()
}

// Next returns the next template. It returns io.EOF after the final
// template, including the flushed trailing singleton.
func (r *PairReader) Next() (*Pair, error) {
	if len(r.queue) > 0 {
		p := r.queue[0]
		r.queue = r.queue[1:]
		return p, nil
	}
	if r.done {
		return nil, io.EOF
	}

	for {
		line, ok := r.readLine()
		if !ok {
			if err := r.sc.Err(); err != nil {
				return nil, errors.Wrap(err, errors.CodeInvalidFormat, "read sam input").
					WithContext("path", r.path)
			}
			r.done = true
			if r.pending != nil && r.pending.MapQ >= r.mapQ {
				p := NewPair(r.pending, nil)
				r.pending = nil
				return p, nil
			}
			r.pending = nil
			return nil, io.EOF
		}

		if strings.HasPrefix(line, headerPrefix) {
			continue
		}

		rec, err := ParseRecord(line, r.refLen)
		if err != nil {
			if err == errFewFields {
				r.logger.Warn("skipping short alignment line",
					"path", r.path, "line", r.line)
				r.stats.Skipped++
				continue
			}
			return nil, errors.Wrap(err, errors.CodeInvalidFormat, "parse alignment line").
				WithContext("path", r.path).
				WithContext("line", r.line)
		}
		r.stats.Records++

		if !rec.MapsTo(r.ref) || !rec.IsPrimary() {
			r.stats.Skipped++
			continue
		}
		if rec.IsChimeric() {
			r.logger.Warn("skipping chimeric alignment",
				"read", rec.QName, "rname", rec.RName, "rnext", rec.RNext)
			r.stats.Skipped++
			continue
		}

		if pair, err := r.step(rec); err != nil {
			return nil, err
		} else if pair != nil {
			return pair, nil
		}
	}
}

// step feeds one accepted record into the pairing state machine and
// returns an emitted template, if any.
func (r *PairReader) step(rec *AlignmentRecord) (*Pair, error) {
	if rec.QName == r.lastPair {
		return nil, errors.InconsistentPairing(rec.QName, "more than two primary alignments for template")
	}

	if r.pending == nil {
		return r.hold(rec), nil
	}

	if !r.pending.MateMapsTo(r.ref) {
		return nil, errors.InconsistentPairing(r.pending.QName, "held record no longer expects a mate")
	}

	if r.pending.QName == rec.QName {
		if !rec.MateMapsTo(r.ref) {
			return nil, errors.InconsistentPairing(rec.QName, "mate claims its pair is unmapped")
		}
		pending := r.pending
		r.pending = nil
		r.lastPair = rec.QName

		switch {
		case pending.MapQ >= r.mapQ && rec.MapQ >= r.mapQ:
			return NewPair(pending, rec), nil
		case pending.MapQ >= r.mapQ:
			return NewPair(pending, nil), nil
		case rec.MapQ >= r.mapQ:
			return NewPair(rec, nil), nil
		default:
			return nil, nil
		}
	}

	// The held record's mate never arrived.
	r.stats.PairingBreaks++
	r.logger.Warn("pairing break: expected mate not adjacent",
		"expected", r.pending.QName, "got", rec.QName)

	var flushed *Pair
	if r.pending.MapQ >= r.mapQ {
		flushed = NewPair(r.pending, nil)
	}
	r.pending = nil

	emitted := r.hold(rec)
	if flushed == nil {
		return emitted, nil
	}
	if emitted != nil {
		r.queue = append(r.queue, emitted)
	}
	return flushed, nil
}

// hold either retains a record that expects a mate or emits it as a
// singleton when it passes the mapping quality cutoff.
func (r *PairReader) hold(rec *AlignmentRecord) *Pair {
	if rec.MateMapped() {
		r.pending = rec
		return nil
	}
	if rec.MapQ >= r.mapQ {
		return NewPair(rec, nil)
	}
	return nil
}

func (r *PairReader) readLine() (string, bool) {
	if r.peeked != nil {
		line := *r.peeked
		r.peeked = nil
		return line, true
	}
	if !r.sc.Scan() {
		return "", false
	}
	r.line++
	return r.sc.Text(), true
}
