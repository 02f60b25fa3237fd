// Package sam parses queryname-sorted SAM alignment streams and extracts
// reference-window slices of reads and read pairs.
package sam

import (
	"strconv"
	"strings"

	"github.com/winmsa/winmsa/pkg/errors"
)

// AlignmentRecord is one alignment line of a SAM file. Pos is the 1-based
// leftmost reference position. RefLen carries the declared length of the
// record's reference, zero when the header did not declare it.
type AlignmentRecord struct {
	QName string
	Flag  Flag
	RName string
	Pos   int64
	MapQ  int
	Cigar string
	RNext string
	PNext int64
	TLen  int64
	Seq   string
	Qual  string

	RefLen int64

	decoded   *DecodedAlignment
	decodeErr error
}

// ParseRecord parses one alignment line. Lines with fewer than 11 fields
// are rejected with errFewFields so callers can skip them; any other
// malformed field is an input format error.
func ParseRecord(line string, refLen int64) (*AlignmentRecord, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < 11 {
		return nil, errFewFields
	}

	flag, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return nil, badField("flag", fields[1], err)
	}
	pos, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, badField("pos", fields[3], err)
	}
	mapq, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, badField("mapq", fields[4], err)
	}
	pnext, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return nil, badField("pnext", fields[7], err)
	}
	tlen, err := strconv.ParseInt(fields[8], 10, 64)
	if err != nil {
		return nil, badField("tlen", fields[8], err)
	}

	return &AlignmentRecord{
		QName:  fields[0],
		Flag:   Flag(flag),
		RName:  fields[2],
		Pos:    pos,
		MapQ:   mapq,
		Cigar:  fields[5],
		RNext:  fields[6],
		PNext:  pnext,
		TLen:   tlen,
		Seq:    fields[9],
		Qual:   fields[10],
		RefLen: refLen,
	}, nil
}

var errFewFields = errors.New(errors.CodeInvalidFormat, "alignment line has fewer than 11 fields")

func badField(name, value string, err error) error {
	return errors.Wrap(err, errors.CodeInvalidFormat, "invalid "+name+" field").
		WithContext("value", value)
}

// Alignment returns the CIGAR decoding of the record. The decode runs at
// most once; every extraction reuses the cached result.
func (r *AlignmentRecord) Alignment() (*DecodedAlignment, error) {
	if r.decoded == nil && r.decodeErr == nil {
		r.decoded, r.decodeErr = decodeCigar(r.Cigar, r.Seq, r.Qual, r.Pos, r.QName)
	}
	return r.decoded, r.decodeErr
}

// Start returns the 1-based reference position of the first aligned column.
func (r *AlignmentRecord) Start() int64 {
	return r.Pos
}

// End returns the 1-based reference position of the last aligned column.
func (r *AlignmentRecord) End() (int64, error) {
	d, err := r.Alignment()
	if err != nil {
		return 0, err
	}
	return r.Pos + d.RefSpan - 1, nil
}

// IsMapped reports whether the record itself is aligned.
func (r *AlignmentRecord) IsMapped() bool {
	return !r.Flag.Has(FlagUnmapped) && r.RName != "*" && r.Pos > 0
}

// MapsTo reports whether the record is aligned to ref. An empty ref
// accepts any reference.
func (r *AlignmentRecord) MapsTo(ref string) bool {
	if !r.IsMapped() {
		return false
	}
	return ref == "" || r.RName == ref
}

// IsPrimary reports whether this is the primary alignment of the read.
func (r *AlignmentRecord) IsPrimary() bool {
	return r.Flag&(FlagSecondary|FlagSupplement) == 0
}

// IsChimeric reports whether the mate aligns to a different reference.
func (r *AlignmentRecord) IsChimeric() bool {
	return r.RNext != "=" && r.RNext != "*" && r.RNext != r.RName
}

// MateMapped reports whether the record expects an aligned mate.
func (r *AlignmentRecord) MateMapped() bool {
	return r.Flag.Has(FlagPaired) && !r.Flag.Has(FlagMateUnmapped) && r.RNext != "*"
}

// MateMapsTo reports whether the expected mate aligns to ref.
func (r *AlignmentRecord) MateMapsTo(ref string) bool {
	if !r.MateMapped() {
		return false
	}
	return ref == "" || r.RNext == "=" || r.RNext == ref
}
