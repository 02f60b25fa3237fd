package sam

import (
	"github.com/winmsa/winmsa/pkg/errors"
)

const (
	// GapChar pads deletions and uncovered reference columns.
	GapChar = '-'

	// gapQual is the placeholder quality for gap columns. Its Phred score
	// is below every usable cutoff; masking skips gap columns anyway.
	gapQual = ' '

	// phredOffset is the Sanger ASCII offset for QUAL characters.
	phredOffset = 33
)

// Phred converts a Sanger-encoded quality character to its Phred score.
func Phred(q byte) int {
	return int(q) - phredOffset
}

// Insert holds bases inserted relative to the reference, with their
// quality characters.
type Insert struct {
	Seq  string
	Qual string
}

// DecodedAlignment is the reference-aligned view of a read: one column per
// reference position covered by the alignment. Deletions, skips and padding
// become gap columns; insertions are excised into Inserts, keyed by the
// 1-based reference position of the base immediately preceding the
// insertion point.
type DecodedAlignment struct {
	Seq     string
	Qual    string
	Inserts map[int64]Insert

	// RefSpan counts reference columns: matches plus deletions,
	// insertions excluded.
	RefSpan int64

	// ReadSpan counts read bases consumed by the alignment: matches plus
	// insertions, deletions excluded. Soft-clipped bases are not counted.
	ReadSpan int64
}

// decodeCigar walks the CIGAR string against seq and qual, producing the
// reference-aligned decoding. pos is the 1-based leftmost reference
// position of the alignment; qname is only used in error context.
func decodeCigar(cigar, seq, qual string, pos int64, qname string) (*DecodedAlignment, error) {
	if cigar == "" || cigar == "*" {
		return nil, errors.New(errors.CodeInvalidFormat, "record has no cigar").
			WithContext("read", qname)
	}
	if len(seq) != len(qual) {
		return nil, errors.New(errors.CodeInvalidFormat, "seq and qual lengths differ").
			WithContext("read", qname).
			WithContext("seq_len", len(seq)).
			WithContext("qual_len", len(qual))
	}

	d := &DecodedAlignment{Inserts: make(map[int64]Insert)}

	var aligned, alignedQual []byte
	readPos := 0     // 0-based cursor into seq/qual
	refPos := pos    // 1-based cursor along the reference
	length := int64(0)
	sawDigit := false

	take := func(n int64) (string, string, bool) {
		end := readPos + int(n)
		if end > len(seq) {
			return "", "", false
		}
		s, q := seq[readPos:end], qual[readPos:end]
		readPos = end
		return s, q, true
	}

	for i := 0; i < len(cigar); i++ {
		c := cigar[i]
		if c >= '0' && c <= '9' {
			length = length*10 + int64(c-'0')
			sawDigit = true
			continue
		}
		if !sawDigit || length == 0 {
			return nil, errors.New(errors.CodeInvalidFormat, "cigar operation without length").
				WithContext("read", qname).
				WithContext("cigar", cigar)
		}

		switch c {
		case 'M', 'X', '=':
			s, q, ok := take(length)
			if !ok {
				return nil, cigarOverrun(qname, cigar)
			}
			aligned = append(aligned, s...)
			alignedQual = append(alignedQual, q...)
			refPos += length
			d.RefSpan += length
			d.ReadSpan += length
		case 'D', 'P', 'N':
			for j := int64(0); j < length; j++ {
				aligned = append(aligned, GapChar)
				alignedQual = append(alignedQual, gapQual)
			}
			d.RefSpan += length
		case 'I':
			s, q, ok := take(length)
			if !ok {
				return nil, cigarOverrun(qname, cigar)
			}
			d.Inserts[refPos-1] = Insert{Seq: s, Qual: q}
			d.ReadSpan += length
		case 'S':
			if _, _, ok := take(length); !ok {
				return nil, cigarOverrun(qname, cigar)
			}
		default:
			return nil, errors.UnsupportedCigarOp(c, qname)
		}
		length = 0
		sawDigit = false
	}
	if sawDigit {
		return nil, errors.New(errors.CodeInvalidFormat, "cigar ends with dangling length").
			WithContext("read", qname).
			WithContext("cigar", cigar)
	}

	d.Seq = string(aligned)
	d.Qual = string(alignedQual)
	return d, nil
}

func cigarOverrun(qname, cigar string) error {
	return errors.New(errors.CodeInvalidFormat, "cigar overruns sequence").
		WithContext("read", qname).
		WithContext("cigar", cigar)
}
