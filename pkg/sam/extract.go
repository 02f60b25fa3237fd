package sam

import (
	"sort"
	"strings"

	"github.com/winmsa/winmsa/pkg/errors"
)

// PadMode selects how an extraction is padded with gap characters.
type PadMode int

const (
	// PadNone returns only the clipped alignment columns.
	PadNone PadMode = iota

	// PadToReference pads the result to the full reference length,
	// placing the clipped columns at their reference offsets.
	PadToReference

	// PadToWindow pads the result to exactly the requested window width.
	PadToWindow
)

// ExtractOptions controls a windowed extraction. Start and End are 1-based
// inclusive reference positions; zero means unset. Leaving both unset
// extracts the whole alignment; setting exactly one is an error.
type ExtractOptions struct {
	Start int64
	End   int64

	Pad PadMode

	// QualityCutoff is the Phred threshold used when MaskLowQuality is
	// set and when filtering inserted bases.
	QualityCutoff int

	// MaskLowQuality replaces aligned bases under the cutoff with 'N'.
	// Gap columns are never masked.
	MaskLowQuality bool

	// WithInsertions re-splices insertions whose anchor lies inside
	// [Start, End).
	WithInsertions bool
}

// Extraction is the result of a windowed extraction. Seq and Qual always
// have equal length.
type Extraction struct {
	Seq  string
	Qual string

	MaskedBases          int
	KeptInserts          int
	DroppedInsertedBases int
}

// Extract slices the reference-aligned read to the window in opts,
// applying quality masking, insertion re-splicing and padding in that
// order. The record is not modified.
func (r *AlignmentRecord) Extract(opts ExtractOptions) (Extraction, error) {
	var out Extraction

	d, err := r.Alignment()
	if err != nil {
		return out, err
	}

	if opts.Start != 0 && opts.End != 0 && opts.Start > opts.End {
		return out, errors.New(errors.CodeInvalidRange, "window start after window end").
			WithContext("start", opts.Start).
			WithContext("end", opts.End)
	}
	if (opts.Start == 0) != (opts.End == 0) {
		return out, errors.New(errors.CodeIncompleteRange, "window needs both start and end, or neither").
			WithContext("start", opts.Start).
			WithContext("end", opts.End)
	}

	seqStart := r.Pos
	seqEnd := r.Pos + d.RefSpan - 1

	// Window entirely outside the aligned span: nothing to clip, only
	// padding can produce output.
	if (opts.Start != 0 && opts.Start > seqEnd) || (opts.End != 0 && opts.End < seqStart) {
		switch opts.Pad {
		case PadToReference:
			if r.RefLen <= 0 {
				return out, errRefLenUnknown(r)
			}
			out.Seq = strings.Repeat(string(GapChar), int(r.RefLen))
			out.Qual = strings.Repeat(string(gapQual), int(r.RefLen))
		case PadToWindow:
			width := int(opts.End - opts.Start + 1)
			out.Seq = strings.Repeat(string(GapChar), width)
			out.Qual = strings.Repeat(string(gapQual), width)
		}
		return out, nil
	}

	effStart, effEnd := opts.Start, opts.End
	if effStart == 0 {
		effStart = 1
	}
	if effEnd == 0 {
		effEnd = r.RefLen
		if effEnd <= 0 {
			effEnd = seqEnd
		}
	}

	// Clip to the overlap of the window and the aligned span.
	start0 := max64(seqStart, effStart) - seqStart
	end0 := d.RefSpan - 1 - (seqEnd - min64(seqEnd, effEnd))
	seq := d.Seq[start0 : end0+1]
	qual := d.Qual[start0 : end0+1]

	if opts.MaskLowQuality {
		masked := []byte(seq)
		for i := 0; i < len(masked); i++ {
			if masked[i] != GapChar && Phred(qual[i]) < opts.QualityCutoff {
				masked[i] = 'N'
				out.MaskedBases++
			}
		}
		seq = string(masked)
	}

	if opts.WithInsertions && len(d.Inserts) > 0 {
		seq, qual = r.spliceInserts(d, seq, qual, effStart, effEnd, opts, &out)
	}

	switch opts.Pad {
	case PadToReference:
		if r.RefLen <= 0 {
			return out, errRefLenUnknown(r)
		}
		left := int(max64(effStart, seqStart) - 1)
		right := int(r.RefLen - min64(seqEnd, effEnd))
		seq = pad(seq, left, right, GapChar)
		qual = pad(qual, left, right, gapQual)
	case PadToWindow:
		left := int(max64(effStart, seqStart) - effStart)
		right := int(effEnd - min64(seqEnd, effEnd))
		seq = pad(seq, left, right, GapChar)
		qual = pad(qual, left, right, gapQual)
	}

	out.Seq = seq
	out.Qual = qual
	return out, nil
}

// windowInserts returns the record's insertions anchored inside
// [start, end), quality-filtered when mask is set. dropped counts inserted
// bases discarded for low quality.
func (r *AlignmentRecord) windowInserts(start, end int64, cutoff int, mask bool) (map[int64]Insert, int) {
	d, err := r.Alignment()
	if err != nil || len(d.Inserts) == 0 {
		return nil, 0
	}

	kept := make(map[int64]Insert)
	dropped := 0
	for p, ins := range d.Inserts {
		if p < start || p >= end {
			continue
		}
		if !mask {
			kept[p] = ins
			continue
		}
		var fs, fq []byte
		for i := 0; i < len(ins.Seq); i++ {
			if Phred(ins.Qual[i]) >= cutoff {
				fs = append(fs, ins.Seq[i])
				fq = append(fq, ins.Qual[i])
			} else {
				dropped++
			}
		}
		if len(fs) > 0 {
			kept[p] = Insert{Seq: string(fs), Qual: string(fq)}
		}
	}
	return kept, dropped
}

// spliceInserts re-inserts the window's insertions into the clipped
// alignment. Anchors must satisfy effStart <= p < effEnd so the inserted
// bases land strictly inside the window.
func (r *AlignmentRecord) spliceInserts(d *DecodedAlignment, seq, qual string, effStart, effEnd int64, opts ExtractOptions, out *Extraction) (string, string) {
	kept, dropped := r.windowInserts(effStart, effEnd, opts.QualityCutoff, opts.MaskLowQuality)
	out.DroppedInsertedBases += dropped
	if len(kept) == 0 {
		return seq, qual
	}

	anchors := make([]int64, 0, len(kept))
	for p := range kept {
		anchors = append(anchors, p)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })

	seqStart := r.Pos
	var sb, qb strings.Builder
	last := -1 // 0-based index into seq of the column before the previous splice
	for _, p := range anchors {
		ins := kept[p]
		at := int(p - max64(seqStart, effStart)) // column the insertion follows
		sb.WriteString(seq[last+1 : at+1])
		qb.WriteString(qual[last+1 : at+1])
		sb.WriteString(ins.Seq)
		qb.WriteString(ins.Qual)
		last = at
		out.KeptInserts++
	}
	sb.WriteString(seq[last+1:])
	qb.WriteString(qual[last+1:])
	return sb.String(), qb.String()
}

func errRefLenUnknown(r *AlignmentRecord) error {
	return errors.New(errors.CodeUnknownReference, "reference length required for padding").
		WithContext("reference", r.RName).
		WithContext("read", r.QName)
}

func pad(s string, left, right int, c byte) string {
	if left <= 0 && right <= 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(left + len(s) + right)
	for i := 0; i < left; i++ {
		sb.WriteByte(c)
	}
	sb.WriteString(s)
	for i := 0; i < right; i++ {
		sb.WriteByte(c)
	}
	return sb.String()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
