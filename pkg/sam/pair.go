package sam

import (
	"sort"
	"strings"

	"github.com/winmsa/winmsa/pkg/errors"
)

// Pair holds the primary alignments of one read template. Mate2 is nil for
// singletons. Both mates share the template's query name.
type Pair struct {
	Mate1 *AlignmentRecord
	Mate2 *AlignmentRecord
}

// NewPair builds a pair from up to two mates. The first non-nil record
// becomes Mate1.
func NewPair(a, b *AlignmentRecord) *Pair {
	if a == nil {
		return &Pair{Mate1: b}
	}
	return &Pair{Mate1: a, Mate2: b}
}

// Name returns the template query name.
func (p *Pair) Name() string {
	return p.Mate1.QName
}

// IsPaired reports whether both mates are present.
func (p *Pair) IsPaired() bool {
	return p.Mate2 != nil
}

// MergeStats carries per-template merge diagnostics.
type MergeStats struct {
	MaskedBases          int
	KeptInserts          int
	DroppedInsertedBases int
	InsertConflicts      int
}

// ExtractWindow merges the mates into a single window row padded to
// exactly the window width (plus any kept insertions). A column is masked
// 'N' only when every mate covering it falls under the quality cutoff;
// when both mates pass and disagree, Mate1 wins. Gap columns are never
// masked.
func (p *Pair) ExtractWindow(opts ExtractOptions) (string, MergeStats, error) {
	var stats MergeStats

	if opts.Start == 0 || opts.End == 0 {
		return "", stats, errors.New(errors.CodeIncompleteRange, "window merge needs explicit start and end").
			WithContext("read", p.Name())
	}
	if opts.Start > opts.End {
		return "", stats, errors.New(errors.CodeInvalidRange, "window start after window end").
			WithContext("read", p.Name())
	}

	if p.Mate2 == nil {
		e, err := p.Mate1.Extract(ExtractOptions{
			Start:          opts.Start,
			End:            opts.End,
			Pad:            PadToWindow,
			QualityCutoff:  opts.QualityCutoff,
			MaskLowQuality: true,
			WithInsertions: opts.WithInsertions,
		})
		if err != nil {
			return "", stats, err
		}
		stats.MaskedBases = e.MaskedBases
		stats.KeptInserts = e.KeptInserts
		stats.DroppedInsertedBases = e.DroppedInsertedBases
		return e.Seq, stats, nil
	}

	// Extract both mates unmasked and without insertions so the columns
	// stay reference-aligned for the merge.
	base := ExtractOptions{Start: opts.Start, End: opts.End, Pad: PadToWindow}
	e1, err := p.Mate1.Extract(base)
	if err != nil {
		return "", stats, err
	}
	e2, err := p.Mate2.Extract(base)
	if err != nil {
		return "", stats, err
	}

	width := int(opts.End - opts.Start + 1)
	merged := make([]byte, width)
	for i := 0; i < width; i++ {
		merged[i] = mergeColumn(e1.Seq[i], e1.Qual[i], e2.Seq[i], e2.Qual[i], opts.QualityCutoff, &stats)
	}

	out := string(merged)
	if opts.WithInsertions {
		out = p.mergeInserts(out, opts, &stats)
	}
	return out, stats, nil
}

// mergeColumn resolves one reference column from the two mates.
func mergeColumn(b1, q1, b2, q2 byte, cutoff int, stats *MergeStats) byte {
	gap1 := b1 == GapChar
	gap2 := b2 == GapChar

	switch {
	case gap1 && gap2:
		return GapChar
	case gap1:
		return maskSingle(b2, q2, cutoff, stats)
	case gap2:
		return maskSingle(b1, q1, cutoff, stats)
	}

	ok1 := Phred(q1) >= cutoff
	ok2 := Phred(q2) >= cutoff
	switch {
	case ok1:
		return b1
	case ok2:
		return b2
	default:
		stats.MaskedBases++
		return 'N'
	}
}

func maskSingle(b, q byte, cutoff int, stats *MergeStats) byte {
	if Phred(q) < cutoff {
		stats.MaskedBases++
		return 'N'
	}
	return b
}

// mergeInserts splices the union of both mates' window insertions into the
// merged row. Anchors shared by both mates agree when the filtered
// sequences match; otherwise Mate1 wins and the conflict is counted.
func (p *Pair) mergeInserts(merged string, opts ExtractOptions, stats *MergeStats) string {
	ins1, drop1 := p.Mate1.windowInserts(opts.Start, opts.End, opts.QualityCutoff, true)
	ins2, drop2 := p.Mate2.windowInserts(opts.Start, opts.End, opts.QualityCutoff, true)
	stats.DroppedInsertedBases += drop1 + drop2

	union := make(map[int64]Insert, len(ins1)+len(ins2))
	for pos, ins := range ins1 {
		union[pos] = ins
	}
	for pos, ins := range ins2 {
		if kept, ok := union[pos]; ok {
			if kept.Seq != ins.Seq {
				stats.InsertConflicts++
			}
			continue
		}
		union[pos] = ins
	}
	if len(union) == 0 {
		return merged
	}

	anchors := make([]int64, 0, len(union))
	for pos := range union {
		anchors = append(anchors, pos)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })

	var sb strings.Builder
	last := -1
	for _, pos := range anchors {
		at := int(pos - opts.Start) // merged row column the insertion follows
		sb.WriteString(merged[last+1 : at+1])
		sb.WriteString(union[pos].Seq)
		last = at
		stats.KeptInserts++
	}
	sb.WriteString(merged[last+1:])
	return sb.String()
}
