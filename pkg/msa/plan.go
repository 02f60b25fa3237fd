package msa

import (
	"fmt"

	"github.com/winmsa/winmsa/pkg/errors"
)

// Window is one planned reference slice, 1-based inclusive on both ends.
type Window struct {
	Start int64
	End   int64
}

// Width returns the window width in reference columns.
func (w Window) Width() int64 {
	return w.End - w.Start + 1
}

// Name renders the window for file names and logs, e.g. "301_600".
func (w Window) Name() string {
	return fmt.Sprintf("%d_%d", w.Start, w.End)
}

// Plan slides full-width windows across [1, refLen]. Starts step by
// stride and always satisfy (start-1) % 3 == 0 so every window opens on a
// codon boundary; a trailing partial window is not produced. Downstream
// codon models need the frame, so the stride must be a codon multiple.
func Plan(refLen, width, stride int64) ([]Window, error) {
	if refLen <= 0 {
		return nil, errors.New(errors.CodeInvalidRange, "reference length required for window planning").
			WithContext("ref_len", refLen)
	}
	if width <= 0 || width > refLen {
		return nil, errors.New(errors.CodeInvalidRange, "window width out of range").
			WithContext("width", width).
			WithContext("ref_len", refLen)
	}
	if stride <= 0 || stride%3 != 0 {
		return nil, errors.New(errors.CodeInvalidRange, "window stride must be a positive codon multiple").
			WithContext("stride", stride)
	}

	var windows []Window
	for start := int64(1); start+width-1 <= refLen; start += stride {
		windows = append(windows, Window{Start: start, End: start + width - 1})
	}
	return windows, nil
}
