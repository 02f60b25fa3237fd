// Package index tracks which windows of a run have finished, one bitmap
// of completed window starts per reference.
package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// WindowIndex records completed window starts per reference. Roaring
// bitmaps keep the set compact even for long references with a dense
// stride, and the index serializes into run checkpoints.
type WindowIndex struct {
	mu sync.RWMutex

	// refs maps reference name -> bitmap of completed window starts
	refs map[string]*roaring.Bitmap
}

// NewWindowIndex creates an empty index.
func NewWindowIndex() *WindowIndex {
	return &WindowIndex{
		refs: make(map[string]*roaring.Bitmap),
	}
}

// MarkDone records a completed window start for the reference.
func (idx *WindowIndex) MarkDone(ref string, start int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	bm, ok := idx.refs[ref]
	if !ok {
		bm = roaring.New()
		idx.refs[ref] = bm
	}
	bm.Add(uint32(start))
}

// IsDone reports whether the window starting at start has completed.
func (idx *WindowIndex) IsDone(ref string, start int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if bm, ok := idx.refs[ref]; ok {
		return bm.Contains(uint32(start))
	}
	return false
}

// DoneCount returns the number of completed windows for the reference.
func (idx *WindowIndex) DoneCount(ref string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if bm, ok := idx.refs[ref]; ok {
		return int(bm.GetCardinality())
	}
	return 0
}

// Pending filters a planned list of window starts down to those not yet
// completed, preserving order.
func (idx *WindowIndex) Pending(ref string, starts []int64) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bm, ok := idx.refs[ref]
	if !ok {
		out := make([]int64, len(starts))
		copy(out, starts)
		return out
	}

	out := make([]int64, 0, len(starts))
	for _, s := range starts {
		if !bm.Contains(uint32(s)) {
			out = append(out, s)
		}
	}
	return out
}

// References returns the names with at least one completed window.
func (idx *WindowIndex) References() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	refs := make([]string, 0, len(idx.refs))
	for ref := range idx.refs {
		refs = append(refs, ref)
	}
	return refs
}

// Clear drops all completed-window state for the reference.
func (idx *WindowIndex) Clear(ref string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.refs, ref)
}

// WriteTo serializes the index to a writer.
// Format: [numRefs:u32]([nameLen:u32][name][bitmap])...
func (idx *WindowIndex) WriteTo(w io.Writer) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var total int64

	numRefs := uint32(len(idx.refs))
	if err := binary.Write(w, binary.LittleEndian, numRefs); err != nil {
		return total, err
	}
	total += 4

	for ref, bm := range idx.refs {
		n, err := writeString(w, ref)
		if err != nil {
			return total, err
		}
		total += int64(n)

		// Serialize the bitmap using its native WriteTo
		nn, err := bm.WriteTo(w)
		if err != nil {
			return total, fmt.Errorf("serialize bitmap for %s: %w", ref, err)
		}
		total += nn
	}

	return total, nil
}

// ReadFrom deserializes an index from a reader, replacing its contents.
func (idx *WindowIndex) ReadFrom(r io.Reader) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var total int64

	var numRefs uint32
	if err := binary.Read(r, binary.LittleEndian, &numRefs); err != nil {
		return total, err
	}
	total += 4

	idx.refs = make(map[string]*roaring.Bitmap, numRefs)

	for i := uint32(0); i < numRefs; i++ {
		ref, n, err := readString(r)
		if err != nil {
			return total, err
		}
		total += int64(n)

		bm := roaring.New()
		nn, err := bm.ReadFrom(r)
		if err != nil {
			return total, fmt.Errorf("deserialize bitmap for %s: %w", ref, err)
		}
		total += nn

		idx.refs[ref] = bm
	}

	return total, nil
}

func writeString(w io.Writer, s string) (int, error) {
	total := 0
	sLen := uint32(len(s))
	if err := binary.Write(w, binary.LittleEndian, sLen); err != nil {
		return total, err
	}
	total += 4
	n, err := w.Write([]byte(s))
	total += n
	return total, err
}

func readString(r io.Reader) (string, int, error) {
	total := 0
	var sLen uint32
	if err := binary.Read(r, binary.LittleEndian, &sLen); err != nil {
		return "", total, err
	}
	total += 4
	buf := make([]byte, sLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", total, err
	}
	total += int(sLen)
	return string(buf), total, nil
}
