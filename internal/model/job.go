// Package model defines the job and result types shared by the window
// slicer and the work pool.
package model

// WindowJob describes one reference window to extract into a FASTA file.
// Jobs cross process boundaries, so every field is JSON-serializable and
// the whole struct stays well under the pool message ceiling.
type WindowJob struct {
	// ID is the unique job identifier assigned by the planner.
	ID string `json:"id"`

	// SamPath is the queryname-sorted SAM input.
	SamPath string `json:"sam_path"`

	// OutPath is the FASTA file this window writes.
	OutPath string `json:"out_path"`

	// Reference selects reads by RNAME. Empty accepts any reference.
	Reference string `json:"reference,omitempty"`

	// Start and End delimit the window in 1-based reference
	// coordinates, both inclusive.
	Start int64 `json:"start"`
	End   int64 `json:"end"`

	// MapQualityCutoff drops mates whose MAPQ falls below it.
	MapQualityCutoff int `json:"map_quality_cutoff"`

	// QualityCutoff masks aligned bases whose Phred score falls below it.
	QualityCutoff int `json:"quality_cutoff"`

	// MaxAmbiguousFraction caps the N fraction of a written row.
	MaxAmbiguousFraction float64 `json:"max_ambiguous_fraction"`

	// BreadthThreshold is the minimum fraction of the window a row must
	// cover with real bases.
	BreadthThreshold float64 `json:"breadth_threshold"`

	// WithInsertions re-splices insertions anchored inside the window.
	WithInsertions bool `json:"with_insertions,omitempty"`

	// MaskStopCodons replaces in-frame stop codons with NNN.
	MaskStopCodons bool `json:"mask_stop_codons,omitempty"`

	// MinDepth, when positive, flags windows with fewer written rows.
	MinDepth int `json:"min_depth,omitempty"`
}

// WindowResult reports the outcome of one window extraction.
type WindowResult struct {
	JobID     string `json:"job_id"`
	Reference string `json:"reference,omitempty"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`

	// Written counts FASTA rows emitted (or already present on resume).
	Written int `json:"written"`

	// Merged counts read templates merged into window rows before the
	// ambiguity and breadth filters.
	Merged int `json:"merged"`

	// MaskedBases counts aligned bases replaced by N.
	MaskedBases int `json:"masked_bases"`

	// DroppedInsertedBases counts inserted bases discarded for low quality.
	DroppedInsertedBases int `json:"dropped_inserted_bases"`

	// InsertConflicts counts mate pairs that disagreed on an insertion.
	InsertConflicts int `json:"insert_conflicts"`

	// Resumed is true when an existing output file was kept.
	Resumed bool `json:"resumed,omitempty"`

	ElapsedMillis int64 `json:"elapsed_millis"`

	// Err carries the failure text for jobs that errored on the replica.
	Err string `json:"err,omitempty"`
}

// Failed reports whether the job errored on its replica.
func (r WindowResult) Failed() bool {
	return r.Err != ""
}
