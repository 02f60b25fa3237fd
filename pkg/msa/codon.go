package msa

// stop codons in the standard genetic code
var stopCodons = map[string]bool{
	"TAA": true,
	"TAG": true,
	"TGA": true,
}

// MaskStopCodons replaces in-frame stop codons with NNN and returns the
// masked sequence with the number of codons masked. The frame starts at
// the first character; a trailing partial codon is left untouched. Codon
// models downstream reject stop codons, so they are hidden the same way
// low-quality bases are.
func MaskStopCodons(seq string) (string, int) {
	if len(seq) < 3 {
		return seq, 0
	}

	var out []byte
	masked := 0
	for i := 0; i+3 <= len(seq); i += 3 {
		if stopCodons[seq[i:i+3]] {
			if out == nil {
				out = []byte(seq)
			}
			out[i], out[i+1], out[i+2] = 'N', 'N', 'N'
			masked++
		}
	}
	if out == nil {
		return seq, 0
	}
	return string(out), masked
}
