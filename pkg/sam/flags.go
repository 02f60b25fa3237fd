package sam

// Flag holds the SAM FLAG field bits.
type Flag uint16

const (
	FlagPaired       Flag = 0x1   // template has multiple segments
	FlagProperPair   Flag = 0x2   // each segment properly aligned
	FlagUnmapped     Flag = 0x4   // segment unmapped
	FlagMateUnmapped Flag = 0x8   // next segment unmapped
	FlagReverse      Flag = 0x10  // SEQ reverse complemented
	FlagMateReverse  Flag = 0x20  // SEQ of next segment reverse complemented
	FlagRead1        Flag = 0x40  // first segment in template
	FlagRead2        Flag = 0x80  // last segment in template
	FlagSecondary    Flag = 0x100 // secondary alignment
	FlagQCFail       Flag = 0x200 // not passing filters
	FlagDuplicate    Flag = 0x400 // PCR or optical duplicate
	FlagSupplement   Flag = 0x800 // supplementary alignment
)

// Has reports whether all bits in mask are set.
func (f Flag) Has(mask Flag) bool {
	return f&mask == mask
}
