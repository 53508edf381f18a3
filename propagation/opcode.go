package propagation

// Opcode names the regime the hybrid model applied to a link.
type Opcode int

const (
	// OpITMHighAntenna: effective transmitter height of 200 m or more.
	OpITMHighAntenna Opcode = iota
	// OpITMRural: rural morphology.
	OpITMRural
	// OpFreeSpace: 100 m or less.
	OpFreeSpace
	// OpInterpolated: between 100 m and 1 km, interpolated in log-distance
	// toward the Extended-Hata loss at 1 km.
	OpInterpolated
	// OpEHata: 1 to 80 km, Extended-Hata predicted the larger loss.
	OpEHata
	// OpITMMax: 1 to 80 km, ITM predicted the larger loss.
	OpITMMax
	// OpITMBeyond80: beyond 80 km, ITM with a transition correction.
	OpITMBeyond80
	// OpInterpolatedITM: between 100 m and 1 km, interpolated toward the ITM
	// loss at 1 km because ITM won the max-mode comparison there.
	OpInterpolatedITM
)

var opcodeNames = [...]string{
	OpITMHighAntenna:  "itm_high_antenna",
	OpITMRural:        "itm_rural",
	OpFreeSpace:       "free_space",
	OpInterpolated:    "interpolated",
	OpEHata:           "ehata",
	OpITMMax:          "itm_max",
	OpITMBeyond80:     "itm_beyond_80km",
	OpInterpolatedITM: "interpolated_itm",
}

func (o Opcode) String() string {
	if o < 0 || int(o) >= len(opcodeNames) {
		return "unknown"
	}
	return opcodeNames[o]
}

// EHata reports whether the loss came from the Extended-Hata median,
// directly or as the 1 km interpolation target. Such losses carry no
// reliability dependence; callers that need one apply Sigma themselves.
func (o Opcode) EHata() bool {
	return o == OpInterpolated || o == OpEHata
}
