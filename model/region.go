package model

import (
	"fmt"
	"strings"
)

// Region is the morphology class used by the hybrid propagation model.
type Region int

const (
	RegionUnknown Region = iota
	RegionUrban
	RegionSuburban
	RegionRural
)

func (r Region) String() string {
	switch r {
	case RegionUrban:
		return "URBAN"
	case RegionSuburban:
		return "SUBURBAN"
	case RegionRural:
		return "RURAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether r is one of the three morphology classes.
func (r Region) Valid() bool {
	return r == RegionUrban || r == RegionSuburban || r == RegionRural
}

// ParseRegion maps a region name to a Region.
func ParseRegion(s string) (Region, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "URBAN":
		return RegionUrban, nil
	case "SUBURBAN":
		return RegionSuburban, nil
	case "RURAL":
		return RegionRural, nil
	default:
		return RegionUnknown, fmt.Errorf("%w: unknown region %q", ErrBadInput, s)
	}
}
