package model

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// MonitorType says how a DPA's incumbent activity is detected.
type MonitorType string

const (
	MonitorESC    MonitorType = "esc"
	MonitorPortal MonitorType = "portal"
)

// ParseMonitorType accepts "esc" or "portal" in any case.
func ParseMonitorType(s string) (MonitorType, error) {
	switch MonitorType(strings.ToLower(strings.TrimSpace(s))) {
	case MonitorESC:
		return MonitorESC, nil
	case MonitorPortal:
		return MonitorPortal, nil
	default:
		return "", fmt.Errorf("%w: unknown monitor type %q", ErrBadInput, s)
	}
}

// NeighborDistances are the neighborhood radii in km per CBSD category and
// in-band / out-of-band relation to the protected channel.
type NeighborDistances struct {
	CatAInBandKm    float64 `json:"catA" mapstructure:"cat_a"`
	CatBInBandKm    float64 `json:"catB" mapstructure:"cat_b"`
	CatAOutOfBandKm float64 `json:"catAOOB" mapstructure:"cat_a_oob"`
	CatBOutOfBandKm float64 `json:"catBOOB" mapstructure:"cat_b_oob"`
}

// DefaultNeighborDistances are the DPA neighborhood radii used when a
// definition does not override them.
var DefaultNeighborDistances = NeighborDistances{
	CatAInBandKm:    150,
	CatBInBandKm:    200,
	CatAOutOfBandKm: 0,
	CatBOutOfBandKm: 25,
}

// For returns the distance that applies to a grant of category cat.
func (n NeighborDistances) For(cat CbsdCategory, inBand bool) float64 {
	switch {
	case cat == CategoryA && inBand:
		return n.CatAInBandKm
	case cat == CategoryA:
		return n.CatAOutOfBandKm
	case inBand:
		return n.CatBInBandKm
	default:
		return n.CatBOutOfBandKm
	}
}

// Max returns the largest of the four radii.
func (n NeighborDistances) Max() float64 {
	return max(n.CatAInBandKm, n.CatBInBandKm, n.CatAOutOfBandKm, n.CatBOutOfBandKm)
}

// AzimuthRange is the radar pointing sector, degrees clockwise from north.
type AzimuthRange struct {
	Min float64
	Max float64
}

// DpaDefinition describes a DPA as delivered by the incumbent records layer.
// Zero-valued radar and threshold fields take the package defaults of the
// DPA manager.
type DpaDefinition struct {
	Name     string
	Geometry orb.Geometry

	// ProtectedPoints overrides the points derived from Geometry.
	ProtectedPoints []ProtectionPoint

	ThresholdDbm      *float64
	RadarHeight       float64
	Beamwidth         float64
	AzimuthRange      *AzimuthRange
	NeighborDistances *NeighborDistances

	FreqRanges  []FreqRange
	MonitorType MonitorType

	// ProtectionZone restricts Cat-A CBSDs to those inside it. Nil means no
	// restriction.
	ProtectionZone orb.Geometry
}
