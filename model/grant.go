package model

import (
	"fmt"
	"math"
	"strings"
)

// CbsdCategory is the FCC device category of a CBSD.
type CbsdCategory int

const (
	CategoryA CbsdCategory = iota
	CategoryB
)

func (c CbsdCategory) String() string {
	if c == CategoryB {
		return "B"
	}
	return "A"
}

// ParseCategory maps "A"/"B" to a CbsdCategory.
func ParseCategory(s string) (CbsdCategory, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return CategoryA, nil
	case "B":
		return CategoryB, nil
	default:
		return CategoryA, fmt.Errorf("%w: unknown cbsd category %q", ErrBadGrant, s)
	}
}

const (
	MinHeightAGL = 1.0
	MaxHeightAGL = 1000.0
)

// Grant is an immutable description of one CBSD authorization. Heights are
// always above ground level. A Grant is comparable and can key a map.
type Grant struct {
	ID string

	Latitude  float64
	Longitude float64
	HeightAGL float64

	IndoorDeployment bool
	Category         CbsdCategory

	AntennaAzimuth   float64 // degrees clockwise from true north
	AntennaBeamwidth float64 // degrees; 0 or 360 means omnidirectional
	AntennaGain      float64 // dBi peak

	MaxEirp float64 // dBm/MHz

	LowFrequency  float64 // Hz
	HighFrequency float64 // Hz

	IsManagedGrant bool
}

// Key returns the identity key used to memoize Monte-Carlo draws.
func (g Grant) Key() CbsdKey {
	return CbsdKey{
		Latitude:       g.Latitude,
		Longitude:      g.Longitude,
		AntennaAzimuth: g.AntennaAzimuth,
		Category:       g.Category,
		Indoor:         g.IndoorDeployment,
	}
}

// OverlapMHz is the width in MHz of the intersection between the grant and ch.
func (g Grant) OverlapMHz(ch Channel) float64 {
	lo := math.Max(g.LowFrequency/1e6, ch.LowMHz)
	hi := math.Min(g.HighFrequency/1e6, ch.HighMHz)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Validate checks the ranges the propagation and interference layers rely on.
func (g Grant) Validate() error {
	for _, v := range []float64{g.Latitude, g.Longitude, g.HeightAGL, g.AntennaAzimuth, g.AntennaBeamwidth, g.AntennaGain, g.MaxEirp} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: grant %q has non-finite field", ErrBadGrant, g.ID)
		}
	}
	if math.Abs(g.Latitude) > 90 || math.Abs(g.Longitude) > 180 {
		return fmt.Errorf("%w: grant %q position (%f, %f)", ErrBadGrant, g.ID, g.Latitude, g.Longitude)
	}
	if g.HeightAGL < MinHeightAGL || g.HeightAGL > MaxHeightAGL {
		return fmt.Errorf("%w: grant %q height %.1f m AGL outside [%g, %g]", ErrBadInput, g.ID, g.HeightAGL, MinHeightAGL, MaxHeightAGL)
	}
	if g.HighFrequency <= g.LowFrequency || g.LowFrequency <= 0 {
		return fmt.Errorf("%w: grant %q frequency range [%g, %g] Hz", ErrBadGrant, g.ID, g.LowFrequency, g.HighFrequency)
	}
	if g.AntennaBeamwidth < 0 || g.AntennaBeamwidth > 360 {
		return fmt.Errorf("%w: grant %q beamwidth %g", ErrBadGrant, g.ID, g.AntennaBeamwidth)
	}
	return nil
}

// CbsdKey identifies a CBSD for interference memoization: two grants on the
// same device at the same place share their random draws.
type CbsdKey struct {
	Latitude       float64
	Longitude      float64
	AntennaAzimuth float64
	Category       CbsdCategory
	Indoor         bool
}

// HeightType says how a grant record expresses its antenna height.
type HeightType string

const (
	HeightAGL  HeightType = "AGL"
	HeightAMSL HeightType = "AMSL"
)

// ElevationSource returns terrain altitude in metres at a location.
type ElevationSource interface {
	Elevation(lat, lon float64) (float64, error)
}

// GrantRecord is the ingest shape of a grant, as produced by the registration
// adapter. It is converted to a Grant with ToGrant.
type GrantRecord struct {
	ID               string     `json:"id"`
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	Height           float64    `json:"height"`
	HeightType       HeightType `json:"heightType"`
	IndoorDeployment bool       `json:"indoorDeployment"`
	Category         string     `json:"cbsdCategory"`
	AntennaAzimuth   float64    `json:"antennaAzimuth"`
	AntennaBeamwidth float64    `json:"antennaBeamwidth"`
	AntennaGain      float64    `json:"antennaGain"`
	MaxEirp          float64    `json:"maxEirp"`
	LowFrequency     float64    `json:"lowFrequency"`
	HighFrequency    float64    `json:"highFrequency"`
	IsManagedGrant   bool       `json:"isManagedGrant"`
}

// ToGrant normalizes the record to AGL and validates it. elev is only
// consulted for AMSL records.
func (r GrantRecord) ToGrant(elev ElevationSource) (Grant, error) {
	cat, err := ParseCategory(r.Category)
	if err != nil {
		return Grant{}, fmt.Errorf("grant %q: %w", r.ID, err)
	}

	height := r.Height
	switch HeightType(strings.ToUpper(string(r.HeightType))) {
	case HeightAGL, "":
	case HeightAMSL:
		if elev == nil {
			return Grant{}, fmt.Errorf("%w: grant %q has AMSL height and no terrain source", ErrBadGrant, r.ID)
		}
		ground, err := elev.Elevation(r.Latitude, r.Longitude)
		if err != nil {
			return Grant{}, fmt.Errorf("grant %q: terrain lookup: %w", r.ID, err)
		}
		height -= ground
	default:
		return Grant{}, fmt.Errorf("%w: grant %q height type %q", ErrBadGrant, r.ID, r.HeightType)
	}

	g := Grant{
		ID:               r.ID,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		HeightAGL:        height,
		IndoorDeployment: r.IndoorDeployment,
		Category:         cat,
		AntennaAzimuth:   r.AntennaAzimuth,
		AntennaBeamwidth: r.AntennaBeamwidth,
		AntennaGain:      r.AntennaGain,
		MaxEirp:          r.MaxEirp,
		LowFrequency:     r.LowFrequency,
		HighFrequency:    r.HighFrequency,
		IsManagedGrant:   r.IsManagedGrant,
	}
	if err := g.Validate(); err != nil {
		return Grant{}, err
	}
	return g, nil
}
