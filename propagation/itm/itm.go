// Package itm implements the point-to-point mode of the Longley-Rice
// Irregular Terrain Model over an ITS-format elevation profile.
package itm

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadProfile is returned for a profile that is not in ITS format.
var ErrBadProfile = errors.New("itm: malformed profile")

// Climate is the ITU radio climate code.
type Climate int

const (
	Equatorial Climate = iota + 1
	ContinentalSubtropical
	MaritimeSubtropical
	Desert
	ContinentalTemperate
	MaritimeTemperateOverLand
	MaritimeTemperateOverSea
)

// Polarization of the radio wave.
type Polarization int

const (
	Horizontal Polarization = iota
	Vertical
)

// Mode is the propagation mode of the path geometry.
type Mode int

const (
	LineOfSight Mode = iota
	SingleHorizon
	DoubleHorizon
)

func (m Mode) String() string {
	switch m {
	case SingleHorizon:
		return "single-horizon"
	case DoubleHorizon:
		return "double-horizon"
	default:
		return "line-of-sight"
	}
}

// Params are the point-to-point model inputs other than the profile.
type Params struct {
	TxHeightM    float64
	RxHeightM    float64
	FreqMHz      float64
	Dielectric   float64
	Conductivity float64 // S/m
	Refractivity float64 // N-units at the surface
	Climate      Climate
	Polarization Polarization
	Confidence   float64
	// MdVar selects the variability mode; 12 is single-message broadcast
	// without location variability.
	MdVar int
}

// DefaultParams returns the ground and variability constants used for CBRS
// coexistence studies. Heights, frequency and climate are left to the
// caller.
func DefaultParams() Params {
	return Params{
		Dielectric:   15,
		Conductivity: 0.005,
		Refractivity: 301,
		Climate:      ContinentalTemperate,
		Polarization: Vertical,
		Confidence:   0.5,
		MdVar:        12,
	}
}

// Result describes one evaluation.
type Result struct {
	// LossDb is the basic transmission loss at the first requested
	// reliability.
	LossDb float64
	// FreeSpaceDb is the free-space loss over the same path.
	FreeSpaceDb float64
	Mode        Mode
	// Warning is the model's applicability code: 0 none, 1 parameters out of
	// nominal range, 2 defaults substituted, 3 internal limits exceeded,
	// 4 results unreliable.
	Warning int
	// TxHorizonAngle and RxHorizonAngle are the terrain elevation angles
	// seen from each terminal, in degrees above horizontal.
	TxHorizonAngle float64
	RxHorizonAngle float64
	// TxHorizonDistM and RxHorizonDistM are the horizon distances.
	TxHorizonDistM float64
	RxHorizonDistM float64
	// DistanceM is the path length implied by the profile.
	DistanceM float64
}

func checkProfile(pfl []float64) error {
	if len(pfl) < 4 {
		return fmt.Errorf("%w: %d values", ErrBadProfile, len(pfl))
	}
	n := pfl[0]
	if n < 1 || n != math.Trunc(n) || int(n)+3 != len(pfl) {
		return fmt.Errorf("%w: header says %v intervals, %d values", ErrBadProfile, n, len(pfl))
	}
	if !(pfl[1] > 0) || math.IsInf(pfl[1], 0) {
		return fmt.Errorf("%w: spacing %v", ErrBadProfile, pfl[1])
	}
	return nil
}

// PointToPoint evaluates the loss not exceeded with the given reliability.
func PointToPoint(pfl []float64, p Params, reliability float64) (Result, error) {
	losses, res, err := PointToPointMulti(pfl, p, []float64{reliability})
	if err != nil {
		return Result{}, err
	}
	res.LossDb = losses[0]
	return res, nil
}

// PointToPointMulti evaluates the path once and returns the loss for each
// reliability in order.
func PointToPointMulti(pfl []float64, p Params, reliabilities []float64) ([]float64, Result, error) {
	if err := checkProfile(pfl); err != nil {
		return nil, Result{}, err
	}
	if len(reliabilities) == 0 {
		return nil, Result{}, fmt.Errorf("itm: no reliability requested")
	}

	m := &model{}
	m.p.hg = [2]float64{p.TxHeightM, p.RxHeightM}
	m.pv.klim = p.Climate
	m.pv.lvar = 5
	m.p.mdp = -1

	zc := qerfi(p.Confidence)
	np := int(pfl[0])

	// Mean terrain height away from the terminals lowers surface
	// refractivity.
	var zsys float64
	ja := int(3 + 0.1*pfl[0])
	jb := np - ja + 6
	for i := ja - 1; i < jb; i++ {
		zsys += pfl[i]
	}
	zsys /= float64(jb - ja + 1)

	m.pv.mdvar = p.MdVar
	m.setFrequency(p.FreqMHz, zsys, p.Refractivity, p.Polarization, p.Dielectric, p.Conductivity)

	// Horizon angles of the actual terrain, before the model replaces them
	// with effective values on line-of-sight paths.
	var hz prop
	hz.hg = m.p.hg
	hz.gme = m.p.gme
	hz.dist = pfl[0] * pfl[1]
	horizons(pfl, &hz)

	m.setProfile(pfl, p.Climate, p.MdVar)

	res := Result{
		DistanceM:      m.p.dist,
		FreeSpaceDb:    32.45 + 20*math.Log10(p.FreqMHz) + 20*math.Log10(m.p.dist/1000),
		TxHorizonAngle: hz.the[0] * 180 / math.Pi,
		RxHorizonAngle: hz.the[1] * 180 / math.Pi,
		TxHorizonDistM: hz.dl[0],
		RxHorizonDistM: hz.dl[1],
	}
	switch q := int(m.p.dist - m.pa.dla); {
	case q < 0:
		res.Mode = LineOfSight
	case q == 0:
		res.Mode = SingleHorizon
	default:
		res.Mode = DoubleHorizon
	}

	losses := make([]float64, len(reliabilities))
	for i, rel := range reliabilities {
		losses[i] = m.avar(qerfi(rel), 0, zc) + res.FreeSpaceDb
	}
	res.LossDb = losses[0]
	res.Warning = m.p.kwx
	return losses, res, nil
}
