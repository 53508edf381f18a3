// Package ehata computes the Extended-Hata median basic transmission loss
// and its location variability.
package ehata

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/sas-coexistence/model"
)

// Validity limits.
const (
	MinFreqMHz       = 30.0
	MaxFreqMHz       = 10000.0
	MinDistanceKm    = 0.04
	MaxDistanceKm    = 100.0
	MinBaseHeightM   = 20.0
	MaxBaseHeightM   = 1000.0
	MinMobileHeightM = 1.0
)

// ErrOutOfRange is returned for inputs outside the model's validity.
var ErrOutOfRange = fmt.Errorf("%w: extended-hata input out of range", model.ErrBadInput)

// heights orders the terminal heights into (base, mobile) and raises each
// to its minimum.
func heights(h1, h2 float64) (hb, hm float64) {
	hb, hm = math.Max(h1, h2), math.Min(h1, h2)
	hb = math.Max(hb, MinBaseHeightM)
	hm = math.Max(hm, MinMobileHeightM)
	return hb, hm
}

// mobileCorrection is a(Hm).
func mobileCorrection(f, hm float64) float64 {
	lf := math.Log10(f)
	return (1.1*lf-0.7)*math.Min(10, hm) - (1.56*lf - 0.8) + math.Max(0, 20*math.Log10(hm/10))
}

// baseCorrection is b(Hb).
func baseCorrection(hb float64) float64 {
	return math.Min(0, 20*math.Log10(hb/30))
}

// distanceExponent is the α applied to log10(d) beyond 20 km.
func distanceExponent(f, hb, d float64) float64 {
	if d <= 20 {
		return 1
	}
	return 1 + (0.14+1.87e-4*f+1.07e-3*hb)*math.Pow(math.Log10(d/20), 0.8)
}

// urbanLoss is the urban median loss for d >= 0.1 km.
func urbanLoss(f, d, hb, hm float64) float64 {
	hb30 := math.Max(30, hb)
	slope := (44.9 - 6.55*math.Log10(hb30)) * math.Pow(math.Log10(d), distanceExponent(f, hb, d))

	var base float64
	switch {
	case f <= 150:
		base = 69.6 + 26.2*math.Log10(150) - 20*math.Log10(150/f)
	case f <= 1500:
		base = 69.6 + 26.2*math.Log10(f)
	case f <= 2000:
		base = 46.3 + 33.9*math.Log10(f)
	default:
		base = 46.3 + 33.9*math.Log10(2000) + 10*math.Log10(f/2000)
	}
	return base - 13.82*math.Log10(hb30) + slope - mobileCorrection(f, hm) - baseCorrection(hb)
}

// MedianBasicPropLoss returns the median loss in dB between terminals at h1
// and h2 metres separated by distKm, at freqMHz, for the given region.
// Distances below 100 m are evaluated at the free-space limit of the model.
func MedianBasicPropLoss(freqMHz, distKm, h1, h2 float64, region model.Region) (float64, error) {
	if freqMHz < MinFreqMHz || freqMHz > MaxFreqMHz {
		return 0, fmt.Errorf("%w: frequency %v MHz", ErrOutOfRange, freqMHz)
	}
	if !(distKm >= MinDistanceKm) || distKm > MaxDistanceKm {
		return 0, fmt.Errorf("%w: distance %v km", ErrOutOfRange, distKm)
	}
	if !region.Valid() {
		return 0, fmt.Errorf("%w: region %v", ErrOutOfRange, region)
	}

	hb, hm := heights(h1, h2)
	if hb > MaxBaseHeightM {
		return 0, fmt.Errorf("%w: base height %v m", ErrOutOfRange, hb)
	}
	d := math.Max(distKm, 0.1)
	loss := urbanLoss(freqMHz, d, hb, hm)

	fc := math.Min(math.Max(150, freqMHz), 2000)
	switch region {
	case model.RegionSuburban:
		loss -= 2*math.Pow(math.Log10(fc/28), 2) + 5.4
	case model.RegionRural:
		lf := math.Log10(fc)
		loss -= 4.78*lf*lf - 18.33*lf + 40.94
	}
	return loss, nil
}

// Sigma is the location variability standard deviation in dB.
func Sigma(freqMHz float64, region model.Region) float64 {
	lf := math.Log10(freqMHz)
	s := 5.2 - 1.3*lf + 0.65*lf*lf
	if region != model.RegionUrban {
		s += 2
	}
	return s
}

// MeanOffset is the amount, in dB, added to the median loss to obtain the
// mean path loss of the log-normal: σ²·ln(10)/20.
func MeanOffset(freqMHz float64, region model.Region) float64 {
	s := Sigma(freqMHz, region)
	return s * s * math.Ln10 / 20
}
