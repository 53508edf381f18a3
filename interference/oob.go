package interference

import (
	"math"

	"github.com/signalsfoundry/sas-coexistence/model"
)

// Conducted out-of-band emission limits, dBm/MHz.
const (
	oobNearDbm    = -13.0
	oobFarDbm     = -25.0
	oobOutsideDbm = -40.0

	oobNearMHz = 10.0
	// Below oobBandLowMHz and above oobBandHighMHz the outside limit applies.
	oobBandLowMHz  = 3530.0
	oobBandHighMHz = 3720.0
)

// oobMaskDbm is the conducted emission limit at freqMHz for a grant
// occupying [lowMHz, highMHz].
func oobMaskDbm(freqMHz, lowMHz, highMHz float64) float64 {
	if freqMHz < oobBandLowMHz || freqMHz > oobBandHighMHz {
		return oobOutsideDbm
	}
	offset := lowMHz - freqMHz
	if freqMHz > highMHz {
		offset = freqMHz - highMHz
	}
	if offset <= oobNearMHz {
		return oobNearDbm
	}
	return oobFarDbm
}

// OutOfBandEirpDbm integrates the emission mask of g over ch in 1 MHz steps
// and adds the peak antenna gain, giving the EIRP in dBm that g leaks into
// the channel. It is only meaningful when g does not overlap ch.
func OutOfBandEirpDbm(g model.Grant, ch model.Channel) float64 {
	lo, hi := g.LowFrequency/1e6, g.HighFrequency/1e6
	var mw float64
	for f := ch.LowMHz + 0.5; f < ch.HighMHz; f++ {
		mw += DbmToMw(oobMaskDbm(f, lo, hi))
	}
	return MwToDbm(mw) + g.AntennaGain
}

// InBandEirpDbm is the EIRP of g inside ch.
func InBandEirpDbm(g model.Grant, ch model.Channel) float64 {
	return g.MaxEirp + 10*math.Log10(g.OverlapMHz(ch))
}

// DbmToMw converts dBm to milliwatts.
func DbmToMw(dbm float64) float64 { return math.Pow(10, dbm/10) }

// MwToDbm converts milliwatts to dBm; zero is -Inf.
func MwToDbm(mw float64) float64 { return 10 * math.Log10(mw) }
