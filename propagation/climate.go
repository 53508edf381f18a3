package propagation

import "github.com/signalsfoundry/sas-coexistence/propagation/itm"

// ClimateLookup returns the radio climate and surface refractivity that
// apply to a path, keyed on its midpoint.
type ClimateLookup interface {
	Climate(lat, lon float64) (itm.Climate, float64)
}

// FixedClimate returns the same climate everywhere.
type FixedClimate struct {
	Code         itm.Climate
	Refractivity float64
}

// DefaultClimate is continental temperate at 301 N-units, the value assumed
// for the contiguous United States when no climate map is loaded.
var DefaultClimate = FixedClimate{Code: itm.ContinentalTemperate, Refractivity: 301}

func (c FixedClimate) Climate(lat, lon float64) (itm.Climate, float64) {
	return c.Code, c.Refractivity
}
