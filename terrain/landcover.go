package terrain

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/sas-coexistence/geodesy"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/model"
)

// NLCD developed-land classes.
const (
	NlcdDevelopedOpen   uint8 = 21
	NlcdDevelopedLow    uint8 = 22
	NlcdDevelopedMedium uint8 = 23
	NlcdDevelopedHigh   uint8 = 24
)

// LandCoverDriver answers land-cover classification queries. It is safe for
// concurrent use.
type LandCoverDriver struct {
	geom  Geometry
	cache *tileCache[uint8]
}

// NewLandCoverDriver wraps store with an LRU tile cache.
func NewLandCoverDriver(store TileStore[uint8], log logging.Logger, opts ...DriverOption) (*LandCoverDriver, error) {
	if log == nil {
		log = logging.Noop()
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	cache, err := newTileCache(KindLandCover, store, cfg.cacheSize, cfg.geom, log, cfg.metrics, cfg.warnMissing)
	if err != nil {
		return nil, err
	}
	return &LandCoverDriver{geom: cfg.geom, cache: cache}, nil
}

// GetLandCoverCode returns the NLCD code of the pixel containing (lat, lon),
// or 0 when the tile is missing.
func (d *LandCoverDriver) GetLandCoverCode(lat, lon float64) (uint8, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return 0, fmt.Errorf("%w: (%v, %v)", geodesy.ErrInvalidCoordinate, lat, lon)
	}
	key := KeyFor(lat, lon)
	tile, err := d.cache.get(key)
	if err != nil || tile == nil {
		return 0, err
	}
	x, y := d.geom.pixel(key, lat, lon)
	r := clampIndex(int(math.Floor(y+0.5)), tile.Size-1)
	c := clampIndex(int(math.Floor(x+0.5)), tile.Size-1)
	return tile.at(r, c), nil
}

// RegionVote classifies each point and returns the winning region. A region
// wins only with strictly more votes than each of the other two; anything
// else is RURAL.
func (d *LandCoverDriver) RegionVote(lats, lons []float64) (model.Region, error) {
	if len(lats) != len(lons) {
		return model.RegionUnknown, fmt.Errorf("%w: %d latitudes, %d longitudes", geodesy.ErrInvalidCoordinate, len(lats), len(lons))
	}
	regions := make([]model.Region, len(lats))
	for i := range lats {
		code, err := d.GetLandCoverCode(lats[i], lons[i])
		if err != nil {
			return model.RegionUnknown, err
		}
		regions[i] = RegionForCode(code)
	}
	return Vote(regions), nil
}

// Region classifies a single location.
func (d *LandCoverDriver) Region(lat, lon float64) (model.Region, error) {
	code, err := d.GetLandCoverCode(lat, lon)
	if err != nil {
		return model.RegionUnknown, err
	}
	return RegionForCode(code), nil
}

// LoadCounts reports how many times each tile was read from the store.
func (d *LandCoverDriver) LoadCounts() map[TileKey]int {
	return d.cache.loadCounts()
}

// RegionForCode maps an NLCD class to a propagation region.
func RegionForCode(code uint8) model.Region {
	switch code {
	case NlcdDevelopedMedium, NlcdDevelopedHigh:
		return model.RegionUrban
	case NlcdDevelopedLow:
		return model.RegionSuburban
	default:
		return model.RegionRural
	}
}

// Vote tallies regions; ties and empty input go to RURAL.
func Vote(regions []model.Region) model.Region {
	var urban, suburban, rural int
	for _, r := range regions {
		switch r {
		case model.RegionUrban:
			urban++
		case model.RegionSuburban:
			suburban++
		default:
			rural++
		}
	}
	switch {
	case urban > suburban && urban > rural:
		return model.RegionUrban
	case suburban > urban && suburban > rural:
		return model.RegionSuburban
	default:
		return model.RegionRural
	}
}
