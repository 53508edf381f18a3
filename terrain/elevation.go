package terrain

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/sas-coexistence/geodesy"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
)

// noDataFloor marks raw elevations that are treated as sea level.
const noDataFloor = -900

// Profile defaults.
const (
	DefaultProfileResolutionM = 30.0
	DefaultProfileMaxPoints   = 1501
)

type driverConfig struct {
	cacheSize   int
	geom        Geometry
	metrics     CacheRecorder
	warnMissing bool
}

// DriverOption customises an ElevationDriver or LandCoverDriver.
type DriverOption func(*driverConfig)

// WithCacheSize sets the LRU capacity in tiles.
func WithCacheSize(n int) DriverOption {
	return func(c *driverConfig) { c.cacheSize = n }
}

// WithGeometry overrides DefaultGeometry.
func WithGeometry(g Geometry) DriverOption {
	return func(c *driverConfig) { c.geom = g }
}

// WithMetricsRecorder attaches a recorder for tile loads and lookups.
func WithMetricsRecorder(m CacheRecorder) DriverOption {
	return func(c *driverConfig) { c.metrics = m }
}

// WithMissingTileWarnings logs a warning the first time a tile is missing.
func WithMissingTileWarnings(enabled bool) DriverOption {
	return func(c *driverConfig) { c.warnMissing = enabled }
}

func buildConfig(opts []DriverOption) (driverConfig, error) {
	cfg := driverConfig{cacheSize: DefaultCacheSize, geom: DefaultGeometry, warnMissing: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if !cfg.geom.valid() {
		return cfg, fmt.Errorf("terrain: invalid geometry %+v", cfg.geom)
	}
	return cfg, nil
}

// ElevationDriver answers terrain height queries in metres above mean sea
// level. It is safe for concurrent use.
type ElevationDriver struct {
	geom  Geometry
	cache *tileCache[float32]
}

// NewElevationDriver wraps store with an LRU tile cache.
func NewElevationDriver(store TileStore[float32], log logging.Logger, opts ...DriverOption) (*ElevationDriver, error) {
	if log == nil {
		log = logging.Noop()
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	cache, err := newTileCache(KindElevation, store, cfg.cacheSize, cfg.geom, log, cfg.metrics, cfg.warnMissing)
	if err != nil {
		return nil, err
	}
	return &ElevationDriver{geom: cfg.geom, cache: cache}, nil
}

// GetElevation returns the terrain height at (lat, lon). With interpolate
// set the four surrounding pixels are blended bilinearly; otherwise the
// nearest pixel is used. Missing tiles read as 0.
func (d *ElevationDriver) GetElevation(lat, lon float64, interpolate bool) (float64, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return 0, fmt.Errorf("%w: (%v, %v)", geodesy.ErrInvalidCoordinate, lat, lon)
	}
	key := KeyFor(lat, lon)
	tile, err := d.cache.get(key)
	if err != nil {
		return 0, err
	}
	if tile == nil {
		return 0, nil
	}

	x, y := d.geom.pixel(key, lat, lon)
	if !interpolate {
		r := clampIndex(int(math.Floor(y+0.5)), tile.Size-1)
		c := clampIndex(int(math.Floor(x+0.5)), tile.Size-1)
		return elevationValue(tile.at(r, c)), nil
	}

	r0 := clampIndex(int(math.Floor(y)), tile.Size-2)
	c0 := clampIndex(int(math.Floor(x)), tile.Size-2)
	fy := y - float64(r0)
	fx := x - float64(c0)

	e00 := elevationValue(tile.at(r0, c0))
	e01 := elevationValue(tile.at(r0, c0+1))
	e10 := elevationValue(tile.at(r0+1, c0))
	e11 := elevationValue(tile.at(r0+1, c0+1))

	top := e00 + fx*(e01-e00)
	bottom := e10 + fx*(e11-e10)
	return top + fy*(bottom-top), nil
}

// Elevation is GetElevation with interpolation.
func (d *ElevationDriver) Elevation(lat, lon float64) (float64, error) {
	return d.GetElevation(lat, lon, true)
}

// GetElevations evaluates GetElevation for paired slices of coordinates.
func (d *ElevationDriver) GetElevations(lats, lons []float64, interpolate bool) ([]float64, error) {
	if len(lats) != len(lons) {
		return nil, fmt.Errorf("%w: %d latitudes, %d longitudes", geodesy.ErrInvalidCoordinate, len(lats), len(lons))
	}
	out := make([]float64, len(lats))
	for i := range lats {
		e, err := d.GetElevation(lats[i], lons[i], interpolate)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// ProfileOptions tunes Profile. Zero values take the defaults.
type ProfileOptions struct {
	TargetResolutionM float64
	MaxPoints         int
	Nearest           bool
}

// Profile returns the terrain between two points in ITS format:
// [n-1, spacing in metres, e0, ..., e(n-1)].
func (d *ElevationDriver) Profile(lat1, lon1, lat2, lon2 float64, opts ProfileOptions) ([]float64, error) {
	res := opts.TargetResolutionM
	if res <= 0 {
		res = DefaultProfileResolutionM
	}
	maxPoints := opts.MaxPoints
	if maxPoints <= 0 {
		maxPoints = DefaultProfileMaxPoints
	}

	distKm, _, _, err := geodesy.DistanceBearing(lat1, lon1, lat2, lon2)
	if err != nil {
		return nil, err
	}
	distM := distKm * 1000
	n := min(maxPoints, int(math.Ceil(distM/res))+1)
	n = max(n, 2)

	lats, lons, err := geodesy.Sampling(lat1, lon1, lat2, lon2, n)
	if err != nil {
		return nil, err
	}
	elev, err := d.GetElevations(lats, lons, !opts.Nearest)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, n+2)
	out = append(out, float64(n-1), distM/float64(n-1))
	out = append(out, elev...)
	return out, nil
}

// LoadCounts reports how many times each tile was read from the store.
func (d *ElevationDriver) LoadCounts() map[TileKey]int {
	return d.cache.loadCounts()
}

// Purge empties the tile cache. Load counts are kept.
func (d *ElevationDriver) Purge() {
	d.cache.purge()
}

func elevationValue(v float32) float64 {
	if v < noDataFloor {
		return 0
	}
	return float64(v)
}

func clampIndex(i, hi int) int {
	if i < 0 {
		return 0
	}
	if i > hi {
		return hi
	}
	return i
}
