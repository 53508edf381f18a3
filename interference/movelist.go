// Package interference computes Monte-Carlo aggregate interference from CBSD
// grants at a protection point and selects the grants to move off a channel.
package interference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/sas-coexistence/geodesy"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/model"
	"github.com/signalsfoundry/sas-coexistence/propagation"
)

// PropagationFreqMHz is the frequency every path loss is evaluated at.
const PropagationFreqMHz = 3625.0

// Kernel defaults.
const (
	DefaultIterations   = 2000
	DefaultThresholdDbm = -144.0
	DefaultRadarHeightM = 50.0
	DefaultBeamwidthDeg = 3.0
)

var (
	ErrBadParams = fmt.Errorf("%w: interference parameters", model.ErrBadInput)
	errNilCache  = errors.New("interference: cache is nil")
)

// PathLoss evaluates a link at several reliabilities.
type PathLoss interface {
	CalcMulti(ctx context.Context, l propagation.Link, reliabilities []float64) ([]float64, propagation.Result, error)
}

// RegionSource classifies the morphology at a CBSD location.
type RegionSource interface {
	Region(lat, lon float64) (model.Region, error)
}

// FixedRegion classifies every location the same way.
type FixedRegion model.Region

func (r FixedRegion) Region(lat, lon float64) (model.Region, error) { return model.Region(r), nil }

// Params describes one (protection point, channel) evaluation.
type Params struct {
	Point   model.ProtectionPoint
	Channel model.Channel

	RadarHeight  float64
	Beamwidth    float64
	Azimuth      model.AzimuthRange
	Neighbors    model.NeighborDistances
	Iterations   int
	ThresholdDbm float64

	// ProtectionZone, when set, drops Cat-A grants located outside it.
	ProtectionZone orb.Geometry
}

func (p Params) validate() error {
	if p.Iterations <= 0 {
		return fmt.Errorf("%w: %d iterations", ErrBadParams, p.Iterations)
	}
	if p.Channel.HighMHz <= p.Channel.LowMHz {
		return fmt.Errorf("%w: channel %v", ErrBadParams, p.Channel)
	}
	if p.Beamwidth <= 0 {
		return fmt.Errorf("%w: radar beamwidth %v", ErrBadParams, p.Beamwidth)
	}
	return nil
}

// PointResult is the outcome of a move-list run at one point and channel.
type PointResult struct {
	Point   model.ProtectionPoint
	Channel model.Channel

	// Neighbors and MoveList keep the input order of the grants.
	Neighbors []model.Grant
	MoveList  []model.Grant

	// A95NeighborMw is the 95th percentile aggregate of every neighbor and
	// A95KeepMw that of the neighbors left after the move list, in mW.
	A95NeighborMw float64
	A95KeepMw     float64
}

// Option customises a Calculator.
type Option func(*Calculator)

// WithLogger attaches a logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Calculator) {
		if log != nil {
			c.log = log
		}
	}
}

// Calculator runs the move-list kernel. It holds no per-run state; all
// randomness comes from the Cache passed to each call.
type Calculator struct {
	prop    PathLoss
	regions RegionSource
	log     logging.Logger
}

// NewCalculator builds a Calculator over a propagation model and a region
// classifier.
func NewCalculator(prop PathLoss, regions RegionSource, opts ...Option) (*Calculator, error) {
	if prop == nil {
		return nil, errors.New("interference: path loss model is nil")
	}
	if regions == nil {
		return nil, errors.New("interference: region source is nil")
	}
	c := &Calculator{prop: prop, regions: regions, log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Neighbors returns the grants inside the neighborhood of p, in input order.
func (c *Calculator) Neighbors(p Params, grants []model.Grant) ([]model.Grant, error) {
	prefilter := geodesy.NewCap(p.Point.Latitude, p.Point.Longitude, p.Neighbors.Max())
	var out []model.Grant
	for _, g := range grants {
		limit := p.Neighbors.For(g.Category, g.OverlapMHz(p.Channel) > 0)
		if limit <= 0 || !prefilter.Contains(g.Latitude, g.Longitude) {
			continue
		}
		if g.Category == model.CategoryA && p.ProtectionZone != nil && !inZone(p.ProtectionZone, g) {
			continue
		}
		d, _, _, err := geodesy.DistanceBearing(p.Point.Latitude, p.Point.Longitude, g.Latitude, g.Longitude)
		if err != nil {
			return nil, fmt.Errorf("grant %q: %w", g.ID, err)
		}
		if d <= limit {
			out = append(out, g)
		}
	}
	return out, nil
}

func inZone(zone orb.Geometry, g model.Grant) bool {
	pt := orb.Point{g.Longitude, g.Latitude}
	switch z := zone.(type) {
	case orb.Polygon:
		return planar.PolygonContains(z, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(z, pt)
	case orb.Collection:
		for _, sub := range z {
			if inZone(sub, g) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// MoveList runs the full kernel: neighborhood filter, Monte-Carlo draws,
// A_95 and greedy move-list selection.
func (c *Calculator) MoveList(ctx context.Context, cache *Cache, p Params, grants []model.Grant) (PointResult, error) {
	if err := p.validate(); err != nil {
		return PointResult{}, err
	}
	if cache == nil {
		return PointResult{}, errNilCache
	}
	res := PointResult{Point: p.Point, Channel: p.Channel}
	neighbors, err := c.Neighbors(p, grants)
	if err != nil {
		return PointResult{}, err
	}
	res.Neighbors = neighbors
	if len(neighbors) == 0 {
		return res, nil
	}

	contribs, err := c.contributions(ctx, cache, p, neighbors)
	if err != nil {
		return PointResult{}, err
	}
	all := make([]int, len(neighbors))
	for i := range all {
		all[i] = i
	}
	res.A95NeighborMw = a95(contribs, all, p.Iterations)
	res.A95KeepMw = res.A95NeighborMw

	limit := DbmToMw(p.ThresholdDbm)
	if res.A95NeighborMw <= limit {
		return res, nil
	}

	order := moveOrder(neighbors, contribs)
	// A_95 is non-increasing as grants are removed, so the shortest prefix
	// of the greedy order that satisfies the threshold is found by bisection.
	k := sort.Search(len(order)+1, func(k int) bool {
		return a95(contribs, order[k:], p.Iterations) <= limit
	})
	moved := make(map[int]bool, k)
	for _, i := range order[:k] {
		moved[i] = true
	}
	for i, g := range neighbors {
		if moved[i] {
			res.MoveList = append(res.MoveList, g)
		}
	}
	res.A95KeepMw = a95(contribs, order[k:], p.Iterations)

	c.log.Debug(ctx, "move list computed",
		logging.String("point", p.Point.String()),
		logging.Channel("channel", p.Channel.LowMHz, p.Channel.HighMHz),
		logging.Int("neighbors", len(neighbors)),
		logging.Int("moved", k),
		logging.Float64("a95_dbm", MwToDbm(res.A95NeighborMw)),
	)
	return res, nil
}

// Aggregate returns the A_95 in mW of the grants of the given set that fall
// inside the neighborhood of p.
func (c *Calculator) Aggregate(ctx context.Context, cache *Cache, p Params, grants []model.Grant) (float64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	if cache == nil {
		return 0, errNilCache
	}
	neighbors, err := c.Neighbors(p, grants)
	if err != nil {
		return 0, err
	}
	if len(neighbors) == 0 {
		return 0, nil
	}
	contribs, err := c.contributions(ctx, cache, p, neighbors)
	if err != nil {
		return 0, err
	}
	all := make([]int, len(neighbors))
	for i := range all {
		all[i] = i
	}
	return a95(contribs, all, p.Iterations), nil
}

// contributions returns, per grant, the interference in mW at each
// Monte-Carlo iteration.
func (c *Calculator) contributions(ctx context.Context, cache *Cache, p Params, grants []model.Grant) ([][]float64, error) {
	azimuths := cache.RadarAzimuths(p.Point, p.Azimuth, p.Iterations)
	out := make([][]float64, len(grants))
	for i, g := range grants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		draws, err := c.draws(ctx, cache, p, g)
		if err != nil {
			return nil, fmt.Errorf("grant %q at %v: %w", g.ID, p.Point, err)
		}

		eirp := InBandEirpDbm(g, p.Channel)
		if g.OverlapMHz(p.Channel) == 0 {
			eirp = OutOfBandEirpDbm(g, p.Channel)
		}
		eirp -= CbsdAttenuationDb(draws.txBearing, g.AntennaAzimuth, g.AntennaBeamwidth)

		mw := make([]float64, p.Iterations)
		for k := range mw {
			radar := RadarAttenuationDb(draws.rxBearing, azimuths[k], p.Beamwidth)
			mw[k] = DbmToMw(eirp - draws.losses[k] - radar)
		}
		out[i] = mw
	}
	return out, nil
}

// draws returns the path losses of g toward the point at each iteration's
// reliability, from the cache when possible.
func (c *Calculator) draws(ctx context.Context, cache *Cache, p Params, g model.Grant) (linkDraws, error) {
	key := lossKey{cbsd: g.Key(), height: g.HeightAGL, point: p.Point, radarHeight: p.RadarHeight, n: p.Iterations}
	if d, ok := cache.lookup(key); ok {
		return d, nil
	}

	region, err := c.regions.Region(g.Latitude, g.Longitude)
	if err != nil {
		return linkDraws{}, fmt.Errorf("region: %w", err)
	}
	rels := cache.Reliabilities(g.Key(), p.Point, p.Iterations)
	link := propagation.Link{
		TxLat: g.Latitude, TxLon: g.Longitude, TxHeight: g.HeightAGL,
		TxIndoor: g.IndoorDeployment,
		RxLat:    p.Point.Latitude, RxLon: p.Point.Longitude, RxHeight: p.RadarHeight,
		FreqMHz: PropagationFreqMHz,
		Region:  region,
	}
	losses, res, err := c.prop.CalcMulti(ctx, link, rels)
	if err != nil {
		return linkDraws{}, err
	}
	if res.Opcode.EHata() {
		sigma := propagation.Sigma(PropagationFreqMHz, region)
		for i, r := range rels {
			losses[i] += sigma * distuv.UnitNormal.Quantile(r)
		}
	}
	d := linkDraws{losses: losses, txBearing: res.TxBearing, rxBearing: res.RxBearing}
	cache.store(key, d)
	return d, nil
}

// moveOrder returns grant indices by descending mean contribution, then
// larger max EIRP, then larger antenna gain, then input order.
func moveOrder(grants []model.Grant, contribs [][]float64) []int {
	means := make([]float64, len(contribs))
	for i, c := range contribs {
		means[i] = stat.Mean(c, nil)
	}
	order := make([]int, len(grants))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if means[i] != means[j] {
			return means[i] > means[j]
		}
		if grants[i].MaxEirp != grants[j].MaxEirp {
			return grants[i].MaxEirp > grants[j].MaxEirp
		}
		return grants[i].AntennaGain > grants[j].AntennaGain
	})
	return order
}

// a95 sums the selected contributions per iteration and returns the
// aggregate at rank ceil(0.95·n).
func a95(contribs [][]float64, idx []int, n int) float64 {
	if len(idx) == 0 {
		return 0
	}
	agg := make([]float64, n)
	for _, i := range idx {
		floats.Add(agg, contribs[i])
	}
	return Percentile95(agg)
}

// Percentile95 returns the value at rank ceil(0.95·len(v)) of v sorted
// ascending. v is sorted in place.
func Percentile95(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sort.Float64s(v)
	rank := (95*len(v) + 99) / 100
	return v[rank-1]
}

// ExceedsThreshold reports whether an aggregate in mW is above thresholdDbm.
func ExceedsThreshold(mw, thresholdDbm float64) bool {
	return mw > DbmToMw(thresholdDbm)
}

// A95Dbm converts an aggregate to dBm, -Inf for an empty set.
func A95Dbm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return MwToDbm(mw)
}
