// Package dpa manages Dynamic Protection Areas: their protection points and
// channels, the per-channel neighbor and move lists, and the certification
// interference check.
package dpa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/sas-coexistence/geodesy"
	"github.com/signalsfoundry/sas-coexistence/interference"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/internal/observability"
	"github.com/signalsfoundry/sas-coexistence/internal/workerpool"
	"github.com/signalsfoundry/sas-coexistence/model"
	"github.com/signalsfoundry/sas-coexistence/terrain"
)

// ErrCancelled is returned when a run is aborted; the lists keep their
// pre-run state.
var ErrCancelled = errors.New("move list computation cancelled")

// retryStepKm is how far a protection point is nudged when its tiles are
// temporarily unreadable.
const retryStepKm = 0.03

// retryBearings are tried in order: north, east, south.
var retryBearings = []float64{0, 90, 180}

// Kernel is the per-(point, channel) interference computation.
type Kernel interface {
	MoveList(ctx context.Context, cache *interference.Cache, p interference.Params, grants []model.Grant) (interference.PointResult, error)
	Aggregate(ctx context.Context, cache *interference.Cache, p interference.Params, grants []model.Grant) (float64, error)
}

// Recorder receives DPA-level metrics.
type Recorder interface {
	ObserveMoveList(dpa string, d time.Duration)
	SetMoveListSize(dpa, channel string, size int)
	SetCacheHitRatio(dpa string, ratio float64)
	RecordCheck(dpa string, passed bool)
}

// Option customises a Dpa.
type Option func(*config)

type config struct {
	log          logging.Logger
	metrics      Recorder
	pool         *workerpool.Pool
	seed         uint64
	iterations   int
	cacheEntries int
	pointOpts    PointOptions
}

// WithLogger attaches a logger.
func WithLogger(log logging.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(r Recorder) Option {
	return func(c *config) { c.metrics = r }
}

// WithPool runs points on p instead of a pool of all cores.
func WithPool(p *workerpool.Pool) Option {
	return func(c *config) { c.pool = p }
}

// WithSeed fixes the Monte-Carlo seed.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// WithIterations overrides the Monte-Carlo iteration count.
func WithIterations(n int) Option {
	return func(c *config) { c.iterations = n }
}

// WithCacheEntries bounds the interference cache.
func WithCacheEntries(n int) Option {
	return func(c *config) { c.cacheEntries = n }
}

// WithPointOptions controls the protection points laid over the geometry.
func WithPointOptions(o PointOptions) Option {
	return func(c *config) { c.pointOpts = o }
}

// Dpa is one Dynamic Protection Area and its move-list state. Methods are
// safe for concurrent use; ComputeMoveLists and CheckInterference may run
// concurrently with the read-only views.
type Dpa struct {
	name        string
	points      []model.ProtectionPoint
	threshold   float64
	radarHeight float64
	beamwidth   float64
	azimuth     model.AzimuthRange
	neighbors   model.NeighborDistances
	monitor     model.MonitorType
	zone        orb.Geometry
	iterations  int

	kernel  Kernel
	pool    *workerpool.Pool
	cache   *interference.Cache
	log     logging.Logger
	metrics Recorder

	mu        sync.RWMutex
	grants    []model.Grant
	channels  []model.Channel
	moveLists map[model.Channel]model.GrantSet
	nborLists map[model.Channel]model.GrantSet
	results   map[model.Channel][]interference.PointResult
}

// Build constructs a Dpa from its definition. Unset radar and threshold
// fields take the package defaults.
func Build(def model.DpaDefinition, kernel Kernel, opts ...Option) (*Dpa, error) {
	if kernel == nil {
		return nil, errors.New("dpa: kernel is nil")
	}
	cfg := config{iterations: interference.DefaultIterations, pointOpts: DefaultPointOptions}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.log == nil {
		cfg.log = logging.Noop()
	}
	if cfg.iterations <= 0 {
		return nil, fmt.Errorf("%w: %d iterations", model.ErrBadInput, cfg.iterations)
	}
	if cfg.pool == nil {
		pool, err := workerpool.New(workerpool.DefaultDegree)
		if err != nil {
			return nil, err
		}
		cfg.pool = pool
	}
	cache, err := interference.NewCache(cfg.seed, cfg.cacheEntries)
	if err != nil {
		return nil, err
	}

	points := append([]model.ProtectionPoint(nil), def.ProtectedPoints...)
	if len(points) == 0 {
		points, err = ProtectionPoints(def.Geometry, cfg.pointOpts)
		if err != nil {
			return nil, fmt.Errorf("dpa %q: %w", def.Name, err)
		}
	}

	d := &Dpa{
		name:        def.Name,
		points:      points,
		threshold:   interference.DefaultThresholdDbm,
		radarHeight: interference.DefaultRadarHeightM,
		beamwidth:   interference.DefaultBeamwidthDeg,
		azimuth:     model.AzimuthRange{Min: 0, Max: 360},
		neighbors:   model.DefaultNeighborDistances,
		monitor:     def.MonitorType,
		zone:        def.ProtectionZone,
		iterations:  cfg.iterations,
		kernel:      kernel,
		pool:        cfg.pool,
		cache:       cache,
		log:         cfg.log.With(logging.String("dpa", def.Name)),
		metrics:     cfg.metrics,
	}
	if def.ThresholdDbm != nil {
		d.threshold = *def.ThresholdDbm
	}
	if def.RadarHeight > 0 {
		d.radarHeight = def.RadarHeight
	}
	if def.Beamwidth > 0 {
		d.beamwidth = def.Beamwidth
	}
	if def.AzimuthRange != nil {
		d.azimuth = *def.AzimuthRange
	}
	if def.NeighborDistances != nil {
		d.neighbors = *def.NeighborDistances
	}
	if d.monitor == "" {
		d.monitor = model.MonitorESC
	}
	ranges := def.FreqRanges
	if len(ranges) == 0 {
		ranges = []model.FreqRange{DefaultFreqRange}
	}
	d.ResetFrequencyRange(ranges)
	return d, nil
}

func (d *Dpa) Name() string { return d.name }

// Points returns the protection points.
func (d *Dpa) Points() []model.ProtectionPoint {
	return append([]model.ProtectionPoint(nil), d.points...)
}

// Channels returns the protected channels in ascending order.
func (d *Dpa) Channels() []model.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Channel(nil), d.channels...)
}

// ThresholdDbm returns the protection threshold per 10 MHz.
func (d *Dpa) ThresholdDbm() float64 { return d.threshold }

// Seed returns the Monte-Carlo seed.
func (d *Dpa) Seed() uint64 { return d.cache.Seed() }

// SetGrants replaces the grant list and clears every list.
func (d *Dpa) SetGrants(grants []model.Grant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grants = append([]model.Grant(nil), grants...)
	d.clearLocked()
}

// ResetFrequencyRange recomputes the protected channels, clearing the lists
// when the set changes.
func (d *Dpa) ResetFrequencyRange(ranges []model.FreqRange) {
	channels := Channels(ranges, d.monitor)
	d.mu.Lock()
	defer d.mu.Unlock()
	if sameChannels(channels, d.channels) && d.moveLists != nil {
		return
	}
	d.channels = channels
	d.clearLocked()
}

func (d *Dpa) clearLocked() {
	d.moveLists = make(map[model.Channel]model.GrantSet)
	d.nborLists = make(map[model.Channel]model.GrantSet)
	d.results = make(map[model.Channel][]interference.PointResult)
}

func (d *Dpa) params(pt model.ProtectionPoint, ch model.Channel) interference.Params {
	return interference.Params{
		Point:          pt,
		Channel:        ch,
		RadarHeight:    d.radarHeight,
		Beamwidth:      d.beamwidth,
		Azimuth:        d.azimuth,
		Neighbors:      d.neighbors,
		Iterations:     d.iterations,
		ThresholdDbm:   d.threshold,
		ProtectionZone: d.zone,
	}
}

// ComputeMoveLists runs the move-list kernel for every channel and point and
// replaces the lists with the per-channel unions. On error the lists are left
// untouched; cancellation yields ErrCancelled.
func (d *Dpa) ComputeMoveLists(ctx context.Context) error {
	ctx, log := logging.WithRunLogger(ctx, d.log)
	ctx, span := observability.StartSpan(ctx, "dpa.ComputeMoveLists", d.name)
	defer span.End()
	start := time.Now()

	d.mu.RLock()
	grants := d.grants
	channels := append([]model.Channel(nil), d.channels...)
	d.mu.RUnlock()
	span.SetAttributes(
		attribute.Int("grants", len(grants)),
		attribute.Int("channels", len(channels)),
		attribute.Int("points", len(d.points)),
	)

	results := make([]interference.PointResult, len(channels)*len(d.points))
	err := d.pool.Run(ctx, len(results), func(ctx context.Context, i int) error {
		ch := channels[i/len(d.points)]
		pt := d.points[i%len(d.points)]
		res, err := d.runPoint(ctx, log, pt, ch, grants)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		observability.FailSpan(span, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn(ctx, "move list computation cancelled", logging.Err(err))
			return fmt.Errorf("%w: dpa %q: %v", ErrCancelled, d.name, err)
		}
		return fmt.Errorf("dpa %q: %w", d.name, err)
	}

	moveLists := make(map[model.Channel]model.GrantSet, len(channels))
	nborLists := make(map[model.Channel]model.GrantSet, len(channels))
	perChannel := make(map[model.Channel][]interference.PointResult, len(channels))
	for ci, ch := range channels {
		move, nbor := model.NewGrantSet(), model.NewGrantSet()
		for pi := range d.points {
			res := results[ci*len(d.points)+pi]
			move.Union(model.NewGrantSet(res.MoveList...))
			nbor.Union(model.NewGrantSet(res.Neighbors...))
			perChannel[ch] = append(perChannel[ch], res)
		}
		moveLists[ch] = move
		nborLists[ch] = nbor
	}

	d.mu.Lock()
	d.moveLists = moveLists
	d.nborLists = nborLists
	d.results = perChannel
	d.mu.Unlock()

	elapsed := time.Since(start)
	hits, misses := d.cache.Stats()
	if d.metrics != nil {
		d.metrics.ObserveMoveList(d.name, elapsed)
		for ch, move := range moveLists {
			d.metrics.SetMoveListSize(d.name, ch.String(), move.Len())
		}
		if hits+misses > 0 {
			d.metrics.SetCacheHitRatio(d.name, float64(hits)/float64(hits+misses))
		}
	}
	log.Info(ctx, "move lists computed",
		logging.Int("channels", len(channels)),
		logging.Int("points", len(d.points)),
		logging.Int("grants", len(grants)),
		logging.Duration("elapsed", elapsed),
		logging.Any("cache_hits", hits),
		logging.Any("cache_misses", misses),
	)
	return nil
}

// runPoint runs the kernel at pt, retrying at nearby points when the
// terrain under pt is temporarily unreadable.
func (d *Dpa) runPoint(ctx context.Context, log logging.Logger, pt model.ProtectionPoint, ch model.Channel, grants []model.Grant) (interference.PointResult, error) {
	res, err := d.kernel.MoveList(ctx, d.cache, d.params(pt, ch), grants)
	if err == nil || !errors.Is(err, terrain.ErrTileUnavailable) {
		return res, err
	}
	for _, bearing := range retryBearings {
		log.Warn(ctx, "tile unavailable, retrying at neighboring point",
			logging.String("point", pt.String()),
			logging.Float64("bearing", bearing),
			logging.Err(err),
		)
		lat, lon, _, gerr := geodesy.Point(pt.Latitude, pt.Longitude, retryStepKm, bearing)
		if gerr != nil {
			return interference.PointResult{}, gerr
		}
		moved := model.ProtectionPoint{Longitude: lon, Latitude: lat}
		res, err = d.kernel.MoveList(ctx, d.cache, d.params(moved, ch), grants)
		if err == nil {
			res.Point = pt
			return res, nil
		}
		if !errors.Is(err, terrain.ErrTileUnavailable) {
			return interference.PointResult{}, err
		}
	}
	return interference.PointResult{}, fmt.Errorf("point %v: %w", pt, err)
}

// MoveList returns a copy of the move list of ch.
func (d *Dpa) MoveList(ch model.Channel) model.GrantSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneOrEmpty(d.moveLists[ch])
}

// NeighborList returns a copy of the neighbor list of ch.
func (d *Dpa) NeighborList(ch model.Channel) model.GrantSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneOrEmpty(d.nborLists[ch])
}

// KeepList returns the neighbors of ch that are not on its move list.
func (d *Dpa) KeepList(ch model.Channel) model.GrantSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.keepLocked(ch)
}

func (d *Dpa) keepLocked(ch model.Channel) model.GrantSet {
	nbor := d.nborLists[ch]
	if nbor == nil {
		return model.NewGrantSet()
	}
	return nbor.Difference(d.moveLists[ch])
}

func cloneOrEmpty(s model.GrantSet) model.GrantSet {
	if s == nil {
		return model.NewGrantSet()
	}
	return s.Clone()
}

// Diagnostic summarises one (point, channel) move-list run.
type Diagnostic struct {
	Dpa            string
	Point          model.ProtectionPoint
	Channel        model.Channel
	Neighbors      int
	Moved          int
	A95NeighborDbm float64
	A95KeepDbm     float64
}

// Diagnostics returns one entry per channel and point of the last run, by
// channel then point order.
func (d *Dpa) Diagnostics() []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Diagnostic
	for _, ch := range d.channels {
		for _, res := range d.results[ch] {
			out = append(out, Diagnostic{
				Dpa:            d.name,
				Point:          res.Point,
				Channel:        ch,
				Neighbors:      len(res.Neighbors),
				Moved:          len(res.MoveList),
				A95NeighborDbm: interference.A95Dbm(res.A95NeighborMw),
				A95KeepDbm:     interference.A95Dbm(res.A95KeepMw),
			})
		}
	}
	return out
}
