// Package propagation implements the hybrid path-loss model that blends
// free space, Extended-Hata and the Irregular Terrain Model by distance and
// effective antenna height.
package propagation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/sas-coexistence/geodesy"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/model"
	"github.com/signalsfoundry/sas-coexistence/propagation/ehata"
	"github.com/signalsfoundry/sas-coexistence/propagation/itm"
	"github.com/signalsfoundry/sas-coexistence/terrain"
)

var (
	ErrBadHeight      = fmt.Errorf("%w: antenna height out of range", model.ErrBadInput)
	ErrBadFrequency   = fmt.Errorf("%w: frequency out of range", model.ErrBadInput)
	ErrBadRegion      = fmt.Errorf("%w: unknown region", model.ErrBadInput)
	ErrBadReliability = fmt.Errorf("%w: reliability out of range", model.ErrBadInput)
)

// Model limits and regime boundaries.
const (
	MinHeightM   = 1.0
	MaxHeightM   = 1000.0
	MinFreqMHz   = 40.0
	MaxFreqMHz   = 10000.0
	IndoorLossDb = 15.0

	// MeanReliability requests the mean path loss rather than a quantile.
	MeanReliability = -1.0

	highAntennaM   = 200.0
	freeSpaceKm    = 0.1
	interpolateKm  = 1.0
	maxModeKm      = 80.0
	heightAvgMinKm = 3.0
	heightAvgMaxKm = 15.0
)

// Profiler extracts ITS-format terrain profiles.
type Profiler interface {
	Profile(lat1, lon1, lat2, lon2 float64, opts terrain.ProfileOptions) ([]float64, error)
}

// OpcodeRecorder receives one event per evaluated link.
type OpcodeRecorder interface {
	RecordPropagation(opcode string)
}

// Link describes one transmitter/receiver pair. Heights are above ground.
type Link struct {
	TxLat, TxLon, TxHeight float64
	TxIndoor               bool
	RxLat, RxLon, RxHeight float64
	FreqMHz                float64
	Region                 model.Region
}

// Result is the outcome of one evaluation.
type Result struct {
	LossDb float64
	Opcode Opcode

	DistanceKm       float64
	EffectiveHeightM float64

	// TxBearing is the direction of the receiver seen from the transmitter
	// and RxBearing the direction of the transmitter seen from the
	// receiver, degrees clockwise from north.
	TxBearing float64
	RxBearing float64
	// TxVerticalAngle and RxVerticalAngle are the terrain horizon
	// elevations at each end, in degrees.
	TxVerticalAngle float64
	RxVerticalAngle float64
}

// ModelOption customises a Model.
type ModelOption func(*Model)

// WithClimate overrides DefaultClimate.
func WithClimate(c ClimateLookup) ModelOption {
	return func(m *Model) { m.climate = c }
}

// WithMetricsRecorder attaches a recorder for opcode counts.
func WithMetricsRecorder(r OpcodeRecorder) ModelOption {
	return func(m *Model) { m.metrics = r }
}

// WithProfileOptions overrides the terrain sampling used for every path.
func WithProfileOptions(o terrain.ProfileOptions) ModelOption {
	return func(m *Model) { m.profileOpts = o }
}

// Model is the hybrid propagation model. It holds no per-call state and is
// safe for concurrent use.
type Model struct {
	terrain     Profiler
	climate     ClimateLookup
	profileOpts terrain.ProfileOptions
	log         logging.Logger
	metrics     OpcodeRecorder

	warnOnce sync.Once
}

// New builds a Model over the given terrain.
func New(t Profiler, log logging.Logger, opts ...ModelOption) (*Model, error) {
	if t == nil {
		return nil, fmt.Errorf("propagation: terrain profiler is nil")
	}
	if log == nil {
		log = logging.Noop()
	}
	m := &Model{terrain: t, climate: DefaultClimate, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Sigma is the Extended-Hata location variability in dB, for callers that
// apply reliability quantiles to Extended-Hata regimes themselves.
func Sigma(freqMHz float64, region model.Region) float64 {
	return ehata.Sigma(freqMHz, region)
}

// FreeSpaceLoss is the free-space loss in dB over a horizontal distance in
// km between antennas at heights h1 and h2 metres.
func FreeSpaceLoss(distKm, freqMHz, h1, h2 float64) float64 {
	dh := h1 - h2
	d := math.Max(math.Sqrt(1e6*distKm*distKm+dh*dh), 1)
	return 20*math.Log10(d) + 20*math.Log10(freqMHz) - 27.56
}

// Calc returns the path loss for one reliability in [0, 1], or
// MeanReliability. In Extended-Hata regimes only 0.5 and MeanReliability
// are meaningful; other values yield the median and a logged warning.
func (m *Model) Calc(ctx context.Context, l Link, reliability float64) (Result, error) {
	losses, res, err := m.calc(ctx, l, []float64{reliability})
	if err != nil {
		return Result{}, err
	}
	if res.Opcode.EHata() && reliability != 0.5 && reliability != MeanReliability {
		m.warnOnce.Do(func() {
			m.log.Warn(ctx, "extended-hata regime returns the median for reliability",
				logging.Float64("reliability", reliability),
				logging.String("opcode", res.Opcode.String()),
			)
		})
	}
	res.LossDb = losses[0]
	return res, nil
}

// CalcMulti evaluates the link once for several reliabilities. Losses in
// Extended-Hata regimes are the median for every quantile reliability;
// Result.Opcode tells the caller when to apply Sigma.
func (m *Model) CalcMulti(ctx context.Context, l Link, reliabilities []float64) ([]float64, Result, error) {
	return m.calc(ctx, l, reliabilities)
}

func validate(l Link, reliabilities []float64) error {
	for _, h := range []float64{l.TxHeight, l.RxHeight} {
		if !(h >= MinHeightM && h <= MaxHeightM) {
			return fmt.Errorf("%w: %v m", ErrBadHeight, h)
		}
	}
	if !(l.FreqMHz >= MinFreqMHz && l.FreqMHz <= MaxFreqMHz) {
		return fmt.Errorf("%w: %v MHz", ErrBadFrequency, l.FreqMHz)
	}
	if !l.Region.Valid() {
		return fmt.Errorf("%w: %v", ErrBadRegion, l.Region)
	}
	if len(reliabilities) == 0 {
		return fmt.Errorf("%w: none requested", ErrBadReliability)
	}
	for _, r := range reliabilities {
		if r != MeanReliability && !(r >= 0 && r <= 1) {
			return fmt.Errorf("%w: %v", ErrBadReliability, r)
		}
	}
	return nil
}

func (m *Model) calc(ctx context.Context, l Link, reliabilities []float64) ([]float64, Result, error) {
	if err := validate(l, reliabilities); err != nil {
		return nil, Result{}, err
	}
	distKm, bearing, rev, err := geodesy.DistanceBearing(l.TxLat, l.TxLon, l.RxLat, l.RxLon)
	if err != nil {
		return nil, Result{}, err
	}
	res := Result{DistanceKm: distKm, TxBearing: bearing, RxBearing: rev, EffectiveHeightM: l.TxHeight}

	losses := make([]float64, len(reliabilities))
	if distKm == 0 {
		res.Opcode = OpFreeSpace
		fill(losses, FreeSpaceLoss(0, l.FreqMHz, l.TxHeight, l.RxHeight))
		losses, res = m.finish(ctx, l, losses, res)
		return losses, res, nil
	}

	pfl, err := m.terrain.Profile(l.TxLat, l.TxLon, l.RxLat, l.RxLon, m.profileOpts)
	if err != nil {
		return nil, Result{}, fmt.Errorf("terrain profile: %w", err)
	}
	params := m.itmParams(l, bearing, distKm)

	// ITM is always evaluated: it supplies the incidence angles and the
	// median used by the max-mode comparison.
	itmRels := make([]float64, len(reliabilities)+1)
	for i, r := range reliabilities {
		if r == MeanReliability {
			r = 0.5
		}
		itmRels[i] = r
	}
	itmRels[len(reliabilities)] = 0.5
	itmLosses, itmRes, err := itm.PointToPointMulti(pfl, params, itmRels)
	if err != nil {
		return nil, Result{}, err
	}
	itmMedian := itmLosses[len(reliabilities)]
	itmLosses = itmLosses[:len(reliabilities)]
	res.TxVerticalAngle = itmRes.TxHorizonAngle
	res.RxVerticalAngle = itmRes.RxHorizonAngle

	he := effectiveHeight(pfl, l.TxHeight, distKm)
	res.EffectiveHeightM = he

	switch {
	case he >= highAntennaM:
		res.Opcode = OpITMHighAntenna
		copy(losses, itmLosses)

	case l.Region == model.RegionRural:
		res.Opcode = OpITMRural
		copy(losses, itmLosses)

	case distKm <= freeSpaceKm:
		res.Opcode = OpFreeSpace
		fill(losses, FreeSpaceLoss(distKm, l.FreqMHz, l.TxHeight, l.RxHeight))

	case distKm < interpolateKm:
		fsl := FreeSpaceLoss(freeSpaceKm, l.FreqMHz, l.TxHeight, l.RxHeight)
		alpha := 1 + math.Log10(distKm)
		eh, err := ehata.MedianBasicPropLoss(l.FreqMHz, interpolateKm, he, l.RxHeight, l.Region)
		if err != nil {
			return nil, Result{}, err
		}
		itmAt1km, err := m.itmAt(l, bearing, interpolateKm, params, itmRels)
		if err != nil {
			return nil, Result{}, err
		}
		if eh >= itmAt1km[len(reliabilities)] {
			res.Opcode = OpInterpolated
			median := fsl + alpha*(eh-fsl)
			offset := alpha * ehata.MeanOffset(l.FreqMHz, l.Region)
			for i, r := range reliabilities {
				losses[i] = median
				if r == MeanReliability {
					losses[i] += offset
				}
			}
		} else {
			res.Opcode = OpInterpolatedITM
			for i := range losses {
				losses[i] = fsl + alpha*(itmAt1km[i]-fsl)
			}
		}

	case distKm <= maxModeKm:
		ehataMedian, err := ehata.MedianBasicPropLoss(l.FreqMHz, distKm, he, l.RxHeight, l.Region)
		if err != nil {
			return nil, Result{}, err
		}
		if ehataMedian >= itmMedian {
			res.Opcode = OpEHata
			offset := ehata.MeanOffset(l.FreqMHz, l.Region)
			for i, r := range reliabilities {
				losses[i] = ehataMedian
				if r == MeanReliability {
					losses[i] += offset
				}
			}
		} else {
			res.Opcode = OpITMMax
			copy(losses, itmLosses)
		}

	default:
		res.Opcode = OpITMBeyond80
		ehata80, err := ehata.MedianBasicPropLoss(l.FreqMHz, maxModeKm, he, l.RxHeight, l.Region)
		if err != nil {
			return nil, Result{}, err
		}
		itm80, err := m.itmMedianAt(l, bearing, maxModeKm, params)
		if err != nil {
			return nil, Result{}, err
		}
		j := math.Max(0, ehata80-itm80)
		for i := range losses {
			losses[i] = itmLosses[i] + j
		}
	}

	losses, res = m.finish(ctx, l, losses, res)
	return losses, res, nil
}

func (m *Model) finish(ctx context.Context, l Link, losses []float64, res Result) ([]float64, Result) {
	if l.TxIndoor {
		for i := range losses {
			losses[i] += IndoorLossDb
		}
	}
	res.LossDb = losses[0]
	if m.metrics != nil {
		m.metrics.RecordPropagation(res.Opcode.String())
	}
	m.log.Debug(ctx, "propagation",
		logging.String("opcode", res.Opcode.String()),
		logging.Float64("distance_km", res.DistanceKm),
		logging.String("region", l.Region.String()),
		logging.Float64("loss_db", res.LossDb),
	)
	return losses, res
}

func (m *Model) itmParams(l Link, bearing, distKm float64) itm.Params {
	midLat, midLon := l.TxLat, l.TxLon
	if lat, lon, _, err := geodesy.Point(l.TxLat, l.TxLon, distKm/2, bearing); err == nil {
		midLat, midLon = lat, lon
	}
	climate, ns := m.climate.Climate(midLat, midLon)

	p := itm.DefaultParams()
	p.TxHeightM = l.TxHeight
	p.RxHeightM = l.RxHeight
	p.FreqMHz = l.FreqMHz
	p.Climate = climate
	p.Refractivity = ns
	return p
}

// itmAt evaluates ITM over the first distKm of the path for each
// reliability in rels.
func (m *Model) itmAt(l Link, bearing, distKm float64, p itm.Params, rels []float64) ([]float64, error) {
	lat, lon, _, err := geodesy.Point(l.TxLat, l.TxLon, distKm, bearing)
	if err != nil {
		return nil, err
	}
	pfl, err := m.terrain.Profile(l.TxLat, l.TxLon, lat, lon, m.profileOpts)
	if err != nil {
		return nil, fmt.Errorf("terrain profile: %w", err)
	}
	losses, _, err := itm.PointToPointMulti(pfl, p, rels)
	return losses, err
}

// itmMedianAt is the ITM median over the first distKm of the path.
func (m *Model) itmMedianAt(l Link, bearing, distKm float64, p itm.Params) (float64, error) {
	losses, err := m.itmAt(l, bearing, distKm, p, []float64{0.5})
	if err != nil {
		return 0, err
	}
	return losses[0], nil
}

// effectiveHeight corrects the transmitter height by how far its ground
// sits above the average terrain between 3 km and min(15 km, d), blending
// in linearly between 3 and 15 km.
func effectiveHeight(pfl []float64, h, distKm float64) float64 {
	if distKm < heightAvgMinKm {
		return h
	}
	n := int(pfl[0])
	step := pfl[1] / 1000
	limit := math.Min(heightAvgMaxKm, distKm)
	var sum float64
	var count int
	for i := 0; i <= n; i++ {
		x := float64(i) * step
		if x < heightAvgMinKm-1e-9 || x > limit+1e-9 {
			continue
		}
		sum += pfl[i+2]
		count++
	}
	if count == 0 {
		return h
	}
	full := h + pfl[2] - sum/float64(count)
	if distKm >= heightAvgMaxKm {
		return full
	}
	return h + (distKm-heightAvgMinKm)/(heightAvgMaxKm-heightAvgMinKm)*(full-h)
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
