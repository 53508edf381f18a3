package dpa

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/sas-coexistence/interference"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/internal/observability"
	"github.com/signalsfoundry/sas-coexistence/model"
)

// PointCheck is the comparison at one (point, channel).
type PointCheck struct {
	Point    model.ProtectionPoint
	Channel  model.Channel
	A95RefMw float64
	A95UUTMw float64
	Passed   bool
}

// ExcessDb is how far the UUT aggregate sits above the reference, in dB.
func (p PointCheck) ExcessDb() float64 {
	switch {
	case p.A95UUTMw <= 0:
		return math.Inf(-1)
	case p.A95RefMw <= 0:
		return math.Inf(1)
	}
	return interference.MwToDbm(p.A95UUTMw) - interference.MwToDbm(p.A95RefMw)
}

// CheckReport is the outcome of CheckInterference. The Worst fields
// describe the point with the largest UUT excess, failing points first.
type CheckReport struct {
	Passed bool

	WorstPoint   model.ProtectionPoint
	WorstChannel model.Channel
	A95RefDbm    float64
	A95UUTDbm    float64

	MarginDb      float64
	AbsoluteCheck bool
	Points        []PointCheck
}

// CheckInterference compares the aggregate interference of the reference
// keep list against the keep list blended with the UUT's active grants.
// A nil channel checks every channel. The reference and UUT runs share the
// DPA's draws, so repeated checks are reproducible.
//
// When absCheck is set and no peer-SAS grants exist, a point passes when the
// UUT aggregate is at most the threshold; otherwise it passes when the UUT
// aggregate exceeds the reference by at most marginDb. Errors are returned
// only for cancellation and propagation failures.
func (d *Dpa) CheckInterference(ctx context.Context, uutActive []model.Grant, marginDb float64, channel *model.Channel, absCheck bool) (CheckReport, error) {
	ctx, log := logging.WithRunLogger(ctx, d.log)
	ctx, span := observability.StartSpan(ctx, "dpa.CheckInterference", d.name,
		attribute.Int("uut_grants", len(uutActive)),
		attribute.Float64("margin_db", marginDb),
	)
	defer span.End()

	d.mu.RLock()
	channels := append([]model.Channel(nil), d.channels...)
	if channel != nil {
		channels = []model.Channel{*channel}
	}
	peer := model.NewGrantSet()
	for _, g := range d.grants {
		if !g.IsManagedGrant {
			peer.Add(g)
		}
	}
	refKeep := make([][]model.Grant, len(channels))
	uutKeep := make([][]model.Grant, len(channels))
	for i, ch := range channels {
		keep := d.keepLocked(ch)
		blended := peer.Intersect(keep)
		blended.Union(model.NewGrantSet(uutActive...))
		refKeep[i] = keep.Sorted()
		uutKeep[i] = blended.Sorted()
	}
	d.mu.RUnlock()

	absolute := absCheck && peer.Len() == 0
	report := CheckReport{Passed: true, MarginDb: marginDb, AbsoluteCheck: absolute}
	checks := make([]PointCheck, len(channels)*len(d.points))
	err := d.pool.Run(ctx, len(checks), func(ctx context.Context, i int) error {
		ci := i / len(d.points)
		ch, pt := channels[ci], d.points[i%len(d.points)]
		p := d.params(pt, ch)
		ref, err := d.kernel.Aggregate(ctx, d.cache, p, refKeep[ci])
		if err != nil {
			return err
		}
		uut, err := d.kernel.Aggregate(ctx, d.cache, p, uutKeep[ci])
		if err != nil {
			return err
		}
		pc := PointCheck{Point: pt, Channel: ch, A95RefMw: ref, A95UUTMw: uut}
		if absolute {
			pc.Passed = !interference.ExceedsThreshold(uut, d.threshold)
		} else {
			pc.Passed = uut <= ref*interference.DbmToMw(marginDb)
		}
		checks[i] = pc
		return nil
	})
	if err != nil {
		observability.FailSpan(span, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return CheckReport{}, fmt.Errorf("%w: dpa %q: %v", ErrCancelled, d.name, err)
		}
		return CheckReport{}, fmt.Errorf("dpa %q: %w", d.name, err)
	}

	report.Points = checks
	worst := -1
	for i, pc := range checks {
		if !pc.Passed {
			report.Passed = false
		}
		if worst < 0 || worse(pc, checks[worst], absolute) {
			worst = i
		}
	}
	if worst >= 0 {
		w := checks[worst]
		report.WorstPoint = w.Point
		report.WorstChannel = w.Channel
		report.A95RefDbm = interference.A95Dbm(w.A95RefMw)
		report.A95UUTDbm = interference.A95Dbm(w.A95UUTMw)
	}

	span.SetAttributes(attribute.Bool("passed", report.Passed))
	if d.metrics != nil {
		d.metrics.RecordCheck(d.name, report.Passed)
	}
	log.Info(ctx, "interference check",
		logging.Bool("passed", report.Passed),
		logging.Bool("absolute", absolute),
		logging.Int("points", len(checks)),
		logging.String("worst_point", report.WorstPoint.String()),
		logging.String("worst_channel", report.WorstChannel.String()),
		logging.Float64("a95_ref_dbm", report.A95RefDbm),
		logging.Float64("a95_uut_dbm", report.A95UUTDbm),
	)
	return report, nil
}

// worse orders failing checks before passing ones, then by UUT aggregate
// for absolute checks and by excess over the reference otherwise.
func worse(a, b PointCheck, absolute bool) bool {
	if a.Passed != b.Passed {
		return !a.Passed
	}
	if absolute {
		return a.A95UUTMw > b.A95UUTMw
	}
	return a.ExcessDb() > b.ExcessDb()
}
