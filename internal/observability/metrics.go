package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineCollector bundles the Prometheus metrics of the coexistence engine.
// It satisfies the recorder interfaces of the terrain, propagation and dpa
// packages; every recording method is safe on a nil receiver.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	TileLoads         *prometheus.CounterVec
	TileLookups       *prometheus.CounterVec
	PropagationCalls  *prometheus.CounterVec
	MoveListDurations *prometheus.HistogramVec
	MoveListSizes     *prometheus.GaugeVec
	CacheHitRatio     *prometheus.GaugeVec
	Checks            *prometheus.CounterVec
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	loads, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sas_tile_loads_total",
		Help: "Tiles read from the tile store, labeled by kind.",
	}, []string{"kind"}), "sas_tile_loads_total")
	if err != nil {
		return nil, err
	}
	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sas_tile_cache_lookups_total",
		Help: "Tile cache lookups, labeled by kind and hit/miss result.",
	}, []string{"kind", "result"}), "sas_tile_cache_lookups_total")
	if err != nil {
		return nil, err
	}
	calls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sas_propagation_calls_total",
		Help: "Hybrid propagation evaluations, labeled by opcode.",
	}, []string{"opcode"}), "sas_propagation_calls_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sas_movelist_duration_seconds",
		Help:    "Duration of a full DPA move-list computation.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"dpa"}), "sas_movelist_duration_seconds")
	if err != nil {
		return nil, err
	}
	sizes, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sas_movelist_size",
		Help: "Number of grants on the move list of a DPA channel.",
	}, []string{"dpa", "channel"}), "sas_movelist_size")
	if err != nil {
		return nil, err
	}
	ratio, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sas_interference_cache_hit_ratio",
		Help: "Hit ratio of a DPA's path-loss cache after its last run.",
	}, []string{"dpa"}), "sas_interference_cache_hit_ratio")
	if err != nil {
		return nil, err
	}
	checks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sas_interference_checks_total",
		Help: "Certification interference checks, labeled by DPA and pass/fail result.",
	}, []string{"dpa", "result"}), "sas_interference_checks_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:          gatherer,
		TileLoads:         loads,
		TileLookups:       lookups,
		PropagationCalls:  calls,
		MoveListDurations: durations,
		MoveListSizes:     sizes,
		CacheHitRatio:     ratio,
		Checks:            checks,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// RecordTileLoad counts one tile read from a store.
func (c *EngineCollector) RecordTileLoad(kind string) {
	if c == nil || c.TileLoads == nil {
		return
	}
	c.TileLoads.WithLabelValues(kind).Inc()
}

// RecordTileLookup counts one tile cache lookup.
func (c *EngineCollector) RecordTileLookup(kind string, hit bool) {
	if c == nil || c.TileLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.TileLookups.WithLabelValues(kind, result).Inc()
}

// RecordPropagation counts one hybrid model evaluation.
func (c *EngineCollector) RecordPropagation(opcode string) {
	if c == nil || c.PropagationCalls == nil {
		return
	}
	c.PropagationCalls.WithLabelValues(opcode).Inc()
}

// ObserveMoveList records the duration of a move-list run.
func (c *EngineCollector) ObserveMoveList(dpa string, d time.Duration) {
	if c == nil || c.MoveListDurations == nil {
		return
	}
	c.MoveListDurations.WithLabelValues(dpa).Observe(d.Seconds())
}

// SetMoveListSize updates the move-list size gauge of one channel.
func (c *EngineCollector) SetMoveListSize(dpa, channel string, size int) {
	if c == nil || c.MoveListSizes == nil {
		return
	}
	c.MoveListSizes.WithLabelValues(dpa, channel).Set(float64(size))
}

// SetCacheHitRatio sets the path-loss cache hit ratio, clamped to [0, 1].
func (c *EngineCollector) SetCacheHitRatio(dpa string, ratio float64) {
	if c == nil || c.CacheHitRatio == nil {
		return
	}
	c.CacheHitRatio.WithLabelValues(dpa).Set(min(max(ratio, 0), 1))
}

// RecordCheck counts one interference check outcome.
func (c *EngineCollector) RecordCheck(dpa string, passed bool) {
	if c == nil || c.Checks == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	c.Checks.WithLabelValues(dpa, result).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
