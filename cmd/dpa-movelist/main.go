// Command dpa-movelist loads DPA definitions and a grant snapshot, computes
// the move list of every DPA channel, and exports the results as CSV.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/sas-coexistence/dpa"
	"github.com/signalsfoundry/sas-coexistence/interference"
	"github.com/signalsfoundry/sas-coexistence/internal/config"
	"github.com/signalsfoundry/sas-coexistence/internal/export"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/internal/observability"
	"github.com/signalsfoundry/sas-coexistence/internal/workerpool"
	"github.com/signalsfoundry/sas-coexistence/kb"
	"github.com/signalsfoundry/sas-coexistence/model"
	"github.com/signalsfoundry/sas-coexistence/propagation"
	"github.com/signalsfoundry/sas-coexistence/terrain"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML, JSON or TOML config file; SAS_* env vars override it")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(ctx, "failed to load configuration", logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(cfg.LoggingConfig())

	shutdown, err := observability.InitTracing(ctx, cfg.OTelConfig(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}
	if metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	if err := run(ctx, cfg, collector, log); err != nil {
		log.Error(ctx, "move list run failed", logging.Err(err))
		os.Exit(1)
	}
}

// engine is the shared, read-only computation stack every DPA runs on.
type engine struct {
	elevation *terrain.ElevationDriver
	landCover *terrain.LandCoverDriver
	model     *propagation.Model
	kernel    *interference.Calculator
	opcodes   *export.OpcodeLog

	closers []func()
}

func (e *engine) Close() {
	for _, c := range e.closers {
		c()
	}
}

func buildEngine(cfg *config.Config, collector *observability.EngineCollector, log logging.Logger) (*engine, error) {
	if cfg.Terrain.Dir == "" {
		return nil, errors.New("terrain.dir is required")
	}
	elevStore, err := terrain.NewElevationFileStore(cfg.Terrain.Dir, tileGeometry(cfg.Terrain))
	if err != nil {
		return nil, err
	}
	e := &engine{opcodes: &export.OpcodeLog{Next: collector}}
	e.closers = append(e.closers, elevStore.Close)
	e.elevation, err = terrain.NewElevationDriver(elevStore, log,
		terrain.WithGeometry(tileGeometry(cfg.Terrain)),
		terrain.WithCacheSize(cfg.Terrain.CacheSize),
		terrain.WithMetricsRecorder(collector),
		terrain.WithMissingTileWarnings(true),
	)
	if err != nil {
		e.Close()
		return nil, err
	}

	var regions interference.RegionSource = interference.FixedRegion(model.RegionRural)
	if cfg.LandCover.Dir != "" {
		lcStore, err := terrain.NewLandCoverFileStore(cfg.LandCover.Dir, tileGeometry(cfg.LandCover))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, lcStore.Close)
		e.landCover, err = terrain.NewLandCoverDriver(lcStore, log,
			terrain.WithGeometry(tileGeometry(cfg.LandCover)),
			terrain.WithCacheSize(cfg.LandCover.CacheSize),
			terrain.WithMetricsRecorder(collector),
		)
		if err != nil {
			e.Close()
			return nil, err
		}
		regions = e.landCover
	} else {
		log.Warn(context.Background(), "no land cover configured; every CBSD is classified RURAL")
	}

	e.model, err = propagation.New(e.elevation, log, propagation.WithMetricsRecorder(e.opcodes))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.kernel, err = interference.NewCalculator(e.model, regions, interference.WithLogger(log))
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func tileGeometry(tc config.TileConfig) terrain.Geometry {
	return terrain.Geometry{PixelsPerDegree: tc.PixelsPerDegree, Overlap: tc.Overlap}
}

func loadDefinitions(cfg *config.Config, store *kb.KnowledgeBase) error {
	if cfg.Dpa.File == "" {
		return errors.New("dpa.file is required")
	}
	defs, err := kb.LoadDpaFile(cfg.Dpa.File)
	if err != nil {
		return fmt.Errorf("load DPAs: %w", err)
	}
	var zone orb.Geometry
	if cfg.ProtectionZone != "" {
		if zone, err = kb.LoadProtectionZoneFile(cfg.ProtectionZone); err != nil {
			return fmt.Errorf("load protection zone: %w", err)
		}
	}
	for i := range defs {
		def := defs[i]
		if def.ProtectionZone == nil {
			def.ProtectionZone = zone
		}
		if err := store.AddDpa(&def); err != nil {
			return err
		}
	}
	return nil
}

// prewarm runs one propagation call from a grant in each covered tile to the
// given protection point, loading the tiles before the workers start.
func prewarm(ctx context.Context, e *engine, point model.ProtectionPoint, grants []model.Grant, log logging.Logger) {
	seen := make(map[terrain.TileKey]bool)
	for _, g := range grants {
		key := terrain.KeyFor(g.Latitude, g.Longitude)
		if seen[key] {
			continue
		}
		seen[key] = true
		link := propagation.Link{
			TxLat: g.Latitude, TxLon: g.Longitude, TxHeight: g.HeightAGL,
			RxLat: point.Latitude, RxLon: point.Longitude, RxHeight: interference.DefaultRadarHeightM,
			FreqMHz: interference.PropagationFreqMHz,
			Region:  model.RegionRural,
		}
		if e.landCover != nil {
			if r, err := e.landCover.Region(g.Latitude, g.Longitude); err == nil {
				link.Region = r
			}
		}
		if _, err := e.model.Calc(ctx, link, 0.5); err != nil {
			log.Warn(ctx, "prewarm propagation failed", logging.String("tile", key.String()), logging.Err(err))
		}
	}
	log.Debug(ctx, "tile cache prewarmed", logging.Int("tiles", len(seen)))
}

func run(ctx context.Context, cfg *config.Config, collector *observability.EngineCollector, log logging.Logger) error {
	ctx, log = logging.WithRunLogger(ctx, log)

	e, err := buildEngine(cfg, collector, log)
	if err != nil {
		return err
	}
	defer e.Close()
	store := kb.NewKnowledgeBase()
	if err := loadDefinitions(cfg, store); err != nil {
		return err
	}
	if cfg.Grants.File == "" {
		return errors.New("grants.file is required")
	}
	grants, err := kb.LoadGrantFile(cfg.Grants.File, e.elevation)
	if err != nil {
		return fmt.Errorf("load grants: %w", err)
	}

	pool, err := workerpool.New(cfg.PoolDegree)
	if err != nil {
		return err
	}
	seed := cfg.ResolvedSeed(time.Now())
	log.Info(ctx, "move list run starting",
		logging.Uint64("seed", seed),
		logging.Int("iterations", cfg.NumIteration),
		logging.Int("grants", len(grants)),
	)
	set, err := newManagerSet(store.ListDpas(), func(def model.DpaDefinition) (*dpa.Dpa, error) {
		return dpa.Build(def, e.kernel,
			dpa.WithLogger(log),
			dpa.WithMetricsRecorder(collector),
			dpa.WithPool(pool),
			dpa.WithSeed(seed),
			dpa.WithIterations(cfg.NumIteration),
		)
	}, log)
	if err != nil {
		return err
	}
	unsubscribe := store.Subscribe(set.handle)
	defer unsubscribe()
	if err := applyOverrides(cfg, store, set); err != nil {
		return err
	}
	managers := set.List()
	if len(managers) == 0 {
		return errors.New("no DPA definitions loaded")
	}

	if pts := managers[0].Points(); len(pts) > 0 {
		prewarm(ctx, e, pts[0], grants, log)
	}
	if err := store.SetGrants(grants); err != nil {
		return err
	}

	var exporter *export.Exporter
	if cfg.Export.Dir != "" {
		if exporter, err = export.NewExporter(cfg.Export.Dir, log); err != nil {
			return err
		}
	}

	for _, m := range managers {
		if err := m.ComputeMoveLists(ctx); err != nil {
			return err
		}
		moved := 0
		for _, ch := range m.Channels() {
			moved += m.MoveList(ch).Len()
		}
		log.Info(ctx, "DPA move lists ready",
			logging.String("dpa", m.Name()),
			logging.Int("channels", len(m.Channels())),
			logging.Int("points", len(m.Points())),
			logging.Int("moved", moved),
		)
		if exporter != nil {
			if _, err := exporter.ExportDpa(ctx, m); err != nil {
				return err
			}
		}
	}
	if exporter != nil {
		if _, err := exporter.ExportOpcodes(e.opcodes); err != nil {
			return err
		}
	}
	log.Info(ctx, "run complete",
		logging.Int("dpas", len(managers)),
		logging.Int("grants", len(grants)),
		logging.Any("tile_loads", e.elevation.LoadCounts()),
	)
	return nil
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
