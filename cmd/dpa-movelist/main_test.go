package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/sas-coexistence/dpa"
	"github.com/signalsfoundry/sas-coexistence/internal/config"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/internal/observability"
	"github.com/signalsfoundry/sas-coexistence/kb"
	"github.com/signalsfoundry/sas-coexistence/model"
	"github.com/signalsfoundry/sas-coexistence/terrain"
)

const testDpas = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-72.5, 40.5]},
   "properties": {"name": "East 1", "freqRanges": [[3550, 3560]]}}
]}`

const testGrants = `[
  {"id": "near", "latitude": 40.52, "longitude": -72.5, "height": 110, "heightType": "AMSL",
   "cbsdCategory": "B", "antennaGain": 15, "maxEirp": 30,
   "lowFrequency": 3550000000, "highFrequency": 3560000000, "isManagedGrant": true},
  {"id": "far", "latitude": 40.5, "longitude": -72.2, "height": 10,
   "cbsdCategory": "B", "antennaGain": 15, "maxEirp": 20,
   "lowFrequency": 3550000000, "highFrequency": 3560000000}
]`

var testGeom = terrain.Geometry{PixelsPerDegree: 120, Overlap: 1}

func writeTestFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	elevDir, lcDir := filepath.Join(dir, "ned"), filepath.Join(dir, "nlcd")
	for _, d := range []string{elevDir, lcDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	elev, err := terrain.NewElevationFileStore(elevDir, testGeom)
	if err != nil {
		t.Fatalf("NewElevationFileStore: %v", err)
	}
	defer elev.Close()
	if err := elev.Save(terrain.TileKey{Lat: 41, Lon: -73}, terrain.FlatTile[float32](testGeom, 100), true); err != nil {
		t.Fatalf("save elevation tile: %v", err)
	}

	lc, err := terrain.NewLandCoverFileStore(lcDir, testGeom)
	if err != nil {
		t.Fatalf("NewLandCoverFileStore: %v", err)
	}
	defer lc.Close()
	if err := lc.Save(terrain.TileKey{Lat: 41, Lon: -73}, terrain.FlatTile[uint8](testGeom, 41), false); err != nil {
		t.Fatalf("save land cover tile: %v", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.NumIteration = 50
	cfg.Seed = 1
	cfg.PoolDegree = 2
	cfg.Terrain.Dir = elevDir
	cfg.Terrain.PixelsPerDegree, cfg.Terrain.Overlap = testGeom.PixelsPerDegree, testGeom.Overlap
	cfg.LandCover.Dir = lcDir
	cfg.LandCover.PixelsPerDegree, cfg.LandCover.Overlap = testGeom.PixelsPerDegree, testGeom.Overlap
	cfg.Dpa.File = writeTestFile(t, dir, "dpas.geojson", testDpas)
	cfg.Grants.File = writeTestFile(t, dir, "grants.json", testGrants)
	cfg.Export.Dir = filepath.Join(dir, "out")
	return cfg
}

func TestRunExportsMoveLists(t *testing.T) {
	cfg := testConfig(t)
	collector, err := observability.NewEngineCollector(nil)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	if err := run(context.Background(), cfg, collector, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"East_1_diagnostics.csv", "East_1_movelist.csv", "opcodes.csv"} {
		if _, err := os.Stat(filepath.Join(cfg.Export.Dir, name)); err != nil {
			t.Fatalf("missing export %s: %v", name, err)
		}
	}

	f, err := os.Open(filepath.Join(cfg.Export.Dir, "East_1_movelist.csv"))
	if err != nil {
		t.Fatalf("open move list: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse move list: %v", err)
	}
	status := make(map[string]string)
	for _, row := range rows[1:] {
		status[row[3]] = row[4]
	}
	if len(status) != 2 {
		t.Fatalf("neighbors = %v, want near and far", status)
	}
	if status["near"] != "move" {
		t.Fatalf("near grant status = %q, want move", status["near"])
	}
}

func TestRunRequiresInputs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grants.File = ""
	if err := run(context.Background(), cfg, nil, logging.Noop()); err == nil {
		t.Fatalf("expected an error without a grants file")
	}

	cfg = testConfig(t)
	cfg.Terrain.Dir = ""
	if err := run(context.Background(), cfg, nil, logging.Noop()); err == nil {
		t.Fatalf("expected an error without a terrain directory")
	}
}

func TestServeMetricsDisabled(t *testing.T) {
	if srv := serveMetrics("", nil, logging.Noop()); srv != nil {
		t.Fatalf("serveMetrics returned a server without an address")
	}
}

func TestDpaUpdateRebuildsManager(t *testing.T) {
	cfg := testConfig(t)
	e, err := buildEngine(cfg, nil, logging.Noop())
	if err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	defer e.Close()

	store := kb.NewKnowledgeBase()
	if err := loadDefinitions(cfg, store); err != nil {
		t.Fatalf("loadDefinitions: %v", err)
	}
	build := func(def model.DpaDefinition) (*dpa.Dpa, error) {
		return dpa.Build(def, e.kernel, dpa.WithSeed(1), dpa.WithIterations(10))
	}
	set, err := newManagerSet(store.ListDpas(), build, nil)
	if err != nil {
		t.Fatalf("newManagerSet: %v", err)
	}
	unsubscribe := store.Subscribe(set.handle)
	defer unsubscribe()

	grants, err := kb.LoadGrantFile(cfg.Grants.File, e.elevation)
	if err != nil {
		t.Fatalf("LoadGrantFile: %v", err)
	}
	if err := store.SetGrants(grants); err != nil {
		t.Fatalf("SetGrants: %v", err)
	}

	before := set.Get("East 1")
	threshold := -130.0
	cfg.DpaOverrides = map[string]config.DpaOverride{"east 1": {Threshold: &threshold}}
	if err := applyOverrides(cfg, store, set); err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	after := set.Get("East 1")
	if after == before {
		t.Fatalf("manager not rebuilt after an override")
	}
	if got := after.ThresholdDbm(); got != -130 {
		t.Fatalf("threshold = %v, want -130", got)
	}

	def, ok := store.GetDpa("East 1")
	if !ok {
		t.Fatalf("East 1 missing from the store")
	}
	def.FreqRanges = []model.FreqRange{{LowMHz: 3550, HighMHz: 3580}}
	if err := store.UpdateDpa(&def); err != nil {
		t.Fatalf("UpdateDpa: %v", err)
	}
	m := set.Get("East 1")
	if got := len(m.Channels()); got != 3 {
		t.Fatalf("channels = %v, want 3", m.Channels())
	}

	// The rebuilt manager starts from the published grants.
	if err := m.ComputeMoveLists(context.Background()); err != nil {
		t.Fatalf("ComputeMoveLists: %v", err)
	}
	ch := model.Channel{LowMHz: 3550, HighMHz: 3560}
	if got := m.NeighborList(ch).Len(); got != len(grants) {
		t.Fatalf("neighbors = %d, want %d", got, len(grants))
	}
	if err := set.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
}

func TestDpaUpdateFailureIsReported(t *testing.T) {
	cfg := testConfig(t)
	e, err := buildEngine(cfg, nil, logging.Noop())
	if err != nil {
		t.Fatalf("buildEngine: %v", err)
	}
	defer e.Close()

	store := kb.NewKnowledgeBase()
	if err := loadDefinitions(cfg, store); err != nil {
		t.Fatalf("loadDefinitions: %v", err)
	}
	set, err := newManagerSet(store.ListDpas(), func(def model.DpaDefinition) (*dpa.Dpa, error) {
		return dpa.Build(def, e.kernel)
	}, nil)
	if err != nil {
		t.Fatalf("newManagerSet: %v", err)
	}
	defer store.Subscribe(set.handle)()

	before := set.Get("East 1")
	if err := store.UpdateDpa(&model.DpaDefinition{Name: "East 1"}); err != nil {
		t.Fatalf("UpdateDpa: %v", err)
	}
	if set.Err() == nil {
		t.Fatalf("expected a rebuild error for a DPA without geometry")
	}
	if set.Get("East 1") != before {
		t.Fatalf("failed rebuild replaced the manager")
	}
}
