package kb

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/sas-coexistence/model"
)

func testGrant(id string) model.Grant {
	return model.Grant{
		ID:               id,
		Latitude:         40.95,
		Longitude:        -72.55,
		HeightAGL:        30,
		Category:         model.CategoryB,
		AntennaBeamwidth: 360,
		AntennaGain:      15,
		MaxEirp:          30,
		LowFrequency:     3550e6,
		HighFrequency:    3560e6,
	}
}

func TestAddAndGetDpa(t *testing.T) {
	store := NewKnowledgeBase()
	d := &model.DpaDefinition{Name: "East1", Geometry: orb.Point{-72.5, 41}}
	if err := store.AddDpa(d); err != nil {
		t.Fatalf("AddDpa error: %v", err)
	}
	got, ok := store.GetDpa("East1")
	if !ok || got.Geometry != d.Geometry {
		t.Fatalf("GetDpa returned %#v, want East1", got)
	}
	if _, ok := store.GetDpa("missing"); ok {
		t.Fatalf("GetDpa on a missing name returned a definition")
	}
}

func TestStoredDpaIsACopy(t *testing.T) {
	threshold := -144.0
	def := &model.DpaDefinition{
		Name:         "East1",
		ThresholdDbm: &threshold,
		FreqRanges:   []model.FreqRange{{LowMHz: 3550, HighMHz: 3650}},
	}
	store := NewKnowledgeBase()
	if err := store.AddDpa(def); err != nil {
		t.Fatalf("AddDpa error: %v", err)
	}

	// Mutating the caller's definition does not reach the store.
	def.FreqRanges[0].HighMHz = 3700
	threshold = -100

	got, _ := store.GetDpa("East1")
	if got.FreqRanges[0].HighMHz != 3650 || *got.ThresholdDbm != -144 {
		t.Fatalf("stored definition changed with the caller's: %+v threshold %v", got.FreqRanges, *got.ThresholdDbm)
	}

	// Neither does mutating a returned definition.
	got.FreqRanges[0].LowMHz = 3500
	*got.ThresholdDbm = -90
	listed := store.ListDpas()
	listed[0].FreqRanges[0].HighMHz = 3560

	again, _ := store.GetDpa("East1")
	if r := again.FreqRanges[0]; r.LowMHz != 3550 || r.HighMHz != 3650 {
		t.Fatalf("freq range = %+v, want 3550-3650", r)
	}
	if *again.ThresholdDbm != -144 {
		t.Fatalf("threshold = %v, want -144", *again.ThresholdDbm)
	}
}

func TestAddDpaValidation(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddDpa(&model.DpaDefinition{Name: "East1"}); err != nil {
		t.Fatalf("first AddDpa error: %v", err)
	}
	if err := store.AddDpa(&model.DpaDefinition{Name: "East1"}); err == nil {
		t.Fatalf("expected duplicate AddDpa to fail")
	}
	if err := store.AddDpa(&model.DpaDefinition{}); !errors.Is(err, model.ErrBadInput) {
		t.Fatalf("unnamed AddDpa err = %v, want ErrBadInput", err)
	}
	if err := store.UpdateDpa(&model.DpaDefinition{Name: "West1"}); err == nil {
		t.Fatalf("expected UpdateDpa on a missing DPA to fail")
	}
}

func TestListDpasSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, name := range []string{"c", "a", "b"} {
		if err := store.AddDpa(&model.DpaDefinition{Name: name}); err != nil {
			t.Fatalf("AddDpa error: %v", err)
		}
	}
	list := store.ListDpas()
	if len(list) != 3 || list[0].Name != "a" || list[2].Name != "c" {
		t.Fatalf("ListDpas = %v", list)
	}
}

func TestSetGrantsAndSubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var mu sync.Mutex
	var got []Event
	unsubscribe := store.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	if err := store.SetGrants([]model.Grant{testGrant("g2"), testGrant("g1")}); err != nil {
		t.Fatalf("SetGrants error: %v", err)
	}
	if len(got) != 1 || got[0].Type != EventGrantsUpdated {
		t.Fatalf("events = %#v, want one EventGrantsUpdated", got)
	}
	if ids := []string{got[0].Grants[0].ID, got[0].Grants[1].ID}; ids[0] != "g1" || ids[1] != "g2" {
		t.Fatalf("event grants = %v, want sorted by ID", ids)
	}

	if err := store.SetGrants([]model.Grant{testGrant("g1"), testGrant("g1")}); !errors.Is(err, model.ErrBadGrant) {
		t.Fatalf("duplicate IDs err = %v, want ErrBadGrant", err)
	}
	if len(store.Grants()) != 2 {
		t.Fatalf("failed SetGrants replaced the snapshot")
	}

	unsubscribe()
	if err := store.SetGrants(nil); err != nil {
		t.Fatalf("SetGrants error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("unsubscribed callback still called: %d events", len(got))
	}
	if len(store.Grants()) != 0 {
		t.Fatalf("Grants = %v, want empty", store.Grants())
	}
}

func TestUpdateDpaNotifies(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddDpa(&model.DpaDefinition{Name: "East1"}); err != nil {
		t.Fatalf("AddDpa error: %v", err)
	}
	var got Event
	store.Subscribe(func(e Event) { got = e })
	if err := store.UpdateDpa(&model.DpaDefinition{Name: "East1", RadarHeight: 25}); err != nil {
		t.Fatalf("UpdateDpa error: %v", err)
	}
	if got.Type != EventDpaUpdated || got.Dpa.RadarHeight != 25 {
		t.Fatalf("event = %#v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddDpa(&model.DpaDefinition{Name: "East1"}); err != nil {
		t.Fatalf("AddDpa error: %v", err)
	}

	var wg sync.WaitGroup
	// Concurrent readers/writers
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.GetDpa("East1")
			_ = store.Grants()
		}()
		go func() {
			defer wg.Done()
			_ = store.SetGrants([]model.Grant{testGrant(fmt.Sprintf("g%d", i))})
		}()
	}
	wg.Wait()
}

const dpaCollection = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [-72.5, 41.0]},
      "properties": {
        "name": "East1",
        "threshold": -139,
        "radarHeight": 25,
        "azimuthRange": [90, 270],
        "freqRanges": [[3550, 3650], [3600, 3700]],
        "monitorType": "PORTAL",
        "neighborDistances": {"catB": 80}
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[-72.6, 41.0], [-72.5, 41.0], [-72.5, 41.1], [-72.6, 41.0]]]},
      "properties": {"name": "East2"}
    }
  ]
}`

func TestLoadDpas(t *testing.T) {
	defs, err := LoadDpas(strings.NewReader(dpaCollection))
	if err != nil {
		t.Fatalf("LoadDpas: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	east1 := defs[0]
	if east1.Name != "East1" || east1.Geometry != (orb.Point{-72.5, 41.0}) {
		t.Fatalf("East1 = %#v", east1)
	}
	if east1.ThresholdDbm == nil || *east1.ThresholdDbm != -139 || east1.RadarHeight != 25 {
		t.Fatalf("East1 overrides = %v %v", east1.ThresholdDbm, east1.RadarHeight)
	}
	if east1.AzimuthRange == nil || *east1.AzimuthRange != (model.AzimuthRange{Min: 90, Max: 270}) {
		t.Fatalf("azimuth range = %v", east1.AzimuthRange)
	}
	if len(east1.FreqRanges) != 2 || east1.FreqRanges[1] != (model.FreqRange{LowMHz: 3600, HighMHz: 3700}) {
		t.Fatalf("freq ranges = %v", east1.FreqRanges)
	}
	if east1.MonitorType != model.MonitorPortal {
		t.Fatalf("monitor type = %q", east1.MonitorType)
	}
	want := model.DefaultNeighborDistances
	want.CatBInBandKm = 80
	if east1.NeighborDistances == nil || *east1.NeighborDistances != want {
		t.Fatalf("neighbor distances = %+v, want %+v", east1.NeighborDistances, want)
	}

	east2 := defs[1]
	if _, ok := east2.Geometry.(orb.Polygon); !ok {
		t.Fatalf("East2 geometry = %T, want orb.Polygon", east2.Geometry)
	}
	if east2.ThresholdDbm != nil || east2.NeighborDistances != nil || east2.MonitorType != "" {
		t.Fatalf("East2 picked up overrides: %#v", east2)
	}
}

func TestLoadDpasRejects(t *testing.T) {
	cases := map[string]string{
		"no name":       `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}]}`,
		"bad monitor":   `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"name":"x","monitorType":"radar"}}]}`,
		"reversed band": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"name":"x","freqRanges":[[3650,3550]]}}]}`,
		"bad pair":      `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"name":"x","azimuthRange":[1]}}]}`,
		"not geojson":   `[1, 2, 3]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDpas(strings.NewReader(doc)); !errors.Is(err, model.ErrBadInput) {
				t.Fatalf("err = %v, want ErrBadInput", err)
			}
		})
	}
}

func TestLoadProtectionZone(t *testing.T) {
	poly := `{"type":"Polygon","coordinates":[[[-73,40],[-72,40],[-72,41],[-73,40]]]}`
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"geometry", poly, "Polygon"},
		{"feature", `{"type":"Feature","properties":{},"geometry":` + poly + `}`, "Polygon"},
		{"collection", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":` + poly + `},{"type":"Feature","properties":{},"geometry":` + poly + `}]}`, "GeometryCollection"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := LoadProtectionZone(strings.NewReader(tc.doc))
			if err != nil {
				t.Fatalf("LoadProtectionZone: %v", err)
			}
			if g.GeoJSONType() != tc.want {
				t.Fatalf("got %s, want %s", g.GeoJSONType(), tc.want)
			}
		})
	}
}

type fixedElevation float64

func (e fixedElevation) Elevation(lat, lon float64) (float64, error) { return float64(e), nil }

func TestLoadGrants(t *testing.T) {
	doc := `[
	  {"id": "g1", "latitude": 40.95, "longitude": -72.55, "height": 30, "heightType": "AGL",
	   "cbsdCategory": "B", "antennaBeamwidth": 360, "antennaGain": 15, "maxEirp": 30,
	   "lowFrequency": 3550000000, "highFrequency": 3560000000, "isManagedGrant": true},
	  {"id": "g2", "latitude": 40.90, "longitude": -72.60, "height": 130, "heightType": "AMSL",
	   "cbsdCategory": "a", "antennaGain": 5, "maxEirp": 20,
	   "lowFrequency": 3600000000, "highFrequency": 3620000000}
	]`
	grants, err := LoadGrants(strings.NewReader(doc), fixedElevation(100))
	if err != nil {
		t.Fatalf("LoadGrants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}
	if !grants[0].IsManagedGrant || grants[0].Category != model.CategoryB {
		t.Fatalf("g1 = %#v", grants[0])
	}
	if grants[1].HeightAGL != 30 || grants[1].Category != model.CategoryA {
		t.Fatalf("g2 height %v category %v, want 30 m AGL Cat-A", grants[1].HeightAGL, grants[1].Category)
	}

	wrapped := `{"grants": [{"id": "g3", "latitude": 41, "longitude": -72, "height": 10, "cbsdCategory": "A",
	  "maxEirp": 20, "lowFrequency": 3550000000, "highFrequency": 3560000000}]}`
	grants, err = LoadGrants(strings.NewReader(wrapped), nil)
	if err != nil || len(grants) != 1 || grants[0].ID != "g3" {
		t.Fatalf("wrapped LoadGrants = %v, %v", grants, err)
	}
}

func TestLoadGrantsRejects(t *testing.T) {
	cases := map[string]string{
		"amsl without terrain": `[{"id":"g","latitude":41,"longitude":-72,"height":30,"heightType":"AMSL","cbsdCategory":"A","lowFrequency":3550000000,"highFrequency":3560000000}]`,
		"too low":              `[{"id":"g","latitude":41,"longitude":-72,"height":0.5,"cbsdCategory":"A","lowFrequency":3550000000,"highFrequency":3560000000}]`,
		"bad category":         `[{"id":"g","latitude":41,"longitude":-72,"height":30,"cbsdCategory":"C","lowFrequency":3550000000,"highFrequency":3560000000}]`,
		"not json":             `grants`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadGrants(strings.NewReader(doc), nil); !errors.Is(err, model.ErrBadInput) {
				t.Fatalf("err = %v, want ErrBadInput", err)
			}
		})
	}
}
