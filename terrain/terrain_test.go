package terrain

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/signalsfoundry/sas-coexistence/model"
)

var testGeom = Geometry{PixelsPerDegree: 120, Overlap: 6}

type countingStore[T Sample] struct {
	inner TileStore[T]
	calls atomic.Int64
}

func (s *countingStore[T]) Load(key TileKey) (*Tile[T], error) {
	s.calls.Add(1)
	return s.inner.Load(key)
}

func newElevation(t *testing.T, store TileStore[float32], opts ...DriverOption) *ElevationDriver {
	t.Helper()
	opts = append([]DriverOption{WithGeometry(testGeom)}, opts...)
	d, err := NewElevationDriver(store, nil, opts...)
	if err != nil {
		t.Fatalf("NewElevationDriver: %v", err)
	}
	return d
}

func TestKeyFor(t *testing.T) {
	k := KeyFor(40.95, -72.55)
	if k != (TileKey{Lat: 41, Lon: -73}) {
		t.Fatalf("KeyFor = %+v", k)
	}
	if k.String() != "n41w073" {
		t.Fatalf("String = %q", k.String())
	}
	if s := (TileKey{Lat: -3, Lon: 5}).String(); s != "s03e005" {
		t.Fatalf("String = %q", s)
	}
}

func TestFlatElevation(t *testing.T) {
	store := NewMemoryStore[float32]()
	store.Put(TileKey{41, -73}, FlatTile[float32](testGeom, 42))
	d := newElevation(t, store)

	for _, interp := range []bool{true, false} {
		e, err := d.GetElevation(40.5, -72.5, interp)
		if err != nil {
			t.Fatalf("GetElevation: %v", err)
		}
		if e != 42 {
			t.Fatalf("interpolate=%v: elevation = %v, want 42", interp, e)
		}
	}
}

func TestBilinearReproducesPlane(t *testing.T) {
	key := TileKey{41, -73}
	plane := func(lat, lon float64) float32 { return float32(100 + 500*(lon+73) + 200*(41-lat)) }
	store := NewMemoryStore[float32]()
	store.Put(key, TileFromFunc(testGeom, key, plane))
	d := newElevation(t, store)

	for _, p := range [][2]float64{{40.5, -72.5}, {40.999, -72.999}, {40.001, -72.001}, {40.1234, -72.8765}} {
		got, err := d.GetElevation(p[0], p[1], true)
		if err != nil {
			t.Fatalf("GetElevation: %v", err)
		}
		want := float64(plane(p[0], p[1]))
		if math.Abs(got-want) > 1e-2 {
			t.Fatalf("(%v, %v): elevation = %v, want %v", p[0], p[1], got, want)
		}
	}
}

func TestNoDataReadsAsZero(t *testing.T) {
	store := NewMemoryStore[float32]()
	store.Put(TileKey{41, -73}, FlatTile[float32](testGeom, -9999))
	d := newElevation(t, store)

	e, err := d.GetElevation(40.5, -72.5, true)
	if err != nil || e != 0 {
		t.Fatalf("got (%v, %v), want (0, nil)", e, err)
	}
}

func TestMissingTileIsZeroAndLoadedOnce(t *testing.T) {
	store := &countingStore[float32]{inner: NewMemoryStore[float32]()}
	d := newElevation(t, store)

	for i := 0; i < 5; i++ {
		e, err := d.GetElevation(40.5, -72.5, true)
		if err != nil || e != 0 {
			t.Fatalf("got (%v, %v), want (0, nil)", e, err)
		}
	}
	if n := store.calls.Load(); n != 1 {
		t.Fatalf("store loads = %d, want 1", n)
	}
}

func TestCorruptedTileIsFatal(t *testing.T) {
	store := NewMemoryStore[float32]()
	store.Put(TileKey{41, -73}, &Tile[float32]{Size: 3, Data: make([]float32, 9)})
	d := newElevation(t, store)

	if _, err := d.GetElevation(40.5, -72.5, true); !errors.Is(err, ErrRasterCorrupted) {
		t.Fatalf("err = %v, want ErrRasterCorrupted", err)
	}
}

func TestConcurrentLoadsCoalesce(t *testing.T) {
	mem := NewMemoryStore[float32]()
	mem.Put(TileKey{41, -73}, FlatTile[float32](testGeom, 7))
	store := &countingStore[float32]{inner: mem}
	d := newElevation(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.GetElevation(40.1+float64(i)*0.01, -72.5, true); err != nil {
				t.Errorf("GetElevation: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := store.calls.Load(); n != 1 {
		t.Fatalf("store loads = %d, want 1", n)
	}
	if c := d.LoadCounts()[TileKey{41, -73}]; c != 1 {
		t.Fatalf("LoadCounts = %d, want 1", c)
	}
}

func TestEvictionReloads(t *testing.T) {
	mem := NewMemoryStore[float32]()
	mem.Put(TileKey{41, -73}, FlatTile[float32](testGeom, 1))
	mem.Put(TileKey{41, -72}, FlatTile[float32](testGeom, 2))
	d := newElevation(t, mem, WithCacheSize(1))

	for i := 0; i < 3; i++ {
		if e, _ := d.GetElevation(40.5, -72.5, false); e != 1 {
			t.Fatalf("west tile elevation = %v", e)
		}
		if e, _ := d.GetElevation(40.5, -71.5, false); e != 2 {
			t.Fatalf("east tile elevation = %v", e)
		}
	}
	counts := d.LoadCounts()
	if counts[TileKey{41, -73}] != 3 || counts[TileKey{41, -72}] != 3 {
		t.Fatalf("load counts = %v, want 3 each with a single-tile cache", counts)
	}
}

func TestProfile(t *testing.T) {
	key := TileKey{41, -73}
	store := NewMemoryStore[float32]()
	store.Put(key, TileFromFunc(testGeom, key, func(lat, lon float64) float32 {
		return float32(10 + 300*(lon+73))
	}))
	d := newElevation(t, store)

	lat1, lon1, lat2, lon2 := 40.95, -72.55, 41.0, -72.5
	prof, err := d.Profile(lat1, lon1, lat2, lon2, ProfileOptions{})
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	n := int(prof[0]) + 1
	if len(prof) != n+2 {
		t.Fatalf("profile length %d, header says %d points", len(prof), n)
	}
	if spacing := prof[1]; spacing > DefaultProfileResolutionM {
		t.Fatalf("spacing = %v m, want <= %v", spacing, DefaultProfileResolutionM)
	}
	e1, _ := d.GetElevation(lat1, lon1, true)
	e2, _ := d.GetElevation(lat2, lon2, true)
	if prof[2] != e1 || prof[len(prof)-1] != e2 {
		t.Fatalf("endpoint elevations (%v, %v), want (%v, %v)", prof[2], prof[len(prof)-1], e1, e2)
	}

	short, err := d.Profile(lat1, lon1, lat2, lon2, ProfileOptions{MaxPoints: 11})
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if short[0] != 10 {
		t.Fatalf("max points ignored: n-1 = %v", short[0])
	}

	same, err := d.Profile(lat1, lon1, lat1, lon1, ProfileOptions{})
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if same[0] != 1 || same[1] != 0 {
		t.Fatalf("coincident profile header = %v", same[:2])
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewElevationFileStore(dir, testGeom)
	if err != nil {
		t.Fatalf("NewElevationFileStore: %v", err)
	}
	defer fs.Close()

	west := TileKey{41, -73}
	east := TileKey{41, -72}
	if err := fs.Save(west, FlatTile[float32](testGeom, 12.5), false); err != nil {
		t.Fatalf("Save raw: %v", err)
	}
	if err := fs.Save(east, FlatTile[float32](testGeom, 99), true); err != nil {
		t.Fatalf("Save zstd: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "n41w072.flt.zst")); err != nil {
		t.Fatalf("compressed tile not written: %v", err)
	}

	d := newElevation(t, fs)
	if e, err := d.GetElevation(40.5, -72.5, true); err != nil || e != 12.5 {
		t.Fatalf("raw tile: got (%v, %v)", e, err)
	}
	if e, err := d.GetElevation(40.5, -71.5, true); err != nil || e != 99 {
		t.Fatalf("zstd tile: got (%v, %v)", e, err)
	}

	if _, err := fs.Load(TileKey{10, 10}); !errors.Is(err, ErrTileNotFound) {
		t.Fatalf("missing tile: err = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "n42w073.flt"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(TileKey{42, -73}); !errors.Is(err, ErrRasterCorrupted) {
		t.Fatalf("truncated tile: err = %v", err)
	}
}

func TestLandCoverAndRegionVote(t *testing.T) {
	key := TileKey{41, -73}
	store := NewMemoryStore[uint8]()
	// West half urban, east half rural forest.
	store.Put(key, TileFromFunc(testGeom, key, func(lat, lon float64) uint8 {
		if lon < -72.5 {
			return NlcdDevelopedHigh
		}
		return 41
	}))
	d, err := NewLandCoverDriver(store, nil, WithGeometry(testGeom))
	if err != nil {
		t.Fatalf("NewLandCoverDriver: %v", err)
	}

	code, err := d.GetLandCoverCode(40.5, -72.8)
	if err != nil || code != NlcdDevelopedHigh {
		t.Fatalf("code = %v, %v", code, err)
	}

	region, err := d.RegionVote([]float64{40.5, 40.6, 40.7}, []float64{-72.8, -72.9, -72.2})
	if err != nil || region != model.RegionUrban {
		t.Fatalf("region = %v, %v; want URBAN", region, err)
	}
	region, err = d.RegionVote([]float64{40.5, 40.6}, []float64{-72.8, -72.2})
	if err != nil || region != model.RegionRural {
		t.Fatalf("tied region = %v, %v; want RURAL", region, err)
	}
	if r, err := d.Region(40.5, -72.8); err != nil || r != model.RegionUrban {
		t.Fatalf("Region = %v, %v; want URBAN", r, err)
	}

	missing, err := d.GetLandCoverCode(10.5, 10.5)
	if err != nil || missing != 0 {
		t.Fatalf("missing tile: code = %v, %v", missing, err)
	}
}

func TestVote(t *testing.T) {
	u, s, r := model.RegionUrban, model.RegionSuburban, model.RegionRural
	cases := []struct {
		in   []model.Region
		want model.Region
	}{
		{nil, r},
		{[]model.Region{s}, s},
		{[]model.Region{u, u, s}, u},
		{[]model.Region{u, s}, r},
		{[]model.Region{u, s, r}, r},
		{[]model.Region{s, s, u, r}, s},
	}
	for _, tc := range cases {
		if got := Vote(tc.in); got != tc.want {
			t.Errorf("Vote(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRegionForCode(t *testing.T) {
	if RegionForCode(23) != model.RegionUrban || RegionForCode(24) != model.RegionUrban {
		t.Fatalf("23/24 should be URBAN")
	}
	if RegionForCode(22) != model.RegionSuburban {
		t.Fatalf("22 should be SUBURBAN")
	}
	if RegionForCode(21) != model.RegionRural || RegionForCode(0) != model.RegionRural {
		t.Fatalf("21 and 0 should be RURAL")
	}
}
