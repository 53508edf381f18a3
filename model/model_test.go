package model

import (
	"errors"
	"testing"
)

type fixedElevation float64

func (f fixedElevation) Elevation(lat, lon float64) (float64, error) { return float64(f), nil }

func baseRecord() GrantRecord {
	return GrantRecord{
		ID:               "cbsd-1/grant-1",
		Latitude:         40.95,
		Longitude:        -72.55,
		Height:           30,
		HeightType:       HeightAGL,
		Category:         "B",
		AntennaBeamwidth: 360,
		AntennaGain:      15,
		MaxEirp:          30,
		LowFrequency:     3550e6,
		HighFrequency:    3560e6,
	}
}

func TestGrantRecordAMSLNormalizedToAGL(t *testing.T) {
	rec := baseRecord()
	rec.HeightType = HeightAMSL
	rec.Height = 130

	g, err := rec.ToGrant(fixedElevation(100))
	if err != nil {
		t.Fatalf("ToGrant: %v", err)
	}
	if g.HeightAGL != 30 {
		t.Fatalf("HeightAGL = %v, want 30", g.HeightAGL)
	}
	if g.Category != CategoryB {
		t.Fatalf("Category = %v, want B", g.Category)
	}
}

func TestGrantRecordRejectsHeights(t *testing.T) {
	for _, h := range []float64{0.5, 1200} {
		rec := baseRecord()
		rec.Height = h
		if _, err := rec.ToGrant(nil); !errors.Is(err, ErrBadInput) {
			t.Fatalf("height %v: err = %v, want ErrBadInput", h, err)
		}
	}

	rec := baseRecord()
	rec.HeightType = HeightAMSL
	if _, err := rec.ToGrant(nil); !errors.Is(err, ErrBadGrant) {
		t.Fatalf("AMSL without terrain: err = %v, want ErrBadGrant", err)
	}
}

func TestGrantRecordRejectsMalformedFrequency(t *testing.T) {
	rec := baseRecord()
	rec.HighFrequency = rec.LowFrequency
	if _, err := rec.ToGrant(nil); !errors.Is(err, ErrBadGrant) {
		t.Fatalf("err = %v, want ErrBadGrant", err)
	}
}

func TestOverlapMHz(t *testing.T) {
	g, err := baseRecord().ToGrant(nil)
	if err != nil {
		t.Fatalf("ToGrant: %v", err)
	}
	cases := []struct {
		ch   Channel
		want float64
	}{
		{Channel{3550, 3560}, 10},
		{Channel{3555, 3565}, 5},
		{Channel{3560, 3570}, 0},
		{Channel{3540, 3550}, 0},
	}
	for _, tc := range cases {
		if got := g.OverlapMHz(tc.ch); got != tc.want {
			t.Errorf("OverlapMHz(%v) = %v, want %v", tc.ch, got, tc.want)
		}
	}
}

func TestChannelsIn(t *testing.T) {
	chs := FreqRange{LowMHz: 3545, HighMHz: 3580}.ChannelsIn()
	want := []Channel{{3550, 3560}, {3560, 3570}, {3570, 3580}}
	if len(chs) != len(want) {
		t.Fatalf("got %v, want %v", chs, want)
	}
	for i := range want {
		if chs[i] != want[i] {
			t.Fatalf("channel %d = %v, want %v", i, chs[i], want[i])
		}
	}
	if got := (FreqRange{LowMHz: 3550, HighMHz: 3555}).ChannelsIn(); len(got) != 0 {
		t.Fatalf("narrow range produced channels %v", got)
	}
}

func TestGrantSetOperations(t *testing.T) {
	a := Grant{ID: "a"}
	b := Grant{ID: "b"}
	c := Grant{ID: "c"}

	s := NewGrantSet(a, b)
	s.Union(NewGrantSet(b, c))
	if s.Len() != 3 {
		t.Fatalf("union size = %d, want 3", s.Len())
	}

	diff := s.Difference(NewGrantSet(b))
	if diff.Contains(b) || diff.Len() != 2 {
		t.Fatalf("difference = %v", diff.Sorted())
	}

	inter := s.Intersect(NewGrantSet(c, Grant{ID: "z"}))
	if inter.Len() != 1 || !inter.Contains(c) {
		t.Fatalf("intersection = %v", inter.Sorted())
	}

	sorted := s.Sorted()
	if sorted[0].ID != "a" || sorted[2].ID != "c" {
		t.Fatalf("sorted = %v", sorted)
	}
}

func TestNeighborDistancesFor(t *testing.T) {
	n := NeighborDistances{CatAInBandKm: 1, CatBInBandKm: 2, CatAOutOfBandKm: 3, CatBOutOfBandKm: 4}
	if n.For(CategoryA, true) != 1 || n.For(CategoryB, true) != 2 || n.For(CategoryA, false) != 3 || n.For(CategoryB, false) != 4 {
		t.Fatalf("For returned wrong radii")
	}
	if n.Max() != 4 {
		t.Fatalf("Max = %v, want 4", n.Max())
	}
}
