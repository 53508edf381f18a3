package geodesy

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceBearingKnownGeodesic(t *testing.T) {
	// Flinders Peak to Buninyong, the worked example from Vincenty (1975).
	d, fwd, rev, err := DistanceBearing(-37.95103342, 144.42486789, -37.65282114, 143.92649554)
	if err != nil {
		t.Fatalf("DistanceBearing: %v", err)
	}
	if math.Abs(d-54.972271) > 1e-3 {
		t.Fatalf("distance = %.6f km, want 54.972271", d)
	}
	if math.Abs(fwd-306.868159) > 1e-4 {
		t.Fatalf("forward bearing = %.6f, want 306.868159", fwd)
	}
	if math.Abs(rev-307.173631) > 1e-4 {
		t.Fatalf("reverse bearing = %.6f, want 307.173631", rev)
	}
}

func TestDistanceBearingCoincident(t *testing.T) {
	d, fwd, rev, err := DistanceBearing(41, -72.5, 41, -72.5)
	if err != nil || d != 0 || fwd != 0 || rev != 0 {
		t.Fatalf("got (%v, %v, %v, %v), want zeros", d, fwd, rev, err)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][4]float64{
		{41.0, -72.5, 40.95, -72.55},
		{41.0, -72.5, 42.0, -72.5},
		{30.2, -97.7, 47.6, -122.3},
		{-33.9, 151.2, 35.7, 139.7},
		{10, 179.5, 10.5, -179.5},
		{0, 0, 0, 90},
	}
	for _, c := range cases {
		d, brg, _, err := DistanceBearing(c[0], c[1], c[2], c[3])
		if err != nil {
			t.Fatalf("%v: DistanceBearing: %v", c, err)
		}
		lat, lon, _, err := Point(c[0], c[1], d, brg)
		if err != nil {
			t.Fatalf("%v: Point: %v", c, err)
		}
		dLon := math.Abs(normLon(lon - c[3]))
		if math.Abs(lat-c[2]) > 1e-5 || dLon > 1e-5 {
			t.Fatalf("%v: round trip landed at (%v, %v)", c, lat, lon)
		}
	}
}

func TestPointsMatchesPoint(t *testing.T) {
	dists := []float64{0, 1.5, 10, 80, 250}
	lats, lons, revs, err := Points(41, -72.5, dists, 123.4)
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	for i, d := range dists {
		lat, lon, rev, err := Point(41, -72.5, d, 123.4)
		if err != nil {
			t.Fatalf("Point: %v", err)
		}
		if lat != lats[i] || lon != lons[i] || rev != revs[i] {
			t.Fatalf("distance %v: Point=(%v,%v,%v) Points=(%v,%v,%v)", d, lat, lon, rev, lats[i], lons[i], revs[i])
		}
	}
}

func TestSamplingEndpointsAndSpacing(t *testing.T) {
	lat1, lon1, lat2, lon2 := 40.95, -72.55, 41.3, -72.1
	lats, lons, err := Sampling(lat1, lon1, lat2, lon2, 101)
	if err != nil {
		t.Fatalf("Sampling: %v", err)
	}
	if len(lats) != 101 {
		t.Fatalf("got %d points, want 101", len(lats))
	}
	if lats[0] != lat1 || lons[0] != lon1 || lats[100] != lat2 || lons[100] != lon2 {
		t.Fatalf("endpoints not exact")
	}

	total, _, _, _ := DistanceBearing(lat1, lon1, lat2, lon2)
	mean := total / 100
	for i := 1; i < len(lats); i++ {
		step, _, _, err := DistanceBearing(lats[i-1], lons[i-1], lats[i], lons[i])
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if math.Abs(step-mean) > 1e-3*mean {
			t.Fatalf("step %d = %v km, mean %v km", i, step, mean)
		}
	}
}

func TestSamplingClampsN(t *testing.T) {
	lats, _, err := Sampling(41, -72.5, 41.1, -72.5, 0)
	if err != nil {
		t.Fatalf("Sampling: %v", err)
	}
	if len(lats) != 2 {
		t.Fatalf("got %d points, want 2", len(lats))
	}
}

func TestInvalidCoordinate(t *testing.T) {
	if _, _, _, err := DistanceBearing(math.NaN(), 0, 1, 1); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("NaN lat: err = %v", err)
	}
	if _, _, _, err := Point(0, math.Inf(1), 1, 0); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("Inf lon: err = %v", err)
	}
	if _, _, err := Sampling(91, 0, 0, 0, 5); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("lat 91: err = %v", err)
	}
}

func TestCapNeverRejectsInsideRadius(t *testing.T) {
	c := NewCap(41, -72.5, 150)
	for _, brg := range []float64{0, 45, 90, 180, 270, 333} {
		lat, lon, _, err := Point(41, -72.5, 149.9, brg)
		if err != nil {
			t.Fatalf("Point: %v", err)
		}
		if !c.Contains(lat, lon) {
			t.Fatalf("bearing %v: cap rejected point at 149.9 km", brg)
		}
	}
	if c.Contains(45, -72.5) {
		t.Fatalf("cap accepted a point ~444 km away")
	}
	if NewCap(41, -72.5, -1).Contains(41, -72.5) {
		t.Fatalf("empty cap contains its centre")
	}
}
