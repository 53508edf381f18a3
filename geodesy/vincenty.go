// Package geodesy implements Vincenty's inverse and direct formulae on the
// WGS84 ellipsoid, plus geodesic path sampling.
package geodesy

import (
	"errors"
	"fmt"
	"math"
)

// WGS84 ellipsoid.
const (
	SemiMajorKm  = 6378.1370
	Flattening   = 1 / 298.257223563
	SemiMinorKm  = (1 - Flattening) * SemiMajorKm
	convergence  = 1e-12
	maxIteration = 200
)

var (
	// ErrInvalidCoordinate is returned for non-finite or out-of-range input.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrNonConvergent is returned when an iteration does not settle within
	// maxIteration steps. This only happens for near-antipodal points.
	ErrNonConvergent = errors.New("vincenty did not converge")
)

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func checkLatLon(lat, lon float64) error {
	if !finite(lat, lon) || math.Abs(lat) > 90 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// normBearing maps a bearing in degrees to [0, 360).
func normBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	if b >= 360 {
		b = 0
	}
	return b
}

// normLon maps a longitude in degrees to [-180, 180).
func normLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// seriesAB returns Vincenty's A and B coefficients for the reduced u².
func seriesAB(cosSqAlpha float64) (a, b float64) {
	uSq := cosSqAlpha * (SemiMajorKm*SemiMajorKm - SemiMinorKm*SemiMinorKm) / (SemiMinorKm * SemiMinorKm)
	a = 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	b = uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
	return a, b
}

func deltaSigma(b, sinSigma, cosSigma, cos2SigmaM float64) float64 {
	c2 := cos2SigmaM * cos2SigmaM
	return b * sinSigma * (cos2SigmaM + b/4*(cosSigma*(-1+2*c2)-
		b/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*c2)))
}

// DistanceBearing returns the geodesic distance in km between two points,
// the forward bearing at point 1 and the reverse bearing at point 2 (the
// bearing from point 2 back to point 1). Coincident points give (0, 0, 0).
func DistanceBearing(lat1, lon1, lat2, lon2 float64) (distKm, bearing, revBearing float64, err error) {
	if err := checkLatLon(lat1, lon1); err != nil {
		return 0, 0, 0, err
	}
	if err := checkLatLon(lat2, lon2); err != nil {
		return 0, 0, 0, err
	}
	if lat1 == lat2 && normLon(lon1) == normLon(lon2) {
		return 0, 0, 0, nil
	}

	f := Flattening
	L := rad(normLon(lon2 - lon1))
	U1 := math.Atan((1 - f) * math.Tan(rad(lat1)))
	U2 := math.Atan((1 - f) * math.Tan(rad(lat2)))
	sinU1, cosU1 := math.Sincos(U1)
	sinU2, cosU2 := math.Sincos(U2)

	lambda := L
	var (
		sinLambda, cosLambda float64
		sinSigma, cosSigma   float64
		sigma, cosSqAlpha    float64
		cos2SigmaM, sinAlpha float64
		converged            bool
	)
	for i := 0; i < maxIteration; i++ {
		sinLambda, cosLambda = math.Sincos(lambda)
		t1 := cosU2 * sinLambda
		t2 := cosU1*sinU2 - sinU1*cosU2*cosLambda
		sinSigma = math.Sqrt(t1*t1 + t2*t2)
		if sinSigma == 0 {
			return 0, 0, 0, nil
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha = cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha
		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		} else {
			// equatorial line
			cos2SigmaM = 0
		}
		C := f / 16 * cosSqAlpha * (4 + f*(4-3*cosSqAlpha))
		prev := lambda
		lambda = L + (1-C)*f*sinAlpha*(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) <= convergence {
			converged = true
			break
		}
	}
	if !converged {
		return 0, 0, 0, fmt.Errorf("%w: (%v, %v) -> (%v, %v)", ErrNonConvergent, lat1, lon1, lat2, lon2)
	}

	A, B := seriesAB(cosSqAlpha)
	distKm = SemiMinorKm * A * (sigma - deltaSigma(B, sinSigma, cosSigma, cos2SigmaM))

	fwd := math.Atan2(cosU2*sinLambda, cosU1*sinU2-sinU1*cosU2*cosLambda)
	back := math.Atan2(cosU1*sinLambda, -sinU1*cosU2+cosU1*sinU2*cosLambda)
	return distKm, normBearing(deg(fwd)), normBearing(deg(back) + 180), nil
}

// Point returns the destination reached from (lat, lon) after distKm along
// the initial bearing, together with the reverse bearing at the destination.
func Point(lat, lon, distKm, bearing float64) (lat2, lon2, revBearing float64, err error) {
	lats, lons, revs, err := Points(lat, lon, []float64{distKm}, bearing)
	if err != nil {
		return 0, 0, 0, err
	}
	return lats[0], lons[0], revs[0], nil
}

// Points evaluates the direct formula for several distances sharing one
// origin and bearing. Results match calling Point per distance.
func Points(lat, lon float64, distsKm []float64, bearing float64) (lats, lons, revBearings []float64, err error) {
	if err := checkLatLon(lat, lon); err != nil {
		return nil, nil, nil, err
	}
	if !finite(bearing) || !finite(distsKm...) {
		return nil, nil, nil, fmt.Errorf("%w: non-finite distance or bearing", ErrInvalidCoordinate)
	}

	f := Flattening
	sinAlpha1, cosAlpha1 := math.Sincos(rad(bearing))
	tanU1 := (1 - f) * math.Tan(rad(lat))
	cosU1 := 1 / math.Sqrt(1+tanU1*tanU1)
	sinU1 := tanU1 * cosU1
	sigma1 := math.Atan2(tanU1, cosAlpha1)
	sinAlpha := cosU1 * sinAlpha1
	cosSqAlpha := 1 - sinAlpha*sinAlpha
	A, B := seriesAB(cosSqAlpha)
	C := f / 16 * cosSqAlpha * (4 + f*(4-3*cosSqAlpha))

	lats = make([]float64, len(distsKm))
	lons = make([]float64, len(distsKm))
	revBearings = make([]float64, len(distsKm))
	for i, s := range distsKm {
		if s == 0 {
			lats[i], lons[i] = lat, lon
			revBearings[i] = normBearing(bearing + 180)
			continue
		}
		base := s / (SemiMinorKm * A)
		sigma := base
		var sinSigma, cosSigma, cos2SigmaM float64
		converged := false
		for it := 0; it < maxIteration; it++ {
			cos2SigmaM = math.Cos(2*sigma1 + sigma)
			sinSigma, cosSigma = math.Sincos(sigma)
			prev := sigma
			sigma = base + deltaSigma(B, sinSigma, cosSigma, cos2SigmaM)
			if math.Abs(sigma-prev) <= convergence {
				converged = true
				break
			}
		}
		if !converged {
			return nil, nil, nil, fmt.Errorf("%w: direct from (%v, %v) %v km at %v", ErrNonConvergent, lat, lon, s, bearing)
		}
		cos2SigmaM = math.Cos(2*sigma1 + sigma)
		sinSigma, cosSigma = math.Sincos(sigma)

		tmp := sinU1*sinSigma - cosU1*cosSigma*cosAlpha1
		phi2 := math.Atan2(sinU1*cosSigma+cosU1*sinSigma*cosAlpha1, (1-f)*math.Sqrt(sinAlpha*sinAlpha+tmp*tmp))
		lambda := math.Atan2(sinSigma*sinAlpha1, cosU1*cosSigma-sinU1*sinSigma*cosAlpha1)
		L := lambda - (1-C)*f*sinAlpha*(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		alpha2 := math.Atan2(sinAlpha, -tmp)

		lats[i] = deg(phi2)
		lons[i] = normLon(lon + deg(L))
		revBearings[i] = normBearing(deg(alpha2) + 180)
	}
	return lats, lons, revBearings, nil
}

// Sampling returns n equally spaced points along the geodesic from point 1
// to point 2, endpoints included and exact. n below 2 is raised to 2.
func Sampling(lat1, lon1, lat2, lon2 float64, n int) (lats, lons []float64, err error) {
	if n < 2 {
		n = 2
	}
	dist, bearing, _, err := DistanceBearing(lat1, lon1, lat2, lon2)
	if err != nil {
		return nil, nil, err
	}

	lats = make([]float64, n)
	lons = make([]float64, n)
	lats[0], lons[0] = lat1, lon1
	lats[n-1], lons[n-1] = lat2, lon2
	if n == 2 {
		return lats, lons, nil
	}
	if dist == 0 {
		for i := 1; i < n-1; i++ {
			lats[i], lons[i] = lat1, lon1
		}
		return lats, lons, nil
	}

	step := dist / float64(n-1)
	dists := make([]float64, n-2)
	for i := range dists {
		dists[i] = step * float64(i+1)
	}
	mids, midLons, _, err := Points(lat1, lon1, dists, bearing)
	if err != nil {
		return nil, nil, err
	}
	copy(lats[1:], mids)
	copy(lons[1:], midLons)
	return lats, lons, nil
}
