package geodesy

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// meanRadiusKm is the IUGG mean Earth radius.
const meanRadiusKm = 6371.0088

// Cap is a spherical disc used to discard far-away candidates before the
// exact ellipsoidal distance is computed. It is padded so it never rejects a
// point that lies within the requested geodesic radius.
type Cap struct {
	cap s2.Cap
}

// NewCap returns a cap centred on (lat, lon) covering radiusKm of geodesic
// distance. A negative radius yields an empty cap.
func NewCap(lat, lon, radiusKm float64) Cap {
	if radiusKm < 0 {
		return Cap{cap: s2.EmptyCap()}
	}
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	// The sphere and WGS84 disagree by well under 1% on distance.
	padded := radiusKm*1.01 + 1
	angle := s1.Angle(padded / meanRadiusKm)
	return Cap{cap: s2.CapFromCenterAngle(center, angle)}
}

// Contains reports whether (lat, lon) may lie inside the radius.
func (c Cap) Contains(lat, lon float64) bool {
	return c.cap.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon)))
}
