package dpa

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/signalsfoundry/sas-coexistence/geodesy"
	"github.com/signalsfoundry/sas-coexistence/model"
)

// PointOptions controls how protection points are laid out over a DPA.
type PointOptions struct {
	// BoundarySpacingKm is the distance between points along each ring.
	BoundarySpacingKm float64
	// InteriorSpacingKm is the grid step inside polygons; 0 disables the
	// interior grid.
	InteriorSpacingKm float64
}

// DefaultPointOptions places a point every kilometre of boundary and every
// 5 km inside.
var DefaultPointOptions = PointOptions{BoundarySpacingKm: 1, InteriorSpacingKm: 5}

const kmPerDegreeLat = 111.32

// ProtectionPoints lays protection points over geom: the point itself for
// point geometries, and for polygons the sampled boundary plus an interior
// grid. Duplicate points are dropped.
func ProtectionPoints(geom orb.Geometry, opts PointOptions) ([]model.ProtectionPoint, error) {
	if opts.BoundarySpacingKm <= 0 {
		return nil, fmt.Errorf("%w: boundary spacing %v km", model.ErrBadInput, opts.BoundarySpacingKm)
	}
	b := &pointBuilder{opts: opts, seen: make(map[model.ProtectionPoint]bool)}
	if err := b.add(geom); err != nil {
		return nil, err
	}
	if len(b.points) == 0 {
		return nil, fmt.Errorf("%w: geometry yields no protection points", model.ErrBadInput)
	}
	return b.points, nil
}

type pointBuilder struct {
	opts   PointOptions
	seen   map[model.ProtectionPoint]bool
	points []model.ProtectionPoint
}

func (b *pointBuilder) push(lon, lat float64) {
	p := model.ProtectionPoint{Longitude: lon, Latitude: lat}
	if !b.seen[p] {
		b.seen[p] = true
		b.points = append(b.points, p)
	}
}

func (b *pointBuilder) add(geom orb.Geometry) error {
	switch g := geom.(type) {
	case orb.Point:
		b.push(g[0], g[1])
	case orb.MultiPoint:
		for _, p := range g {
			b.push(p[0], p[1])
		}
	case orb.Polygon:
		for _, ring := range g {
			if err := b.ring(ring); err != nil {
				return err
			}
		}
		b.interior(g.Bound(), func(p orb.Point) bool { return planar.PolygonContains(g, p) })
	case orb.MultiPolygon:
		for _, poly := range g {
			if err := b.add(poly); err != nil {
				return err
			}
		}
	case orb.Collection:
		for _, sub := range g {
			if err := b.add(sub); err != nil {
				return err
			}
		}
	case nil:
		return fmt.Errorf("%w: DPA has no geometry", model.ErrBadInput)
	default:
		return fmt.Errorf("%w: unsupported DPA geometry %s", model.ErrBadInput, geom.GeoJSONType())
	}
	return nil
}

func (b *pointBuilder) ring(ring orb.Ring) error {
	for i := 0; i+1 < len(ring); i++ {
		a, c := ring[i], ring[i+1]
		dist, _, _, err := geodesy.DistanceBearing(a[1], a[0], c[1], c[0])
		if err != nil {
			return err
		}
		n := int(math.Ceil(dist/b.opts.BoundarySpacingKm)) + 1
		lats, lons, err := geodesy.Sampling(a[1], a[0], c[1], c[0], n)
		if err != nil {
			return err
		}
		// The last sample is the next edge's first.
		for k := 0; k < len(lats)-1; k++ {
			b.push(lons[k], lats[k])
		}
	}
	if len(ring) == 1 {
		b.push(ring[0][0], ring[0][1])
	}
	return nil
}

func (b *pointBuilder) interior(bound orb.Bound, inside func(orb.Point) bool) {
	step := b.opts.InteriorSpacingKm
	if step <= 0 {
		return
	}
	dLat := step / kmPerDegreeLat
	for lat := bound.Min[1] + dLat/2; lat < bound.Max[1]; lat += dLat {
		dLon := step / (kmPerDegreeLat * math.Cos(lat*math.Pi/180))
		for lon := bound.Min[0] + dLon/2; lon < bound.Max[0]; lon += dLon {
			if inside(orb.Point{lon, lat}) {
				b.push(lon, lat)
			}
		}
	}
}
