package interference

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/sas-coexistence/model"
)

// DefaultCacheEntries bounds the number of memoized path-loss vectors.
const DefaultCacheEntries = 4096

// Reliability draws are clamped away from 0 and 1 where the quantile
// functions diverge.
const (
	minReliability = 0.001
	maxReliability = 0.999
)

type azimuthKey struct {
	point model.ProtectionPoint
	rng   model.AzimuthRange
	n     int
}

type lossKey struct {
	cbsd        model.CbsdKey
	height      float64
	point       model.ProtectionPoint
	radarHeight float64
	n           int
}

// linkDraws are the memoized propagation samples of one CBSD toward one
// protection point.
type linkDraws struct {
	losses    []float64
	txBearing float64
	rxBearing float64
}

// Cache memoizes Monte-Carlo draws so that runs sharing a seed see the same
// interference samples. Every draw is a pure function of the seed and the
// draw's identity, so eviction never changes a result. It is safe for
// concurrent use.
type Cache struct {
	seed uint64

	mu       sync.Mutex
	azimuths map[azimuthKey][]float64

	losses *lru.Cache[lossKey, linkDraws]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache seeded with seed holding up to entries path-loss
// vectors; entries <= 0 uses DefaultCacheEntries.
func NewCache(seed uint64, entries int) (*Cache, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	losses, err := lru.New[lossKey, linkDraws](entries)
	if err != nil {
		return nil, err
	}
	return &Cache{
		seed:     seed,
		azimuths: make(map[azimuthKey][]float64),
		losses:   losses,
	}, nil
}

// Seed returns the seed the cache was built with.
func (c *Cache) Seed() uint64 { return c.seed }

// Stats returns path-loss lookup hits and misses.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every memoized draw.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.azimuths = make(map[azimuthKey][]float64)
	c.mu.Unlock()
	c.losses.Purge()
}

// RadarAzimuths returns n radar pointing directions drawn uniformly in rng
// for the point. A range whose Max does not exceed Min wraps through north.
func (c *Cache) RadarAzimuths(pt model.ProtectionPoint, rng model.AzimuthRange, n int) []float64 {
	key := azimuthKey{point: pt, rng: rng, n: n}
	c.mu.Lock()
	defer c.mu.Unlock()
	if az, ok := c.azimuths[key]; ok {
		return az
	}
	span := rng.Max - rng.Min
	if span <= 0 {
		span += 360
	}
	r := c.rand(0x7261646172, hashPoint(pt))
	az := make([]float64, n)
	for i := range az {
		az[i] = math.Mod(rng.Min+r.Float64()*span, 360)
	}
	c.azimuths[key] = az
	return az
}

// Reliabilities returns the n propagation reliabilities drawn for a CBSD
// toward a point.
func (c *Cache) Reliabilities(key model.CbsdKey, pt model.ProtectionPoint, n int) []float64 {
	r := c.rand(hashCbsd(key), hashPoint(pt))
	out := make([]float64, n)
	for i := range out {
		out[i] = min(max(r.Float64(), minReliability), maxReliability)
	}
	return out
}

func (c *Cache) lookup(k lossKey) (linkDraws, bool) {
	d, ok := c.losses.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return d, ok
}

func (c *Cache) store(k lossKey, d linkDraws) {
	c.losses.Add(k, d)
}

func (c *Cache) rand(stream, sub uint64) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []uint64{c.seed, stream, sub} {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	s := h.Sum64()
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

func hashPoint(pt model.ProtectionPoint) uint64 {
	return hashFloats(pt.Latitude, pt.Longitude)
}

func hashCbsd(k model.CbsdKey) uint64 {
	var flags float64
	if k.Indoor {
		flags = 1
	}
	return hashFloats(k.Latitude, k.Longitude, k.AntennaAzimuth, float64(k.Category), flags)
}

func hashFloats(vs ...float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range vs {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}
