package terrain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/signalsfoundry/sas-coexistence/internal/logging"
)

// Tile kinds, used as metric labels.
const (
	KindElevation = "elevation"
	KindLandCover = "landcover"
)

// DefaultCacheSize is the number of tiles each driver keeps resident.
const DefaultCacheSize = 8

// CacheRecorder receives tile cache events.
type CacheRecorder interface {
	RecordTileLoad(kind string)
	RecordTileLookup(kind string, hit bool)
}

// tileCache is an LRU of decoded tiles. Concurrent misses on one key share a
// single store read; the read itself runs outside any lock.
type tileCache[T Sample] struct {
	kind  string
	geom  Geometry
	store TileStore[T]
	tiles *lru.Cache[TileKey, *Tile[T]]
	group singleflight.Group

	mu      sync.Mutex
	loads   map[TileKey]int
	missing map[TileKey]struct{}

	warnMissing bool
	log         logging.Logger
	metrics     CacheRecorder
}

func newTileCache[T Sample](kind string, store TileStore[T], size int, g Geometry, log logging.Logger, metrics CacheRecorder, warnMissing bool) (*tileCache[T], error) {
	if store == nil {
		return nil, fmt.Errorf("terrain: %s store is nil", kind)
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	tiles, err := lru.New[TileKey, *Tile[T]](size)
	if err != nil {
		return nil, err
	}
	return &tileCache[T]{
		kind:        kind,
		geom:        g,
		store:       store,
		tiles:       tiles,
		loads:       make(map[TileKey]int),
		missing:     make(map[TileKey]struct{}),
		warnMissing: warnMissing,
		log:         log,
		metrics:     metrics,
	}, nil
}

// get returns the tile for key. A nil tile with a nil error means the store
// has no such tile.
func (c *tileCache[T]) get(key TileKey) (*Tile[T], error) {
	if t, ok := c.tiles.Get(key); ok {
		c.recordLookup(true)
		return t, nil
	}
	c.mu.Lock()
	_, absent := c.missing[key]
	c.mu.Unlock()
	if absent {
		c.recordLookup(true)
		return nil, nil
	}
	c.recordLookup(false)

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if t, ok := c.tiles.Peek(key); ok {
			return t, nil
		}
		t, err := c.store.Load(key)
		c.mu.Lock()
		c.loads[key]++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordTileLoad(c.kind)
		}
		if errors.Is(err, ErrTileNotFound) {
			c.mu.Lock()
			c.missing[key] = struct{}{}
			c.mu.Unlock()
			if c.warnMissing {
				c.log.Warn(context.Background(), "terrain tile missing, using zero",
					logging.String("kind", c.kind),
					logging.String("tile", key.String()),
				)
			}
			return (*Tile[T])(nil), nil
		}
		if err != nil {
			return nil, err
		}
		if err := t.check(c.geom); err != nil {
			return nil, fmt.Errorf("%s tile %s: %w", c.kind, key, err)
		}
		c.tiles.Add(key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile[T]), nil
}

func (c *tileCache[T]) recordLookup(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordTileLookup(c.kind, hit)
	}
}

// loadCounts returns a copy of the per-tile store read counts.
func (c *tileCache[T]) loadCounts() map[TileKey]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[TileKey]int, len(c.loads))
	for k, v := range c.loads {
		out[k] = v
	}
	return out
}

func (c *tileCache[T]) purge() {
	c.tiles.Purge()
	c.mu.Lock()
	c.missing = make(map[TileKey]struct{})
	c.mu.Unlock()
}

// pixel locates (lat, lon) inside its tile as fractional pixel coordinates,
// pixel centres sitting on integer values.
func (g Geometry) pixel(key TileKey, lat, lon float64) (x, y float64) {
	ppd := float64(g.PixelsPerDegree)
	off := float64(g.Overlap) - 0.5
	x = (lon-float64(key.Lon))*ppd + off
	y = (float64(key.Lat)-lat)*ppd + off
	return x, y
}
