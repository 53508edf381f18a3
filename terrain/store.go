// Package terrain serves terrain elevation and land-cover classification
// from 1°×1° raster tiles held in an LRU cache.
package terrain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrTileNotFound means the store has no tile for the key. Drivers treat
	// it as zero elevation or unclassified land cover.
	ErrTileNotFound = errors.New("tile not found")
	// ErrRasterCorrupted means the tile payload could not be decoded.
	ErrRasterCorrupted = errors.New("raster corrupted")
	// ErrTileUnavailable wraps transient I/O failures while reading a tile.
	ErrTileUnavailable = errors.New("tile unavailable")
)

// TileKey names a tile by the integer latitude and longitude of its NW
// corner.
type TileKey struct {
	Lat int
	Lon int
}

// KeyFor returns the key of the tile covering (lat, lon).
func KeyFor(lat, lon float64) TileKey {
	return TileKey{Lat: int(math.Ceil(lat)), Lon: int(math.Floor(lon))}
}

// String renders the key in the usual "n41w073" form.
func (k TileKey) String() string {
	ns, ew := 'n', 'e'
	lat, lon := k.Lat, k.Lon
	if lat < 0 {
		ns, lat = 's', -lat
	}
	if lon < 0 {
		ew, lon = 'w', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, lat, ew, lon)
}

// Geometry fixes the raster resolution and the overlap with adjacent tiles.
type Geometry struct {
	PixelsPerDegree int
	Overlap         int
}

// DefaultGeometry is the 1 arc-second layout with a 6 pixel overlap.
var DefaultGeometry = Geometry{PixelsPerDegree: 3600, Overlap: 6}

// Size is the edge length of a tile in pixels, overlap included.
func (g Geometry) Size() int { return g.PixelsPerDegree + 2*g.Overlap }

func (g Geometry) valid() bool { return g.PixelsPerDegree > 0 && g.Overlap >= 1 }

// Sample is a raster element type.
type Sample interface {
	~float32 | ~uint8
}

// Tile is a square raster in row-major order. Pixel (0, 0) is the NW corner
// of the overlapped area.
type Tile[T Sample] struct {
	Size int
	Data []T
}

func (t *Tile[T]) at(row, col int) T { return t.Data[row*t.Size+col] }

func (t *Tile[T]) check(g Geometry) error {
	if t == nil || t.Size != g.Size() || len(t.Data) != t.Size*t.Size {
		return ErrRasterCorrupted
	}
	return nil
}

// FlatTile returns a tile with every pixel set to v.
func FlatTile[T Sample](g Geometry, v T) *Tile[T] {
	n := g.Size()
	data := make([]T, n*n)
	for i := range data {
		data[i] = v
	}
	return &Tile[T]{Size: n, Data: data}
}

// TileFromFunc fills a tile by evaluating fn at every pixel centre.
func TileFromFunc[T Sample](g Geometry, key TileKey, fn func(lat, lon float64) T) *Tile[T] {
	n := g.Size()
	ppd := float64(g.PixelsPerDegree)
	data := make([]T, n*n)
	for r := 0; r < n; r++ {
		lat := float64(key.Lat) - (float64(r-g.Overlap)+0.5)/ppd
		for c := 0; c < n; c++ {
			lon := float64(key.Lon) + (float64(c-g.Overlap)+0.5)/ppd
			data[r*n+c] = fn(lat, lon)
		}
	}
	return &Tile[T]{Size: n, Data: data}
}

// TileStore produces raw tiles. Implementations must be safe for concurrent
// use.
type TileStore[T Sample] interface {
	Load(key TileKey) (*Tile[T], error)
}

// MemoryStore is a TileStore backed by a map. It is mostly useful for tests
// and pre-decoded rasters.
type MemoryStore[T Sample] struct {
	mu    sync.RWMutex
	tiles map[TileKey]*Tile[T]
}

func NewMemoryStore[T Sample]() *MemoryStore[T] {
	return &MemoryStore[T]{tiles: make(map[TileKey]*Tile[T])}
}

// Put stores or replaces a tile.
func (s *MemoryStore[T]) Put(key TileKey, t *Tile[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[key] = t
}

func (s *MemoryStore[T]) Load(key TileKey) (*Tile[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, key)
	}
	return t, nil
}

// FileStore reads little-endian raw rasters named after their key, such as
// n41w073.flt for elevation or n41w073.lc for land cover. A ".zst" variant is
// preferred when present.
type FileStore[T Sample] struct {
	dir  string
	ext  string
	geom Geometry

	decoder *zstd.Decoder
}

// NewElevationFileStore reads float32 elevation tiles from dir.
func NewElevationFileStore(dir string, g Geometry) (*FileStore[float32], error) {
	return newFileStore[float32](dir, ".flt", g)
}

// NewLandCoverFileStore reads uint8 land-cover tiles from dir.
func NewLandCoverFileStore(dir string, g Geometry) (*FileStore[uint8], error) {
	return newFileStore[uint8](dir, ".lc", g)
}

func newFileStore[T Sample](dir, ext string, g Geometry) (*FileStore[T], error) {
	if !g.valid() {
		return nil, fmt.Errorf("terrain: invalid geometry %+v", g)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("terrain: zstd decoder: %w", err)
	}
	return &FileStore[T]{dir: dir, ext: ext, geom: g, decoder: dec}, nil
}

func (s *FileStore[T]) path(key TileKey) string {
	return filepath.Join(s.dir, key.String()+s.ext)
}

func (s *FileStore[T]) Load(key TileKey) (*Tile[T], error) {
	raw, err := s.read(key)
	if err != nil {
		return nil, err
	}
	t, err := decodeTile[T](raw, s.geom)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func (s *FileStore[T]) read(key TileKey) ([]byte, error) {
	base := s.path(key)
	compressed, err := os.ReadFile(base + ".zst")
	switch {
	case err == nil:
		raw, derr := s.decoder.DecodeAll(compressed, nil)
		if derr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRasterCorrupted, key, derr)
		}
		return raw, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s: %v", ErrTileUnavailable, key, err)
	}

	raw, err := os.ReadFile(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTileUnavailable, key, err)
	}
	return raw, nil
}

// Save writes a tile in the store layout, zstd-compressed when compress is
// set.
func (s *FileStore[T]) Save(key TileKey, t *Tile[T], compress bool) error {
	if err := t.check(s.geom); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, t.Data); err != nil {
		return err
	}
	name := s.path(key)
	payload := buf.Bytes()
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		payload = enc.EncodeAll(payload, nil)
		if err := enc.Close(); err != nil {
			return err
		}
		name += ".zst"
	}
	return os.WriteFile(name, payload, 0o644)
}

// Close releases the zstd decoder.
func (s *FileStore[T]) Close() {
	s.decoder.Close()
}

func decodeTile[T Sample](raw []byte, g Geometry) (*Tile[T], error) {
	n := g.Size()
	var zero T
	want := n * n * binary.Size(zero)
	if len(raw) != want {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrRasterCorrupted, len(raw), want)
	}
	data := make([]T, n*n)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrRasterCorrupted, err)
	}
	return &Tile[T]{Size: n, Data: data}, nil
}
