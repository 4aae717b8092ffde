package terrain

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrTileNotFound reports that the source holds no data for a tile. The
// provider maps it to an "empty" completion: the segment keeps the plain
// ellipsoid mesh and never retries.
var ErrTileNotFound = errors.New("terrain: tile not found")

// Source supplies encoded elevation-tile payloads. Implementations are
// called from worker goroutines and must be safe for concurrent use.
type Source interface {
	// FetchTile returns the encoded payload and its format ("png" or
	// "webp") for the tile, or ErrTileNotFound.
	FetchTile(z, x, y int) ([]byte, string, error)
}

// MemorySource serves tiles from an in-memory map. Tiles can be added
// after creation; useful for fixtures and procedurally generated terrain.
type MemorySource struct {
	mu     sync.RWMutex
	format string
	tiles  map[Key][]byte
}

// NewMemorySource creates an empty source serving tiles in the given
// format.
func NewMemorySource(format string) *MemorySource {
	return &MemorySource{format: format, tiles: make(map[Key][]byte)}
}

// Put stores an encoded tile payload.
func (s *MemorySource) Put(z, x, y int, data []byte) {
	s.mu.Lock()
	s.tiles[Key{z, x, y}] = data
	s.mu.Unlock()
}

// PutTile encodes an elevation tile as Terrarium PNG and stores it.
func (s *MemorySource) PutTile(z, x, y int, t *Tile) error {
	data, err := EncodeTile(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tiles[Key{z, x, y}] = data
	s.mu.Unlock()
	return nil
}

// FetchTile implements Source.
func (s *MemorySource) FetchTile(z, x, y int) ([]byte, string, error) {
	s.mu.RLock()
	data, ok := s.tiles[Key{z, x, y}]
	s.mu.RUnlock()
	if !ok {
		return nil, "", ErrTileNotFound
	}
	format := s.format
	if format == "" {
		format = "png"
	}
	return data, format, nil
}
