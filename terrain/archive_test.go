package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	w := NewArchiveWriter("png")

	payloads := map[Key][]byte{
		{Z: 2, X: 0, Y: 0}: []byte("tile-a"),
		{Z: 2, X: 1, Y: 0}: []byte("tile-b"),
		{Z: 3, X: 5, Y: 2}: []byte("tile-c"),
		{Z: 0, X: 0, Y: 0}: []byte("root"),
	}
	for k, data := range payloads {
		require.NoError(t, w.WriteTile(k.Z, k.X, k.Y, data))
	}

	blob, err := w.Finish()
	require.NoError(t, err)

	src, err := OpenArchive(blob)
	require.NoError(t, err)
	assert.Equal(t, len(payloads), src.Len())

	for k, want := range payloads {
		data, format, err := src.FetchTile(k.Z, k.X, k.Y)
		require.NoErrorf(t, err, "tile %v", k)
		assert.Equal(t, "png", format)
		assert.Equal(t, want, data)
	}
}

func TestArchiveMissingTile(t *testing.T) {
	w := NewArchiveWriter("webp")
	require.NoError(t, w.WriteTile(1, 0, 0, []byte("x")))
	blob, err := w.Finish()
	require.NoError(t, err)

	src, err := OpenArchive(blob)
	require.NoError(t, err)

	_, _, err = src.FetchTile(1, 1, 1)
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestArchiveDuplicateTile(t *testing.T) {
	w := NewArchiveWriter("png")
	require.NoError(t, w.WriteTile(4, 3, 3, []byte("a")))
	assert.Error(t, w.WriteTile(4, 3, 3, []byte("b")))
}

func TestArchiveRejectsGarbage(t *testing.T) {
	_, err := OpenArchive([]byte("not an archive"))
	assert.Error(t, err)

	_, err = OpenArchive(nil)
	assert.Error(t, err)
}

func TestTileIDOrdering(t *testing.T) {
	// IDs at one zoom stay below IDs of the next zoom.
	maxZ2 := uint64(0)
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			if id := TileID(2, x, y); id > maxZ2 {
				maxZ2 = id
			}
		}
	}
	assert.Less(t, maxZ2, TileID(3, 0, 0))

	// Distinct tiles get distinct IDs.
	seen := make(map[uint64]bool)
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			id := TileID(3, x, y)
			assert.Falsef(t, seen[id], "duplicate id %d for (%d,%d)", id, x, y)
			seen[id] = true
		}
	}
}
