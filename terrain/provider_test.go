package terrain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainOne(t *testing.T, p *Provider) Result {
	t.Helper()
	var results []Result
	require.Eventually(t, func() bool {
		p.Drain(func(r Result) { results = append(results, r) })
		return len(results) > 0
	}, 2*time.Second, 2*time.Millisecond)
	require.Len(t, results, 1)
	return results[0]
}

func TestProviderLoadAndDrain(t *testing.T) {
	src := NewMemorySource("png")
	require.NoError(t, src.PutTile(3, 1, 2, NewUniformTile(8, 100)))

	p := NewProvider(src, Config{MinZoom: 2, MaxZoom: 10, FileGridSize: 8, Concurrency: 1})
	defer p.Close()

	key := Key{Z: 3, X: 1, Y: 2}
	assert.True(t, p.Request(key))
	// A second request for the same pending tile is refused.
	assert.False(t, p.Request(key))

	res := drainOne(t, p)
	assert.Equal(t, key, res.Key)
	assert.True(t, res.Exists)
	require.NotNil(t, res.Tile)
	assert.Equal(t, 8, res.Tile.GridSize)
	assert.Equal(t, 100.0, res.Tile.ElevationAt(4, 4))

	// Once drained the key may be requested again (served from cache).
	assert.True(t, p.Request(key))
	res = drainOne(t, p)
	assert.True(t, res.Exists)
}

func TestProviderTileNotFound(t *testing.T) {
	p := NewProvider(NewMemorySource("png"), Config{Concurrency: 1})
	defer p.Close()

	key := Key{Z: 5, X: 9, Y: 9}
	require.True(t, p.Request(key))

	res := drainOne(t, p)
	assert.False(t, res.Exists)
	assert.Nil(t, res.Tile)
	assert.ErrorIs(t, res.Err, ErrTileNotFound)
}

func TestProviderClosedRejectsRequests(t *testing.T) {
	p := NewProvider(NewMemorySource("png"), Config{Concurrency: 1})
	p.Close()
	assert.False(t, p.Request(Key{Z: 3, X: 0, Y: 0}))
}

func TestProviderGridSize(t *testing.T) {
	p := NewProvider(NewMemorySource("png"), Config{
		GridSizeByZoom: []int{4, 8, 16},
		Concurrency:    1,
	})
	defer p.Close()

	assert.Equal(t, 4, p.GridSize(0))
	assert.Equal(t, 8, p.GridSize(1))
	assert.Equal(t, 16, p.GridSize(2))
	// Past the table the last entry sticks.
	assert.Equal(t, 16, p.GridSize(9))
	assert.Equal(t, 3, p.ZoomLevels())
}

func TestProviderDefaults(t *testing.T) {
	p := NewProvider(NewMemorySource("png"), Config{})
	defer p.Close()

	assert.Equal(t, 2, p.MinZoom)
	assert.Equal(t, 14, p.MaxZoom)
	assert.Equal(t, 32, p.FileGridSize)
	assert.Equal(t, DefaultGridSizeByZoom, p.GridSizeByZoom)
}
