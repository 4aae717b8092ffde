// Package terrain provides the asynchronous elevation-tile pipeline: tile
// sources, the Terrarium elevation codec, and a worker-pool provider that
// decodes tiles off the frame thread and hands results back on it.
package terrain

// Key identifies a terrain tile in the mercator pyramid.
type Key struct {
	Z, X, Y int
}

// Tile is a decoded elevation grid of (GridSize+1)² samples in meters,
// row-major with row 0 on the north edge. Tiles where every sample shares
// the same elevation (open ocean, ice shelves) store only the single value.
type Tile struct {
	GridSize int

	elev  []float64 // non-nil for varying tiles
	value float64   // the uniform elevation; meaningful when elev == nil
}

// NewTile wraps a sample grid, automatically collapsing uniform tiles.
// len(samples) must be (gridSize+1)².
func NewTile(gridSize int, samples []float64) *Tile {
	if v, ok := detectUniform(samples); ok {
		return &Tile{GridSize: gridSize, value: v}
	}
	return &Tile{GridSize: gridSize, elev: samples}
}

// NewUniformTile creates a tile with a single elevation everywhere.
func NewUniformTile(gridSize int, value float64) *Tile {
	return &Tile{GridSize: gridSize, value: value}
}

// IsUniform returns true if all samples share the same elevation.
func (t *Tile) IsUniform() bool {
	return t.elev == nil
}

// Value returns the uniform elevation. Only meaningful when IsUniform().
func (t *Tile) Value() float64 {
	return t.value
}

// ElevationAt returns the sample at row i (from the north edge), column j
// (from the west edge).
func (t *Tile) ElevationAt(i, j int) float64 {
	if t.elev == nil {
		return t.value
	}
	return t.elev[i*(t.GridSize+1)+j]
}

// Samples returns the full sample grid. For uniform tiles this allocates
// and fills a new slice.
func (t *Tile) Samples() []float64 {
	if t.elev != nil {
		return t.elev
	}
	out := make([]float64, (t.GridSize+1)*(t.GridSize+1))
	for i := range out {
		out[i] = t.value
	}
	return out
}

func detectUniform(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	v := samples[0]
	for _, s := range samples[1:] {
		if s != v {
			return 0, false
		}
	}
	return v, true
}
