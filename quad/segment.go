package quad

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pspoerri/planetlod/camera"
	"github.com/pspoerri/planetlod/coord"
	"github.com/pspoerri/planetlod/geom"
	"github.com/pspoerri/planetlod/normalmap"
	"github.com/pspoerri/planetlod/terrain"
)

// SegmentFactory builds the segment for a new node. The mercator tree and
// the geographic polar caps install different factories.
type SegmentFactory func(p *Planet, tileZoom int, extent coord.Extent) *Segment

// NewMercatorSegment is the factory for EPSG:3857 segments.
func NewMercatorSegment(p *Planet, tileZoom int, extent coord.Extent) *Segment {
	return newSegment(p, coord.WebMercator{}, tileZoom, extent)
}

// NewGeographicSegment is the factory for EPSG:4326 segments (the polar
// caps above the mercator cutoff, or a full equirectangular pyramid).
func NewGeographicSegment(p *Planet, tileZoom int, extent coord.Extent) *Segment {
	return newSegment(p, coord.Geographic{}, tileZoom, extent)
}

// Segment is one tile's surface patch: extent, tile coordinates, bounding
// sphere, mesh and normal-map state. It is owned 1:1 by its node.
type Segment struct {
	planet *Planet
	node   *Node

	// Projection is the plane the extent subdivides in.
	Projection coord.Projection
	// Extent is the tile rectangle in the projection's plane.
	Extent coord.Extent
	// ExtentLonLat is the extent in plain lon/lat degrees.
	ExtentLonLat coord.Extent

	TileZoom int
	TileX    int
	TileY    int

	// BSphere is the culling sphere in earth-centered cartesian.
	BSphere geom.Sphere

	// GridSize is the tessellation count per tile side (power of two).
	GridSize int

	// TerrainVertices holds 3*(GridSize+1)² cartesian coordinates,
	// row-major with row 0 on the north edge.
	TerrainVertices []float64

	NormalMapNormals    []float64
	NormalMapNormalsRaw []float64
	// NormalMapTexture may belong to an ancestor; the bias triple
	// (u offset, v offset, scale) selects this tile's subregion.
	NormalMapTexture     *normalmap.Texture
	NormalMapTextureBias [3]float64

	Ready                bool
	TerrainReady         bool
	TerrainIsLoading     bool
	TerrainExists        bool
	NormalMapReady       bool
	ParentNormalMapReady bool
	InTheQueue           bool
	RefreshIndexesBuffer bool

	coordsBuffer Buffer
	destroyed    bool
}

func newSegment(p *Planet, proj coord.Projection, tileZoom int, extent coord.Extent) *Segment {
	s := &Segment{
		planet:               p,
		Projection:           proj,
		Extent:               extent,
		TileZoom:             tileZoom,
		NormalMapTextureBias: [3]float64{0, 0, 1},
	}
	s.SetExtentLonLat()

	w := extent.Width()
	h := extent.Height()
	if w > 0 {
		s.TileX = int(roundHalf((extent.SouthWest.Lon + coord.Pole) / w))
	}
	if h > 0 {
		s.TileY = int(roundHalf((s.topLat() - extent.NorthEast.Lat) / h))
	}
	return s
}

// topLat is the north edge of this segment's tile grid: the mercator
// square boundary, 90° for geographic grids, or the south cap's upper rim.
func (s *Segment) topLat() float64 {
	if s.Projection.EPSG() == 3857 {
		return coord.Pole
	}
	if s.Extent.NorthEast.Lat <= -coord.MaxLat {
		return -coord.MaxLat
	}
	return 90.0
}

func roundHalf(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}

// Key returns the terrain pyramid key for this tile.
func (s *Segment) Key() terrain.Key {
	return terrain.Key{Z: s.TileZoom, X: s.TileX, Y: s.TileY}
}

// SetExtentLonLat rederives ExtentLonLat from the native extent.
func (s *Segment) SetExtentLonLat() {
	if s.Projection.EPSG() == 3857 {
		s.ExtentLonLat = coord.MercatorExtentToLonLat(s.Extent)
	} else {
		s.ExtentLonLat = s.Extent
	}
}

// CreatePlainSegment materializes the ellipsoid-only mesh at the zoom's
// grid size and uploads it.
func (s *Segment) CreatePlainSegment() {
	g := s.planet.Terrain.GridSize(s.TileZoom)
	s.GridSize = g
	s.TerrainVertices = s.gridVertices(g, nil)
	s.CreateCoordsBuffers(s.TerrainVertices, g)
	s.Ready = true
}

// gridVertices builds a (g+1)² cartesian grid over the extent. elevation
// is sampled per grid point when non-nil; otherwise the surface sits on
// the ellipsoid.
func (s *Segment) gridVertices(g int, elevation func(i, j int) float64) []float64 {
	side := g + 1
	out := make([]float64, 3*side*side)
	w := s.Extent.Width() / float64(g)
	h := s.Extent.Height() / float64(g)
	for i := 0; i < side; i++ {
		lat := s.Extent.NorthEast.Lat - float64(i)*h
		for j := 0; j < side; j++ {
			lon := s.Extent.SouthWest.Lon + float64(j)*w
			ll := s.Projection.ToLonLat(lon, lat)
			var height float64
			if elevation != nil {
				height = elevation(i, j)
			}
			v := s.planet.Ellipsoid.CartesianAt(ll, height)
			k := 3 * (i*side + j)
			out[k] = v.X()
			out[k+1] = v.Y()
			out[k+2] = v.Z()
		}
	}
	return out
}

// vertexAt returns mesh vertex (row i, column j).
func (s *Segment) vertexAt(i, j int) mgl64.Vec3 {
	k := 3 * (i*(s.GridSize+1) + j)
	return mgl64.Vec3{s.TerrainVertices[k], s.TerrainVertices[k+1], s.TerrainVertices[k+2]}
}

// CreateBoundsByExtent fits the bounding sphere from ellipsoid samples at
// the extent's corners, edge midpoints and center.
func (s *Segment) CreateBoundsByExtent() {
	e := s.ExtentLonLat
	midLon := e.SouthWest.Lon + 0.5*e.Width()
	midLat := e.SouthWest.Lat + 0.5*e.Height()
	lons := [3]float64{e.SouthWest.Lon, midLon, e.NorthEast.Lon}
	lats := [3]float64{e.SouthWest.Lat, midLat, e.NorthEast.Lat}
	points := make([]mgl64.Vec3, 0, 9)
	for _, lat := range lats {
		for _, lon := range lons {
			points = append(points, s.planet.Ellipsoid.CartesianAt(coord.NewLonLat(lon, lat), 0))
		}
	}
	s.BSphere = geom.SphereFromPoints(points)
}

// AcceptForRendering reports whether the segment is already detailed
// enough for the camera: true while the eye stays beyond the LOD-scaled
// bounding radius.
func (s *Segment) AcceptForRendering(cam *camera.Camera) bool {
	return cam.DistanceTo(s.BSphere.Center) > s.BSphere.Radius*s.planet.LODRatio
}

// LoadTerrain hands the tile to the terrain provider. Below the provider's
// zoom range the plain mesh is final; above it inheritance is handled by
// the node, so no request is made.
func (s *Segment) LoadTerrain() {
	if s.destroyed || s.TerrainReady || s.TerrainIsLoading {
		return
	}
	t := s.planet.Terrain
	if s.Projection.EPSG() != 3857 || s.TileZoom < t.MinZoom {
		// The polar caps and the shallow zooms render the ellipsoid.
		s.TerrainReady = true
		s.TerrainExists = false
		return
	}
	if s.TileZoom > t.MaxZoom {
		return
	}
	key := s.Key()
	if t.Request(key) {
		s.TerrainIsLoading = true
		s.planet.trackLoading(key, s)
	}
}

// applyTerrain publishes a finished load. Completions for destroyed
// segments are discarded by the caller.
func (s *Segment) applyTerrain(res terrain.Result) {
	if s.destroyed {
		return
	}
	s.TerrainIsLoading = false
	if !res.Exists {
		// Empty tile or permanent failure: the plain or inherited mesh
		// stays.
		s.TerrainReady = true
		s.TerrainExists = false
		return
	}

	tile := res.Tile
	s.DeleteBuffers()
	s.GridSize = tile.GridSize
	s.TerrainVertices = s.gridVertices(tile.GridSize, tile.ElevationAt)
	s.CreateCoordsBuffers(s.TerrainVertices, s.GridSize)
	s.RefreshIndexesBuffer = true
	s.TerrainReady = true
	s.TerrainExists = true
	if s.node != nil {
		s.node.AppliedTerrainNodeID = s.node.NodeID
		for i := range s.node.SideSize {
			s.node.SideSize[i] = s.GridSize
		}
	}
}

// applyNormalMap publishes a finished normal-map build.
func (s *Segment) applyNormalMap(res normalmap.Result) {
	if s.destroyed {
		return
	}
	s.InTheQueue = false
	s.NormalMapNormals = res.Normals
	s.NormalMapNormalsRaw = res.NormalsRaw
	s.NormalMapTexture = res.Texture
	s.NormalMapTextureBias = [3]float64{0, 0, 1}
	s.NormalMapReady = true
}

// CreateCoordsBuffers uploads the vertex grid.
func (s *Segment) CreateCoordsBuffers(vertices []float64, gridSize int) {
	s.DeleteBuffers()
	if s.planet.Renderer != nil {
		s.coordsBuffer = s.planet.Renderer.CreateCoordsBuffer(vertices, gridSize)
	}
}

// DeleteBuffers releases the GPU geometry.
func (s *Segment) DeleteBuffers() {
	if s.coordsBuffer != nil {
		s.coordsBuffer.Delete()
		s.coordsBuffer = nil
	}
}

// DeleteMaterials releases display resources while keeping geometry.
func (s *Segment) DeleteMaterials() {
	s.NormalMapTexture = nil
	s.NormalMapTextureBias = [3]float64{0, 0, 1}
	s.NormalMapReady = false
	s.ParentNormalMapReady = false
}

// CollectRenderNodes contributes the segment to the planet's per-frame
// layer lists.
func (s *Segment) CollectRenderNodes() {
	s.planet.CollectedSegments = append(s.planet.CollectedSegments, s)
	s.AddViewExtent()
}

// AddViewExtent merges this tile into the planet's visible extent.
func (s *Segment) AddViewExtent() {
	s.planet.addViewExtent(s.ExtentLonLat)
}

// DestroySegment releases everything. In-flight async results for this
// segment are silently discarded when they complete.
func (s *Segment) DestroySegment() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.DeleteBuffers()
	s.planet.dropLoading(s.Key(), s)
	s.TerrainVertices = nil
	s.NormalMapNormals = nil
	s.NormalMapNormalsRaw = nil
	s.NormalMapTexture = nil
	s.Ready = false
}

// Destroyed reports whether DestroySegment has run.
func (s *Segment) Destroyed() bool { return s.destroyed }
