package quad

import (
	"math"

	"github.com/pspoerri/planetlod/camera"
	"github.com/pspoerri/planetlod/coord"
	"github.com/pspoerri/planetlod/normalmap"
	"github.com/pspoerri/planetlod/terrain"
)

// Planet drives the LOD trees: one mercator quadtree between the mercator
// cutoff latitudes and two geographic caps over the poles. It owns the
// per-frame accumulators the traversal writes into.
type Planet struct {
	Ellipsoid  coord.Ellipsoid
	Terrain    *terrain.Provider
	NormalMaps *normalmap.Creator
	Renderer   Renderer

	// LightEnabled gates normal-map work.
	LightEnabled bool

	// MaxZoom caps tree depth; 0 leaves depth to the LOD heuristic.
	MaxZoom int

	VisibleDistance float64
	LODRatio        float64

	// UnderBottom is a reserved near-ground visibility hook; nil (always
	// false) by default.
	UnderBottom func(*Node, *camera.Camera) bool

	// Per-frame accumulators, reset by RenderFrame.
	RenderedNodes         []*Node
	CollectedSegments     []*Segment
	MinCurrZoom           int
	MaxCurrZoom           int
	InsideSegment         *Segment
	InsideSegmentPosition coord.LonLat

	// CreatedNodesCount counts node constructions over the planet's
	// lifetime.
	CreatedNodesCount int

	viewExtent    coord.Extent
	hasViewExtent bool

	roots   []*Node
	loading map[terrain.Key]*Segment
}

// Config assembles a planet's collaborators. Terrain is required;
// NormalMaps may be nil when lighting is off; Renderer may be nil for
// headless use.
type Config struct {
	Ellipsoid       coord.Ellipsoid
	Terrain         *terrain.Provider
	NormalMaps      *normalmap.Creator
	Renderer        Renderer
	LightEnabled    bool
	MaxZoom         int
	VisibleDistance float64
	LODRatio        float64
}

// NewPlanet builds the root nodes: the mercator tree over the full
// mercator square and the two polar caps in EPSG:4326.
func NewPlanet(cfg Config) *Planet {
	p := &Planet{
		Ellipsoid:       cfg.Ellipsoid,
		Terrain:         cfg.Terrain,
		NormalMaps:      cfg.NormalMaps,
		Renderer:        cfg.Renderer,
		LightEnabled:    cfg.LightEnabled,
		MaxZoom:         cfg.MaxZoom,
		VisibleDistance: cfg.VisibleDistance,
		LODRatio:        cfg.LODRatio,
		loading:         make(map[terrain.Key]*Segment),
	}
	if p.Ellipsoid.A == 0 {
		p.Ellipsoid = coord.WGS84()
	}
	if p.VisibleDistance == 0 {
		p.VisibleDistance = DefaultVisibleDistance
	}
	if p.LODRatio == 0 {
		p.LODRatio = DefaultLODRatio
	}
	if p.Renderer == nil {
		p.Renderer = NoopRenderer{}
	}

	p.roots = []*Node{
		newNode(p, NewMercatorSegment, 0, nil, 0, coord.NewExtent(
			coord.NewLonLat(-coord.Pole, -coord.Pole),
			coord.NewLonLat(coord.Pole, coord.Pole))),
		newNode(p, NewGeographicSegment, 0, nil, 0, coord.NewExtent(
			coord.NewLonLat(-180, coord.MaxLat),
			coord.NewLonLat(180, 90))),
		newNode(p, NewGeographicSegment, 0, nil, 0, coord.NewExtent(
			coord.NewLonLat(-180, -90),
			coord.NewLonLat(180, -coord.MaxLat))),
	}
	return p
}

// Roots returns the root nodes (mercator tree, north cap, south cap).
func (p *Planet) Roots() []*Node { return p.roots }

// Update drains terrain and normal-map completions onto their segments.
// Runs on the frame goroutine; also called by RenderFrame.
func (p *Planet) Update() {
	p.Terrain.Drain(func(res terrain.Result) {
		seg := p.loading[res.Key]
		if seg == nil {
			return
		}
		delete(p.loading, res.Key)
		seg.applyTerrain(res)
	})
	if p.NormalMaps != nil {
		p.NormalMaps.Drain(func(res normalmap.Result) {
			if seg, ok := res.Ref.(*Segment); ok {
				seg.applyNormalMap(res)
			}
		})
	}
}

// RenderFrame runs one traversal: async completions are published, the
// frame accumulators reset, every root walked, and finished subtrees
// pruned.
func (p *Planet) RenderFrame(cam *camera.Camera) {
	p.Update()

	p.RenderedNodes = p.RenderedNodes[:0]
	p.CollectedSegments = p.CollectedSegments[:0]
	p.MinCurrZoom = math.MaxInt32
	p.MaxCurrZoom = 0
	p.InsideSegment = nil
	p.hasViewExtent = false

	for _, r := range p.roots {
		r.RenderTree(cam, p.MaxZoom, false)
	}
	for _, r := range p.roots {
		r.ClearTree()
	}
}

// ClearTree prunes every tree without running a traversal.
func (p *Planet) ClearTree() {
	for _, r := range p.roots {
		r.ClearTree()
	}
}

// ClearBranches drops display materials on every tree, keeping geometry.
func (p *Planet) ClearBranches() {
	for _, r := range p.roots {
		r.ClearBranches()
	}
}

// TraverseTree visits every live node of every tree.
func (p *Planet) TraverseTree(visit func(*Node)) {
	for _, r := range p.roots {
		r.TraverseTree(visit)
	}
}

// Destroy tears the trees down and stops nothing else: the provider and
// creator are owned by the caller.
func (p *Planet) Destroy() {
	for _, r := range p.roots {
		r.DestroyBranches()
		r.Destroy()
	}
	p.roots = nil
	p.RenderedNodes = nil
	p.CollectedSegments = nil
}

// ViewExtent returns the union of extents collected this frame.
func (p *Planet) ViewExtent() (coord.Extent, bool) {
	return p.viewExtent, p.hasViewExtent
}

func (p *Planet) addViewExtent(e coord.Extent) {
	if !p.hasViewExtent {
		p.viewExtent = e
		p.hasViewExtent = true
		return
	}
	p.viewExtent = p.viewExtent.Union(e)
}

func (p *Planet) trackLoading(key terrain.Key, s *Segment) {
	p.loading[key] = s
}

func (p *Planet) dropLoading(key terrain.Key, s *Segment) {
	if p.loading[key] == s {
		delete(p.loading, key)
	}
}
