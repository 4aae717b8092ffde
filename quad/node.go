package quad

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/pspoerri/planetlod/camera"
	"github.com/pspoerri/planetlod/coord"
	"github.com/pspoerri/planetlod/geom"
	"github.com/pspoerri/planetlod/normalmap"
)

// Node is one quadtree cell. It owns its segment, the four child slots,
// and the per-frame neighbor and seam state.
type Node struct {
	planet  *Planet
	factory SegmentFactory

	Segment *Segment
	Parent  *Node

	children [4]*Node

	// Neighbors are per-side back-references into the rendered set,
	// recomputed every frame and never owning.
	Neighbors   [4]*Node
	HasNeighbor [4]bool
	// SideSize is the per-side tessellation actually used, possibly
	// reduced to meet a coarser neighbor.
	SideSize [4]int

	// PartID is the child slot this node occupies in its parent (0 at
	// the root).
	PartID int
	// NodeID is stable and unique within a tree: partID + parentID*4 + 1.
	NodeID int64

	State State

	// AppliedTerrainNodeID identifies the ancestor whose terrain backs
	// the current mesh; -1 when none has been applied.
	AppliedTerrainNodeID int64

	// Ready is true while the four child slots are populated.
	Ready bool

	// CameraInside is true when the camera's ground point lies in the
	// segment's extent.
	CameraInside bool
}

func newNode(p *Planet, factory SegmentFactory, partID int, parent *Node, tileZoom int, extent coord.Extent) *Node {
	n := &Node{
		planet:               p,
		factory:              factory,
		Parent:               parent,
		PartID:               partID,
		AppliedTerrainNodeID: -1,
	}
	if parent != nil {
		n.NodeID = int64(partID) + parent.NodeID*4 + 1
	}
	n.Segment = factory(p, tileZoom, extent)
	n.Segment.node = n
	n.CreateBounds()
	p.CreatedNodesCount++
	return n
}

// NewRootNode creates a standalone tree root at zoom 0 over the given
// extent. The planet's built-in roots cover the whole surface; extra
// trees are mostly useful for partial worlds and tests.
func NewRootNode(p *Planet, factory SegmentFactory, extent coord.Extent) *Node {
	return newNode(p, factory, 0, nil, 0, extent)
}

// Children returns the four child slots (nil when not split).
func (n *Node) Children() [4]*Node { return n.children }

// IsBrother reports whether both nodes share a parent.
func (n *Node) IsBrother(other *Node) bool {
	return n.Parent != nil && n.Parent == other.Parent
}

// CreateChildrenNodes splits the extent into its four quadrants and
// populates the child slots one zoom deeper. Called at most once between
// destroy cycles.
func (n *Node) CreateChildrenNodes() {
	if n.Ready {
		return
	}
	seg := n.Segment
	for part := 0; part < 4; part++ {
		n.children[part] = newNode(n.planet, n.factory, part, n, seg.TileZoom+1, seg.Extent.Quadrant(part))
	}
	n.Ready = true
}

// CreateBounds computes the segment's bounding sphere: trivially at the
// root, from the extent below terrain availability, otherwise from the
// nearest ancestor's terrain so the sphere never leaves the rendered
// surface.
func (n *Node) CreateBounds() {
	seg := n.Segment
	switch {
	case seg.TileZoom == 0:
		seg.BSphere = geom.Sphere{Radius: n.planet.Ellipsoid.Equatorial()}
	case seg.TileZoom < n.planet.Terrain.MinZoom:
		seg.CreateBoundsByExtent()
	default:
		pn := n.Parent
		for pn != nil && !pn.Segment.TerrainReady {
			pn = pn.Parent
		}
		if pn == nil {
			seg.CreateBoundsByExtent()
			return
		}
		pseg := pn.Segment
		dZ2 := 1 << uint(seg.TileZoom-pseg.TileZoom)
		offsetX := seg.TileX - pseg.TileX*dZ2
		offsetY := seg.TileY - pseg.TileY*dZ2

		if pseg.GridSize >= dZ2 {
			subGrid := pseg.GridSize / dZ2
			i0 := subGrid * offsetY
			j0 := subGrid * offsetX
			seg.BSphere = geom.SphereFromDiagonal(
				pseg.vertexAt(i0, j0),
				pseg.vertexAt(i0+subGrid, j0+subGrid),
			)
		} else {
			a, b := interpolateDiagonal(pseg, dZ2, offsetX, offsetY)
			seg.BSphere = geom.SphereFromDiagonal(a, b)
		}
	}
}

// interpolateDiagonal synthesizes the NW and SE corner of a descendant
// tile lying inside a single ancestor mesh cell. Interpolation follows
// the cell's triangulation so the result stays on the rendered surface.
func interpolateDiagonal(pseg *Segment, dZ2, offsetX, offsetY int) (mgl64.Vec3, mgl64.Vec3) {
	insideSize := dZ2 / pseg.GridSize // descendant tiles per ancestor cell
	i0 := offsetY / insideSize
	j0 := offsetX / insideSize
	viX := offsetX - j0*insideSize
	viY := offsetY - i0*insideSize

	lt := pseg.vertexAt(i0, j0)
	rt := pseg.vertexAt(i0, j0+1)
	lb := pseg.vertexAt(i0+1, j0)
	rb := pseg.vertexAt(i0+1, j0+1)

	a := interpolateInCell(lt, rt, lb, rb, insideSize, viX, viY)
	b := interpolateInCell(lt, rt, lb, rb, insideSize, viX+1, viY+1)
	return a, b
}

// interpolateInCell evaluates the cell surface at tile-unit offsets
// (viX, viY) from the cell's north-west vertex, picking the triangle the
// point falls into.
func interpolateInCell(lt, rt, lb, rb mgl64.Vec3, insideSize, viX, viY int) mgl64.Vec3 {
	u := float64(viX) / float64(insideSize)
	v := float64(viY) / float64(insideSize)
	if viY+viX < insideSize {
		vn := rt.Sub(lt)
		vw := lb.Sub(lt)
		return lt.Add(vn.Mul(u)).Add(vw.Mul(v))
	}
	vs := lb.Sub(rb)
	ve := rt.Sub(rb)
	return rb.Add(vs.Mul(1 - u)).Add(ve.Mul(1 - v))
}

// RenderTree classifies this subtree for the frame: split, render, or
// hide. maxZoom caps the tree depth (0 means uncapped); onlyTerrain
// suppresses visible registration while still driving terrain loads.
func (n *Node) RenderTree(cam *camera.Camera, maxZoom int, onlyTerrain bool) {
	n.State = StateWalkthrough
	n.Neighbors = [4]*Node{}
	n.HasNeighbor = [4]bool{}
	n.CameraInside = false

	seg := n.Segment
	if n.Parent == nil {
		n.CameraInside = true
	} else if n.Parent.CameraInside {
		pos := cam.LonLat
		if seg.Projection.EPSG() == 3857 && math.Abs(cam.LonLat.Lat) <= coord.MaxLat {
			pos = cam.LonLatMerc
		}
		if seg.Extent.IsInside(pos) {
			n.CameraInside = true
			n.planet.InsideSegment = seg
			n.planet.InsideSegmentPosition = pos
		}
	}

	inFrustum := cam.InFrustum(seg.BSphere)
	h := cam.Altitude()
	altVis := cam.DistanceTo(seg.BSphere.Center)-seg.BSphere.Radius < n.planet.VisibleDistance*math.Sqrt(h)

	// Reserved near-ground hook; false unless the planet installs an
	// UnderBottom callback.
	underBottom := false
	if n.planet.UnderBottom != nil {
		underBottom = n.planet.UnderBottom(n, cam)
	}
	if underBottom {
		altVis = false
	}

	if inFrustum || n.CameraInside {
		switch {
		case seg.TileZoom < normalMapSplitZoom && seg.NormalMapReady:
			n.traverseNodes(cam, maxZoom, onlyTerrain)
		case maxZoom > 0 && seg.TileZoom == maxZoom,
			maxZoom == 0 && seg.AcceptForRendering(cam):
			n.prepareForRendering(h, altVis, onlyTerrain)
		case seg.TileZoom < n.planet.Terrain.ZoomLevels()-1:
			n.traverseNodes(cam, maxZoom, onlyTerrain)
		default:
			n.prepareForRendering(h, altVis, onlyTerrain)
		}
	} else {
		n.State = StateNotRendering
	}

	if inFrustum && (altVis || h > farAltitude) {
		seg.CollectRenderNodes()
	}
}

// traverseNodes ensures the children exist and recurses into all four.
func (n *Node) traverseNodes(cam *camera.Camera, maxZoom int, onlyTerrain bool) {
	if !n.Ready {
		n.CreateChildrenNodes()
	}
	for _, c := range n.children {
		c.RenderTree(cam, maxZoom, onlyTerrain)
	}
}

// prepareForRendering applies the near-field rule: close to the ground
// only altitude-visible nodes render; higher up everything in reach does.
func (n *Node) prepareForRendering(h float64, altVis, onlyTerrain bool) {
	if h < nearFieldAltitude {
		if altVis {
			n.renderNode(onlyTerrain)
		} else {
			n.State = StateNotRendering
		}
		return
	}
	n.renderNode(onlyTerrain)
}

// renderNode makes the node displayable this frame: plain mesh if nothing
// else exists yet, terrain load plus ancestor inheritance while waiting,
// normal-map work when lighting is on, then seam registration.
func (n *Node) renderNode(onlyTerrain bool) {
	n.State = StateRendering
	seg := n.Segment

	if !seg.Ready {
		seg.CreatePlainSegment()
	}

	if !seg.TerrainReady {
		if n.WhileTerrainLoading() {
			seg.LoadTerrain()
		}
	}

	if n.planet.LightEnabled && !seg.NormalMapReady && !seg.ParentNormalMapReady {
		n.WhileNormalMapCreating()
	}

	if !onlyTerrain {
		n.addToRender()
	}
}

// addToRender registers the node in the frame's rendered set and
// negotiates edge tessellation with every neighbor already registered,
// newest first.
func (n *Node) addToRender() {
	n.State = StateRendering
	seg := n.Segment
	for i := range n.SideSize {
		if !n.HasNeighbor[i] {
			n.SideSize[i] = seg.GridSize
		}
	}

	nodes := n.planet.RenderedNodes
	for i := len(nodes) - 1; i >= 0; i-- {
		other := nodes[i]
		cs := n.GetCommonSide(other)
		if cs < 0 {
			continue
		}
		opcs := opSide[cs]
		if n.HasNeighbor[cs] || other.HasNeighbor[opcs] {
			continue
		}

		n.Neighbors[cs] = other
		other.Neighbors[opcs] = n
		n.HasNeighbor[cs] = true
		other.HasNeighbor[opcs] = true

		oseg := other.Segment
		ld := float64(seg.GridSize) /
			(float64(oseg.GridSize) * math.Pow(2, float64(oseg.TileZoom-seg.TileZoom)))
		switch {
		case ld > 1:
			n.SideSize[cs] = int(math.Ceil(float64(seg.GridSize) / ld))
			other.SideSize[opcs] = oseg.GridSize
		case ld < 1:
			n.SideSize[cs] = seg.GridSize
			other.SideSize[opcs] = int(math.Ceil(float64(oseg.GridSize) * ld))
		default:
			n.SideSize[cs] = seg.GridSize
			other.SideSize[opcs] = oseg.GridSize
		}
	}

	n.planet.RenderedNodes = append(n.planet.RenderedNodes, n)
	if seg.TileZoom > n.planet.MaxCurrZoom {
		n.planet.MaxCurrZoom = seg.TileZoom
	}
	if seg.TileZoom < n.planet.MinCurrZoom {
		n.planet.MinCurrZoom = seg.TileZoom
	}
}

// GetCommonSide returns the side of n that touches other, or -1. Edges
// compare by exact equality: subdivision arithmetic produces identical
// floats for shared edges, and tolerances would break neighbor symmetry.
func (n *Node) GetCommonSide(other *Node) int {
	a := n.Segment.Extent
	b := other.Segment.Extent
	zoom := n.Segment.TileZoom

	if n.Segment.Projection.EPSG() != other.Segment.Projection.EPSG() {
		// Mercator grid against a polar cap: only the cutoff rows touch.
		if a.NorthEast.Lon <= b.NorthEast.Lon && a.SouthWest.Lon >= b.SouthWest.Lon ||
			a.NorthEast.Lon >= b.NorthEast.Lon && a.SouthWest.Lon <= b.SouthWest.Lon {
			if a.NorthEast.Lat == coord.Pole && b.SouthWest.Lat == coord.MaxLat {
				return SideN
			}
			if a.SouthWest.Lat == coord.MaxLat && b.NorthEast.Lat == coord.Pole {
				return SideS
			}
			if a.SouthWest.Lat == -coord.Pole && b.NorthEast.Lat == -coord.MaxLat {
				return SideS
			}
			if a.NorthEast.Lat == -coord.MaxLat && b.SouthWest.Lat == -coord.Pole {
				return SideN
			}
		}
		return -1
	}

	if a.NorthEast.Lat <= b.NorthEast.Lat && a.SouthWest.Lat >= b.SouthWest.Lat ||
		a.NorthEast.Lat >= b.NorthEast.Lat && a.SouthWest.Lat <= b.SouthWest.Lat {
		if a.NorthEast.Lon == b.SouthWest.Lon {
			return SideE
		}
		if a.SouthWest.Lon == b.NorthEast.Lon {
			return SideW
		}
		if zoom > 0 {
			if a.NorthEast.Lon == coord.Pole && b.SouthWest.Lon == -coord.Pole {
				return SideE
			}
			if a.SouthWest.Lon == -coord.Pole && b.NorthEast.Lon == coord.Pole {
				return SideE
			}
			// Mirror of the case above; unreachable but kept so the wrap
			// table stays visibly complete.
			if a.SouthWest.Lon == -coord.Pole && b.NorthEast.Lon == coord.Pole {
				return SideW
			}
		}
	} else if a.NorthEast.Lon <= b.NorthEast.Lon && a.SouthWest.Lon >= b.SouthWest.Lon ||
		a.NorthEast.Lon >= b.NorthEast.Lon && a.SouthWest.Lon <= b.SouthWest.Lon {
		if a.NorthEast.Lat == b.SouthWest.Lat {
			return SideN
		}
		if a.SouthWest.Lat == b.NorthEast.Lat {
			return SideS
		}
	}
	return -1
}

// EqualNeighbor finds the same-depth neighbor across side through the
// tree, or the deepest existing node on that boundary. Returns nil past
// the edge of the tree.
func (n *Node) EqualNeighbor(side int) *Node {
	if n.Parent == nil {
		return nil
	}
	if p := neighbourPart[side][n.PartID]; p >= 0 {
		return n.Parent.children[p]
	}

	// Climb until the edge can be crossed within an ancestor's parent,
	// then replay the recorded path mirrored across that edge.
	var path []int
	pn := n
	for {
		path = append(path, pn.PartID)
		pn = pn.Parent
		if pn == nil || pn.Parent == nil {
			return nil
		}
		if p := neighbourPart[side][pn.PartID]; p >= 0 {
			nb := pn.Parent.children[p]
			ops := opSide[side]
			for i := len(path) - 1; i >= 0; i-- {
				if !nb.Ready {
					return nb
				}
				nb = nb.children[opPart[ops][path[i]]]
			}
			return nb
		}
	}
}

// WhileTerrainLoading masks a pending load: the mesh is rebuilt from the
// nearest terrain-carrying ancestor (sub-grid extraction, or triangle
// interpolation inside one ancestor cell when deeper), and past the
// provider's maximum zoom the inherited data becomes final. Returns true
// when the caller should continue with its own load.
func (n *Node) WhileTerrainLoading() bool {
	seg := n.Segment
	if !seg.Ready {
		seg.CreatePlainSegment()
	}

	pn := n.Parent
	for pn != nil && !pn.Segment.TerrainReady {
		pn = pn.Parent
	}
	if pn == nil {
		return true
	}

	pseg := pn.Segment
	dZ2 := 1 << uint(seg.TileZoom-pseg.TileZoom)
	offsetX := seg.TileX - pseg.TileX*dZ2
	offsetY := seg.TileY - pseg.TileY*dZ2

	if pseg.TerrainExists && n.AppliedTerrainNodeID != pn.NodeID {
		seg.DeleteBuffers()
		seg.RefreshIndexesBuffer = true

		if pseg.GridSize >= dZ2 {
			subGrid := pseg.GridSize / dZ2
			seg.GridSize = subGrid
			for i := range n.SideSize {
				n.SideSize[i] = subGrid
			}
			seg.TerrainVertices = extractSubGrid(pseg.TerrainVertices, pseg.GridSize, subGrid, subGrid*offsetY, subGrid*offsetX)

			fileSub := n.planet.Terrain.FileGridSize / dZ2
			if fileSub >= 1 && pseg.NormalMapNormals != nil {
				seg.NormalMapNormals = extractSubGrid(pseg.NormalMapNormals, n.planet.Terrain.FileGridSize, fileSub, fileSub*offsetY, fileSub*offsetX)
			}
		} else {
			seg.GridSize = 1
			for i := range n.SideSize {
				n.SideSize[i] = 1
			}
			insideSize := dZ2 / pseg.GridSize
			i0 := offsetY / insideSize
			j0 := offsetX / insideSize
			viX := offsetX - j0*insideSize
			viY := offsetY - i0*insideSize
			lt := pseg.vertexAt(i0, j0)
			rt := pseg.vertexAt(i0, j0+1)
			lb := pseg.vertexAt(i0+1, j0)
			rb := pseg.vertexAt(i0+1, j0+1)
			nw := interpolateInCell(lt, rt, lb, rb, insideSize, viX, viY)
			ne := interpolateInCell(lt, rt, lb, rb, insideSize, viX+1, viY)
			sw := interpolateInCell(lt, rt, lb, rb, insideSize, viX, viY+1)
			se := interpolateInCell(lt, rt, lb, rb, insideSize, viX+1, viY+1)
			seg.TerrainVertices = packVertices(nw, ne, sw, se)
		}

		seg.CreateCoordsBuffers(seg.TerrainVertices, seg.GridSize)
		n.AppliedTerrainNodeID = pn.NodeID
	}

	if seg.TileZoom > n.planet.Terrain.MaxZoom {
		if pseg.TileZoom >= n.planet.Terrain.MaxZoom {
			// No finer source data exists; the inherited mesh is this
			// node's terrain from now on.
			seg.TerrainReady = true
			seg.TerrainExists = pseg.TerrainExists
			seg.TerrainIsLoading = false
		} else {
			anc := n.firstAncestorAtZoom(n.planet.Terrain.MaxZoom)
			if anc != nil {
				aseg := anc.Segment
				if !aseg.Ready {
					aseg.CreatePlainSegment()
				}
				aseg.LoadTerrain()
			}
		}
	}

	return true
}

func (n *Node) firstAncestorAtZoom(zoom int) *Node {
	pn := n.Parent
	for pn != nil && pn.Segment.TileZoom != zoom {
		pn = pn.Parent
	}
	return pn
}

// packVertices flattens the 2x2 patch (nw, ne, sw, se) into a vertex grid.
func packVertices(nw, ne, sw, se mgl64.Vec3) []float64 {
	out := make([]float64, 12)
	for i, v := range []mgl64.Vec3{nw, ne, sw, se} {
		out[3*i] = v.X()
		out[3*i+1] = v.Y()
		out[3*i+2] = v.Z()
	}
	return out
}

// extractSubGrid copies a (sub+1)² block of 3-component vertices starting
// at (row i0, column j0) out of a (grid+1)² source.
func extractSubGrid(src []float64, grid, sub, i0, j0 int) []float64 {
	side := sub + 1
	stride := grid + 1
	out := make([]float64, 3*side*side)
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			sk := 3 * ((i0+i)*stride + (j0 + j))
			dk := 3 * (i*side + j)
			out[dk] = src[sk]
			out[dk+1] = src[sk+1]
			out[dk+2] = src[sk+2]
		}
	}
	return out
}

// WhileNormalMapCreating queues this segment for normal-map generation
// (at most once) and meanwhile points its texture at the nearest ready
// ancestor with a bias selecting the matching subregion.
func (n *Node) WhileNormalMapCreating() {
	if n.planet.NormalMaps == nil {
		return
	}
	seg := n.Segment
	maxZ := n.planet.Terrain.MaxZoom

	if seg.TileZoom <= maxZ && seg.TerrainReady && !seg.TerrainIsLoading && !seg.InTheQueue {
		if n.planet.NormalMaps.Queue(normalmap.Task{
			Key:      seg.Key(),
			GridSize: seg.GridSize,
			Vertices: seg.TerrainVertices,
			Ref:      seg,
		}) {
			seg.InTheQueue = true
		}
	}

	pn := n.Parent
	for pn != nil && !pn.Segment.NormalMapReady {
		pn = pn.Parent
	}
	if pn == nil {
		return
	}
	pseg := pn.Segment
	dZ2 := 1 << uint(seg.TileZoom-pseg.TileZoom)
	seg.NormalMapTexture = pseg.NormalMapTexture
	seg.NormalMapTextureBias = [3]float64{
		float64(seg.TileX - pseg.TileX*dZ2),
		float64(seg.TileY - pseg.TileY*dZ2),
		1.0 / float64(dZ2),
	}

	if seg.TileZoom > maxZ {
		if pseg.TileZoom == maxZ {
			seg.ParentNormalMapReady = true
		} else {
			anc := n.firstAncestorAtZoom(maxZ)
			if anc != nil {
				aseg := anc.Segment
				if !aseg.Ready {
					aseg.CreatePlainSegment()
				}
				aseg.LoadTerrain()
				if aseg.TerrainReady && !aseg.TerrainIsLoading && !aseg.InTheQueue {
					if n.planet.NormalMaps.Queue(normalmap.Task{
						Key:      aseg.Key(),
						GridSize: aseg.GridSize,
						Vertices: aseg.TerrainVertices,
						Ref:      aseg,
					}) {
						aseg.InTheQueue = true
					}
				}
			}
		}
	}
}

// effectiveState is this node's state for tree maintenance: any ancestor
// outside WALKTHROUGH hides the whole subtree.
func (n *Node) effectiveState() State {
	pn := n.Parent
	for pn != nil {
		if pn.State != StateWalkthrough {
			return StateNotRendering
		}
		pn = pn.Parent
	}
	return n.State
}

// ClearTree prunes subtrees below nodes that finished the frame rendered
// or hidden; nodes still walking keep their children and recurse.
func (n *Node) ClearTree() {
	switch n.effectiveState() {
	case StateNotRendering, StateRendering:
		n.DestroyBranches()
	default:
		for _, c := range n.children {
			if c != nil {
				c.ClearTree()
			}
		}
	}
}

// ClearBranches releases display materials throughout the subtree while
// keeping geometry.
func (n *Node) ClearBranches() {
	for _, c := range n.children {
		if c != nil {
			c.ClearBranches()
			c.Segment.DeleteMaterials()
		}
	}
}

// DestroyBranches destroys all descendants.
func (n *Node) DestroyBranches() {
	n.Ready = false
	for i, c := range n.children {
		if c != nil {
			c.DestroyBranches()
			c.Destroy()
			n.children[i] = nil
		}
	}
}

// Destroy releases the node: segment resources go away and neighbor
// back-references are unlinked symmetrically so nothing dangles.
func (n *Node) Destroy() {
	n.State = StateNotRendering
	n.Segment.DestroySegment()
	for s := 0; s < 4; s++ {
		if nb := n.Neighbors[s]; nb != nil {
			nb.Neighbors[opSide[s]] = nil
			nb.HasNeighbor[opSide[s]] = false
			n.Neighbors[s] = nil
			n.HasNeighbor[s] = false
		}
	}
	n.Parent = nil
	n.AppliedTerrainNodeID = -1
}

// TraverseTree visits this node and, when split, every descendant.
func (n *Node) TraverseTree(visit func(*Node)) {
	visit(n)
	if n.Ready {
		for _, c := range n.children {
			if c != nil {
				c.TraverseTree(visit)
			}
		}
	}
}
