// Package quad implements the quadtree LOD core: segments (one tile's
// surface patch), nodes (quadtree cells with split/collapse, neighbor and
// seam logic), and the per-frame traversal driver.
package quad

// Quadrant parts, indexing child slots.
const (
	PartNW = 0
	PartNE = 1
	PartSW = 2
	PartSE = 3
)

// Sides, indexing neighbor slots.
const (
	SideN = 0
	SideE = 1
	SideS = 2
	SideW = 3
)

// State is a node's per-frame traversal state.
type State int

const (
	// StateNone is the state before the node's first frame.
	StateNone State = iota
	// StateWalkthrough marks a node whose children carry the rendering.
	StateWalkthrough
	// StateRendering marks a node registered for display this frame.
	StateRendering
	// StateNotRendering marks a culled or hidden node.
	StateNotRendering
)

func (s State) String() string {
	switch s {
	case StateWalkthrough:
		return "WALKTHROUGH"
	case StateRendering:
		return "RENDERING"
	case StateNotRendering:
		return "NOTRENDERING"
	default:
		return "NONE"
	}
}

// opSide maps a side to its opposite.
var opSide = [4]int{SideS, SideW, SideN, SideE}

// neighbourPart[side][part] is the sibling part adjacent across side when
// the neighbor lies within the same parent, else -1.
var neighbourPart = [4][4]int{
	SideN: {-1, -1, PartNW, PartNE},
	SideE: {PartNE, -1, PartSE, -1},
	SideS: {PartSW, PartSE, -1, -1},
	SideW: {-1, PartNW, -1, PartSW},
}

// opPart[side][part] mirrors a part across side: the child slot to descend
// into when a recorded path is replayed on the far side of an edge.
var opPart = [4][4]int{
	SideN: {PartSW, PartSE, PartNW, PartNE},
	SideE: {PartNE, PartNW, PartSE, PartSW},
	SideS: {PartSW, PartSE, PartNW, PartNE},
	SideW: {PartNE, PartNW, PartSE, PartSW},
}

// Visibility tuning.
const (
	// DefaultVisibleDistance scales the sqrt-of-altitude horizon
	// heuristic for the altitude visibility test.
	DefaultVisibleDistance = 3570.0

	// DefaultLODRatio controls acceptForRendering: a segment is rendered
	// rather than split while the eye stays farther than radius*ratio.
	DefaultLODRatio = 1.12

	// nearFieldAltitude is the camera altitude below which nodes that
	// fail the altitude visibility test are hidden.
	nearFieldAltitude = 3000000.0

	// farAltitude is the altitude above which frustum presence alone
	// lets a segment contribute to layer collection.
	farAltitude = 10000.0

	// normalMapSplitZoom forces splitting of the shallowest zoom levels
	// once their normal maps arrive, hiding pole-adjacent seams.
	normalMapSplitZoom = 2
)
