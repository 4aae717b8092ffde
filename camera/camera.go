// Package camera holds the per-frame camera state the traversal consumes:
// eye position, view frustum, and the camera's ground position in both the
// geographic and mercator planes.
package camera

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/pspoerri/planetlod/coord"
	"github.com/pspoerri/planetlod/geom"
)

// Camera is the view state for one frame. The traversal only reads it.
type Camera struct {
	// Eye is the camera position in earth-centered cartesian coordinates.
	Eye mgl64.Vec3

	// Frustum is the view volume used for sphere culling.
	Frustum *geom.Frustum

	// LonLat is the geodetic ground position under the camera; Height is
	// the altitude above the ellipsoid in meters.
	LonLat coord.LonLat

	// LonLatMerc is LonLat projected onto the degree-normalized mercator
	// plane. Only valid when |LonLat.Lat| <= coord.MaxLat.
	LonLatMerc coord.LonLat
}

// New returns a camera with an all-containing frustum, positioned over
// (0, 0) at the given altitude.
func New(ell coord.Ellipsoid, altitude float64) *Camera {
	c := &Camera{Frustum: geom.Everywhere()}
	c.SetLonLat(ell, coord.LonLat{Height: altitude})
	return c
}

// SetLonLat moves the camera over the given geodetic position (Height is
// the altitude in meters) and rederives the cartesian eye and the mercator
// ground position.
func (c *Camera) SetLonLat(ell coord.Ellipsoid, ll coord.LonLat) {
	c.LonLat = ll
	c.Eye = ell.CartesianAt(ll, ll.Height)
	mx, my := coord.ForwardMercator(ll)
	c.LonLatMerc = coord.NewLonLat(mx, my)
	c.LonLatMerc.Height = ll.Height
}

// Altitude returns the camera height above the ellipsoid in meters.
func (c *Camera) Altitude() float64 { return c.LonLat.Height }

// DistanceTo returns the distance from the eye to a point.
func (c *Camera) DistanceTo(p mgl64.Vec3) float64 {
	return c.Eye.Sub(p).Len()
}

// InFrustum reports whether the sphere intersects the view volume.
func (c *Camera) InFrustum(s geom.Sphere) bool {
	return c.Frustum.ContainsSphere(s)
}
