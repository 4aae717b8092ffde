package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Frustum is a view volume bounded by six planes. Each plane is stored as
// (a, b, c, d) with the normal pointing into the volume, so a point p is
// inside when dot(n, p) + d >= 0 for every plane.
type Frustum struct {
	planes [6]mgl64.Vec4
}

// SetFromMatrix extracts the six clip planes from a combined
// projection*view matrix (Gribb/Hartmann).
func (f *Frustum) SetFromMatrix(m mgl64.Mat4) {
	row := func(i int) mgl64.Vec4 {
		return mgl64.Vec4{m.At(i, 0), m.At(i, 1), m.At(i, 2), m.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	f.planes[0] = normalizePlane(r3.Add(r0)) // left
	f.planes[1] = normalizePlane(r3.Sub(r0)) // right
	f.planes[2] = normalizePlane(r3.Add(r1)) // bottom
	f.planes[3] = normalizePlane(r3.Sub(r1)) // top
	f.planes[4] = normalizePlane(r3.Add(r2)) // near
	f.planes[5] = normalizePlane(r3.Sub(r2)) // far
}

func normalizePlane(p mgl64.Vec4) mgl64.Vec4 {
	l := math.Sqrt(p.X()*p.X() + p.Y()*p.Y() + p.Z()*p.Z())
	if l == 0 {
		return p
	}
	return p.Mul(1.0 / l)
}

// ContainsSphere reports whether the sphere intersects the frustum.
func (f *Frustum) ContainsSphere(s Sphere) bool {
	for _, p := range f.planes {
		if p.X()*s.Center.X()+p.Y()*s.Center.Y()+p.Z()*s.Center.Z()+p.W() < -s.Radius {
			return false
		}
	}
	return true
}

// Everywhere returns a frustum that contains all of space. Useful as the
// starting state before the first camera update and in headless tests.
func Everywhere() *Frustum {
	return &Frustum{}
}
