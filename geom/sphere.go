// Package geom provides the culling primitives shared by the camera and the
// quadtree: bounding spheres and a view frustum.
package geom

import "github.com/go-gl/mathgl/mgl64"

// Sphere is a bounding sphere in earth-centered cartesian coordinates.
type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

// SphereFromDiagonal returns the smallest sphere enclosing the two points,
// i.e. the sphere on their diameter.
func SphereFromDiagonal(a, b mgl64.Vec3) Sphere {
	return Sphere{
		Center: a.Add(b).Mul(0.5),
		Radius: b.Sub(a).Len() * 0.5,
	}
}

// SphereFromPoints fits a sphere around a point cloud: the center is the
// middle of the axis-aligned bounding box, the radius the largest distance
// from it to any point.
func SphereFromPoints(points []mgl64.Vec3) Sphere {
	if len(points) == 0 {
		return Sphere{}
	}
	min := points[0]
	max := points[0]
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	s := Sphere{Center: min.Add(max).Mul(0.5)}
	for _, p := range points {
		if d := p.Sub(s.Center).Len(); d > s.Radius {
			s.Radius = d
		}
	}
	return s
}
