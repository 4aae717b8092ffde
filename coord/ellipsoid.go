package coord

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Ellipsoid is a biaxial reference ellipsoid centered at the planet origin.
type Ellipsoid struct {
	// A is the equatorial (semi-major) radius in meters.
	A float64
	// B is the polar (semi-minor) radius in meters.
	B float64

	e2 float64 // first eccentricity squared
}

// NewEllipsoid builds an ellipsoid from its semi-axes.
func NewEllipsoid(a, b float64) Ellipsoid {
	return Ellipsoid{A: a, B: b, e2: (a*a - b*b) / (a * a)}
}

// WGS84 returns the WGS84 reference ellipsoid.
func WGS84() Ellipsoid {
	return NewEllipsoid(6378137.0, 6356752.3142451793)
}

// Equatorial returns the semi-major radius.
func (e Ellipsoid) Equatorial() float64 { return e.A }

// CartesianAt converts a geodetic position (degrees, height in meters above
// the ellipsoid) to earth-centered cartesian coordinates. Y is the polar
// axis, matching the renderer's up direction.
func (e Ellipsoid) CartesianAt(ll LonLat, height float64) mgl64.Vec3 {
	latRad := ll.Lat * math.Pi / 180.0
	lonRad := ll.Lon * math.Pi / 180.0
	sinLat := math.Sin(latRad)
	cosLat := math.Cos(latRad)
	n := e.A / math.Sqrt(1.0-e.e2*sinLat*sinLat)
	x := (n + height) * cosLat * math.Cos(lonRad)
	z := (n + height) * cosLat * math.Sin(lonRad)
	y := (n*(1.0-e.e2) + height) * sinLat
	return mgl64.Vec3{x, y, z}
}
