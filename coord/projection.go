package coord

// Projection converts between WGS84 longitude/latitude (degrees) and the
// normalized plane of one supported CRS. Plane units are degree-scaled on
// both axes so that the full mercator square spans [-Pole, Pole].
type Projection interface {
	// ToLonLat converts plane coordinates to WGS84 longitude/latitude.
	ToLonLat(x, y float64) LonLat

	// FromLonLat converts WGS84 longitude/latitude to plane coordinates.
	FromLonLat(ll LonLat) (x, y float64)

	// EPSG returns the EPSG code for this projection.
	EPSG() int
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch epsg {
	case 4326:
		return Geographic{}
	case 3857:
		return WebMercator{}
	default:
		return nil
	}
}

// Geographic is the no-op projection for EPSG:4326 (equirectangular).
type Geographic struct{}

func (Geographic) ToLonLat(x, y float64) LonLat       { return NewLonLat(x, y) }
func (Geographic) FromLonLat(ll LonLat) (x, y float64) { return ll.Lon, ll.Lat }
func (Geographic) EPSG() int                           { return 4326 }

// WebMercator implements the Projection interface for EPSG:3857 with
// degree-normalized plane coordinates.
type WebMercator struct{}

func (WebMercator) ToLonLat(x, y float64) LonLat       { return InverseMercator(x, y) }
func (WebMercator) FromLonLat(ll LonLat) (x, y float64) { return ForwardMercator(ll) }
func (WebMercator) EPSG() int                           { return 3857 }
