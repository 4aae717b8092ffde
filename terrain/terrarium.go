package terrain

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/gen2brain/webp"
	"github.com/pkg/errors"
)

// ElevationToTerrarium converts an elevation in meters to Terrarium RGB.
// Terrarium formula: elevation = (R * 256 + G + B / 256) - 32768.
// Range: approximately -32768 to +32767.996 meters.
func ElevationToTerrarium(elevation float64) color.RGBA {
	if math.IsNaN(elevation) || math.IsInf(elevation, 0) {
		return color.RGBA{} // nodata → transparent
	}

	value := elevation + 32768.0
	if value < 0 {
		value = 0
	}
	if value > 65535.0+255.0/256.0 {
		value = 65535.0 + 255.0/256.0
	}

	rVal := int(value / 256)
	if rVal > 255 {
		rVal = 255
	}
	remainder := value - float64(rVal)*256.0
	gVal := int(remainder)
	if gVal > 255 {
		gVal = 255
	}
	bVal := int((remainder - float64(gVal)) * 256.0)
	if bVal > 255 {
		bVal = 255
	}

	return color.RGBA{R: uint8(rVal), G: uint8(gVal), B: uint8(bVal), A: 255}
}

// TerrariumToElevation converts Terrarium RGB values back to elevation.
// Returns NaN if the pixel is transparent (nodata).
func TerrariumToElevation(c color.RGBA) float64 {
	if c.A == 0 {
		return math.NaN()
	}
	return float64(c.R)*256.0 + float64(c.G) + float64(c.B)/256.0 - 32768.0
}

// DecodeTile decodes a Terrarium-encoded tile payload into an elevation
// grid. Supported formats: "png", "webp". The image must be square with
// gridSize+1 pixels per side; nodata pixels decode to elevation 0.
func DecodeTile(data []byte, format string, gridSize int) (*Tile, error) {
	var img image.Image
	var err error
	switch format {
	case "png", "terrarium":
		img, err = png.Decode(bytes.NewReader(data))
	case "webp":
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, errors.Errorf("terrain: unsupported tile format %q", format)
	}
	if err != nil {
		return nil, errors.Wrap(err, "terrain: decoding tile")
	}

	side := gridSize + 1
	b := img.Bounds()
	if b.Dx() != side || b.Dy() != side {
		return nil, errors.Errorf("terrain: tile is %dx%d, want %dx%d", b.Dx(), b.Dy(), side, side)
	}

	samples := make([]float64, side*side)
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			r, g, bl, a := img.At(b.Min.X+j, b.Min.Y+i).RGBA()
			c := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8)}
			e := TerrariumToElevation(c)
			if math.IsNaN(e) {
				e = 0
			}
			samples[i*side+j] = e
		}
	}
	return NewTile(gridSize, samples), nil
}

// EncodeTile encodes an elevation tile as a Terrarium PNG. Used to build
// fixtures and archives; the provider only ever decodes.
func EncodeTile(t *Tile) ([]byte, error) {
	side := t.GridSize + 1
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			img.SetRGBA(j, i, ElevationToTerrarium(t.ElevationAt(i, j)))
		}
	}
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "terrain: encoding tile")
	}
	return buf.Bytes(), nil
}
