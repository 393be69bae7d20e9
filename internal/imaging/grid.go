package imaging

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
)

// DefaultGridColor is used when a grid color cannot be parsed.
var DefaultGridColor = color.RGBA{255, 0, 0, 128}

// DrawCellGrid draws the mosaic cell boundaries onto dst.
//
// Lines are placed at every multiple of spacing (in output pixels, so a
// scaled render passes tileSize·scale). Semi-transparent colors are blended
// over the existing pixels rather than replacing them.
func DrawCellGrid(dst *image.RGBA, spacing float64, c color.RGBA) {
	if spacing < 1 {
		return
	}
	b := dst.Bounds()

	for i := 1; ; i++ {
		x := b.Min.X + int(float64(i)*spacing)
		if x >= b.Max.X {
			break
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			blendPixel(dst, x, y, c)
		}
	}
	for i := 1; ; i++ {
		y := b.Min.Y + int(float64(i)*spacing)
		if y >= b.Max.Y {
			break
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			blendPixel(dst, x, y, c)
		}
	}
}

func blendPixel(dst *image.RGBA, x, y int, c color.RGBA) {
	if c.A == 255 {
		dst.SetRGBA(x, y, c)
		return
	}
	// c is non-premultiplied here; mix straight over the opaque pixel
	a := uint32(c.A)
	o := dst.RGBAAt(x, y)
	mix := func(src, bg uint8) uint8 {
		return uint8((uint32(src)*a + uint32(bg)*(255-a)) / 255)
	}
	dst.SetRGBA(x, y, color.RGBA{mix(c.R, o.R), mix(c.G, o.G), mix(c.B, o.B), 255})
}

// ParseHexColor parses a hex color string like "#FF0000" or "#FF000080".
func ParseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}

	val, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}

	switch len(hex) {
	case 6:
		return color.RGBA{R: uint8(val >> 16), G: uint8(val >> 8), B: uint8(val), A: 255}, nil
	case 8:
		return color.RGBA{R: uint8(val >> 24), G: uint8(val >> 16), B: uint8(val >> 8), A: uint8(val)}, nil
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}
}
