package imaging

import (
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Lab is a color in CIE L*a*b* space under the D65 white point.
//
// L ranges from 0 (black) to 100 (white). A and B are unbounded in theory but
// stay within roughly ±128 for colors reachable from sRGB.
type Lab struct {
	L float64 `json:"l"`
	A float64 `json:"a"`
	B float64 `json:"b_star"`
}

// Chroma returns the colorfulness of the color, sqrt(a² + b²).
func (c Lab) Chroma() float64 {
	return math.Sqrt(c.A*c.A + c.B*c.B)
}

// ToLab converts an sRGB color to CIE L*a*b*.
//
// Parameters:
//   - r, g, b: sRGB components in the range 0-255. Fractional values are
//     accepted so that averaged colors need not be rounded first.
//
// # Algorithm
//
// The conversion is the standard one:
//
//  1. Normalize to 0-1 and undo the sRGB gamma (linear below 0.04045,
//     power 2.4 above)
//  2. Transform linear RGB to XYZ with the sRGB matrix
//  3. Normalize by the D65 white (95.047, 100.0, 108.883)
//  4. Apply f(t): cube root above 0.008856, linear below
//  5. L = 116·f(Y) − 16, a = 500·(f(X) − f(Y)), b = 200·(f(Y) − f(Z))
//
// go-colorful works on the 0-1 scale for L, so the result is rescaled by 100.
func ToLab(r, g, b float64) Lab {
	c := colorful.Color{R: r / 255.0, G: g / 255.0, B: b / 255.0}
	l, a, bs := c.Lab()
	return Lab{L: l * 100, A: a * 100, B: bs * 100}
}

// Luma returns only the L component of ToLab.
//
// It skips the X and Z channels entirely, which makes it cheap enough to run
// nine times per grid cell when building texture vectors.
func Luma(r, g, b float64) float64 {
	lr, lg, lb := colorful.Color{R: r / 255.0, G: g / 255.0, B: b / 255.0}.LinearRgb()
	_, y, _ := colorful.LinearRgbToXyz(lr, lg, lb)
	return 116*labF(y) - 16
}

func labF(t float64) float64 {
	if t > 0.008856 {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116.0
}

// MeanRGB averages the red, green and blue channels of img over rect.
//
// The rectangle is clipped to the image bounds first. The returned count is
// the number of pixels averaged; when it is zero the means are zero as well.
// Alpha is ignored, source images are expected to be opaque.
func MeanRGB(img *image.NRGBA, rect image.Rectangle) (r, g, b float64, n int) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return 0, 0, 0, 0
	}

	var sr, sg, sb uint64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := img.PixOffset(rect.Min.X, y)
		row := img.Pix[off : off+rect.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			sr += uint64(row[i])
			sg += uint64(row[i+1])
			sb += uint64(row[i+2])
		}
	}

	n = rect.Dx() * rect.Dy()
	fn := float64(n)
	return float64(sr) / fn, float64(sg) / fn, float64(sb) / fn, n
}
