package imaging

import (
	"image"
	"math"
)

// Default hysteresis thresholds for EdgeOverlay, tuned for photographs.
const (
	DefaultEdgeLow  = 60
	DefaultEdgeHigh = 160
)

// EdgeOverlay builds the edge layer that is multiplied over a mosaic.
//
// The result has the same size as img, anchored at (0,0). Background pixels
// are white (255) so a multiply blend leaves them unchanged, and detected
// edges are black (0) so they darken the mosaic beneath.
//
// Parameters:
//   - img: Source image (color or grayscale).
//   - thresholdLow: Gradient magnitudes below this (0-255) are discarded.
//   - thresholdHigh: Gradient magnitudes above this (0-255) are always kept.
//
// # Algorithm
//
// A Canny-style detector:
//
//  1. Grayscale conversion with ITU-R BT.601 weights
//  2. 5x5 Gaussian blur (sigma ≈ 1.4)
//  3. Sobel gradients, magnitude and direction
//  4. Non-maximum suppression along the gradient direction
//  5. Hysteresis: weak edges survive only next to a strong edge
func EdgeOverlay(img image.Image, thresholdLow, thresholdHigh int) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := range out.Pix {
		out.Pix[i] = 255
	}
	if w == 0 || h == 0 {
		return out
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			gray[y*w+x] = (0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)) / 255.0
		}
	}

	blurred := gaussianBlur(gray, w, h)
	mag, dir := sobel(blurred, w, h)
	thin := suppressNonMaxima(mag, dir, w, h)

	low := float64(thresholdLow) / 255.0
	high := float64(thresholdHigh) / 255.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := thin[y*w+x]
			switch {
			case v >= high:
				out.Pix[y*out.Stride+x] = 0
			case v >= low && hasStrongNeighbor(thin, w, h, x, y, high):
				out.Pix[y*out.Stride+x] = 0
			}
		}
	}
	return out
}

var gaussKernel = [5][5]float64{
	{1, 4, 7, 4, 1},
	{4, 16, 26, 16, 4},
	{7, 26, 41, 26, 7},
	{4, 16, 26, 16, 4},
	{1, 4, 7, 4, 1},
}

// gaussianBlur applies the 5x5 kernel above (sum 273) with replicated borders.
func gaussianBlur(src []float64, w, h int) []float64 {
	dst := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := -2; ky <= 2; ky++ {
				py := clamp(y+ky, 0, h-1)
				for kx := -2; kx <= 2; kx++ {
					px := clamp(x+kx, 0, w-1)
					sum += src[py*w+px] * gaussKernel[ky+2][kx+2]
				}
			}
			dst[y*w+x] = sum / 273.0
		}
	}
	return dst
}

func sobel(src []float64, w, h int) (mag, dir []float64) {
	mag = make([]float64, len(src))
	dir = make([]float64, len(src))
	at := func(x, y int) float64 {
		return src[clamp(y, 0, h-1)*w+clamp(x, 0, w-1)]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := -at(x-1, y-1) + at(x+1, y-1) - 2*at(x-1, y) + 2*at(x+1, y) - at(x-1, y+1) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) + at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			mag[y*w+x] = math.Hypot(gx, gy)
			dir[y*w+x] = math.Atan2(gy, gx)
		}
	}
	return mag, dir
}

// suppressNonMaxima keeps a magnitude only if it is a local maximum along
// the gradient direction. The one pixel border is always dropped.
func suppressNonMaxima(mag, dir []float64, w, h int) []float64 {
	out := make([]float64, len(mag))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			// fold the direction into [0, π) and bucket it into 4 sectors
			a := dir[i]
			if a < 0 {
				a += math.Pi
			}
			var n1, n2 float64
			switch {
			case a < math.Pi/8 || a >= 7*math.Pi/8:
				n1, n2 = mag[i-1], mag[i+1]
			case a < 3*math.Pi/8:
				n1, n2 = mag[i-w+1], mag[i+w-1]
			case a < 5*math.Pi/8:
				n1, n2 = mag[i-w], mag[i+w]
			default:
				n1, n2 = mag[i-w-1], mag[i+w+1]
			}
			if mag[i] >= n1 && mag[i] >= n2 {
				out[i] = mag[i]
			}
		}
	}
	return out
}

func hasStrongNeighbor(v []float64, w, h, x, y int, high float64) bool {
	for ky := -1; ky <= 1; ky++ {
		for kx := -1; kx <= 1; kx++ {
			if v[clamp(y+ky, 0, h-1)*w+clamp(x+kx, 0, w-1)] >= high {
				return true
			}
		}
	}
	return false
}

// clamp constrains val to [lo, hi].
func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
