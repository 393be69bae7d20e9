package render

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
)

// Encoder writes a finished surface. Quality is in [0,1] and may be ignored
// by lossless formats.
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality float64) error
	Extension() string
}

// JPEGEncoder is the export encoder.
type JPEGEncoder struct{}

// Encode implements Encoder.
func (JPEGEncoder) Encode(w io.Writer, img image.Image, quality float64) error {
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}

func (JPEGEncoder) Extension() string { return ".jpg" }

// PNGEncoder is used for previews.
type PNGEncoder struct{}

// Encode implements Encoder.
func (PNGEncoder) Encode(w io.Writer, img image.Image, _ float64) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

func (PNGEncoder) Extension() string { return ".png" }
