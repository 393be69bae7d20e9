// Package render composites a placement set into an output surface.
//
// Preview renders use the thumbnail sprite sheet at scale 1; exports use the
// full-resolution sheets at scale >= 1. Each render draws every placement's
// cropped, brightness-compensated sprite, then overlays the original image
// with a soft-light blend and its edge map with a multiply blend.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blend"
	"github.com/nfnt/resize"
	log "github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/handoff"
	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// Mode selects the sprite set and scale of a render.
type Mode int

const (
	Preview Mode = iota
	Export
)

func (m Mode) String() string {
	switch m {
	case Preview:
		return "preview"
	case Export:
		return "export"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MinTileL keeps dark tiles from being brightened without bound.
const MinTileL = 5.0

// MaxBrightness caps the compensation ratio.
const MaxBrightness = 5.0

// Light are the render-only parameters. Opacities and compensation are
// percentages in [0,100].
type Light struct {
	BlendOpacity           int
	EdgeOpacity            int
	BrightnessCompensation int
	// ShowGrid draws cell boundaries on previews. Ignored for exports.
	ShowGrid  bool
	GridColor color.RGBA
}

// Sheets resolves decoded sprite sheets by location.
type Sheets interface {
	Get(loc string) (image.Image, bool)
}

// Job is everything one render needs. Placements are owned by the job; the
// catalog, sheets, source and edges are shared read-only.
type Job struct {
	Mode       Mode
	Scale      float64
	TileSize   int
	Placements match.PlacementSet
	Catalog    *catalog.Catalog
	Sheets     Sheets
	Source     *image.NRGBA
	Edges      *image.Gray
	Light      Light
}

// Timings are per-phase durations. Encode is filled in by the caller that
// runs the encoder.
type Timings struct {
	TileDraw time.Duration `json:"tileDraw"`
	Blend    time.Duration `json:"blend"`
	Encode   time.Duration `json:"encode"`
}

func (t Timings) String() string {
	return fmt.Sprintf("tile-draw %s, blend %s, encode %s",
		t.TileDraw.Round(time.Millisecond), t.Blend.Round(time.Millisecond), t.Encode.Round(time.Millisecond))
}

// Result is a finished render. The surface is handed over to whoever takes
// it first.
type Result struct {
	Surface *handoff.Owned[*image.RGBA]
	Width   int
	Height  int
	Tiles   int
	Timings Timings
}

// Brightness returns the multiplicative filter for a tile:
// (1-k) + k*min(targetL/max(tileL,5), 5) with k = compensation/100.
func Brightness(targetL, tileL float64, compensation int) float64 {
	k := float64(compensation) / 100
	ratio := math.Min(targetL/math.Max(tileL, MinTileL), MaxBrightness)
	return (1 - k) + k*ratio
}

const stage = "rendering"

// Render draws job synchronously. Start runs it as a task.
func Render(job Job) (*Result, error) {
	if job.Catalog == nil || job.Sheets == nil {
		return nil, mosaicerr.Config(stage, nil, "missing catalog or sprite sheets")
	}
	if job.TileSize < 1 {
		return nil, mosaicerr.Config(stage, map[string]any{"tileSize": job.TileSize}, "tile size must be >= 1")
	}
	if job.Source == nil {
		return nil, mosaicerr.Config(stage, nil, "missing source image")
	}
	scale := job.Scale
	if scale <= 0 {
		scale = 1
	}
	if job.Mode == Export && scale < 1 {
		return nil, mosaicerr.Config(stage, map[string]any{"scale": job.Scale}, "export scale must be >= 1")
	}

	src := job.Source.Bounds()
	w := int(math.Round(float64(src.Dx()) * scale))
	h := int(math.Round(float64(src.Dy()) * scale))
	if w < 1 || h < 1 {
		return nil, mosaicerr.Config(stage, map[string]any{"width": w, "height": h}, "empty output surface")
	}

	var timings Timings
	start := time.Now()
	surface := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(surface, surface.Bounds(), image.NewUniform(color.Black), image.Point{}, xdraw.Src)

	if err := drawTiles(surface, job, scale); err != nil {
		return nil, err
	}
	timings.TileDraw = time.Since(start)

	start = time.Now()
	out := composite(surface, job)
	if job.Light.ShowGrid && job.Mode == Preview {
		imaging.DrawCellGrid(out, float64(job.TileSize)*scale, job.Light.GridColor)
	}
	timings.Blend = time.Since(start)

	log.WithFields(log.Fields{
		"stage": stage,
		"mode":  job.Mode.String(),
		"size":  fmt.Sprintf("%dx%d", w, h),
		"tiles": len(job.Placements),
	}).Debugf("render done in %s", timings.TileDraw+timings.Blend)

	return &Result{
		Surface: handoff.Give(out),
		Width:   w,
		Height:  h,
		Tiles:   len(job.Placements),
		Timings: timings,
	}, nil
}

type spriteKey struct {
	id  catalog.TileID
	tag string
}

func drawTiles(dst *image.RGBA, job Job, scale float64) error {
	full := job.Mode == Export
	interp := xdraw.Interpolator(xdraw.ApproxBiLinear)
	if full {
		interp = xdraw.CatmullRom
	}

	sprites := make(map[spriteKey]*image.NRGBA)
	for i, p := range job.Placements {
		params := map[string]any{"tile": string(p.TileID), "pattern": p.PatternType, "index": i}
		key := spriteKey{p.TileID, p.PatternType}
		sprite, ok := sprites[key]
		if !ok {
			tile, pat, found := job.Catalog.Lookup(p.TileID, p.PatternType)
			if !found {
				return mosaicerr.Render(stage, params, "placement references unknown tile pattern")
			}
			loc, cell, err := job.Catalog.Sprite(tile, full)
			if err != nil {
				return mosaicerr.Render(stage, params, "failed to locate sprite: %w", err)
			}
			sheet, ok := job.Sheets.Get(loc)
			if !ok {
				params["sheet"] = loc
				return mosaicerr.Render(stage, params, "sprite sheet not loaded")
			}
			sprite, err = imaging.CropSprite(sheet, cell, pat.Type.Crop, pat.Type.Flipped)
			if err != nil {
				return mosaicerr.Render(stage, params, "failed to crop sprite: %w", err)
			}
			sprites[key] = sprite
		}

		var tile image.Image = sprite
		if f := Brightness(p.TargetL, p.TileL, job.Light.BrightnessCompensation); f != 1 {
			tile = applyBrightness(sprite, f)
		}

		// Edge cells keep the full tile extent and are clipped by the
		// surface, so they show the matching part of the tile unsquashed.
		dr := image.Rect(
			int(math.Round(float64(p.X)*scale)),
			int(math.Round(float64(p.Y)*scale)),
			int(math.Round(float64(p.X+job.TileSize)*scale)),
			int(math.Round(float64(p.Y+job.TileSize)*scale)),
		)
		interp.Scale(dst, dr, tile, tile.Bounds(), xdraw.Src, nil)
	}
	return nil
}

func applyBrightness(img image.Image, f float64) *image.RGBA {
	scale := func(v uint8) uint8 {
		return uint8(math.Min(255, math.Round(float64(v)*f)))
	}
	return adjust.Apply(img, func(c color.RGBA) color.RGBA {
		return color.RGBA{scale(c.R), scale(c.G), scale(c.B), c.A}
	})
}

// composite overlays the original (soft light) and the edge map (multiply).
// A zero opacity skips the pass.
func composite(surface *image.RGBA, job Job) *image.RGBA {
	w, h := surface.Bounds().Dx(), surface.Bounds().Dy()
	out := surface

	if a := job.Light.BlendOpacity; a > 0 {
		over := fit(job.Source, w, h)
		out = blend.Opacity(out, blend.SoftLight(out, over), float64(a)/100)
	}
	if a := job.Light.EdgeOpacity; a > 0 && job.Edges != nil {
		edges := fit(job.Edges, w, h)
		out = blend.Opacity(out, blend.Multiply(out, edges), float64(a)/100)
	}
	return out
}

// fit returns img scaled to w x h, or img itself when it already matches.
func fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
}
