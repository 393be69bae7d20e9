package pipeline

import (
	"image/color"
	"math"

	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
	"github.com/ironsheep/photomosaic-mcp/internal/render"
)

// Defaults applied by callers that leave a parameter out.
const (
	DefaultTileSize               = 20
	DefaultTextureWeight          = 1.0
	DefaultBlendOpacity           = 30
	DefaultEdgeOpacity            = 20
	DefaultBrightnessCompensation = 50
	DefaultExportScale            = 2.0
	DefaultExportQuality          = 0.92
)

// HeavyParams invalidate the placement cache when any field changes. The
// struct is comparable and is its own fingerprint.
type HeavyParams struct {
	SourceIdentity string  `json:"sourceIdentity"`
	TileSize       int     `json:"tileSize"`
	TextureWeight  float64 `json:"textureWeight"`
}

// LightParams only affect rendering.
type LightParams struct {
	BlendOpacity           int        `json:"blendOpacity"`
	EdgeOpacity            int        `json:"edgeOpacity"`
	BrightnessCompensation int        `json:"brightnessCompensation"`
	ShowGrid               bool       `json:"showGrid"`
	GridColor              color.RGBA `json:"-"`
}

func (l LightParams) render() render.Light {
	gc := l.GridColor
	if gc == (color.RGBA{}) {
		gc = imaging.DefaultGridColor
	}
	return render.Light{
		BlendOpacity:           l.BlendOpacity,
		EdgeOpacity:            l.EdgeOpacity,
		BrightnessCompensation: l.BrightnessCompensation,
		ShowGrid:               l.ShowGrid,
		GridColor:              gc,
	}
}

// Params is a generate request.
type Params struct {
	TileSize      int
	TextureWeight float64
	LightParams
}

// DefaultParams returns the parameters used when a request sets none.
func DefaultParams() Params {
	return Params{
		TileSize:      DefaultTileSize,
		TextureWeight: DefaultTextureWeight,
		LightParams: LightParams{
			BlendOpacity:           DefaultBlendOpacity,
			EdgeOpacity:            DefaultEdgeOpacity,
			BrightnessCompensation: DefaultBrightnessCompensation,
		},
	}
}

// Validate checks every range before any stage starts.
func (p Params) Validate() error {
	if err := (match.Params{TileSize: p.TileSize, TextureWeight: p.TextureWeight}).Validate(); err != nil {
		return err
	}
	return p.LightParams.Validate()
}

// Validate checks the percentage ranges.
func (l LightParams) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"blendOpacity", l.BlendOpacity},
		{"edgeOpacity", l.EdgeOpacity},
		{"brightnessCompensation", l.BrightnessCompensation},
	} {
		if f.v < 0 || f.v > 100 {
			return mosaicerr.Config("generate", map[string]any{f.name: f.v}, "%s must be within [0,100]", f.name)
		}
	}
	return nil
}

// Split separates the cache key from the render-only parameters.
func (p Params) Split(sourceIdentity string) (HeavyParams, LightParams) {
	return HeavyParams{
		SourceIdentity: sourceIdentity,
		TileSize:       p.TileSize,
		TextureWeight:  p.TextureWeight,
	}, p.LightParams
}

// ExportParams is an export request.
type ExportParams struct {
	// Scale multiplies the source dimensions; >= 1.
	Scale float64
	// Quality is the encoder quality in [0,1].
	Quality float64
}

// DefaultExportParams returns the export defaults.
func DefaultExportParams() ExportParams {
	return ExportParams{Scale: DefaultExportScale, Quality: DefaultExportQuality}
}

// Validate checks the export ranges.
func (e ExportParams) Validate() error {
	if math.IsNaN(e.Scale) || math.IsInf(e.Scale, 0) || e.Scale < 1 {
		return mosaicerr.Config("exporting", map[string]any{"scale": e.Scale}, "resolution scale must be >= 1")
	}
	if math.IsNaN(e.Quality) || e.Quality < 0 || e.Quality > 1 {
		return mosaicerr.Config("exporting", map[string]any{"quality": e.Quality}, "quality must be within [0,1]")
	}
	return nil
}
