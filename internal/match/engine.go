// Package match selects the best tile variant for every grid cell.
//
// Each cell is compared against every pattern in the catalog using a fixed
// score: perceptual color distance with a chroma penalty, 3x3 texture
// distance, a fairness penalty for patterns already used in the same band,
// and a prohibitive penalty for placing a tile next to its own mirror image.
// Bands are matched in parallel and share no mutable state, so fairness and
// adjacency only see choices made within the same band.
package match

import (
	"context"
	"image"
	"math"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/grid"
	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// Scoring weights.
const (
	WeightL            = 0.05
	WeightAB           = 2.0
	LowChromaThreshold = 25.0
	LowChromaPenalty   = 10.0
	HighChromaPenalty  = 0.5
	TextureScale       = 0.5
	FairnessPenalty    = 0.5
	AdjacencyPenalty   = 100000.0
)

// MaxTextureWeight is the upper bound accepted for Params.TextureWeight.
const MaxTextureWeight = 2.0

const stage = "matching"

// Params are the inputs that change the placement result.
type Params struct {
	TileSize      int
	TextureWeight float64
	// Workers is the number of parallel bands; 0 means platform parallelism.
	Workers int
}

// Validate checks the parameters before any work starts.
func (p Params) Validate() error {
	if p.TileSize < 1 {
		return mosaicerr.Config(stage, map[string]any{"tileSize": p.TileSize}, "tile size must be >= 1")
	}
	if math.IsNaN(p.TextureWeight) || math.IsInf(p.TextureWeight, 0) || p.TextureWeight < 0 || p.TextureWeight > MaxTextureWeight {
		return mosaicerr.Config(stage, map[string]any{"textureWeight": p.TextureWeight}, "texture weight must be within [0,%g]", MaxTextureWeight)
	}
	return nil
}

// Progress receives processed/total tile rows. It is called from several
// goroutines and is advisory only.
type Progress func(processed, total int)

// Matcher computes a placement set. Engine is the production implementation.
type Matcher interface {
	Match(ctx context.Context, src *image.NRGBA, cat *catalog.Catalog, p Params, progress Progress) (PlacementSet, error)
}

// Engine is the fixed-score matcher.
type Engine struct{}

type candidate struct {
	tileID  catalog.TileID
	pattern *catalog.Pattern
	chroma  float64
}

// bandState is the accumulator owned by one band.
type bandState struct {
	usage map[[catalog.LVectorLen]float64]int
	left  *candidate
}

// Match runs every band of src in parallel and concatenates the results in
// band order.
func (Engine) Match(ctx context.Context, src *image.NRGBA, cat *catalog.Catalog, p Params, progress Progress) (PlacementSet, error) {
	if src == nil {
		return nil, mosaicerr.Config(stage, nil, "missing source image")
	}
	if cat == nil || len(cat.Tiles) == 0 {
		return nil, mosaicerr.Config(stage, nil, "missing tile catalog")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	width, height := src.Bounds().Dx(), src.Bounds().Dy()
	bands, err := grid.Partition(height, p.TileSize, p.Workers)
	if err != nil {
		return nil, err
	}

	cands := flatten(cat)
	totalRows := grid.Rows(height, p.TileSize)
	var doneRows atomic.Int64

	log.WithFields(log.Fields{
		"stage":    stage,
		"bands":    len(bands),
		"rows":     totalRows,
		"patterns": len(cands),
	}).Debug("matching started")

	results := make([]PlacementSet, len(bands))
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bands {
		b := b
		g.Go(func() error {
			out, err := matchBand(ctx, src, width, height, b, p, cands, func() {
				n := doneRows.Add(1)
				if progress != nil {
					progress(int(n), totalRows)
				}
			})
			results[b.Index] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := 0
	for _, r := range results {
		size += len(r)
	}
	set := make(PlacementSet, 0, size)
	for _, r := range results {
		set = append(set, r...)
	}
	return set, nil
}

func flatten(cat *catalog.Catalog) []candidate {
	cands := make([]candidate, 0, cat.NumPatterns())
	for i := range cat.Tiles {
		t := &cat.Tiles[i]
		for j := range t.Patterns {
			pat := &t.Patterns[j]
			cands = append(cands, candidate{tileID: t.ID, pattern: pat, chroma: pat.Lab.Chroma()})
		}
	}
	return cands
}

func matchBand(ctx context.Context, src *image.NRGBA, width, height int, b grid.Band, p Params, cands []candidate, rowDone func()) (PlacementSet, error) {
	st := bandState{usage: make(map[[catalog.LVectorLen]float64]int)}
	out := make(PlacementSet, 0, ((b.Height()+p.TileSize-1)/p.TileSize)*((width+p.TileSize-1)/p.TileSize))

	for y := b.StartY; y < b.EndY; y += p.TileSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.left = nil
		for _, cell := range grid.Row(y, width, height, p.TileSize) {
			target, tv := describeCell(src, cell)
			best := pick(target, tv, cands, p.TextureWeight, &st)

			out = append(out, Placement{
				TileID:      best.tileID,
				PatternType: best.pattern.Type.Tag,
				X:           cell.Min.X,
				Y:           cell.Min.Y,
				Width:       cell.Dx(),
				Height:      cell.Dy(),
				TargetL:     target.L,
				TileL:       best.pattern.Lab.L,
			})
			st.usage[best.pattern.LVector]++
			st.left = best
		}
		rowDone()
	}
	return out, nil
}

// describeCell returns the cell's mean Lab color and its 3x3 luma vector.
// An empty sub-cell (cells under 3 pixels wide or tall) takes the cell's own
// lightness.
func describeCell(src *image.NRGBA, cell image.Rectangle) (imaging.Lab, [catalog.LVectorLen]float64) {
	r, g, b, _ := imaging.MeanRGB(src, cell)
	target := imaging.ToLab(r, g, b)

	var tv [catalog.LVectorLen]float64
	for k, sub := range grid.Thirds(cell) {
		sr, sg, sb, n := imaging.MeanRGB(src, sub)
		if n == 0 {
			tv[k] = target.L
			continue
		}
		tv[k] = imaging.Luma(sr, sg, sb)
	}
	return target, tv
}

// pick returns the lowest scoring candidate; the first one wins ties.
func pick(target imaging.Lab, tv [catalog.LVectorLen]float64, cands []candidate, textureWeight float64, st *bandState) *candidate {
	targetChroma := target.Chroma()
	var best *candidate
	bestScore := math.Inf(1)
	for i := range cands {
		c := &cands[i]
		adjacent := st.left != nil && st.left.tileID == c.tileID && st.left.pattern.Type.MirrorOf(c.pattern.Type)
		s := score(target, targetChroma, tv, c.pattern, c.chroma, textureWeight, st.usage[c.pattern.LVector], adjacent)
		if s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// Score rates how well pattern fits a cell; lower is better.
//
// Parameters:
//   - target: The cell's mean Lab color.
//   - tv: The cell's 3x3 luma vector.
//   - pattern: The candidate variant.
//   - textureWeight: User weight (0-2) for texture against color.
//   - uses: How often this pattern was already chosen in the band.
//   - adjacent: Whether the left neighbor is the same tile mirrored.
func Score(target imaging.Lab, tv [catalog.LVectorLen]float64, pattern *catalog.Pattern, textureWeight float64, uses int, adjacent bool) float64 {
	return score(target, target.Chroma(), tv, pattern, pattern.Lab.Chroma(), textureWeight, uses, adjacent)
}

func score(target imaging.Lab, targetChroma float64, tv [catalog.LVectorLen]float64, pattern *catalog.Pattern, tileChroma, textureWeight float64, uses int, adjacent bool) float64 {
	dL := target.L - pattern.Lab.L
	dA := target.A - pattern.Lab.A
	dB := target.B - pattern.Lab.B
	colorDist := math.Sqrt(WeightL*dL*dL + WeightAB*dA*dA + WeightAB*dB*dB)

	chromaWeight := HighChromaPenalty
	if targetChroma < LowChromaThreshold {
		chromaWeight = LowChromaPenalty
	}
	colorDist += math.Abs(targetChroma-tileChroma) * chromaWeight

	var tex float64
	for k := range tv {
		d := tv[k] - pattern.LVector[k]
		tex += d * d
	}
	total := colorDist + math.Sqrt(tex)*TextureScale*textureWeight + FairnessPenalty*float64(uses)
	if adjacent {
		total += AdjacencyPenalty
	}
	return total
}
