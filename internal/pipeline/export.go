package pipeline

import (
	"context"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
	"github.com/ironsheep/photomosaic-mcp/internal/prefetch"
	"github.com/ironsheep/photomosaic-mcp/internal/render"
)

// ExportReport describes a finished export.
type ExportReport struct {
	Generation string         `json:"generation"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Bytes      int64          `json:"bytes"`
	Prefetch   prefetch.Stats `json:"prefetch"`
	// OnDemand counts sheets fetched at export time because the prefetch
	// batch had not made them resident.
	OnDemand int            `json:"onDemand"`
	Timings  render.Timings `json:"timings"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

// Export renders the cached placement set at export scale from the
// full-resolution sheets and encodes it to w.
//
// The prefetch batch of the current generation is awaited first, or started
// if there is none. Sheets still missing afterwards are fetched on demand;
// a sheet that cannot be fetched then fails the export.
func (p *Pipeline) Export(ctx context.Context, params ExportParams, w io.Writer) (*ExportReport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	entry := p.cache.current()
	if entry == nil {
		p.mu.Unlock()
		return nil, mosaicerr.Config("exporting", nil, "no placements computed; generate a preview first")
	}
	cat, src, light := p.catalog, p.source, p.lastLight
	if src == nil || src.Identity != entry.heavy.SourceIdentity {
		p.mu.Unlock()
		return nil, mosaicerr.Config("exporting", map[string]any{"generation": entry.generation}, "placements belong to a different source image; generate again")
	}
	p.state = Exporting
	p.mu.Unlock()
	defer p.setState(Idle)

	logger := log.WithFields(log.Fields{"stage": "exporting", "generation": entry.generation})

	batch := p.prefetch.Current()
	if batch == nil || batch.Generation != entry.generation {
		batch = p.prefetch.Start(entry.generation, cat, prefetch.NeededShards(cat, entry.placements))
	}
	pstats, err := batch.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if pstats.Failed > 0 {
		logger.Infof("prefetch left %d of %d sheets missing, fetching on demand", pstats.Failed, pstats.Requested)
	}

	onDemand := 0
	for _, loc := range exportSheets(cat, entry.placements) {
		if p.store.Has(loc) {
			continue
		}
		if _, err := p.store.Ensure(ctx, loc); err != nil {
			return nil, err
		}
		onDemand++
	}

	res, err := p.runRender(render.Job{
		Mode:       render.Export,
		Scale:      params.Scale,
		TileSize:   entry.heavy.TileSize,
		Placements: entry.placements.Clone(),
		Catalog:    cat,
		Sheets:     p.store,
		Source:     src.Image,
		Edges:      p.edgeOverlay(src, light.EdgeOpacity),
		Light:      light.render(),
	})
	if err != nil {
		return nil, err
	}

	surface, err := res.Surface.Take()
	if err != nil {
		return nil, mosaicerr.Render("exporting", nil, "%w", err)
	}
	start := time.Now()
	cw := &countingWriter{w: w}
	if err := p.encoder.Encode(cw, surface, params.Quality); err != nil {
		return nil, mosaicerr.Render("encoding", map[string]any{"quality": params.Quality}, "failed to encode export: %w", err)
	}
	res.Timings.Encode = time.Since(start)
	p.exports.Add(1)

	logger.WithFields(log.Fields{
		"width":  res.Width,
		"height": res.Height,
		"bytes":  cw.n,
	}).Infof("export done (%s)", res.Timings)

	return &ExportReport{
		Generation: entry.generation,
		Width:      res.Width,
		Height:     res.Height,
		Bytes:      cw.n,
		Prefetch:   pstats,
		OnDemand:   onDemand,
		Timings:    res.Timings,
	}, nil
}

// exportSheets lists the sheets an export draws from: the needed shards, or
// the thumbnail sheet for a catalog without full-resolution sheets.
func exportSheets(cat *catalog.Catalog, set match.PlacementSet) []string {
	if !cat.HasFull() {
		return []string{cat.ThumbSheet()}
	}
	shards := prefetch.NeededShards(cat, set)
	locs := make([]string, 0, len(shards))
	for _, s := range shards {
		if loc, ok := cat.FullSheet(s); ok {
			locs = append(locs, loc)
		}
	}
	return locs
}
