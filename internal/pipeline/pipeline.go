// Package pipeline sequences matching, rendering, prefetch and export.
//
// A Pipeline holds the session state: the loaded catalog, the current source
// image, the last placement set and the decoded sprite sheets. Exactly one
// stage runs at a time; a request that arrives while a stage is active fails
// with ErrBusy instead of queueing. Generate reuses the cached placement set
// whenever only render parameters changed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/handoff"
	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
	"github.com/ironsheep/photomosaic-mcp/internal/prefetch"
	"github.com/ironsheep/photomosaic-mcp/internal/render"
	"github.com/ironsheep/photomosaic-mcp/internal/sprites"
)

// ErrBusy is returned when a request arrives while another stage runs.
var ErrBusy = errors.New("pipeline: another stage is in progress")

// State is the orchestrator's current stage.
type State int

const (
	Idle State = iota
	Matching
	Rendering
	Exporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Matching:
		return "matching"
	case Rendering:
		return "rendering"
	case Exporting:
		return "exporting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configure a Pipeline. Zero values select the production defaults.
type Options struct {
	Matcher             match.Matcher
	Fetcher             sprites.Fetcher
	Encoder             render.Encoder
	Workers             int
	PrefetchConcurrency int
	EdgeLow, EdgeHigh   int
}

// Stats counts completed stage runs.
type Stats struct {
	Matches int64 `json:"matches"`
	Renders int64 `json:"renders"`
	Exports int64 `json:"exports"`
}

// Preview is the result of Generate.
type Preview struct {
	Generation string
	// Image is handed to the caller; take it once.
	Image      *handoff.Owned[*image.RGBA]
	Width      int
	Height     int
	Placements int
	Recomputed bool
	Timings    render.Timings
}

// Pipeline is the session orchestrator. It is safe for concurrent use.
type Pipeline struct {
	matcher  match.Matcher
	encoder  render.Encoder
	store    *sprites.Store
	prefetch *prefetch.Prefetcher
	workers  int
	edgeLow  int
	edgeHigh int

	mu        sync.Mutex
	state     State
	catalog   *catalog.Catalog
	source    *imaging.Source
	edges     *image.Gray
	edgesFor  string
	cache     placementCache
	lastLight LightParams

	matches atomic.Int64
	renders atomic.Int64
	exports atomic.Int64
}

// New returns an idle pipeline.
func New(opts Options) *Pipeline {
	if opts.Matcher == nil {
		opts.Matcher = match.Engine{}
	}
	if opts.Encoder == nil {
		opts.Encoder = render.JPEGEncoder{}
	}
	if opts.EdgeLow <= 0 {
		opts.EdgeLow = imaging.DefaultEdgeLow
	}
	if opts.EdgeHigh <= 0 {
		opts.EdgeHigh = imaging.DefaultEdgeHigh
	}
	store := sprites.NewStore(opts.Fetcher)
	return &Pipeline{
		matcher:   opts.Matcher,
		encoder:   opts.Encoder,
		store:     store,
		prefetch:  prefetch.New(store, opts.PrefetchConcurrency),
		workers:   opts.Workers,
		edgeLow:   opts.EdgeLow,
		edgeHigh:  opts.EdgeHigh,
		lastLight: DefaultParams().LightParams,
	}
}

// LoadCatalog loads and installs the catalog at path.
func (p *Pipeline) LoadCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	if err := p.SetCatalog(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// SetCatalog installs cat. Cached placements, the prefetch batch and every
// decoded sheet belong to the previous catalog and are dropped.
func (p *Pipeline) SetCatalog(cat *catalog.Catalog) error {
	if cat == nil {
		return mosaicerr.Catalog("catalog", nil, "missing catalog")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return ErrBusy
	}
	p.catalog = cat
	p.cache.invalidate()
	p.prefetch.Stop()
	p.store.Clear()
	log.WithField("catalog", cat.String()).Info("catalog installed")
	return nil
}

// LoadSource decodes and installs the target image at path.
func (p *Pipeline) LoadSource(path string) (*imaging.Source, error) {
	src, err := imaging.LoadSource(path)
	if err != nil {
		return nil, mosaicerr.Config("load-image", map[string]any{"path": path}, "%w", err)
	}
	if err := p.SetSource(src); err != nil {
		return nil, err
	}
	return src, nil
}

// SetSource installs the target image. A source with a new identity
// invalidates the placement cache through the heavy fingerprint.
func (p *Pipeline) SetSource(src *imaging.Source) error {
	if src == nil || src.Image == nil {
		return mosaicerr.Config("load-image", nil, "missing source image")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return ErrBusy
	}
	p.source = src
	if p.edgesFor != src.Identity {
		p.edges, p.edgesFor = nil, ""
	}
	log.WithFields(log.Fields{"identity": src.Identity, "width": src.Width(), "height": src.Height()}).Info("source image installed")
	return nil
}

// begin moves Idle to s, or fails with ErrBusy.
func (p *Pipeline) begin(s State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return ErrBusy
	}
	p.state = s
	return nil
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// evictUnused drops decoded full-resolution sheets that set no longer
// references. The thumbnail sheet stays resident.
func (p *Pipeline) evictUnused(cat *catalog.Catalog, set match.PlacementSet) {
	if !cat.HasFull() {
		return
	}
	needed := make(map[int]bool)
	for _, i := range prefetch.NeededShards(cat, set) {
		needed[i] = true
	}
	thumb := cat.ThumbSheet()
	for i := range cat.TileSets.Full.Sheets() {
		loc, ok := cat.FullSheet(i)
		if !ok || needed[i] || loc == thumb || !p.store.Has(loc) {
			continue
		}
		p.store.Evict(loc)
		log.WithField("sheet", loc).Debug("sheet evicted")
	}
}

// Generate produces a preview for params. It recomputes placements only when
// the heavy parameters differ from the cached set's.
func (p *Pipeline) Generate(ctx context.Context, params Params, progress match.Progress) (*Preview, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	cat, src := p.catalog, p.source
	if cat == nil {
		p.mu.Unlock()
		return nil, mosaicerr.Catalog("generate", nil, "no catalog loaded")
	}
	if src == nil {
		p.mu.Unlock()
		return nil, mosaicerr.Config("generate", nil, "no source image loaded")
	}
	heavy, light := params.Split(src.Identity)
	entry, hit := p.cache.lookup(heavy)
	if hit {
		p.state = Rendering
	} else {
		p.state = Matching
	}
	p.lastLight = light
	p.mu.Unlock()
	defer p.setState(Idle)

	logger := log.WithFields(log.Fields{"tileSize": heavy.TileSize, "textureWeight": heavy.TextureWeight})
	if !hit {
		start := time.Now()
		set, err := p.matcher.Match(ctx, src.Image, cat, match.Params{
			TileSize:      heavy.TileSize,
			TextureWeight: heavy.TextureWeight,
			Workers:       p.workers,
		}, progress)
		if err != nil {
			logger.WithField("stage", "matching").Warnf("matching failed: %v", err)
			return nil, err
		}
		p.matches.Add(1)

		p.mu.Lock()
		entry = p.cache.put(heavy, "", set)
		p.state = Rendering
		p.mu.Unlock()

		p.evictUnused(cat, set)
		p.prefetch.Start(entry.generation, cat, prefetch.NeededShards(cat, set))
		logger.WithFields(log.Fields{
			"generation": entry.generation,
			"placements": len(set),
		}).Infof("matching done in %s", time.Since(start).Round(time.Millisecond))
	} else {
		logger.WithField("generation", entry.generation).Debug("placements reused")
	}

	if _, err := p.store.Ensure(ctx, cat.ThumbSheet()); err != nil {
		return nil, err
	}
	edges := p.edgeOverlay(src, light.EdgeOpacity)

	res, err := p.runRender(render.Job{
		Mode:       render.Preview,
		Scale:      1,
		TileSize:   heavy.TileSize,
		Placements: entry.placements.Clone(),
		Catalog:    cat,
		Sheets:     p.store,
		Source:     src.Image,
		Edges:      edges,
		Light:      light.render(),
	})
	if err != nil {
		return nil, err
	}

	return &Preview{
		Generation: entry.generation,
		Image:      res.Surface,
		Width:      res.Width,
		Height:     res.Height,
		Placements: len(entry.placements),
		Recomputed: !hit,
		Timings:    res.Timings,
	}, nil
}

// runRender hands job to a render task and waits for its single message.
func (p *Pipeline) runRender(job render.Job) (*render.Result, error) {
	out := <-render.Start(job)
	if out.Err != nil {
		log.WithField("stage", "rendering").Warnf("render failed: %v", out.Err)
		return nil, out.Err
	}
	p.renders.Add(1)
	return out.Result, nil
}

// edgeOverlay returns the source's edge map, computing it once per source.
// A zero opacity needs none.
func (p *Pipeline) edgeOverlay(src *imaging.Source, opacity int) *image.Gray {
	if opacity <= 0 {
		return nil
	}
	p.mu.Lock()
	if p.edgesFor == src.Identity && p.edges != nil {
		e := p.edges
		p.mu.Unlock()
		return e
	}
	p.mu.Unlock()

	e := imaging.EdgeOverlay(src.Image, p.edgeLow, p.edgeHigh)

	p.mu.Lock()
	if p.source == src {
		p.edges, p.edgesFor = e, src.Identity
	}
	p.mu.Unlock()
	return e
}

// Stats returns the stage counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Matches: p.matches.Load(),
		Renders: p.renders.Load(),
		Exports: p.exports.Load(),
	}
}

// Status is a snapshot of the session for display.
type Status struct {
	State      string          `json:"state"`
	Catalog    string          `json:"catalog,omitempty"`
	Source     string          `json:"source,omitempty"`
	Width      int             `json:"width,omitempty"`
	Height     int             `json:"height,omitempty"`
	Generation string          `json:"generation,omitempty"`
	Placements int             `json:"placements"`
	Heavy      *HeavyParams    `json:"heavy,omitempty"`
	Prefetch   *prefetch.Stats `json:"prefetch,omitempty"`
	Prefetched bool            `json:"prefetchDone"`
	Sheets     int             `json:"sheetsResident"`
	Stats      Stats           `json:"stats"`
}

// Status reports the current state without blocking on a running stage.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := Status{State: p.state.String()}
	if p.catalog != nil {
		st.Catalog = p.catalog.String()
	}
	if p.source != nil {
		st.Source = p.source.Identity
		st.Width, st.Height = p.source.Width(), p.source.Height()
	}
	if e := p.cache.current(); e != nil {
		h := e.heavy
		st.Generation = e.generation
		st.Placements = len(e.placements)
		st.Heavy = &h
	}
	p.mu.Unlock()

	if b := p.prefetch.Current(); b != nil && b.Generation == st.Generation {
		s := b.Stats()
		st.Prefetch = &s
		select {
		case <-b.Done():
			st.Prefetched = true
		default:
		}
	}
	st.Sheets = p.store.Len()
	st.Stats = p.Stats()
	return st
}

// Placements returns a copy of the cached placement set and its generation.
func (p *Pipeline) Placements() (match.PlacementSet, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.cache.current()
	if e == nil {
		return nil, ""
	}
	return e.placements.Clone(), e.generation
}
