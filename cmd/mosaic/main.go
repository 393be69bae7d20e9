// Command mosaic renders a photomosaic in one shot: it loads a tile catalog
// and a target image, matches tiles, and writes the export JPEG.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/pipeline"
	"github.com/ironsheep/photomosaic-mcp/internal/render"
	"github.com/ironsheep/photomosaic-mcp/internal/sprites"
)

type config struct {
	Catalog string
	Image   string
	Out     string
	Preview string

	TileSize      int
	TextureWeight float64
	Blend         int
	Edge          int
	Brightness    int
	Grid          bool
	GridColor     string

	Scale   float64
	Quality float64

	CacheDir string
	Workers  int
	Save     string
	Restore  string
	Quiet    bool
	Verbose  bool
}

func main() {
	cfg := parseFlags()

	log.SetOutput(os.Stderr)
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := cfg.expand(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	params, export, err := cfg.params()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := run(cfg, params, export); err != nil {
		log.Fatalf("mosaic: %v", err)
	}
}

// parseFlags defines and parses command-line flags.
func parseFlags() *config {
	def := pipeline.DefaultParams()
	exp := pipeline.DefaultExportParams()
	cfg := &config{}

	pflag.StringVarP(&cfg.Catalog, "catalog", "c", "", "Path to the tile catalog JSON.")
	pflag.StringVarP(&cfg.Image, "image", "i", "", "Path to the target image.")
	pflag.StringVarP(&cfg.Out, "out", "o", "mosaic.jpg", "Export JPEG to write.")
	pflag.StringVarP(&cfg.Preview, "preview", "p", "", "Also write the preview PNG here.")

	pflag.IntVarP(&cfg.TileSize, "tile-size", "t", def.TileSize, "Grid cell size in target pixels.")
	pflag.Float64Var(&cfg.TextureWeight, "texture-weight", def.TextureWeight, "Texture weight against color, 0-2.")
	pflag.IntVar(&cfg.Blend, "blend", def.BlendOpacity, "Soft-light blend of the target image, 0-100.")
	pflag.IntVar(&cfg.Edge, "edge", def.EdgeOpacity, "Multiply blend of the edge overlay, 0-100.")
	pflag.IntVar(&cfg.Brightness, "brightness", def.BrightnessCompensation, "Brightness compensation, 0-100.")
	pflag.BoolVar(&cfg.Grid, "grid", false, "Draw cell boundaries on the preview.")
	pflag.StringVar(&cfg.GridColor, "grid-color", "", "Grid color as #RRGGBB or #RRGGBBAA.")

	pflag.Float64VarP(&cfg.Scale, "scale", "s", exp.Scale, "Export resolution relative to the target image.")
	pflag.Float64VarP(&cfg.Quality, "quality", "q", exp.Quality, "JPEG quality, 0-1.")

	pflag.StringVar(&cfg.CacheDir, "cache-dir", "", "Disk cache for downloaded sprite sheets.")
	pflag.IntVarP(&cfg.Workers, "workers", "w", 0, "Matching workers (0 = CPU count).")
	pflag.StringVar(&cfg.Save, "save", "", "Save the placements snapshot here.")
	pflag.StringVar(&cfg.Restore, "restore", "", "Restore placements from a snapshot instead of matching.")
	pflag.BoolVar(&cfg.Quiet, "quiet", false, "Hide the progress bar.")
	pflag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Debug logging.")

	pflag.Parse()
	return cfg
}

// expand resolves ~ in every path flag and checks the required ones.
func (c *config) expand() error {
	if c.Catalog == "" {
		return fmt.Errorf("--catalog/-c flag is required")
	}
	if c.Image == "" {
		return fmt.Errorf("--image/-i flag is required")
	}
	for _, p := range []*string{&c.Catalog, &c.Image, &c.Out, &c.Preview, &c.CacheDir, &c.Save, &c.Restore} {
		if *p == "" {
			continue
		}
		v, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	if c.Workers < 0 {
		return fmt.Errorf("--workers must not be negative")
	}
	return nil
}

func (c *config) params() (pipeline.Params, pipeline.ExportParams, error) {
	p := pipeline.Params{
		TileSize:      c.TileSize,
		TextureWeight: c.TextureWeight,
		LightParams: pipeline.LightParams{
			BlendOpacity:           c.Blend,
			EdgeOpacity:            c.Edge,
			BrightnessCompensation: c.Brightness,
			ShowGrid:               c.Grid,
		},
	}
	if c.GridColor != "" {
		col, err := imaging.ParseHexColor(c.GridColor)
		if err != nil {
			return p, pipeline.ExportParams{}, err
		}
		p.GridColor = col
	}
	e := pipeline.ExportParams{Scale: c.Scale, Quality: c.Quality}

	if err := p.Validate(); err != nil {
		return p, e, err
	}
	if err := e.Validate(); err != nil {
		return p, e, err
	}
	return p, e, nil
}

func run(cfg *config, params pipeline.Params, export pipeline.ExportParams) error {
	ctx := context.Background()

	fetcher, err := sprites.NewDefaultFetcher(cfg.CacheDir)
	if err != nil {
		return err
	}
	p := pipeline.New(pipeline.Options{Fetcher: fetcher, Workers: cfg.Workers})

	cat, err := p.LoadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	src, err := p.LoadSource(cfg.Image)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"catalog": cat.String(), "width": src.Width(), "height": src.Height()}).Info("inputs loaded")

	if cfg.Restore != "" {
		if err := restore(p, cfg.Restore); err != nil {
			return err
		}
	}

	var bar *matchBar
	var progress match.Progress
	if !cfg.Quiet {
		bar = &matchBar{}
		progress = bar.update
	}
	prev, err := p.Generate(ctx, params, progress)
	if bar != nil {
		bar.finish()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "matched %d cells (generation %s, recomputed %v): %s\n",
		prev.Placements, prev.Generation, prev.Recomputed, prev.Timings)

	if cfg.Preview != "" {
		img, err := prev.Image.Take()
		if err != nil {
			return err
		}
		if err := writeAtomic(cfg.Preview, func(f *os.File) error {
			return render.PNGEncoder{}.Encode(f, img, 0)
		}); err != nil {
			return fmt.Errorf("failed to write preview: %w", err)
		}
	} else {
		prev.Image.Release()
	}

	if cfg.Save != "" {
		if err := writeAtomic(cfg.Save, func(f *os.File) error {
			return p.SavePlacements(f)
		}); err != nil {
			return fmt.Errorf("failed to save placements: %w", err)
		}
	}

	start := time.Now()
	var rep *pipeline.ExportReport
	if err := writeAtomic(cfg.Out, func(f *os.File) error {
		var err error
		rep, err = p.Export(ctx, export, f)
		return err
	}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %s (%dx%d, %d bytes) in %s: %s\n",
		cfg.Out, rep.Width, rep.Height, rep.Bytes, time.Since(start).Round(time.Millisecond), rep.Timings)
	return nil
}

func restore(p *pipeline.Pipeline, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	gen, err := p.RestorePlacements(f)
	if err != nil {
		return err
	}
	log.WithField("generation", gen).Info("placements restored")
	return nil
}

// writeAtomic writes through a temp file beside path and renames it into
// place once write succeeds.
func writeAtomic(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mosaic-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = write(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// matchBar shows matching progress. The bar is created on the first update
// since the row count is only known once matching starts.
type matchBar struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done int
}

func (b *matchBar) update(processed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("matching rows"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	// updates arrive from several bands and may be out of order
	if processed > b.done {
		b.done = processed
		_ = b.bar.Set(processed)
	}
}

func (b *matchBar) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}
