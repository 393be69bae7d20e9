package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/handoff"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

type mapSheets map[string]image.Image

func (m mapSheets) Get(loc string) (image.Image, bool) {
	img, ok := m[loc]
	return img, ok
}

type panicSheets struct{}

func (panicSheets) Get(string) (image.Image, bool) { panic("sheet store corrupted") }

var (
	red  = color.NRGBA{220, 20, 20, 255}
	blue = color.NRGBA{20, 20, 220, 255}
	gray = color.NRGBA{100, 100, 100, 255}
)

// testSheet packs three 4x4 tiles side by side: red, blue, gray.
func testSheet() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 12, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 12; x++ {
			switch {
			case x < 4:
				img.SetNRGBA(x, y, red)
			case x < 8:
				img.SetNRGBA(x, y, blue)
			default:
				img.SetNRGBA(x, y, gray)
			}
		}
	}
	return img
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	center, err := catalog.ParsePatternType("center")
	if err != nil {
		t.Fatal(err)
	}
	tile := func(id string, x int) catalog.Tile {
		return catalog.Tile{
			ID:       catalog.TileID(id),
			Patterns: []catalog.Pattern{{Type: center}},
			Thumb:    catalog.ThumbCoords{X: x},
		}
	}
	cat, err := catalog.New(
		catalog.TileSets{Thumb: &catalog.SpriteSet{TileWidth: 4, TileHeight: 4, SheetURL: "thumb.png"}},
		[]catalog.Tile{tile("r", 0), tile("b", 4), tile("g", 8)},
	)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func place(id string, x, y, w, h int) match.Placement {
	return match.Placement{TileID: catalog.TileID(id), PatternType: "center", X: x, Y: y, Width: w, Height: h, TargetL: 50, TileL: 50}
}

func testJob(t *testing.T, w, h int, placements ...match.Placement) Job {
	t.Helper()
	return Job{
		Mode:       Preview,
		Scale:      1,
		TileSize:   4,
		Placements: placements,
		Catalog:    testCatalog(t),
		Sheets:     mapSheets{"thumb.png": testSheet()},
		Source:     image.NewNRGBA(image.Rect(0, 0, w, h)),
	}
}

func takeSurface(t *testing.T, res *Result) *image.RGBA {
	t.Helper()
	img, err := res.Surface.Take()
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	return img
}

func near(a, b uint8, tol int) bool {
	d := int(a) - int(b)
	return d >= -tol && d <= tol
}

func assertColor(t *testing.T, img *image.RGBA, x, y int, want color.NRGBA, tol int) {
	t.Helper()
	got := img.RGBAAt(x, y)
	if !near(got.R, want.R, tol) || !near(got.G, want.G, tol) || !near(got.B, want.B, tol) {
		t.Errorf("pixel (%d,%d): got %v, want %v", x, y, got, want)
	}
}

func TestBrightness(t *testing.T) {
	tests := []struct {
		name           string
		targetL, tileL float64
		compensation   int
		want           float64
	}{
		{"no compensation", 50, 25, 0, 1},
		{"full compensation", 50, 25, 100, 2},
		{"half compensation", 50, 25, 50, 1.5},
		{"dark tile floor", 20, 1, 100, 4},
		{"ratio capped", 100, 1, 100, 5},
		{"darken", 25, 50, 100, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Brightness(tt.targetL, tt.tileL, tt.compensation)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender_Preview(t *testing.T) {
	job := testJob(t, 8, 4, place("r", 0, 0, 4, 4), place("b", 4, 0, 4, 4))
	res, err := Render(job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if res.Width != 8 || res.Height != 4 || res.Tiles != 2 {
		t.Errorf("result: got %dx%d with %d tiles", res.Width, res.Height, res.Tiles)
	}
	img := takeSurface(t, res)
	assertColor(t, img, 1, 1, red, 1)
	assertColor(t, img, 6, 2, blue, 1)
}

func TestRender_ExportScale(t *testing.T) {
	job := testJob(t, 8, 4, place("r", 0, 0, 4, 4), place("b", 4, 0, 4, 4))
	job.Mode = Export
	job.Scale = 2

	res, err := Render(job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if res.Width != 16 || res.Height != 8 {
		t.Fatalf("size: got %dx%d, want 16x8", res.Width, res.Height)
	}
	img := takeSurface(t, res)
	assertColor(t, img, 3, 4, red, 3)
	assertColor(t, img, 12, 4, blue, 3)
}

func TestRender_ClippedEdgeCell(t *testing.T) {
	job := testJob(t, 6, 4, place("r", 0, 0, 4, 4), place("b", 4, 0, 2, 4))
	res, err := Render(job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	img := takeSurface(t, res)
	if img.Bounds() != image.Rect(0, 0, 6, 4) {
		t.Fatalf("bounds: got %v", img.Bounds())
	}
	assertColor(t, img, 5, 3, blue, 1)
}

func TestRender_BrightnessApplied(t *testing.T) {
	p := place("g", 0, 0, 4, 4)
	p.TargetL, p.TileL = 60, 40
	job := testJob(t, 4, 4, p)
	job.Light.BrightnessCompensation = 100

	res, err := Render(job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	assertColor(t, takeSurface(t, res), 2, 2, color.NRGBA{150, 150, 150, 255}, 1)
}

func TestRender_Overlays(t *testing.T) {
	t.Run("multiply with black edges", func(t *testing.T) {
		job := testJob(t, 4, 4, place("g", 0, 0, 4, 4))
		job.Edges = image.NewGray(image.Rect(0, 0, 4, 4))
		job.Light.EdgeOpacity = 100

		res, err := Render(job)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		assertColor(t, takeSurface(t, res), 1, 1, color.NRGBA{0, 0, 0, 255}, 1)
	})

	t.Run("soft light with white source lightens", func(t *testing.T) {
		job := testJob(t, 4, 4, place("g", 0, 0, 4, 4))
		for i := range job.Source.Pix {
			job.Source.Pix[i] = 255
		}
		job.Light.BlendOpacity = 100

		res, err := Render(job)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if got := takeSurface(t, res).RGBAAt(1, 1); got.R <= gray.R {
			t.Errorf("expected lighter than %d, got %v", gray.R, got)
		}
	})

	t.Run("zero opacity skips", func(t *testing.T) {
		job := testJob(t, 4, 4, place("g", 0, 0, 4, 4))
		job.Edges = image.NewGray(image.Rect(0, 0, 4, 4))

		res, err := Render(job)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		assertColor(t, takeSurface(t, res), 1, 1, gray, 1)
	})

	t.Run("edge overlay scaled to export surface", func(t *testing.T) {
		job := testJob(t, 4, 4, place("g", 0, 0, 4, 4))
		job.Mode = Export
		job.Scale = 3
		job.Edges = image.NewGray(image.Rect(0, 0, 4, 4))
		job.Light.EdgeOpacity = 100

		res, err := Render(job)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		assertColor(t, takeSurface(t, res), 6, 6, color.NRGBA{0, 0, 0, 255}, 2)
	})
}

func TestRender_Grid(t *testing.T) {
	green := color.RGBA{0, 255, 0, 255}
	job := testJob(t, 8, 4, place("r", 0, 0, 4, 4), place("b", 4, 0, 4, 4))
	job.Light.ShowGrid = true
	job.Light.GridColor = green

	res, err := Render(job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := takeSurface(t, res).RGBAAt(4, 1); got != green {
		t.Errorf("grid line at x=4: got %v", got)
	}

	job.Mode = Export
	res, err = Render(job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := takeSurface(t, res).RGBAAt(4, 1); got == green {
		t.Error("export should not draw the grid")
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
		kind   error
	}{
		{"missing sheet", func(j *Job) { j.Sheets = mapSheets{} }, mosaicerr.ErrRender},
		{"unknown tile", func(j *Job) { j.Placements[0].TileID = "zz" }, mosaicerr.ErrRender},
		{"unknown pattern", func(j *Job) { j.Placements[0].PatternType = "left_flipped" }, mosaicerr.ErrRender},
		{"no catalog", func(j *Job) { j.Catalog = nil }, mosaicerr.ErrConfig},
		{"no source", func(j *Job) { j.Source = nil }, mosaicerr.ErrConfig},
		{"zero tile size", func(j *Job) { j.TileSize = 0 }, mosaicerr.ErrConfig},
		{"export below scale 1", func(j *Job) { j.Mode = Export; j.Scale = 0.5 }, mosaicerr.ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob(t, 4, 4, place("r", 0, 0, 4, 4))
			tt.mutate(&job)
			_, err := Render(job)
			if !errors.Is(err, tt.kind) {
				t.Errorf("got %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestStart(t *testing.T) {
	job := testJob(t, 4, 4, place("r", 0, 0, 4, 4))
	out := <-Start(job)
	if out.Err != nil {
		t.Fatalf("task failed: %v", out.Err)
	}
	if _, err := out.Result.Surface.Take(); err != nil {
		t.Fatalf("first Take: %v", err)
	}
	if _, err := out.Result.Surface.Take(); !errors.Is(err, handoff.ErrMoved) {
		t.Errorf("second Take: got %v, want ErrMoved", err)
	}
}

func TestStart_RecoversPanic(t *testing.T) {
	job := testJob(t, 4, 4, place("r", 0, 0, 4, 4))
	job.Sheets = panicSheets{}

	out := <-Start(job)
	if !errors.Is(out.Err, mosaicerr.ErrRender) {
		t.Errorf("got %v, want render error", out.Err)
	}
	if out.Result != nil {
		t.Error("expected no result after panic")
	}
}

func TestEncoders(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 6))

	var buf bytes.Buffer
	if err := (JPEGEncoder{}).Encode(&buf, img, 0.9); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(&buf)
	if err != nil || cfg.Width != 10 || cfg.Height != 6 {
		t.Errorf("jpeg round trip: %v %+v", err, cfg)
	}

	buf.Reset()
	if err := (PNGEncoder{}).Encode(&buf, img, 0); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	cfg, err = png.DecodeConfig(&buf)
	if err != nil || cfg.Width != 10 || cfg.Height != 6 {
		t.Errorf("png round trip: %v %+v", err, cfg)
	}
}
