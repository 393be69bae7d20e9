package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/photomosaic-mcp/internal/pipeline"
)

func validConfig() *config {
	def := pipeline.DefaultParams()
	exp := pipeline.DefaultExportParams()
	return &config{
		Catalog:       "/data/catalog.json",
		Image:         "/data/target.jpg",
		Out:           "mosaic.jpg",
		TileSize:      def.TileSize,
		TextureWeight: def.TextureWeight,
		Blend:         def.BlendOpacity,
		Edge:          def.EdgeOpacity,
		Brightness:    def.BrightnessCompensation,
		Scale:         exp.Scale,
		Quality:       exp.Quality,
	}
}

func TestConfigExpand(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config)
		wantErr string
	}{
		{"valid", func(c *config) {}, ""},
		{"missing catalog", func(c *config) { c.Catalog = "" }, "--catalog"},
		{"missing image", func(c *config) { c.Image = "" }, "--image"},
		{"negative workers", func(c *config) { c.Workers = -1 }, "--workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.expand()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestConfigExpand_Home(t *testing.T) {
	c := validConfig()
	c.Save = "~/snap.mosaic.zst"
	if err := c.expand(); err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(c.Save, "~") {
		t.Errorf("Save not expanded: %q", c.Save)
	}
	if c.Restore != "" || c.Preview != "" {
		t.Error("empty paths should stay empty")
	}
}

func TestConfigParams(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config)
		wantErr bool
	}{
		{"defaults", func(c *config) {}, false},
		{"grid color", func(c *config) { c.Grid, c.GridColor = true, "#00FF00" }, false},
		{"bad grid color", func(c *config) { c.GridColor = "green" }, true},
		{"tile size zero", func(c *config) { c.TileSize = 0 }, true},
		{"blend too high", func(c *config) { c.Blend = 101 }, true},
		{"scale below one", func(c *config) { c.Scale = 0.5 }, true},
		{"quality above one", func(c *config) { c.Quality = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			p, e, err := c.params()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (p.TileSize != c.TileSize || e.Scale != c.Scale) {
				t.Errorf("params not carried over: %+v %+v", p, e)
			}
		})
	}

	c := validConfig()
	c.GridColor = "#00FF0080"
	p, _, err := c.params()
	if err != nil {
		t.Fatal(err)
	}
	if p.GridColor.G != 0xFF || p.GridColor.A != 0x80 {
		t.Errorf("GridColor = %+v", p.GridColor)
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	// a failed write leaves the old file alone and no temp file behind
	boom := errors.New("boom")
	err := writeAtomic(path, func(f *os.File) error {
		f.WriteString("partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "old" {
		t.Errorf("content after failure = %q", data)
	}

	if err := writeAtomic(path, func(f *os.File) error {
		_, err := f.WriteString("new")
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); string(data) != "new" {
		t.Errorf("content = %q, want new", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestMatchBar_Monotonic(t *testing.T) {
	b := &matchBar{}
	b.update(3, 10)
	b.update(2, 10)
	if b.done != 3 {
		t.Errorf("done = %d after out-of-order update, want 3", b.done)
	}
	b.update(10, 10)
	b.finish()
	if b.done != 10 {
		t.Errorf("done = %d, want 10", b.done)
	}
}
