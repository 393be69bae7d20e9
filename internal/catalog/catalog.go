// Package catalog loads the tile catalog produced by the offline analyzer.
//
// A catalog lists every candidate tile, the color and texture descriptors of
// each of its crop/flip variants, and where the tile's pixels live in the
// packed thumbnail and full-resolution sprite sheets. It is loaded once,
// validated structurally, and then shared read-only by every stage.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// LVectorLen is the number of luma samples in a texture vector (3x3 grid).
const LVectorLen = 9

const stage = "catalog"

// SpriteSet describes how tiles are packed into sheet images.
type SpriteSet struct {
	TileWidth  int      `json:"tileWidth"`
	TileHeight int      `json:"tileHeight"`
	SheetURL   string   `json:"sheetUrl,omitempty"`
	SheetURLs  []string `json:"sheetUrls,omitempty"`
}

// Sheets returns the sheet locations of the set in index order.
func (s *SpriteSet) Sheets() []string {
	if len(s.SheetURLs) > 0 {
		return s.SheetURLs
	}
	if s.SheetURL != "" {
		return []string{s.SheetURL}
	}
	return nil
}

// TileSets groups the thumbnail and full-resolution sprite sets.
type TileSets struct {
	Thumb *SpriteSet `json:"thumb"`
	Full  *SpriteSet `json:"full,omitempty"`
}

// ThumbCoords locates a tile in the single thumbnail sheet.
type ThumbCoords struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FullCoords locates a tile in one of the full-resolution sheets.
type FullCoords struct {
	SheetIndex int `json:"sheetIndex"`
	X          int `json:"x"`
	Y          int `json:"y"`
}

// TileID identifies a tile. The analyzer emits numbers or strings.
type TileID string

// UnmarshalJSON accepts both JSON strings and numbers.
func (id *TileID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TileID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tile id must be a string or number: %w", err)
	}
	*id = TileID(n.String())
	return nil
}

// Pattern is one crop/flip variant of a tile with its descriptors.
type Pattern struct {
	Type    PatternType
	Lab     imaging.Lab
	LVector [LVectorLen]float64
}

// Tile is a candidate mosaic cell image.
type Tile struct {
	ID       TileID
	Patterns []Pattern
	Thumb    ThumbCoords
	Full     FullCoords
}

// Catalog is the validated, read-only tile catalog.
type Catalog struct {
	TileSets TileSets
	Tiles    []Tile

	// Dir is the directory the catalog was loaded from; relative sheet
	// locations are resolved against it.
	Dir string

	index map[TileID]int
}

// wire format
type rawPattern struct {
	Type    string    `json:"type"`
	L       *float64  `json:"l"`
	A       *float64  `json:"a"`
	BStar   *float64  `json:"b_star"`
	LVector []float64 `json:"l_vector"`
}

type rawTile struct {
	ID          *TileID      `json:"id"`
	ThumbCoords *ThumbCoords `json:"thumbCoords"`
	FullCoords  *FullCoords  `json:"fullCoords"`
	Patterns    []rawPattern `json:"patterns"`
}

type rawCatalog struct {
	TileSets *TileSets `json:"tileSets"`
	Tiles    []rawTile `json:"tiles"`
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mosaicerr.Catalog(stage, map[string]any{"path": path}, "failed to read catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cat.Dir = filepath.Dir(path)
	return cat, nil
}

// Parse decodes and validates catalog JSON.
//
// Validation is structural: a thumbnail sprite set with a sheet, at least one
// tile, every tile carrying at least one pattern with a 9-entry l_vector and
// finite descriptors, coordinates inside the declared sheets, and unique
// tile ids. The full-resolution set is optional; without it exports are
// drawn from the thumbnail sheet.
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, mosaicerr.Catalog(stage, nil, "failed to decode catalog: %w", err)
	}

	if raw.TileSets == nil || raw.TileSets.Thumb == nil {
		return nil, mosaicerr.Catalog(stage, nil, "missing thumb tile set")
	}
	if err := validateSet("thumb", raw.TileSets.Thumb); err != nil {
		return nil, err
	}
	if raw.TileSets.Full != nil {
		if err := validateSet("full", raw.TileSets.Full); err != nil {
			return nil, err
		}
	}
	if len(raw.Tiles) == 0 {
		return nil, mosaicerr.Catalog(stage, nil, "catalog has no tiles")
	}

	cat := &Catalog{
		TileSets: *raw.TileSets,
		Tiles:    make([]Tile, 0, len(raw.Tiles)),
		index:    make(map[TileID]int, len(raw.Tiles)),
	}
	for i, rt := range raw.Tiles {
		t, err := convertTile(i, rt, cat.TileSets)
		if err != nil {
			return nil, err
		}
		if _, dup := cat.index[t.ID]; dup {
			return nil, mosaicerr.Catalog(stage, map[string]any{"tile": t.ID}, "duplicate tile id")
		}
		cat.index[t.ID] = len(cat.Tiles)
		cat.Tiles = append(cat.Tiles, t)
	}
	return cat, nil
}

// New assembles a catalog from already decoded tiles, applying the same
// structural checks as Parse.
func New(sets TileSets, tiles []Tile) (*Catalog, error) {
	if sets.Thumb == nil {
		return nil, mosaicerr.Catalog(stage, nil, "missing thumb tile set")
	}
	if err := validateSet("thumb", sets.Thumb); err != nil {
		return nil, err
	}
	if sets.Full != nil {
		if err := validateSet("full", sets.Full); err != nil {
			return nil, err
		}
	}
	if len(tiles) == 0 {
		return nil, mosaicerr.Catalog(stage, nil, "catalog has no tiles")
	}

	cat := &Catalog{TileSets: sets, Tiles: tiles, index: make(map[TileID]int, len(tiles))}
	for i := range tiles {
		t := &tiles[i]
		params := map[string]any{"tile": string(t.ID)}
		if len(t.Patterns) == 0 {
			return nil, mosaicerr.Catalog(stage, params, "tile has no patterns")
		}
		if sets.Full != nil {
			if n := len(sets.Full.Sheets()); t.Full.SheetIndex < 0 || t.Full.SheetIndex >= n {
				return nil, mosaicerr.Catalog(stage, params, "sheetIndex %d out of range [0,%d)", t.Full.SheetIndex, n)
			}
		}
		if _, dup := cat.index[t.ID]; dup {
			return nil, mosaicerr.Catalog(stage, params, "duplicate tile id")
		}
		cat.index[t.ID] = i
	}
	return cat, nil
}

func validateSet(name string, s *SpriteSet) error {
	params := map[string]any{"set": name}
	if s.TileWidth <= 0 || s.TileHeight <= 0 {
		return mosaicerr.Catalog(stage, params, "tile dimensions must be positive, got %dx%d", s.TileWidth, s.TileHeight)
	}
	sheets := s.Sheets()
	if len(sheets) == 0 {
		return mosaicerr.Catalog(stage, params, "missing sheet data")
	}
	for i, u := range sheets {
		if u == "" {
			return mosaicerr.Catalog(stage, params, "sheet %d has an empty location", i)
		}
	}
	return nil
}

func convertTile(i int, rt rawTile, sets TileSets) (Tile, error) {
	params := map[string]any{"tile": i}
	if rt.ID == nil {
		return Tile{}, mosaicerr.Catalog(stage, params, "tile is missing an id")
	}
	params["tile"] = string(*rt.ID)
	if rt.ThumbCoords == nil {
		return Tile{}, mosaicerr.Catalog(stage, params, "tile is missing thumbCoords")
	}
	if len(rt.Patterns) == 0 {
		return Tile{}, mosaicerr.Catalog(stage, params, "tile has no patterns")
	}

	t := Tile{
		ID:       *rt.ID,
		Thumb:    *rt.ThumbCoords,
		Patterns: make([]Pattern, 0, len(rt.Patterns)),
	}
	if rt.FullCoords != nil {
		t.Full = *rt.FullCoords
	}
	if sets.Full != nil {
		if rt.FullCoords == nil {
			return Tile{}, mosaicerr.Catalog(stage, params, "tile is missing fullCoords")
		}
		if n := len(sets.Full.Sheets()); t.Full.SheetIndex < 0 || t.Full.SheetIndex >= n {
			return Tile{}, mosaicerr.Catalog(stage, params, "sheetIndex %d out of range [0,%d)", t.Full.SheetIndex, n)
		}
	}

	for j, rp := range rt.Patterns {
		p, err := convertPattern(rp)
		if err != nil {
			params["pattern"] = j
			return Tile{}, mosaicerr.Catalog(stage, params, "invalid pattern: %w", err)
		}
		t.Patterns = append(t.Patterns, p)
	}
	return t, nil
}

func convertPattern(rp rawPattern) (Pattern, error) {
	pt, err := ParsePatternType(rp.Type)
	if err != nil {
		return Pattern{}, err
	}
	if rp.L == nil || rp.A == nil || rp.BStar == nil {
		return Pattern{}, fmt.Errorf("missing l, a or b_star")
	}
	if len(rp.LVector) != LVectorLen {
		return Pattern{}, fmt.Errorf("l_vector has %d entries, want %d", len(rp.LVector), LVectorLen)
	}

	p := Pattern{Type: pt, Lab: imaging.Lab{L: *rp.L, A: *rp.A, B: *rp.BStar}}
	for _, v := range []float64{p.Lab.L, p.Lab.A, p.Lab.B} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Pattern{}, fmt.Errorf("non-finite color value")
		}
	}
	for k, v := range rp.LVector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Pattern{}, fmt.Errorf("non-finite l_vector[%d]", k)
		}
		p.LVector[k] = v
	}
	return p, nil
}

// Lookup finds a tile and one of its patterns by tag.
func (c *Catalog) Lookup(id TileID, patternType string) (*Tile, *Pattern, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, nil, false
	}
	t := &c.Tiles[i]
	for j := range t.Patterns {
		if t.Patterns[j].Type.Tag == patternType {
			return t, &t.Patterns[j], true
		}
	}
	return t, nil, false
}

// NumPatterns returns the total number of pattern variants.
func (c *Catalog) NumPatterns() int {
	n := 0
	for i := range c.Tiles {
		n += len(c.Tiles[i].Patterns)
	}
	return n
}

// ThumbRect returns the tile's rectangle in the thumbnail sheet.
func (c *Catalog) ThumbRect(t *Tile) image.Rectangle {
	s := c.TileSets.Thumb
	return image.Rect(t.Thumb.X, t.Thumb.Y, t.Thumb.X+s.TileWidth, t.Thumb.Y+s.TileHeight)
}

// FullRect returns the tile's sheet index and rectangle in the
// full-resolution set. ok is false when the catalog has no full set.
func (c *Catalog) FullRect(t *Tile) (sheet int, r image.Rectangle, ok bool) {
	s := c.TileSets.Full
	if s == nil {
		return 0, image.Rectangle{}, false
	}
	return t.Full.SheetIndex, image.Rect(t.Full.X, t.Full.Y, t.Full.X+s.TileWidth, t.Full.Y+s.TileHeight), true
}

// HasFull reports whether the catalog carries full-resolution sheets.
func (c *Catalog) HasFull() bool {
	return c.TileSets.Full != nil && len(c.TileSets.Full.Sheets()) > 0
}

// FullSheet returns the resolved location of full-resolution sheet i.
func (c *Catalog) FullSheet(i int) (string, bool) {
	if !c.HasFull() {
		return "", false
	}
	sheets := c.TileSets.Full.Sheets()
	if i < 0 || i >= len(sheets) {
		return "", false
	}
	return c.ResolveSheet(sheets[i]), true
}

// ThumbSheet returns the resolved location of the thumbnail sheet.
func (c *Catalog) ThumbSheet() string {
	return c.ResolveSheet(c.TileSets.Thumb.Sheets()[0])
}

// Sprite returns the sheet location and rectangle holding t's pixels. With
// full set and a catalog that has full-resolution sheets, the full sheet is
// used; otherwise the thumbnail sheet.
func (c *Catalog) Sprite(t *Tile, full bool) (string, image.Rectangle, error) {
	if full && c.HasFull() {
		idx, r, _ := c.FullRect(t)
		loc, ok := c.FullSheet(idx)
		if !ok {
			return "", image.Rectangle{}, fmt.Errorf("tile %s: sheetIndex %d out of range", t.ID, idx)
		}
		return loc, r, nil
	}
	return c.ThumbSheet(), c.ThumbRect(t), nil
}

// ResolveSheet turns a sheet location from the catalog into something a
// fetcher can open: URLs and absolute paths pass through, relative paths are
// joined to the catalog directory.
func (c *Catalog) ResolveSheet(loc string) string {
	if hasScheme(loc) || filepath.IsAbs(loc) || c.Dir == "" {
		return loc
	}
	return filepath.Join(c.Dir, loc)
}

func hasScheme(loc string) bool {
	for i := 0; i < len(loc); i++ {
		ch := loc[i]
		switch {
		case ch == ':':
			return i > 1 && i+2 < len(loc) && loc[i+1] == '/' && loc[i+2] == '/'
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '+', ch == '.', ch == '-':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return false
}

// String describes the catalog for logs.
func (c *Catalog) String() string {
	full := "none"
	if c.TileSets.Full != nil {
		full = strconv.Itoa(len(c.TileSets.Full.Sheets())) + " sheets"
	}
	return fmt.Sprintf("catalog(%d tiles, %d patterns, full=%s)", len(c.Tiles), c.NumPatterns(), full)
}
