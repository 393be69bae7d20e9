package match

import (
	"image"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
)

// Placement is one grid cell's chosen tile variant and geometry.
//
// X, Y, Width and Height are in source image pixels; edge cells carry their
// clipped size. TargetL is the cell's mean lightness and TileL the chosen
// pattern's, which the renderer uses for brightness compensation.
type Placement struct {
	TileID      catalog.TileID `json:"tileId"`
	PatternType string         `json:"patternType"`
	X           int            `json:"x"`
	Y           int            `json:"y"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	TargetL     float64        `json:"targetL"`
	TileL       float64        `json:"tileL"`
}

// Rect returns the placement's cell rectangle.
func (p Placement) Rect() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
}

// PlacementSet covers the whole grid in row-major order. It is replaced
// wholesale on recompute and never mutated afterwards.
type PlacementSet []Placement

// Clone returns an independent copy, used when a set crosses into another
// task.
func (s PlacementSet) Clone() PlacementSet {
	if s == nil {
		return nil
	}
	out := make(PlacementSet, len(s))
	copy(out, s)
	return out
}

// Covers reports whether the set tiles bounds exactly: every cell inside
// bounds, no overlaps, and the total area equal to the bounds' area.
func (s PlacementSet) Covers(bounds image.Rectangle) bool {
	area := 0
	seen := make(map[image.Point]bool, len(s))
	for _, p := range s {
		r := p.Rect()
		if r.Empty() || !r.In(bounds) || seen[r.Min] {
			return false
		}
		seen[r.Min] = true
		area += r.Dx() * r.Dy()
	}
	return area == bounds.Dx()*bounds.Dy()
}

// OnGrid reports whether every cell sits on the tileSize grid anchored at
// bounds.Min and is tileSize square, except cells clipped by the right or
// bottom edge of bounds.
func (s PlacementSet) OnGrid(tileSize int, bounds image.Rectangle) bool {
	if tileSize < 1 {
		return false
	}
	for _, p := range s {
		if (p.X-bounds.Min.X)%tileSize != 0 || (p.Y-bounds.Min.Y)%tileSize != 0 {
			return false
		}
		if p.Width != min(tileSize, bounds.Max.X-p.X) || p.Height != min(tileSize, bounds.Max.Y-p.Y) {
			return false
		}
	}
	return true
}
