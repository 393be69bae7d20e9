package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// CropMode selects which square window of a non-square sprite is used.
type CropMode int

const (
	// CropCenter takes the middle of the long axis.
	CropCenter CropMode = iota
	// CropStart takes the left (landscape) or top (portrait) end.
	CropStart
	// CropEnd takes the right (landscape) or bottom (portrait) end.
	CropEnd
)

func (m CropMode) String() string {
	switch m {
	case CropCenter:
		return "center"
	case CropStart:
		return "start"
	case CropEnd:
		return "end"
	default:
		return fmt.Sprintf("CropMode(%d)", int(m))
	}
}

// SquareWindow returns the square sub-rectangle of cell chosen by mode.
//
// For a landscape cell the window slides horizontally (center/left/right),
// otherwise it slides vertically (center/top/bottom). A square cell is
// returned unchanged.
func SquareWindow(cell image.Rectangle, mode CropMode) image.Rectangle {
	w, h := cell.Dx(), cell.Dy()
	side := w
	if h < side {
		side = h
	}

	var off int
	slack := w - side
	if w <= h {
		slack = h - side
	}
	switch mode {
	case CropStart:
		off = 0
	case CropEnd:
		off = slack
	default:
		off = slack / 2
	}

	if w > h {
		return image.Rect(cell.Min.X+off, cell.Min.Y, cell.Min.X+off+side, cell.Min.Y+side)
	}
	return image.Rect(cell.Min.X, cell.Min.Y+off, cell.Min.X+side, cell.Min.Y+off+side)
}

// CropSprite cuts one pattern variant out of a sprite sheet.
//
// Parameters:
//   - sheet: The decoded sprite sheet.
//   - cell: The tile's full rectangle inside the sheet.
//   - mode: Which square window of the tile to keep.
//   - flip: Mirror the window horizontally.
//
// Returns:
//   - *image.NRGBA: The square variant anchored at (0,0).
//   - error: Non-nil if cell does not lie inside the sheet.
func CropSprite(sheet image.Image, cell image.Rectangle, mode CropMode, flip bool) (*image.NRGBA, error) {
	bounds := sheet.Bounds()
	if !cell.In(bounds) || cell.Empty() {
		return nil, fmt.Errorf("sprite cell %v outside sheet bounds %v", cell, bounds)
	}

	out := imaging.Crop(sheet, SquareWindow(cell, mode))
	if flip {
		out = imaging.FlipH(out)
	}
	return out, nil
}
