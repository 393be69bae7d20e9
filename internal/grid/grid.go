// Package grid divides a target image into row bands and clipped cells.
//
// Bands are the unit of parallel matching: each band covers whole tile rows,
// so no cell ever spans two bands, and bands are contiguous and disjoint.
// Cells at the right and bottom edges are clipped to the image rather than
// padded.
package grid

import (
	"image"
	"runtime"

	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// DefaultWorkers is used when the platform parallelism is unknown.
const DefaultWorkers = 4

// Band is the half-open row range [StartY, EndY).
type Band struct {
	Index  int
	StartY int
	EndY   int
}

// Height returns the number of pixel rows in the band.
func (b Band) Height() int { return b.EndY - b.StartY }

// Workers resolves a requested worker count: n > 0 is used as is, anything
// else falls back to the number of CPUs, then to DefaultWorkers.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	if c := runtime.NumCPU(); c > 0 {
		return c
	}
	return DefaultWorkers
}

// Partition splits [0, height) into at most workers bands.
//
// The grid height is first aligned up to a whole number of tile rows, then
// each band gets ceil(rows/workers) tile rows. The last band is clipped to
// the image height and empty bands are dropped, so the result always covers
// [0, height) exactly.
func Partition(height, tileSize, workers int) ([]Band, error) {
	if tileSize < 1 {
		return nil, mosaicerr.Config("partition", map[string]any{"tileSize": tileSize}, "tile size must be >= 1")
	}
	if height < 0 {
		return nil, mosaicerr.Config("partition", map[string]any{"height": height}, "height must not be negative")
	}
	workers = Workers(workers)

	rows := (height + tileSize - 1) / tileSize
	rowsPerBand := (rows + workers - 1) / workers
	if rowsPerBand == 0 {
		return nil, nil
	}

	bands := make([]Band, 0, workers)
	for i := 0; i < workers; i++ {
		start := i * rowsPerBand * tileSize
		if start >= height {
			break
		}
		end := start + rowsPerBand*tileSize
		if end > height {
			end = height
		}
		bands = append(bands, Band{Index: len(bands), StartY: start, EndY: end})
	}
	return bands, nil
}

// Rows returns the number of tile rows in an image of the given height.
func Rows(height, tileSize int) int {
	if tileSize < 1 {
		return 0
	}
	return (height + tileSize - 1) / tileSize
}

// Row returns the clipped cells of the tile row starting at y, left to right.
func Row(y, width, height, tileSize int) []image.Rectangle {
	if tileSize < 1 || y >= height {
		return nil
	}
	y1 := y + tileSize
	if y1 > height {
		y1 = height
	}
	cells := make([]image.Rectangle, 0, (width+tileSize-1)/tileSize)
	for x := 0; x < width; x += tileSize {
		x1 := x + tileSize
		if x1 > width {
			x1 = width
		}
		cells = append(cells, image.Rect(x, y, x1, y1))
	}
	return cells
}

// Thirds splits a cell into its 3x3 sub-grid in row-major order. Each axis
// is divided into thirds with the remainder going to the last third, so for
// cells narrower than 3 pixels some sub-cells are empty.
func Thirds(cell image.Rectangle) [9]image.Rectangle {
	var out [9]image.Rectangle
	xs := splitThirds(cell.Min.X, cell.Dx())
	ys := splitThirds(cell.Min.Y, cell.Dy())
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			out[j*3+i] = image.Rect(xs[i], ys[j], xs[i+1], ys[j+1])
		}
	}
	return out
}

func splitThirds(origin, length int) [4]int {
	third := length / 3
	return [4]int{origin, origin + third, origin + 2*third, origin + length}
}
