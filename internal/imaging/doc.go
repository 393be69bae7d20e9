// Package imaging provides the pixel-level primitives of the mosaic pipeline.
//
// This package implements color science (sRGB to CIE L*a*b*), cell
// statistics, sprite cropping, edge overlays and the optional cell grid.
// All operations work with standard Go image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward.
//
// # Coordinate System
//
// Rectangles follow the image.Rectangle convention: Min is inclusive and
// Max is exclusive. Functions that produce new images anchor them at (0,0).
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Everything else is
// stateless. Images handed out by the cache and by Source are shared
// read-only; callers that need to draw must copy first.
//
// # Color Representation
//
// Lab values use the conventional scale: L in 0-100, a and b in roughly
// ±128. Inputs are sRGB components in 0-255 as float64 so averaged colors can
// be converted without rounding.
package imaging
