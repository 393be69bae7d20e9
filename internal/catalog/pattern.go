package catalog

import (
	"fmt"
	"strings"

	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
)

// PatternType is the parsed crop-mode × flip-mode tag of a pattern.
//
// Tags have the form <crop>[_<flip>] where crop is one of center, left,
// right, top, bottom, start or end and flip is normal or flipped. A hyphen is
// accepted in place of the underscore. Left and top both mean the start of
// the long axis, right and bottom its end; the sprite's orientation decides
// which axis that is at render time.
type PatternType struct {
	Tag     string
	Crop    imaging.CropMode
	Flipped bool
}

// ParsePatternType parses a pattern tag.
func ParsePatternType(tag string) (PatternType, error) {
	norm := strings.ToLower(strings.TrimSpace(tag))
	if norm == "" {
		return PatternType{}, fmt.Errorf("empty pattern type")
	}

	cropPart, flipPart := norm, ""
	if i := strings.IndexAny(norm, "_-"); i >= 0 {
		cropPart, flipPart = norm[:i], norm[i+1:]
	}

	pt := PatternType{Tag: tag}
	switch cropPart {
	case "center", "centre":
		pt.Crop = imaging.CropCenter
	case "left", "top", "start":
		pt.Crop = imaging.CropStart
	case "right", "bottom", "end":
		pt.Crop = imaging.CropEnd
	default:
		return PatternType{}, fmt.Errorf("unknown crop mode %q in pattern type %q", cropPart, tag)
	}

	switch flipPart {
	case "", "normal", "none":
	case "flipped", "flip", "mirrored":
		pt.Flipped = true
	default:
		return PatternType{}, fmt.Errorf("unknown flip mode %q in pattern type %q", flipPart, tag)
	}
	return pt, nil
}

// MirrorOf reports whether p and q share a crop mode but differ in flip
// mode, i.e. one is the horizontal mirror of the other.
func (p PatternType) MirrorOf(q PatternType) bool {
	return p.Crop == q.Crop && p.Flipped != q.Flipped
}

func (p PatternType) String() string {
	flip := "normal"
	if p.Flipped {
		flip = "flipped"
	}
	return p.Crop.String() + "_" + flip
}
