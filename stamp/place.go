package stamp

import (
	"fmt"
	"math"

	"github.com/georgepadayatti/tokenstamp/locate"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// Offsets move an anchored stamp away from the phrase it marks.
type Offsets struct {
	X float64
	Y float64
}

// DefaultOffsets puts the stamp 10pt right of the phrase start and 30pt
// above its top.
func DefaultOffsets() Offsets {
	return Offsets{X: 10, Y: 30}
}

// FallbackX and FallbackY position the stamp when no phrase was found.
const (
	FallbackX = 100
	FallbackY = 100
)

// Placement is where one stamp goes. Page is 1-based and X, Y is the
// lower-left corner of the stamp box in default user space. Around is the
// phrase rectangle to highlight, nil for the fallback stamp.
type Placement struct {
	Page   int
	X      float64
	Y      float64
	Around *locate.Rect
}

func (p Placement) String() string {
	return fmt.Sprintf("page %d at (%s, %s)", p.Page, generic.FormatNumber(p.X), generic.FormatNumber(p.Y))
}

// FallbackPlacement stamps page one at a fixed position.
func FallbackPlacement() Placement {
	return Placement{Page: 1, X: FallbackX, Y: FallbackY}
}

// PlanPlacements computes one placement per occurrence. The stamp origin
// is the top-left of the first line of the match shifted by offsets, then
// kept inside the page media box. A stamp that would overflow the top of
// the page goes below the phrase instead. On rotated pages the area kept
// inside the box is the rotated stamp footprint.
func PlanPlacements(doc *locate.Document, occurrences []locate.Occurrence, layout Layout, offsets Offsets) ([]Placement, error) {
	placements := make([]Placement, 0, len(occurrences))
	for _, occ := range occurrences {
		rects, err := doc.Rects(occ)
		if err != nil {
			return nil, fmt.Errorf("failed to locate %s: %w", occ, err)
		}
		page, err := doc.Reader().GetPage(occ.Page - 1)
		if err != nil {
			return nil, err
		}

		r := rects[0]
		w, h := footprint(page.Rotate, layout.Width, layout.Height)
		x, y := anchor(r, page.MediaBox, w, h, offsets)
		placements = append(placements, Placement{Page: occ.Page, X: x, Y: y, Around: &r})
	}
	return placements, nil
}

func anchor(r locate.Rect, box generic.Rectangle, w, h float64, offsets Offsets) (float64, float64) {
	x := r.LLX + offsets.X
	y := r.URY + offsets.Y
	if y+h > box.URY {
		y = r.LLY - offsets.Y - h
	}
	return clamp(x, box.LLX, box.URX-w), clamp(y, box.LLY, box.URY-h)
}

// clamp keeps v in [lo, hi], preferring lo when the range is empty.
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
