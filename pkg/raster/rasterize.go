// Package raster converts polygonal ROIs into binary pixel masks.
//
// Pixel (row, col) is sampled at the image point x=col, y=row and is inside
// the polygon according to the even-odd rule. Edges use a half-open
// convention: a vertex exactly on a scanline belongs to the edge above it, and
// a pixel exactly on a crossing counts as outside. For an axis-aligned ROI
// spanning x in [x0, x1] and y in [y0, y1] this fills columns x0..x1-1 and
// rows y0..y1-1.
package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
)

// ErrDegeneratePolygon is returned for polygons that cannot enclose any area
var ErrDegeneratePolygon = errors.New("degenerate polygon")

// ErrInvalidShape is returned when the target image shape is empty
var ErrInvalidShape = errors.New("invalid image shape")

// Ring converts a polygon into an orb ring. The ring is not closed.
func Ring(p models.Polygon) orb.Ring {
	ring := make(orb.Ring, len(p.X))
	for i := range p.X {
		ring[i] = orb.Point{p.X[i], p.Y[i]}
	}
	return ring
}

// Validate checks that a polygon has enough vertices and a non-zero area
func Validate(p models.Polygon) error {
	if len(p.X) != len(p.Y) {
		return fmt.Errorf("%w: %d x coordinates but %d y coordinates", ErrDegeneratePolygon, len(p.X), len(p.Y))
	}
	if len(p.X) < 3 {
		return fmt.Errorf("%w: need at least 3 vertices, got %d", ErrDegeneratePolygon, len(p.X))
	}
	for i := range p.X {
		if math.IsNaN(p.X[i]) || math.IsInf(p.X[i], 0) || math.IsNaN(p.Y[i]) || math.IsInf(p.Y[i], 0) {
			return fmt.Errorf("%w: vertex %d is not finite", ErrDegeneratePolygon, i)
		}
	}

	ring := Ring(p)
	ring = append(ring, ring[0])
	if area := math.Abs(planar.Area(ring)); area < 1e-12 {
		return fmt.Errorf("%w: zero area", ErrDegeneratePolygon)
	}
	return nil
}

// Rasterize marks every pixel of an image with the given shape whose sample
// point lies inside the polygon
func Rasterize(p models.Polygon, shape models.Shape) (*models.Mask, error) {
	if shape.Height <= 0 || shape.Width <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShape, shape)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}

	mask := models.NewMask(shape)

	// Only scan the rows and columns covered by the bounding box
	bound := Ring(p).Bound()
	rowStart := clamp(int(math.Floor(bound.Min.Y())), 0, shape.Height)
	rowEnd := clamp(int(math.Ceil(bound.Max.Y()))+1, 0, shape.Height)
	colStart := clamp(int(math.Floor(bound.Min.X())), 0, shape.Width)
	colEnd := clamp(int(math.Ceil(bound.Max.X()))+1, 0, shape.Width)

	for row := rowStart; row < rowEnd; row++ {
		for col := colStart; col < colEnd; col++ {
			if contains(p, float64(col), float64(row)) {
				mask.Set(row, col, true)
			}
		}
	}

	return mask, nil
}

// contains is the even-odd crossing test with half-open edges
func contains(p models.Polygon, x, y float64) bool {
	inside := false
	n := len(p.X)
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := p.X[i], p.Y[i]
		xj, yj := p.X[j], p.Y[j]
		if (yi > y) != (yj > y) {
			crossing := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x < crossing {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
