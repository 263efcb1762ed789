// Package clip trims hand-drawn ROIs at the true ends of their vessel.
//
// At each end of the centerline a square is placed with one side through the
// endpoint, perpendicular to the local centerline direction, extending away
// from the vessel. Both squares are subtracted from the ROI, removing the part
// of the polygon that overshoots the vessel tips.
package clip

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/peterstace/simplefeatures/geom"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
	"github.com/yngvem/zebrafish-bloodflow/pkg/centerline"
	"github.com/yngvem/zebrafish-bloodflow/pkg/raster"
)

// DefaultNormalEstimationLength is the number of centerline steps used to
// estimate the direction at each end
const DefaultNormalEstimationLength = 2

// axisTolerance decides when a normal is treated as axis aligned
const axisTolerance = 1e-5

var (
	// ErrClipCollapse is returned when clipping leaves nothing, or more than one piece
	ErrClipCollapse = errors.New("clipping collapsed the ROI")

	// ErrInvalidPolygon is returned when the ROI is rejected by the geometry engine
	ErrInvalidPolygon = errors.New("invalid ROI polygon")

	// ErrInvalidSquare is returned for clipping squares without size or orientation
	ErrInvalidSquare = errors.New("invalid clipping square")
)

// Square is a clipping square given by its corners in order. The side from
// corner 3 to corner 0 passes through the midpoint the square was built from.
type Square [4]r2.Vec

// ClippingSquare returns the square with side length 2*bounds whose first side
// is centred on midpoint and perpendicular to normal, and which extends
// 2*bounds from midpoint in the direction of normal
func ClippingSquare(normal, midpoint r2.Vec, bounds float64) (Square, error) {
	if !(bounds > 0) {
		return Square{}, fmt.Errorf("%w: bounds must be positive, got %g", ErrInvalidSquare, bounds)
	}
	if r2.Norm(normal) == 0 {
		return Square{}, fmt.Errorf("%w: zero normal", ErrInvalidSquare)
	}

	var slope r2.Vec
	switch {
	case math.Abs(normal.X) < axisTolerance:
		slope = r2.Vec{X: 1, Y: 0}
	case math.Abs(normal.Y) < axisTolerance:
		slope = r2.Vec{X: 0, Y: 1}
	default:
		slope = r2.Vec{X: 1, Y: -normal.X / normal.Y}
	}

	n := r2.Unit(normal)
	s := r2.Unit(slope)
	across := r2.Scale(2, n)

	corners := [4]r2.Vec{
		s,
		r2.Add(s, across),
		r2.Sub(across, s),
		r2.Scale(-1, s),
	}

	var sq Square
	for i, c := range corners {
		sq[i] = r2.Add(r2.Scale(bounds, c), midpoint)
	}
	return sq, nil
}

// Polygon returns the square as a closed orb polygon
func (s Square) Polygon() orb.Polygon {
	ring := make(orb.Ring, 0, len(s)+1)
	for _, c := range s {
		ring = append(ring, orb.Point{c.X, c.Y})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// point converts a centerline pixel to image (x, y) coordinates
func point(p models.Pixel) r2.Vec {
	return r2.Vec{X: float64(p.Col), Y: float64(p.Row)}
}

// EndSquares builds the clipping squares at the start and end of a
// centerline. normalLength is clamped to the centerline length.
func EndSquares(cl models.Centerline, bounds float64, normalLength int) (start, end Square, err error) {
	n := len(cl)
	if n < 2 {
		return start, end, fmt.Errorf("%w: need at least 2 points, got %d", centerline.ErrEmptyCenterline, n)
	}
	if normalLength < 1 {
		return start, end, fmt.Errorf("%w: normal estimation length must be at least 1, got %d", ErrInvalidSquare, normalLength)
	}
	if normalLength > n-1 {
		normalLength = n - 1
	}

	// The start normal points backwards, away from the rest of the vessel
	startNormal := r2.Scale(-1, r2.Sub(point(cl[normalLength]), point(cl[0])))
	endNormal := r2.Sub(point(cl[n-1]), point(cl[n-1-normalLength]))

	start, err = ClippingSquare(startNormal, point(cl[0]), bounds)
	if err != nil {
		return start, end, fmt.Errorf("start of centerline: %w", err)
	}
	end, err = ClippingSquare(endNormal, point(cl[n-1]), bounds)
	if err != nil {
		return start, end, fmt.Errorf("end of centerline: %w", err)
	}
	return start, end, nil
}

// ClipROI removes the parts of an ROI that lie beyond the ends of its
// centerline. The returned polygon is the exterior ring of the remaining
// region, without a repeated closing vertex; holes are dropped.
func ClipROI(roi models.Polygon, cl models.Centerline, bounds float64, normalLength int) (models.Polygon, error) {
	if err := raster.Validate(roi); err != nil {
		return models.Polygon{}, err
	}

	start, end, err := EndSquares(cl, bounds, normalLength)
	if err != nil {
		return models.Polygon{}, err
	}

	ring := raster.Ring(roi)
	ring = append(ring, ring[0])
	shape, err := toGeometry(orb.Polygon{ring})
	if err != nil {
		return models.Polygon{}, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}

	for _, sq := range []Square{start, end} {
		cut, err := toGeometry(sq.Polygon())
		if err != nil {
			return models.Polygon{}, fmt.Errorf("%w: %v", ErrInvalidSquare, err)
		}
		shape, err = geom.Difference(shape, cut)
		if err != nil {
			return models.Polygon{}, fmt.Errorf("polygon difference failed: %w", err)
		}
	}

	return fromGeometry(shape)
}

// toGeometry moves an orb geometry into simplefeatures through WKB
func toGeometry(g orb.Geometry) (geom.Geometry, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return geom.Geometry{}, err
	}
	return geom.UnmarshalWKB(data)
}

// fromGeometry extracts the single exterior ring of a clipping result
func fromGeometry(g geom.Geometry) (models.Polygon, error) {
	if g.IsEmpty() {
		return models.Polygon{}, fmt.Errorf("%w: nothing left after clipping", ErrClipCollapse)
	}

	decoded, err := wkb.Unmarshal(g.AsBinary())
	if err != nil {
		return models.Polygon{}, fmt.Errorf("failed to decode clipped ROI: %w", err)
	}

	var poly orb.Polygon
	switch v := decoded.(type) {
	case orb.Polygon:
		poly = v
	case orb.MultiPolygon:
		if len(v) != 1 {
			return models.Polygon{}, fmt.Errorf("%w: result has %d parts", ErrClipCollapse, len(v))
		}
		poly = v[0]
	default:
		return models.Polygon{}, fmt.Errorf("%w: result is a %s", ErrClipCollapse, decoded.GeoJSONType())
	}
	if len(poly) == 0 || len(poly[0]) < 4 {
		return models.Polygon{}, fmt.Errorf("%w: result has no exterior ring", ErrClipCollapse)
	}

	exterior := poly[0]
	if exterior[0].Equal(exterior[len(exterior)-1]) {
		exterior = exterior[:len(exterior)-1]
	}

	out := models.Polygon{
		X: make([]float64, len(exterior)),
		Y: make([]float64, len(exterior)),
	}
	for i, p := range exterior {
		out.X[i] = p.X()
		out.Y[i] = p.Y()
	}
	return out, nil
}
