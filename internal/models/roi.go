package models

import (
	"fmt"
)

// Outside is the nearest-index value stored for pixels that are not part of the ROI
const Outside = -1

// Shape is the size of the image an ROI was drawn on
type Shape struct {
	Height int
	Width  int
}

// Max returns the largest image dimension
func (s Shape) Max() int {
	if s.Height > s.Width {
		return s.Height
	}
	return s.Width
}

// Polygon is a user-drawn ROI. X and Y hold the vertex coordinates in image
// space (x to the right, y down the rows) in drawing order. The ring is
// implicitly closed, the first vertex is not repeated at the end.
type Polygon struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// Len returns the number of vertices
func (p Polygon) Len() int {
	return len(p.X)
}

// Clone returns a deep copy of the polygon
func (p Polygon) Clone() Polygon {
	return Polygon{
		X: append([]float64(nil), p.X...),
		Y: append([]float64(nil), p.Y...),
	}
}

// Pixel is an integer (row, column) image coordinate
type Pixel struct {
	Row int
	Col int
}

// Mask is a binary image stored as a 1D array in row-major order.
// Skeletons use the same representation.
type Mask struct {
	// Data is true for pixels inside the region
	Data []bool

	// Height and Width are the mask dimensions in pixels
	Height int
	Width  int
}

// NewMask allocates an empty mask
func NewMask(shape Shape) *Mask {
	return &Mask{
		Data:   make([]bool, shape.Height*shape.Width),
		Height: shape.Height,
		Width:  shape.Width,
	}
}

// Shape returns the mask dimensions
func (m *Mask) Shape() Shape {
	return Shape{Height: m.Height, Width: m.Width}
}

// Contains reports whether (row, col) lies within the mask bounds
func (m *Mask) Contains(row, col int) bool {
	return row >= 0 && row < m.Height && col >= 0 && col < m.Width
}

// At returns the value at (row, col). Out-of-bounds pixels are false.
func (m *Mask) At(row, col int) bool {
	if !m.Contains(row, col) {
		return false
	}
	return m.Data[row*m.Width+col]
}

// Set stores a value at (row, col)
func (m *Mask) Set(row, col int, v bool) {
	m.Data[row*m.Width+col] = v
}

// Count returns the number of true pixels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Pixels returns the coordinates of all true pixels in row-major order
func (m *Mask) Pixels() []Pixel {
	pixels := make([]Pixel, 0, m.Count())
	for row := 0; row < m.Height; row++ {
		for col := 0; col < m.Width; col++ {
			if m.Data[row*m.Width+col] {
				pixels = append(pixels, Pixel{Row: row, Col: col})
			}
		}
	}
	return pixels
}

// SubsetOf reports whether every true pixel of m is also true in other
func (m *Mask) SubsetOf(other *Mask) bool {
	if m.Height != other.Height || m.Width != other.Width {
		return false
	}
	for i, v := range m.Data {
		if v && !other.Data[i] {
			return false
		}
	}
	return true
}

// Centerline is an ordered list of skeleton pixels. Index 0 and len-1 are the
// two endpoints and neighbouring entries are neighbours along the curve.
type Centerline []Pixel

// NearestIndexMap holds, for every pixel, the index of the nearest centerline
// point, or Outside for pixels outside the ROI
type NearestIndexMap struct {
	Data   []int
	Height int
	Width  int
}

// At returns the index stored at (row, col)
func (n *NearestIndexMap) At(row, col int) int {
	return n.Data[row*n.Width+col]
}

// Direction is a unit vector expressed in (row, column) components
type Direction struct {
	DRow float64
	DCol float64
}

// DirectionField holds the local centerline direction for every pixel.
// Pixels outside the ROI hold NaN in both components.
type DirectionField struct {
	Data   []Direction
	Height int
	Width  int
}

// At returns the direction stored at (row, col)
func (d *DirectionField) At(row, col int) Direction {
	return d.Data[row*d.Width+col]
}

// String implements fmt.Stringer for log output
func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}
