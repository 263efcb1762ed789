// Package skeleton thins binary masks to one pixel wide curves.
//
// Thinning follows the directional scheme of Lee, Kashyap and Chu: border
// pixels are peeled from the north, south, east and west in turn, and a pixel
// is only removed when it is simple (removing it keeps the 8-connected
// topology) and is not the end of a line. Candidates found in one sweep are
// re-checked one by one before removal so that parallel deletions never
// disconnect the shape.
package skeleton

import (
	"github.com/yngvem/zebrafish-bloodflow/internal/models"
)

// neighbourhood offsets in the cyclic order used by the Yokoi connectivity
// number: E, NE, N, NW, W, SW, S, SE
var neighbourhood = [8][2]int{
	{0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1},
}

// border directions peeled in each pass: north, south, east, west
var borders = [4][2]int{
	{-1, 0}, {1, 0}, {0, 1}, {0, -1},
}

// grid is a mask padded by one background pixel on every side, so the
// neighbourhood of every image pixel can be read without bounds checks
type grid struct {
	data   []bool
	width  int
	height int
}

func newGrid(mask *models.Mask) *grid {
	g := &grid{
		width:  mask.Width + 2,
		height: mask.Height + 2,
	}
	g.data = make([]bool, g.width*g.height)
	for row := 0; row < mask.Height; row++ {
		for col := 0; col < mask.Width; col++ {
			g.data[(row+1)*g.width+col+1] = mask.Data[row*mask.Width+col]
		}
	}
	return g
}

func (g *grid) at(row, col int) bool {
	return g.data[row*g.width+col]
}

// neighbours counts the foreground pixels in the 8-neighbourhood
func (g *grid) neighbours(row, col int) int {
	n := 0
	for _, d := range neighbourhood {
		if g.at(row+d[0], col+d[1]) {
			n++
		}
	}
	return n
}

// isSimple reports whether (row, col) can be removed without changing the
// number of 8-connected objects or 4-connected holes, which holds exactly
// when the Yokoi 8-connectivity number is one
func (g *grid) isSimple(row, col int) bool {
	var bg [8]int
	for i, d := range neighbourhood {
		if !g.at(row+d[0], col+d[1]) {
			bg[i] = 1
		}
	}

	connectivity := 0
	for k := 0; k < 8; k += 2 {
		connectivity += bg[k] - bg[k]*bg[(k+1)%8]*bg[(k+2)%8]
	}
	return connectivity == 1
}

// removable reports whether a foreground pixel may be deleted
func (g *grid) removable(row, col int) bool {
	return g.neighbours(row, col) != 1 && g.isSimple(row, col)
}

// Skeletonize thins a mask until no pixel can be removed without breaking
// connectivity or shortening a line. The result is a subset of the mask.
// Masks that are not a single elongated blob still produce a result, but it
// may contain loops, branches or isolated pixels.
func Skeletonize(mask *models.Mask) *models.Mask {
	g := newGrid(mask)

	candidates := make([]int, 0, len(g.data))
	for changed := true; changed; {
		changed = false
		for _, dir := range borders {
			candidates = candidates[:0]
			for row := 1; row < g.height-1; row++ {
				for col := 1; col < g.width-1; col++ {
					if !g.at(row, col) || g.at(row+dir[0], col+dir[1]) {
						continue
					}
					if g.removable(row, col) {
						candidates = append(candidates, row*g.width+col)
					}
				}
			}

			// Sequential re-check: earlier removals may have made a
			// candidate essential
			for _, idx := range candidates {
				row, col := idx/g.width, idx%g.width
				if g.removable(row, col) {
					g.data[idx] = false
					changed = true
				}
			}
		}
	}

	skel := models.NewMask(mask.Shape())
	for row := 0; row < mask.Height; row++ {
		for col := 0; col < mask.Width; col++ {
			skel.Data[row*mask.Width+col] = g.at(row+1, col+1)
		}
	}
	return skel
}

// FindEndpoints returns every skeleton pixel with exactly one 8-connected
// neighbour, in row-major order
func FindEndpoints(skel *models.Mask) []models.Pixel {
	g := newGrid(skel)

	var endpoints []models.Pixel
	for row := 0; row < skel.Height; row++ {
		for col := 0; col < skel.Width; col++ {
			if g.at(row+1, col+1) && g.neighbours(row+1, col+1) == 1 {
				endpoints = append(endpoints, models.Pixel{Row: row, Col: col})
			}
		}
	}
	return endpoints
}
