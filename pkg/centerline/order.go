// Package centerline extracts ordered vessel centerlines from ROI masks and
// relates every ROI pixel to its nearest point on the centerline.
package centerline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
	"github.com/yngvem/zebrafish-bloodflow/pkg/skeleton"
)

// DefaultKNeighbours is the neighbourhood size of the KNN graph. Interior
// points of a simple curve have exactly two neighbours.
const DefaultKNeighbours = 2

var (
	// ErrInvalidTopology is returned when a skeleton does not have exactly two endpoints
	ErrInvalidTopology = errors.New("invalid skeleton topology")

	// ErrNoPath is returned when the KNN graph does not connect the endpoints
	ErrNoPath = errors.New("no path between centerline endpoints")

	// ErrEndpointNotFound is returned when an endpoint is not a skeleton pixel
	ErrEndpointNotFound = errors.New("endpoint is not on the skeleton")

	// ErrInvalidK is returned for neighbourhood sizes below one
	ErrInvalidK = errors.New("k neighbours must be at least 1")
)

// skeletonPoint is a skeleton pixel stored in the KD-tree. Index is its
// position in row-major pixel order and doubles as the graph node ID.
type skeletonPoint struct {
	Row, Col float64
	Index    int
}

// Compare implements the kdtree.Comparable interface
func (p skeletonPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(skeletonPoint)
	switch d {
	case 0:
		return p.Row - q.Row
	case 1:
		return p.Col - q.Col
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p skeletonPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p skeletonPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(skeletonPoint)
	dr := p.Row - q.Row
	dc := p.Col - q.Col
	return dr*dr + dc*dc
}

// skeletonPoints satisfies kdtree.Interface
type skeletonPoints []skeletonPoint

func (p skeletonPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p skeletonPoints) Len() int                              { return len(p) }
func (p skeletonPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p skeletonPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{skeletonPoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{skeletonPoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer
type pointPlane struct {
	skeletonPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.skeletonPoints[i].Row < p.skeletonPoints[j].Row
	case 1:
		return p.skeletonPoints[i].Col < p.skeletonPoints[j].Col
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{skeletonPoints: p.skeletonPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.skeletonPoints[i], p.skeletonPoints[j] = p.skeletonPoints[j], p.skeletonPoints[i]
}

// nearestNeighbours returns, for every point, the indices of its k nearest
// other points. Ties at the k-th distance go to the lowest index.
func nearestNeighbours(points []skeletonPoint, k int) [][]int {
	neighbours := make([][]int, len(points))

	if k >= len(points)-1 {
		for i := range points {
			for j := range points {
				if i != j {
					neighbours[i] = append(neighbours[i], j)
				}
			}
		}
		return neighbours
	}

	// kdtree.New reorders its input, so the tree gets its own copy
	tree := kdtree.New(append(skeletonPoints(nil), points...), true)

	for i, p := range points {
		// k+1 because the query point is in the tree at distance zero
		keeper := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keeper, p)

		radius := 0.0
		for _, item := range keeper.Heap {
			if item.Comparable != nil && item.Dist > radius {
				radius = item.Dist
			}
		}

		// Gather every point tied with the k-th neighbour so the choice
		// does not depend on tree traversal order
		within := kdtree.NewDistKeeper(radius)
		tree.NearestSet(within, p)

		candidates := make([]kdtree.ComparableDist, 0, within.Len())
		for _, item := range within.Heap {
			if item.Comparable == nil || item.Comparable.(skeletonPoint).Index == i {
				continue
			}
			candidates = append(candidates, item)
		}
		sort.Slice(candidates, func(a, b int) bool {
			if candidates[a].Dist != candidates[b].Dist {
				return candidates[a].Dist < candidates[b].Dist
			}
			return candidates[a].Comparable.(skeletonPoint).Index < candidates[b].Comparable.(skeletonPoint).Index
		})

		if len(candidates) > k {
			candidates = candidates[:k]
		}
		for _, c := range candidates {
			neighbours[i] = append(neighbours[i], c.Comparable.(skeletonPoint).Index)
		}
	}

	return neighbours
}

// Order returns the skeleton pixels on the shortest path from start to end
// through the k-nearest-neighbour graph of all skeleton pixels. Edges are
// weighted by squared distance, so a chain of adjacent pixels is always
// preferred over a shortcut and no pixel of a simple curve is skipped.
func Order(skel *models.Mask, start, end models.Pixel, k int) (models.Centerline, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if !skel.At(start.Row, start.Col) {
		return nil, fmt.Errorf("%w: start %v", ErrEndpointNotFound, start)
	}
	if !skel.At(end.Row, end.Col) {
		return nil, fmt.Errorf("%w: end %v", ErrEndpointNotFound, end)
	}

	pixels := skel.Pixels()
	points := make([]skeletonPoint, len(pixels))
	startIdx, endIdx := -1, -1
	for i, px := range pixels {
		points[i] = skeletonPoint{Row: float64(px.Row), Col: float64(px.Col), Index: i}
		if px == start {
			startIdx = i
		}
		if px == end {
			endIdx = i
		}
	}

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range points {
		g.AddNode(simple.Node(i))
	}
	for i, nbrs := range nearestNeighbours(points, k) {
		for _, j := range nbrs {
			if g.HasEdgeBetween(int64(i), int64(j)) {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(i),
				T: simple.Node(j),
				W: points[i].Distance(points[j]),
			})
		}
	}

	shortest := path.DijkstraFrom(simple.Node(startIdx), g)
	nodes, weight := shortest.To(int64(endIdx))
	if len(nodes) == 0 || math.IsInf(weight, 1) {
		return nil, fmt.Errorf("%w: %v to %v", ErrNoPath, start, end)
	}

	centerline := make(models.Centerline, len(nodes))
	for i, n := range nodes {
		centerline[i] = pixels[n.ID()]
	}
	return centerline, nil
}

// FromMask skeletonizes a mask and orders the skeleton between its two
// endpoints. Masks that are branched, looped or disconnected produce
// ErrInvalidTopology.
func FromMask(mask *models.Mask, k int) (models.Centerline, error) {
	skel := skeleton.Skeletonize(mask)
	endpoints := skeleton.FindEndpoints(skel)
	if len(endpoints) != 2 {
		return nil, fmt.Errorf("%w: expected 2 endpoints, found %d", ErrInvalidTopology, len(endpoints))
	}
	return Order(skel, endpoints[0], endpoints[1], k)
}
