package centerline

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
	"github.com/yngvem/zebrafish-bloodflow/pkg/raster"
)

var (
	// ErrEmptyCenterline is returned when a centerline has too few points
	ErrEmptyCenterline = errors.New("centerline has too few points")

	// ErrDegenerateCenterline is returned when consecutive points coincide
	ErrDegenerateCenterline = errors.New("centerline direction is undefined")

	// ErrIndexOutOfRange is returned when an index map points past the centerline
	ErrIndexOutOfRange = errors.New("nearest index out of range")
)

// NearestIndexMap finds, for every mask pixel, the index of the closest
// centerline point by brute force. Equidistant points resolve to the lowest
// index. Pixels outside the mask hold models.Outside.
//
// Rows are split over up to workers goroutines; the result does not depend
// on the worker count.
func NearestIndexMap(mask *models.Mask, cl models.Centerline, workers int) (*models.NearestIndexMap, error) {
	if len(cl) == 0 {
		return nil, fmt.Errorf("%w: need at least 1 point", ErrEmptyCenterline)
	}
	if workers < 1 {
		workers = 1
	}

	result := &models.NearestIndexMap{
		Data:   make([]int, len(mask.Data)),
		Height: mask.Height,
		Width:  mask.Width,
	}

	rows := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range rows {
				indexRow(mask, cl, result, row)
			}
		}()
	}

	for row := 0; row < mask.Height; row++ {
		rows <- row
	}
	close(rows)
	wg.Wait()

	return result, nil
}

// indexRow fills one row of the index map. Rows never overlap, so workers
// can write concurrently.
func indexRow(mask *models.Mask, cl models.Centerline, result *models.NearestIndexMap, row int) {
	for col := 0; col < mask.Width; col++ {
		idx := row*mask.Width + col
		if !mask.Data[idx] {
			result.Data[idx] = models.Outside
			continue
		}

		best, bestDist := 0, math.MaxInt
		for i, p := range cl {
			dr, dc := row-p.Row, col-p.Col
			if d := dr*dr + dc*dc; d < bestDist {
				best, bestDist = i, d
			}
		}
		result.Data[idx] = best
	}
}

// NearestIndexMapFromROI rasterizes an ROI and indexes it against a centerline
func NearestIndexMapFromROI(roi models.Polygon, shape models.Shape, cl models.Centerline, workers int) (*models.NearestIndexMap, error) {
	mask, err := raster.Rasterize(roi, shape)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize ROI: %w", err)
	}
	return NearestIndexMap(mask, cl, workers)
}

// Directions returns the unit tangent at every centerline point, using a
// forward difference at the first point, a backward difference at the last
// and central differences in between
func Directions(cl models.Centerline) ([]models.Direction, error) {
	n := len(cl)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrEmptyCenterline, n)
	}

	directions := make([]models.Direction, n)
	for i := range cl {
		prev, next := i-1, i+1
		if prev < 0 {
			prev = 0
		}
		if next > n-1 {
			next = n - 1
		}

		dr := float64(cl[next].Row - cl[prev].Row)
		dc := float64(cl[next].Col - cl[prev].Col)
		norm := math.Hypot(dr, dc)
		if norm == 0 {
			return nil, fmt.Errorf("%w: points around index %d coincide", ErrDegenerateCenterline, i)
		}
		directions[i] = models.Direction{DRow: dr / norm, DCol: dc / norm}
	}
	return directions, nil
}

// DirectionField looks up the centerline direction of the nearest centerline
// point for every pixel of an index map. Pixels outside the ROI are NaN.
func DirectionField(index *models.NearestIndexMap, cl models.Centerline) (*models.DirectionField, error) {
	directions, err := Directions(cl)
	if err != nil {
		return nil, err
	}

	field := &models.DirectionField{
		Data:   make([]models.Direction, len(index.Data)),
		Height: index.Height,
		Width:  index.Width,
	}

	nan := math.NaN()
	for i, idx := range index.Data {
		switch {
		case idx == models.Outside:
			field.Data[i] = models.Direction{DRow: nan, DCol: nan}
		case idx < 0 || idx >= len(directions):
			return nil, fmt.Errorf("%w: %d at pixel %d, centerline has %d points", ErrIndexOutOfRange, idx, i, len(directions))
		default:
			field.Data[i] = directions[idx]
		}
	}
	return field, nil
}

// Length returns the arc length of the centerline in pixels
func Length(cl models.Centerline) float64 {
	if len(cl) < 2 {
		return 0
	}
	segments := make([]float64, len(cl)-1)
	for i := 1; i < len(cl); i++ {
		segments[i-1] = math.Hypot(float64(cl[i].Row-cl[i-1].Row), float64(cl[i].Col-cl[i-1].Col))
	}
	return floats.Sum(segments)
}
