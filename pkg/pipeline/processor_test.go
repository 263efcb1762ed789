package pipeline

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
	"github.com/yngvem/zebrafish-bloodflow/pkg/centerline"
	"github.com/yngvem/zebrafish-bloodflow/pkg/raster"
	"github.com/yngvem/zebrafish-bloodflow/pkg/session"
)

func rectangleROI() models.Polygon {
	return models.Polygon{X: []float64{1, 10, 10, 1}, Y: []float64{1, 1, 4, 4}}
}

func branchedROI() models.Polygon {
	return models.Polygon{
		X: []float64{2, 10, 18, 20, 12, 12, 10, 10, 0},
		Y: []float64{2, 8, 2, 4, 10, 22, 22, 10, 4},
	}
}

func testParams() *Params {
	params := DefaultParams()
	params.NumCores = 2
	return params
}

func TestNewProcessorDefaults(t *testing.T) {
	p := NewProcessor(nil)
	if p.params.KNeighbours != centerline.DefaultKNeighbours {
		t.Errorf("Expected k=%d, got %d", centerline.DefaultKNeighbours, p.params.KNeighbours)
	}
	if p.params.NumCores < 1 {
		t.Errorf("Expected at least one core, got %d", p.params.NumCores)
	}
	if b := p.bounds(models.Shape{Height: 5, Width: 11}); b != 11 {
		t.Errorf("Expected default bounds 11, got %f", b)
	}

	p = NewProcessor(&Params{Bounds: 3})
	if b := p.bounds(models.Shape{Height: 5, Width: 11}); b != 3 {
		t.Errorf("Expected explicit bounds 3, got %f", b)
	}
}

// TestProcessRectangle runs the rectangle ROI through every stage
func TestProcessRectangle(t *testing.T) {
	p := NewProcessor(testParams())

	result, err := p.Process(rectangleROI(), models.Shape{Height: 5, Width: 11})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(result.Centerline) != 9 {
		t.Fatalf("Expected 9 centerline points, got %d", len(result.Centerline))
	}
	for i, px := range result.Centerline {
		if px != (models.Pixel{Row: 2, Col: 1 + i}) {
			t.Errorf("Point %d: unexpected %v", i, px)
		}
	}
	if math.Abs(result.Length-8) > 1e-12 {
		t.Errorf("Expected length 8, got %f", result.Length)
	}

	maxX := math.Inf(-1)
	for _, x := range result.ClippedROI.X {
		maxX = math.Max(maxX, x)
	}
	if math.Abs(maxX-9) > 1e-9 {
		t.Errorf("Expected clipped ROI to end at x=9, got %f", maxX)
	}
}

func TestProcessErrors(t *testing.T) {
	p := NewProcessor(testParams())

	_, err := p.Process(branchedROI(), models.Shape{Height: 24, Width: 24})
	if !errors.Is(err, centerline.ErrInvalidTopology) {
		t.Errorf("Expected ErrInvalidTopology, got %v", err)
	}

	_, err = p.Process(models.Polygon{X: []float64{1, 2}, Y: []float64{1, 2}}, models.Shape{Height: 5, Width: 5})
	if !errors.Is(err, raster.ErrDegeneratePolygon) {
		t.Errorf("Expected ErrDegeneratePolygon, got %v", err)
	}
}

// TestProcessSession checks that failing ROIs are reported without stopping the rest
func TestProcessSession(t *testing.T) {
	doc := &session.Document{
		Vertices: []models.Polygon{
			rectangleROI(),
			branchedROI(),
			{X: []float64{1, 2}, Y: []float64{1, 2}},
			rectangleROI(),
		},
		ImageShape: [2]int{24, 32},
	}

	p := NewProcessor(testParams())

	var mu sync.Mutex
	var calls, last int
	p.SetProgressCallback(func(completed, total int, message string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = completed
		if total != 4 {
			t.Errorf("Expected total 4, got %d", total)
		}
	})

	res, err := p.ProcessSession(doc)
	if err != nil {
		t.Fatalf("ProcessSession failed: %v", err)
	}

	if calls != 4 || last != 4 {
		t.Errorf("Expected 4 progress calls ending at 4, got %d calls ending at %d", calls, last)
	}

	if len(res.Errors) != 2 {
		t.Fatalf("Expected 2 failed ROIs, got %d: %v", len(res.Errors), res.Errors)
	}
	if !errors.Is(res.Errors[1], centerline.ErrInvalidTopology) {
		t.Errorf("ROI 1: expected ErrInvalidTopology, got %v", res.Errors[1])
	}
	if !errors.Is(res.Errors[2], raster.ErrDegeneratePolygon) {
		t.Errorf("ROI 2: expected ErrDegeneratePolygon, got %v", res.Errors[2])
	}

	for _, i := range []int{0, 3} {
		if res.Results[i] == nil {
			t.Fatalf("ROI %d: expected a result", i)
		}
		cl, err := session.PolygonToCenterline(res.Document.Centerlines[i])
		if err != nil {
			t.Fatalf("ROI %d: %v", i, err)
		}
		if len(cl) != 9 {
			t.Errorf("ROI %d: expected 9 centerline points, got %d", i, len(cl))
		}
		if len(res.Document.Vertices[i].X) != len(res.Results[i].ClippedROI.X) {
			t.Errorf("ROI %d: document does not hold the clipped ROI", i)
		}
	}

	if res.Results[1] != nil || len(res.Document.Centerlines[1].X) != 0 {
		t.Error("Failed ROI should have no result and an empty centerline")
	}
	if len(res.Document.Vertices[1].X) != len(branchedROI().X) {
		t.Error("Failed ROI should keep its original vertices")
	}

	if err := res.Document.Validate(); err != nil {
		t.Errorf("Output document is invalid: %v", err)
	}
	if len(doc.Vertices[0].X) != 4 {
		t.Error("Input document was modified")
	}
}

func TestProcessSessionEmpty(t *testing.T) {
	p := NewProcessor(testParams())

	res, err := p.ProcessSession(&session.Document{ImageShape: [2]int{5, 5}})
	if err != nil {
		t.Fatalf("ProcessSession failed: %v", err)
	}
	if len(res.Results) != 0 || len(res.Errors) != 0 {
		t.Errorf("Expected no results, got %d results and %d errors", len(res.Results), len(res.Errors))
	}

	if _, err := p.ProcessSession(&session.Document{}); !errors.Is(err, session.ErrInvalidDocument) {
		t.Errorf("Expected ErrInvalidDocument, got %v", err)
	}
}

func TestProcessSavesIntermediaryResults(t *testing.T) {
	params := testParams()
	params.SaveIntermediaryResults = true
	params.IntermediaryDir = t.TempDir()
	params.ImageScale = 2

	p := NewProcessor(params)
	doc := &session.Document{
		Vertices:   []models.Polygon{rectangleROI()},
		ImageShape: [2]int{5, 11},
	}

	res, err := p.ProcessSession(doc)
	if err != nil {
		t.Fatalf("ProcessSession failed: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("Unexpected errors: %v", res.Errors)
	}

	for _, name := range []string{"01_mask.png", "02_skeleton.png", "03_centerline.png", "04_nearest_index.png"} {
		path := filepath.Join(params.IntermediaryDir, "roi_000", name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Missing intermediary result %s: %v", name, err)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	p := NewProcessor(testParams())
	roi := models.Polygon{X: []float64{2, 30, 32, 4}, Y: []float64{2, 14, 10, -2}}
	shape := models.Shape{Height: 20, Width: 36}

	for i := 0; i < b.N; i++ {
		if _, err := p.Process(roi, shape); err != nil {
			b.Fatalf("Process failed: %v", err)
		}
	}
}
