// Package pipeline runs centerline extraction and endpoint clipping for the
// ROIs of an annotation session.
//
// For every ROI the processor:
//  1. rasterizes the polygon into a mask of the image shape
//  2. skeletonizes the mask and orders the skeleton into a centerline
//  3. clips the ROI at both ends of the centerline
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
	"github.com/yngvem/zebrafish-bloodflow/pkg/centerline"
	"github.com/yngvem/zebrafish-bloodflow/pkg/clip"
	"github.com/yngvem/zebrafish-bloodflow/pkg/raster"
	"github.com/yngvem/zebrafish-bloodflow/pkg/session"
	"github.com/yngvem/zebrafish-bloodflow/pkg/skeleton"
	"github.com/yngvem/zebrafish-bloodflow/pkg/visualization"
)

// Params holds the processing parameters
type Params struct {
	// KNeighbours is the number of neighbours each skeleton pixel is
	// connected to when ordering the centerline
	KNeighbours int

	// NormalEstimationLength is the number of centerline steps used to
	// estimate the direction at each end before clipping
	NormalEstimationLength int

	// Bounds is the half side length of the clipping squares. Zero uses the
	// largest image dimension.
	Bounds float64

	// NumCores specifies how many ROIs are processed concurrently
	NumCores int

	// SaveIntermediaryResults writes the mask, skeleton, centerline and
	// nearest-index map of every ROI as PNG images
	SaveIntermediaryResults bool

	// IntermediaryDir is where intermediary images are written
	IntermediaryDir string

	// ImageScale upscales intermediary images, small ROIs are hard to see
	ImageScale int
}

// DefaultParams returns the parameters used by the annotation tool
func DefaultParams() *Params {
	return &Params{
		KNeighbours:            centerline.DefaultKNeighbours,
		NormalEstimationLength: clip.DefaultNormalEstimationLength,
		NumCores:               runtime.NumCPU(),
		IntermediaryDir:        "intermediary_results",
		ImageScale:             4,
	}
}

// Result is the outcome of processing a single ROI
type Result struct {
	// ClippedROI is the ROI with the parts beyond the vessel ends removed
	ClippedROI models.Polygon

	// Centerline is the ordered skeleton from one vessel end to the other
	Centerline models.Centerline

	// Length is the polyline length of the centerline in pixels
	Length float64
}

// ProgressCallback reports progress while a session is processed
type ProgressCallback func(completed, total int, message string)

// Processor runs the pipeline with a fixed set of parameters
type Processor struct {
	params           *Params
	progressCallback ProgressCallback
}

// NewProcessor creates a processor. A nil params uses DefaultParams.
func NewProcessor(params *Params) *Processor {
	if params == nil {
		params = DefaultParams()
	}
	return &Processor{params: params}
}

// SetProgressCallback sets a callback that is called after every ROI
func (p *Processor) SetProgressCallback(callback ProgressCallback) {
	p.progressCallback = callback
}

func (p *Processor) reportProgress(completed, total int, message string) {
	if p.progressCallback != nil {
		p.progressCallback(completed, total, message)
	}
}

func (p *Processor) bounds(shape models.Shape) float64 {
	if p.params.Bounds > 0 {
		return p.params.Bounds
	}
	return float64(shape.Max())
}

// Process finds the centerline of one ROI and clips the ROI at its ends
func (p *Processor) Process(roi models.Polygon, shape models.Shape) (*Result, error) {
	return p.process(roi, shape, "roi")
}

func (p *Processor) process(roi models.Polygon, shape models.Shape, stage string) (*Result, error) {
	mask, err := raster.Rasterize(roi, shape)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize ROI: %w", err)
	}

	cl, err := centerline.FromMask(mask, p.params.KNeighbours)
	if err != nil {
		return nil, fmt.Errorf("failed to find centerline: %w", err)
	}

	clipped, err := clip.ClipROI(roi, cl, p.bounds(shape), p.params.NormalEstimationLength)
	if err != nil {
		return nil, fmt.Errorf("failed to clip ROI: %w", err)
	}

	result := &Result{
		ClippedROI: clipped,
		Centerline: cl,
		Length:     centerline.Length(cl),
	}

	if p.params.SaveIntermediaryResults {
		if err := p.saveIntermediaryResults(stage, roi, shape, mask, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// saveIntermediaryResults writes the stages of one ROI to its own directory
func (p *Processor) saveIntermediaryResults(stage string, roi models.Polygon, shape models.Shape, mask *models.Mask, result *Result) error {
	stageDir := filepath.Join(p.params.IntermediaryDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	viewer := visualization.NewViewer(shape, p.params.ImageScale)

	maskImg, err := viewer.RenderMask(mask)
	if err != nil {
		return err
	}
	if err := viewer.SaveImage(maskImg, filepath.Join(stageDir, "01_mask.png")); err != nil {
		return err
	}

	skelImg, err := viewer.RenderSkeleton(mask, skeleton.Skeletonize(mask))
	if err != nil {
		return err
	}
	if err := viewer.SaveImage(skelImg, filepath.Join(stageDir, "02_skeleton.png")); err != nil {
		return err
	}

	clImg, err := viewer.RenderCenterline(mask, roi, result.Centerline)
	if err != nil {
		return err
	}
	if err := viewer.SaveImage(clImg, filepath.Join(stageDir, "03_centerline.png")); err != nil {
		return err
	}

	index, err := centerline.NearestIndexMapFromROI(result.ClippedROI, shape, result.Centerline, 1)
	if err != nil {
		return fmt.Errorf("failed to index clipped ROI: %w", err)
	}
	indexImg, err := viewer.RenderIndexMap(index, len(result.Centerline))
	if err != nil {
		return err
	}
	return viewer.SaveImage(indexImg, filepath.Join(stageDir, "04_nearest_index.png"))
}

// SessionResult holds the outcome of processing every ROI of a session
type SessionResult struct {
	// Document is a copy of the input session where every successfully
	// processed ROI is replaced by its clipped version and has its
	// centerline filled in. Failed ROIs keep their vertices and get an
	// empty centerline.
	Document *session.Document

	// Results holds one entry per ROI, nil where processing failed
	Results []*Result

	// Errors maps ROI index to the reason it failed
	Errors map[int]error
}

// ProcessSession processes every ROI of a session. ROIs are independent and
// run concurrently on up to NumCores goroutines. A failing ROI does not stop
// the others; its error is recorded in the result.
func (p *Processor) ProcessSession(doc *session.Document) (*SessionResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	shape := doc.Shape()
	total := len(doc.Vertices)

	type processingResult struct {
		index  int
		result *Result
		err    error
	}

	workers := p.params.NumCores
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	jobs := make(chan int)
	resultChan := make(chan processingResult)

	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				res, err := p.process(doc.Vertices[i], shape, fmt.Sprintf("roi_%03d", i))
				resultChan <- processingResult{index: i, result: res, err: err}
			}
		}()
	}

	go func() {
		for i := 0; i < total; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	out := &SessionResult{
		Document: &session.Document{
			Vertices:    make([]models.Polygon, total),
			Centerlines: make([]models.Polygon, total),
			ImageShape:  doc.ImageShape,
		},
		Results: make([]*Result, total),
		Errors:  make(map[int]error),
	}

	for completed := 1; completed <= total; completed++ {
		res := <-resultChan

		if res.err != nil {
			out.Errors[res.index] = fmt.Errorf("ROI %d: %w", res.index, res.err)
			out.Document.Vertices[res.index] = doc.Vertices[res.index].Clone()
			out.Document.Centerlines[res.index] = models.Polygon{X: []float64{}, Y: []float64{}}
			p.reportProgress(completed, total, fmt.Sprintf("ROI %d failed", res.index))
			continue
		}

		out.Results[res.index] = res.result
		out.Document.Vertices[res.index] = res.result.ClippedROI
		out.Document.Centerlines[res.index] = session.CenterlineToPolygon(res.result.Centerline)
		p.reportProgress(completed, total, fmt.Sprintf("ROI %d: %d centerline points", res.index, len(res.result.Centerline)))
	}

	return out, nil
}
