// Package visualization renders the intermediate stages of centerline
// extraction as images, so a run can be inspected next to the background
// image the ROIs were drawn on.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
)

var (
	background = color.RGBA{A: 255}
	maskColor  = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	skelColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	roiColor   = color.RGBA{R: 255, G: 200, B: 0, A: 255}
)

// Viewer renders per-ROI stages at a fixed image shape
type Viewer struct {
	shape models.Shape

	// scale is the integer upscaling factor applied when saving
	scale int
}

// NewViewer creates a viewer for images of the given shape. Saved images
// are upscaled by scale using nearest-neighbour sampling; values below 1
// are treated as 1.
func NewViewer(shape models.Shape, scale int) *Viewer {
	if scale < 1 {
		scale = 1
	}
	return &Viewer{shape: shape, scale: scale}
}

func (v *Viewer) checkShape(s models.Shape) error {
	if s != v.shape {
		return fmt.Errorf("shape %s does not match viewer shape %s", s, v.shape)
	}
	return nil
}

// RenderMask draws the mask in white on black
func (v *Viewer) RenderMask(mask *models.Mask) (*image.Gray, error) {
	if err := v.checkShape(mask.Shape()); err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, v.shape.Width, v.shape.Height))
	for row := 0; row < v.shape.Height; row++ {
		for col := 0; col < v.shape.Width; col++ {
			if mask.At(row, col) {
				img.SetGray(col, row, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}

// RenderSkeleton draws the skeleton on top of the dimmed mask it was
// computed from
func (v *Viewer) RenderSkeleton(mask, skel *models.Mask) (*image.RGBA, error) {
	if err := v.checkShape(mask.Shape()); err != nil {
		return nil, err
	}
	if err := v.checkShape(skel.Shape()); err != nil {
		return nil, err
	}

	img := v.canvas()
	for row := 0; row < v.shape.Height; row++ {
		for col := 0; col < v.shape.Width; col++ {
			switch {
			case skel.At(row, col):
				img.SetRGBA(col, row, skelColor)
			case mask.At(row, col):
				img.SetRGBA(col, row, maskColor)
			}
		}
	}
	return img, nil
}

// RenderCenterline draws the mask, the ROI outline and the ordered
// centerline. The centerline fades from blue at its start to red at its end.
func (v *Viewer) RenderCenterline(mask *models.Mask, roi models.Polygon, cl models.Centerline) (*image.RGBA, error) {
	if err := v.checkShape(mask.Shape()); err != nil {
		return nil, err
	}

	img := v.canvas()
	for row := 0; row < v.shape.Height; row++ {
		for col := 0; col < v.shape.Width; col++ {
			if mask.At(row, col) {
				img.SetRGBA(col, row, maskColor)
			}
		}
	}

	n := roi.Len()
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		v.line(img, roi.X[i], roi.Y[i], roi.X[j], roi.Y[j], roiColor)
	}

	for i, p := range cl {
		if mask.Contains(p.Row, p.Col) {
			img.SetRGBA(p.Col, p.Row, gradient(i, len(cl)))
		}
	}
	return img, nil
}

// RenderIndexMap colours every pixel by the position of its nearest
// centerline point. Pixels outside the ROI are black.
func (v *Viewer) RenderIndexMap(index *models.NearestIndexMap, length int) (*image.RGBA, error) {
	if err := v.checkShape(models.Shape{Height: index.Height, Width: index.Width}); err != nil {
		return nil, err
	}

	img := v.canvas()
	for row := 0; row < v.shape.Height; row++ {
		for col := 0; col < v.shape.Width; col++ {
			if i := index.At(row, col); i != models.Outside {
				img.SetRGBA(col, row, gradient(i, length))
			}
		}
	}
	return img, nil
}

func (v *Viewer) canvas() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, v.shape.Width, v.shape.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	return img
}

// line draws a segment with one sample per pixel step along its longest axis
func (v *Viewer) line(img *image.RGBA, x0, y0, x1, y1 float64, c color.RGBA) {
	steps := int(math.Ceil(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))))
	if steps == 0 {
		steps = 1
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		x := int(math.Round(x0 + t*(x1-x0)))
		y := int(math.Round(y0 + t*(y1-y0)))
		if image.Pt(x, y).In(img.Rect) {
			img.SetRGBA(x, y, c)
		}
	}
}

// gradient maps position i of n to a blue-to-red colour
func gradient(i, n int) color.RGBA {
	t := 0.0
	if n > 1 {
		t = float64(i) / float64(n-1)
	}
	t = math.Max(0, math.Min(1, t))
	return color.RGBA{
		R: uint8(math.Round(255 * t)),
		G: 64,
		B: uint8(math.Round(255 * (1 - t))),
		A: 255,
	}
}

// Upscale enlarges an image by the viewer's scale factor
func (v *Viewer) Upscale(img image.Image) image.Image {
	if v.scale == 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*v.scale, b.Dy()*v.scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveImage upscales an image and writes it as a PNG
func (v *Viewer) SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, v.Upscale(img)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}
