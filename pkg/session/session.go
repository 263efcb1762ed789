// Package session reads and writes the JSON files produced while annotating
// vessel ROIs. One file holds every ROI drawn on one background image:
//
//	{"vertices": [{"x": [...], "y": [...]}, ...],
//	 "centerlines": [{"x": [...], "y": [...]}, ...],
//	 "image_shape": [H, W]}
//
// Centerlines are stored in image coordinates, x being the column and y the row.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/yngvem/zebrafish-bloodflow/internal/models"
)

// VertexFileSuffix is appended to the background image stem to name its ROI file
const VertexFileSuffix = "_vertices.json"

// ErrInvalidDocument is returned for documents that do not describe a session
var ErrInvalidDocument = errors.New("invalid session document")

// Document is one annotation session
type Document struct {
	Vertices    []models.Polygon `json:"vertices"`
	Centerlines []models.Polygon `json:"centerlines"`
	ImageShape  [2]int           `json:"image_shape"`
}

// Shape returns the image shape of the session
func (d *Document) Shape() models.Shape {
	return models.Shape{Height: d.ImageShape[0], Width: d.ImageShape[1]}
}

// Validate checks the document-level invariants. Individual polygons are
// validated when they are processed.
func (d *Document) Validate() error {
	if d.ImageShape[0] <= 0 || d.ImageShape[1] <= 0 {
		return fmt.Errorf("%w: image shape %v", ErrInvalidDocument, d.ImageShape)
	}
	if len(d.Centerlines) != 0 && len(d.Centerlines) != len(d.Vertices) {
		return fmt.Errorf("%w: %d ROIs but %d centerlines", ErrInvalidDocument, len(d.Vertices), len(d.Centerlines))
	}
	for i, v := range d.Vertices {
		if len(v.X) != len(v.Y) {
			return fmt.Errorf("%w: ROI %d has %d x and %d y coordinates", ErrInvalidDocument, i, len(v.X), len(v.Y))
		}
	}
	return nil
}

// CenterlineToPolygon converts an ordered centerline to its x/y representation
func CenterlineToPolygon(cl models.Centerline) models.Polygon {
	p := models.Polygon{
		X: make([]float64, len(cl)),
		Y: make([]float64, len(cl)),
	}
	for i, px := range cl {
		p.X[i] = float64(px.Col)
		p.Y[i] = float64(px.Row)
	}
	return p
}

// PolygonToCenterline converts a stored centerline back to pixels
func PolygonToCenterline(p models.Polygon) (models.Centerline, error) {
	if len(p.X) != len(p.Y) {
		return nil, fmt.Errorf("%w: centerline has %d x and %d y coordinates", ErrInvalidDocument, len(p.X), len(p.Y))
	}
	cl := make(models.Centerline, len(p.X))
	for i := range p.X {
		cl[i] = models.Pixel{Row: int(math.Round(p.Y[i])), Col: int(math.Round(p.X[i]))}
	}
	return cl, nil
}

// Load reads a session document from disk
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading session file: %w", err)
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("error parsing session file: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save writes a session document. The file is written to a temporary name
// first and renamed, so an interrupted save never truncates existing work.
func Save(path string, doc *Document) error {
	if doc.Vertices == nil {
		doc.Vertices = []models.Polygon{}
	}
	if doc.Centerlines == nil {
		doc.Centerlines = []models.Polygon{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error replacing session file: %w", err)
	}
	return nil
}

// VertexFilePath returns the ROI file that belongs to a background image
func VertexFilePath(backgroundPath string) string {
	dir := filepath.Dir(backgroundPath)
	stem := strings.TrimSuffix(filepath.Base(backgroundPath), filepath.Ext(backgroundPath))
	return filepath.Join(dir, stem+VertexFileSuffix)
}

// FindVertexFiles walks root and returns every ROI file, sorted by path
func FindVertexFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), VertexFileSuffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error searching for vertex files: %w", err)
	}
	return files, nil
}

// DeleteVertexFiles removes every ROI file under root. With dryRun set the
// files are only listed. The returned slice holds the affected paths.
func DeleteVertexFiles(root string, dryRun bool) ([]string, error) {
	files, err := FindVertexFiles(root)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return files, nil
	}

	deleted := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return deleted, fmt.Errorf("error deleting %s: %w", f, err)
		}
		deleted = append(deleted, f)
	}
	return deleted, nil
}

// ToGeoJSON exports a session as a feature collection with one polygon per
// ROI and one line string per centerline, in image coordinates
func ToGeoJSON(doc *Document) ([]byte, error) {
	fc := geojson.NewFeatureCollection()

	for i, v := range doc.Vertices {
		ring := make(orb.Ring, 0, len(v.X)+1)
		for j := range v.X {
			ring = append(ring, orb.Point{v.X[j], v.Y[j]})
		}
		if len(ring) > 0 {
			ring = append(ring, ring[0])
		}

		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties["kind"] = "roi"
		f.Properties["index"] = i
		fc.Append(f)
	}

	for i, c := range doc.Centerlines {
		line := make(orb.LineString, len(c.X))
		for j := range c.X {
			line[j] = orb.Point{c.X[j], c.Y[j]}
		}

		f := geojson.NewFeature(line)
		f.Properties["kind"] = "centerline"
		f.Properties["index"] = i
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("error encoding GeoJSON: %w", err)
	}
	return data, nil
}
