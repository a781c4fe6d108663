package facemark

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// The imglab XML dataset layout: a list of images, each carrying labeled
// boxes, each box carrying its named landmark parts.
type xmlDataset struct {
	XMLName xml.Name   `xml:"dataset"`
	Images  []xmlImage `xml:"images>image"`
}

type xmlImage struct {
	File  string   `xml:"file,attr"`
	Boxes []xmlBox `xml:"box"`
}

type xmlBox struct {
	Top    float32   `xml:"top,attr"`
	Left   float32   `xml:"left,attr"`
	Width  float32   `xml:"width,attr"`
	Height float32   `xml:"height,attr"`
	Parts  []xmlPart `xml:"part"`
}

type xmlPart struct {
	Name string  `xml:"name,attr"`
	X    float32 `xml:"x,attr"`
	Y    float32 `xml:"y,attr"`
}

// LoadDataset reads an imglab-style XML metadata file and loads every image
// it references, with paths resolved relative to the XML file's directory.
// The landmark parts of each box are ordered by their numeric name, so part
// "10" sorts after part "9" regardless of the order in the file.
func LoadDataset(path string) ([]*Image, [][]Detection, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unable to read the dataset file %q", path)
	}

	var data xmlDataset
	if err := xml.Unmarshal(enc, &data); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse the dataset file %q", path)
	}

	baseDir := filepath.Dir(path)
	images := make([]*Image, 0, len(data.Images))
	detections := make([][]Detection, 0, len(data.Images))

	for _, entry := range data.Images {
		src, err := imaging.Open(filepath.Join(baseDir, entry.File))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "unable to load the image %q", entry.File)
		}

		dets := make([]Detection, 0, len(entry.Boxes))
		for i, box := range entry.Boxes {
			shape, err := boxShape(box)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "box %d of image %q", i, entry.File)
			}
			rect := NewRect(box.Left, box.Top, box.Left+box.Width, box.Top+box.Height)
			dets = append(dets, NewDetection(rect, shape))
		}

		images = append(images, ImageFromImage(src))
		detections = append(detections, dets)
	}
	return images, detections, nil
}

// boxShape orders the parts of one labeled box by their numeric name and
// converts them to a shape.
func boxShape(box xmlBox) (Shape, error) {
	type numberedPart struct {
		idx int
		pt  Point
	}
	parts := make([]numberedPart, 0, len(box.Parts))
	for _, p := range box.Parts {
		idx, err := strconv.Atoi(p.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "part name %q is not numeric", p.Name)
		}
		parts = append(parts, numberedPart{idx: idx, pt: Point{X: p.X, Y: p.Y}})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].idx < parts[j].idx })

	shape := make(Shape, len(parts))
	for i, p := range parts {
		shape[i] = p.pt
	}
	return shape, nil
}

// TrainFile trains a predictor from the labeled images of an XML dataset
// file. It is the file-based convenience form of Train.
func TrainFile(datasetPath string, opts TrainingOptions) (*Predictor, error) {
	return TrainFileWithContext(context.Background(), datasetPath, opts)
}

// TrainFileWithContext is TrainFile with best-effort cancellation.
func TrainFileWithContext(ctx context.Context, datasetPath string, opts TrainingOptions) (*Predictor, error) {
	images, detections, err := LoadDataset(datasetPath)
	if err != nil {
		return nil, err
	}
	return TrainWithContext(ctx, images, detections, opts)
}

// TestFile evaluates a predictor against the labeled images of an XML
// dataset file and returns the mean average error.
func TestFile(datasetPath string, p *Predictor) (float64, error) {
	images, detections, err := LoadDataset(datasetPath)
	if err != nil {
		return 0, err
	}
	return Test(p, images, detections, nil)
}
