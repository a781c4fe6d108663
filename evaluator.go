package facemark

import (
	"github.com/pkg/errors"
)

// Test measures the predictor against labeled data and returns the mean
// average error: the Euclidean distance between each predicted landmark and
// its ground-truth position, averaged over every part of every detection.
//
// The optional scales carry one divisor per detection, mirroring the nesting
// of the detections themselves; they normalize the per-landmark distances,
// typically by the inter-ocular distance. Passing nil (or an empty slice)
// is equivalent to dividing every distance by one, i.e. the error is left
// unnormalized.
func Test(p *Predictor, images []*Image, detections [][]Detection, scales [][]float32) (float64, error) {
	if p == nil {
		return 0, errors.New("cannot test a nil predictor")
	}
	if len(images) != len(detections) {
		return 0, errors.Errorf(
			"the length of the detections list must match the length of the images list: %d vs %d",
			len(images), len(detections))
	}
	if len(scales) > 0 && len(scales) != len(images) {
		return 0, errors.Errorf(
			"the length of the scales list must match the length of the images list: %d vs %d",
			len(scales), len(images))
	}

	var total float64
	var count int
	for i := range images {
		if len(scales) > 0 && len(scales[i]) != len(detections[i]) {
			return 0, errors.Errorf(
				"the length of the scales list for image %d must match its detections list: %d vs %d",
				i, len(scales[i]), len(detections[i]))
		}
		for j, det := range detections[i] {
			if len(det.Points) != p.NumParts() {
				return 0, errors.Errorf(
					"detection %d of image %d has %d parts, the predictor outputs %d",
					j, i, len(det.Points), p.NumParts())
			}

			pred, err := p.Predict(images[i], det.Rect)
			if err != nil {
				return 0, err
			}

			scale := float32(1)
			if len(scales) > 0 {
				scale = scales[i][j]
			}
			for k := range det.Points {
				total += float64(pred.Points[k].Dist(det.Points[k]) / scale)
				count++
			}
		}
	}
	if count == 0 {
		return 0, errors.New("the test set contains no labeled detections")
	}
	return total / float64(count), nil
}
