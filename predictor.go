package facemark

import (
	"github.com/pkg/errors"
)

// cascadeStage is one boosting round of the predictor: the shared feature
// pool locations the stage samples the image with and the ordered regression
// trees whose corrections are summed into the running shape estimate.
type cascadeStage struct {
	Anchors []uint32
	Deltas  []Point
	Trees   []regressionTree
}

// Predictor locates a fixed set of semantic landmark points inside a
// bounding rectangle of an image. It holds the trained artifact produced by
// Train: the initial mean shape prior and the ordered cascade stages that
// iteratively refine it. A Predictor is immutable after training and safe
// for concurrent use from multiple goroutines.
type Predictor struct {
	initialShape Shape
	stages       []cascadeStage
}

// NumParts returns the number of landmark points the predictor outputs.
func (p *Predictor) NumParts() int {
	return len(p.initialShape)
}

// NumStages returns the number of cascade stages of the predictor.
func (p *Predictor) NumStages() int {
	return len(p.stages)
}

// Predict runs the cascade over the image region delimited by rect and
// returns the detected landmark positions in absolute image coordinates.
// The prediction is a pure function of (predictor, image, rect): no
// randomness is involved and no state is mutated.
func (p *Predictor) Predict(img *Image, rect Rect) (Detection, error) {
	if img == nil {
		return Detection{}, errors.New("cannot predict on a nil image")
	}
	if rect.IsDegenerate() {
		return Detection{}, errors.Errorf("cannot predict into a degenerate rectangle %s", rect)
	}

	current := p.initialShape.Clone()
	features := make([]float32, p.maxPoolSize())

	for i := range p.stages {
		stage := &p.stages[i]

		// The pool is sampled against the estimate as it stands at the
		// start of the stage; the tree corrections accumulate on top of it.
		vals := features[:len(stage.Anchors)]
		extractPixelValues(img, rect, current, p.initialShape, stage.Anchors, stage.Deltas, vals)

		for t := range stage.Trees {
			leaf := stage.Trees[t].run(vals)
			for j := range current {
				current[j] = current[j].Add(leaf[j])
			}
		}
	}

	abs, err := Denormalize(current, rect)
	if err != nil {
		return Detection{}, err
	}
	return NewDetection(rect, abs), nil
}

// maxPoolSize returns the largest feature pool across all stages, so a
// single scratch buffer can serve the whole inference pass.
func (p *Predictor) maxPoolSize() int {
	max := 0
	for i := range p.stages {
		if n := len(p.stages[i].Anchors); n > max {
			max = n
		}
	}
	return max
}
