package facemark

// splitFeature is the test held by one internal tree node: the indices of
// two locations in the stage's shared feature pool and the intensity
// difference threshold deciding which branch a sample is routed to.
type splitFeature struct {
	Idx1, Idx2 uint32
	Thresh     float32
}

// regressionTree is one weak learner of a cascade stage: a complete binary
// decision tree of fixed depth. The internal nodes are stored in level order,
// so the children of node i live at 2i+1 and 2i+2, and node i's left-to-right
// leaf position is i-len(Splits) once i walks past the last split. Every leaf
// holds a shape-sized correction that is added to the running estimate.
type regressionTree struct {
	Splits []splitFeature
	Leaves []Shape
}

// run routes the extracted pool intensities from the root down to a leaf and
// returns the leaf's correction vector. The walk costs exactly tree-depth
// comparisons regardless of the input.
func (t *regressionTree) run(features []float32) Shape {
	i := 0
	for i < len(t.Splits) {
		s := &t.Splits[i]
		if features[s.Idx1]-features[s.Idx2] > s.Thresh {
			i = rightChild(i)
		} else {
			i = leftChild(i)
		}
	}
	return t.Leaves[i-len(t.Splits)]
}

// featureValue computes the intensity difference tested by the split.
func (s *splitFeature) featureValue(features []float32) float32 {
	return features[s.Idx1] - features[s.Idx2]
}

func leftChild(i int) int  { return 2*i + 1 }
func rightChild(i int) int { return 2*i + 2 }
