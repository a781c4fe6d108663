package facemark

import (
	"context"
	"math/rand"
	"runtime"
	"sync"

	"github.com/esimov/facemark/utils"
	"github.com/pkg/errors"
)

// TrainingOptions bundles the hyperparameters of the cascade trainer.
// The zero value is not usable; start from DefaultTrainingOptions and
// override what the dataset calls for.
type TrainingOptions struct {
	// CascadeDepth is the number of cascade stages trained into the model.
	CascadeDepth int
	// TreeDepth is the depth of every regression tree. Each tree carries
	// 2^TreeDepth leaves.
	TreeDepth int
	// NumTreesPerCascade is the number of trees boosted within one stage.
	NumTreesPerCascade int
	// Nu is the shrinkage applied to every leaf correction, in (0, 1].
	// Smaller values regularize harder and need more trees to compensate.
	Nu float32
	// OversamplingAmount is the number of training samples generated from
	// each labeled detection, every one starting from a different initial
	// shape guess.
	OversamplingAmount int
	// FeaturePoolSize is the number of pixel locations sampled per stage
	// for the shared feature pool.
	FeaturePoolSize int
	// Lambda controls how tight the feature sampling is: split candidates
	// pairing distant pool locations are accepted with probability
	// 1/(1+Lambda*distance), so larger values prefer local features.
	Lambda float32
	// NumTestSplits is the number of candidate splits scored at every
	// internal tree node.
	NumTestSplits int
	// FeaturePoolRegionPadding widens the sampling disk the pool locations
	// are drawn from, in box-normalized units.
	FeaturePoolRegionPadding float32
	// RandomSeed seeds the single generator driving every random decision
	// of a training run. Identical inputs and seed reproduce an identical
	// model.
	RandomSeed int64
	// NumWorkers caps the goroutines used for feature extraction and split
	// scoring. Zero or negative selects runtime.NumCPU().
	NumWorkers int
}

// DefaultTrainingOptions returns the parameter set that works well for
// frontal face landmarking, matching the defaults of the original cascaded
// regression paper.
func DefaultTrainingOptions() TrainingOptions {
	return TrainingOptions{
		CascadeDepth:             10,
		TreeDepth:                4,
		NumTreesPerCascade:       500,
		Nu:                       0.1,
		OversamplingAmount:       20,
		FeaturePoolSize:          400,
		Lambda:                   0.1,
		NumTestSplits:            20,
		FeaturePoolRegionPadding: 0,
	}
}

// Validate rejects option sets the trainer cannot work with.
func (o TrainingOptions) Validate() error {
	switch {
	case o.Nu <= 0 || o.Nu > 1:
		return errors.Errorf("nu must be in (0, 1], got %v", o.Nu)
	case o.Lambda <= 0:
		return errors.Errorf("lambda must be greater than zero, got %v", o.Lambda)
	case o.FeaturePoolRegionPadding < 0:
		return errors.Errorf("feature pool region padding must not be negative, got %v", o.FeaturePoolRegionPadding)
	case o.CascadeDepth <= 0:
		return errors.Errorf("cascade depth must be at least one, got %d", o.CascadeDepth)
	case o.TreeDepth <= 0:
		return errors.Errorf("tree depth must be at least one, got %d", o.TreeDepth)
	case o.NumTreesPerCascade <= 0:
		return errors.Errorf("number of trees per cascade must be at least one, got %d", o.NumTreesPerCascade)
	case o.OversamplingAmount <= 0:
		return errors.Errorf("oversampling amount must be at least one, got %d", o.OversamplingAmount)
	case o.FeaturePoolSize < 2:
		return errors.Errorf("feature pool size must be at least two, got %d", o.FeaturePoolSize)
	case o.NumTestSplits <= 0:
		return errors.Errorf("number of test splits must be at least one, got %d", o.NumTestSplits)
	}
	return nil
}

// labeledExample ties one ground-truth detection to its source image, with
// the target shape already normalized into the detection rectangle.
type labeledExample struct {
	img    *Image
	rect   Rect
	target Shape
}

// trainingSample is one (image, target, current estimate) tuple the boosting
// rounds operate on. It lives only for the duration of a training run.
type trainingSample struct {
	img      *Image
	rect     Rect
	target   Shape // immutable, normalized
	current  Shape // running estimate, mutated once per tree
	residual Shape // target-current scratch, refreshed per tree
	features []float32
}

// trainer carries the shared state of one training run.
type trainer struct {
	opts    TrainingOptions
	rnd     *rand.Rand
	workers int
	mean    Shape
	samples []*trainingSample
}

// maxSplitRounds bounds how many times a node re-samples its candidate set
// when every candidate degenerates into a one-sided partition.
const maxSplitRounds = 3

// Train grows a shape predictor from labeled images. The detections are a
// two-level sequence: the outer index addresses the image, the inner index
// the labeled instances within it. All shapes must have the same length and
// every bounding rectangle must be non-degenerate.
func Train(images []*Image, detections [][]Detection, opts TrainingOptions) (*Predictor, error) {
	return TrainWithContext(context.Background(), images, detections, opts)
}

// TrainWithContext behaves like Train with best-effort cancellation: the
// context is consulted between tree builds and between cascade stages, the
// natural checkpoints of the procedure.
func TrainWithContext(ctx context.Context, images []*Image, detections [][]Detection, opts TrainingOptions) (*Predictor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	examples, err := collectExamples(images, detections)
	if err != nil {
		return nil, err
	}

	tr := &trainer{
		opts:    opts,
		rnd:     rand.New(rand.NewSource(opts.RandomSeed)),
		workers: opts.NumWorkers,
	}
	if tr.workers <= 0 {
		tr.workers = runtime.NumCPU()
	}

	tr.mean = meanShape(examples)
	tr.samples = tr.oversample(examples)

	stages := make([]cascadeStage, 0, opts.CascadeDepth)
	for c := 0; c < opts.CascadeDepth; c++ {
		stage, err := tr.buildStage(ctx)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return &Predictor{initialShape: tr.mean, stages: stages}, nil
}

// collectExamples validates the two-level training input and normalizes
// every target shape into its detection rectangle.
func collectExamples(images []*Image, detections [][]Detection) ([]labeledExample, error) {
	if len(images) != len(detections) {
		return nil, errors.Errorf(
			"the length of the detections list must match the length of the images list: %d vs %d",
			len(images), len(detections))
	}

	var examples []labeledExample
	numParts := -1
	for i := range images {
		if images[i] == nil {
			return nil, errors.Errorf("training image %d is nil", i)
		}
		for j, det := range detections[i] {
			if det.Rect.IsDegenerate() {
				return nil, errors.Errorf("detection %d of image %d has a degenerate bounding rectangle %s", j, i, det.Rect)
			}
			if len(det.Points) == 0 {
				return nil, errors.Errorf("detection %d of image %d has no landmark points", j, i)
			}
			if numParts == -1 {
				numParts = len(det.Points)
			} else if len(det.Points) != numParts {
				return nil, errors.Errorf(
					"all detections must have the same number of parts: detection %d of image %d has %d, expected %d",
					j, i, len(det.Points), numParts)
			}
			target, err := Normalize(det.Points, det.Rect)
			if err != nil {
				return nil, err
			}
			examples = append(examples, labeledExample{
				img:    images[i],
				rect:   det.Rect,
				target: target,
			})
		}
	}
	if len(examples) == 0 {
		return nil, errors.New("the training set must contain at least one labeled detection")
	}
	return examples, nil
}

// meanShape averages the normalized ground-truth shapes; the result becomes
// the initial prior every prediction starts from.
func meanShape(examples []labeledExample) Shape {
	mean := make(Shape, len(examples[0].target))
	for _, ex := range examples {
		for i, p := range ex.target {
			mean[i] = mean[i].Add(p)
		}
	}
	n := float32(len(examples))
	for i := range mean {
		mean[i] = Point{mean[i].X / n, mean[i].Y / n}
	}
	return mean
}

// oversample replicates every labeled example OversamplingAmount times, each
// replicate starting from a different initial guess: the first one from the
// mean shape, the rest from the ground truth of a randomly chosen other
// example warped into this example's rectangle. The diversity of starting
// points is what teaches the cascade to correct arbitrary initializations.
func (tr *trainer) oversample(examples []labeledExample) []*trainingSample {
	samples := make([]*trainingSample, 0, len(examples)*tr.opts.OversamplingAmount)
	numParts := len(tr.mean)

	for i, ex := range examples {
		for j := 0; j < tr.opts.OversamplingAmount; j++ {
			var current Shape
			if j == 0 || len(examples) == 1 {
				current = tr.mean.Clone()
			} else {
				for {
					k := tr.rnd.Intn(len(examples))
					if k != i {
						current = examples[k].target.Clone()
						break
					}
				}
			}
			samples = append(samples, &trainingSample{
				img:      ex.img,
				rect:     ex.rect,
				target:   ex.target,
				current:  current,
				residual: make(Shape, numParts),
				features: make([]float32, tr.opts.FeaturePoolSize),
			})
		}
	}
	return samples
}

// buildStage runs one boosting round: it samples the stage's shared feature
// pool, extracts the pool intensities for every sample against its current
// estimate, and grows the stage's trees sequentially, each one fitted to the
// residual its predecessors left over.
func (tr *trainer) buildStage(ctx context.Context) (cascadeStage, error) {
	if err := ctx.Err(); err != nil {
		return cascadeStage{}, err
	}

	pool := samplePool(tr.rnd, tr.mean, tr.opts.FeaturePoolSize, tr.opts.FeaturePoolRegionPadding)

	// Per-sample extraction is independent, fan it out over the pool of
	// workers. No randomness is involved, so determinism is unaffected.
	tr.parallelFor(len(tr.samples), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s := tr.samples[i]
			extractPixelValues(s.img, s.rect, s.current, tr.mean, pool.Anchors, pool.Deltas, s.features)
		}
	})

	trees := make([]regressionTree, 0, tr.opts.NumTreesPerCascade)
	for t := 0; t < tr.opts.NumTreesPerCascade; t++ {
		if err := ctx.Err(); err != nil {
			return cascadeStage{}, err
		}
		trees = append(trees, tr.buildTree(pool))
	}
	return cascadeStage{Anchors: pool.Anchors, Deltas: pool.Deltas, Trees: trees}, nil
}

// buildTree greedily grows one fixed-depth regression tree against the
// current residuals and folds its shrunken leaf corrections back into every
// routed sample's running estimate.
func (tr *trainer) buildTree(pool *featurePool) regressionTree {
	numSplits := 1<<tr.opts.TreeDepth - 1
	numLeaves := 1 << tr.opts.TreeDepth
	numParts := len(tr.mean)

	for _, s := range tr.samples {
		for i := range s.residual {
			s.residual[i] = s.target[i].Sub(s.current[i])
		}
	}

	// order holds sample indices; every split partitions its node's range
	// in place, so the routed set of any node is a contiguous slice.
	order := make([]int, len(tr.samples))
	for i := range order {
		order[i] = i
	}
	ranges := make([][2]int, numSplits+numLeaves)
	ranges[0] = [2]int{0, len(order)}

	splits := make([]splitFeature, numSplits)
	for node := 0; node < numSplits; node++ {
		begin, end := ranges[node][0], ranges[node][1]
		split := tr.chooseSplit(pool, order[begin:end])
		splits[node] = split

		mid := tr.partition(split, order, begin, end)
		ranges[leftChild(node)] = [2]int{begin, mid}
		ranges[rightChild(node)] = [2]int{mid, end}
	}

	leaves := make([]Shape, numLeaves)
	for k := 0; k < numLeaves; k++ {
		begin, end := ranges[numSplits+k][0], ranges[numSplits+k][1]
		leaf := make(Shape, numParts)
		if end > begin {
			for _, idx := range order[begin:end] {
				for i, p := range tr.samples[idx].residual {
					leaf[i] = leaf[i].Add(p)
				}
			}
			scale := tr.opts.Nu / float32(end-begin)
			for i := range leaf {
				leaf[i] = Point{leaf[i].X * scale, leaf[i].Y * scale}
			}
			for _, idx := range order[begin:end] {
				cur := tr.samples[idx].current
				for i := range cur {
					cur[i] = cur[i].Add(leaf[i])
				}
			}
		}
		leaves[k] = leaf
	}
	return regressionTree{Splits: splits, Leaves: leaves}
}

// partition reorders order[begin:end] so that the samples routed left (at or
// below the threshold) come first, and returns the boundary index.
func (tr *trainer) partition(split splitFeature, order []int, begin, end int) int {
	mid := begin
	for i := begin; i < end; i++ {
		if split.featureValue(tr.samples[order[i]].features) <= split.Thresh {
			order[i], order[mid] = order[mid], order[i]
			mid++
		}
	}
	return mid
}

// chooseSplit picks the best of NumTestSplits randomly generated candidate
// splits for the routed samples, scored by the sum of squared residual errors
// left after predicting each side with its residual mean. One-sided
// candidates are rejected and the whole set re-sampled a bounded number of
// times before a degenerate split is accepted as a last resort.
func (tr *trainer) chooseSplit(pool *featurePool, routed []int) splitFeature {
	sum := make(Shape, len(tr.mean))
	for _, idx := range routed {
		for i, p := range tr.samples[idx].residual {
			sum[i] = sum[i].Add(p)
		}
	}

	var last splitFeature
	for round := 0; round < maxSplitRounds; round++ {
		// Candidate generation stays on the run's single seeded generator;
		// only the pure scoring pass below runs on the worker pool, so the
		// outcome does not depend on goroutine scheduling.
		candidates := make([]splitFeature, tr.opts.NumTestSplits)
		for i := range candidates {
			candidates[i] = tr.randomSplit(pool, routed)
		}
		last = candidates[len(candidates)-1]

		scores := make([]float64, len(candidates))
		valid := make([]bool, len(candidates))
		tr.parallelFor(len(candidates), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				scores[i], valid[i] = tr.scoreSplit(candidates[i], routed, sum)
			}
		})

		// Ties break on the lowest candidate index, keeping the choice
		// independent of scoring order.
		best, bestScore := -1, 0.0
		for i := range candidates {
			if valid[i] && (best == -1 || scores[i] > bestScore) {
				best, bestScore = i, scores[i]
			}
		}
		if best >= 0 {
			return candidates[best]
		}
	}
	return last
}

// randomSplit draws one candidate: two distinct pool locations, accepted
// with a probability that decays with their distance, and a threshold drawn
// from the empirical intensity-difference distribution of the routed samples.
func (tr *trainer) randomSplit(pool *featurePool, routed []int) splitFeature {
	size := len(pool.Coords)
	var idx1, idx2 int
	for tries := 0; ; tries++ {
		idx1 = tr.rnd.Intn(size)
		idx2 = tr.rnd.Intn(size)
		if idx1 == idx2 {
			continue
		}
		dist := pool.Coords[idx1].Dist(pool.Coords[idx2])
		accept := 1 / (1 + tr.opts.Lambda*dist)
		if float32(tr.rnd.Float64()) < accept || tries > 100 {
			break
		}
	}

	split := splitFeature{Idx1: uint32(idx1), Idx2: uint32(idx2)}
	if len(routed) > 0 {
		s := tr.samples[routed[tr.rnd.Intn(len(routed))]]
		split.Thresh = split.featureValue(s.features)
	} else {
		split.Thresh = float32(tr.rnd.Float64()*256 - 128)
	}
	return split
}

// scoreSplit evaluates a candidate over the routed samples. Maximizing
// |leftSum|^2/leftCount + |rightSum|^2/rightCount is equivalent to minimizing
// the combined sum of squared errors of the two partitions, without having to
// touch every residual twice. Candidates routing everything to one side are
// reported as invalid.
func (tr *trainer) scoreSplit(split splitFeature, routed []int, sum Shape) (float64, bool) {
	leftSum := make(Shape, len(sum))
	leftCount := 0
	for _, idx := range routed {
		s := tr.samples[idx]
		if split.featureValue(s.features) <= split.Thresh {
			for i, p := range s.residual {
				leftSum[i] = leftSum[i].Add(p)
			}
			leftCount++
		}
	}
	rightCount := len(routed) - leftCount
	if leftCount == 0 || rightCount == 0 {
		return 0, false
	}

	var leftDot, rightDot float64
	for i := range sum {
		r := sum[i].Sub(leftSum[i])
		leftDot += float64(leftSum[i].X*leftSum[i].X + leftSum[i].Y*leftSum[i].Y)
		rightDot += float64(r.X*r.X + r.Y*r.Y)
	}
	return leftDot/float64(leftCount) + rightDot/float64(rightCount), true
}

// parallelFor spreads [0, n) in contiguous chunks over the run's workers and
// blocks until every chunk is done.
func (tr *trainer) parallelFor(n int, fn func(lo, hi int)) {
	workers := utils.Min(tr.workers, n)
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := utils.Min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
