package facemark

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testImgSize  = 100
	testBlobSize = 9
)

// blobImage renders a bright square blob on a dark background, the kind of
// unambiguous intensity structure the intensity-difference features key on.
func blobImage(cx, cy int) *Image {
	pixels := make([]uint8, testImgSize*testImgSize)
	for i := range pixels {
		pixels[i] = 20
	}
	for y := cy - testBlobSize; y <= cy+testBlobSize; y++ {
		for x := cx - testBlobSize; x <= cx+testBlobSize; x++ {
			if x >= 0 && x < testImgSize && y >= 0 && y < testImgSize {
				pixels[y*testImgSize+x] = 230
			}
		}
	}
	return NewImage(pixels, testImgSize, testImgSize)
}

// blobShape places the two landmarks on the blob's horizontal extremes.
func blobShape(cx, cy int) Shape {
	return Shape{
		{X: float32(cx - 8), Y: float32(cy)},
		{X: float32(cx + 8), Y: float32(cy)},
	}
}

// trainingFixture builds a small labeled set where the landmark positions
// follow the blob location, so a working trainer can learn the correlation.
func trainingFixture() ([]*Image, [][]Detection) {
	centers := [][2]int{{30, 40}, {70, 40}, {40, 70}, {60, 30}, {35, 65}, {65, 60}}
	rect := NewRect(10, 10, 90, 90)

	images := make([]*Image, 0, len(centers))
	detections := make([][]Detection, 0, len(centers))
	for _, c := range centers {
		images = append(images, blobImage(c[0], c[1]))
		detections = append(detections, []Detection{
			NewDetection(rect, blobShape(c[0], c[1])),
		})
	}
	return images, detections
}

// testOptions keeps the training runs small enough for the test suite while
// leaving every stage of the pipeline exercised.
func testOptions() TrainingOptions {
	opts := DefaultTrainingOptions()
	opts.CascadeDepth = 4
	opts.TreeDepth = 3
	opts.NumTreesPerCascade = 40
	opts.Nu = 0.25
	opts.OversamplingAmount = 5
	opts.FeaturePoolSize = 60
	opts.NumTestSplits = 40
	opts.RandomSeed = 42
	opts.NumWorkers = 2
	return opts
}

// meanShapeError measures the labeled set against the predictor's initial
// prior alone, i.e. the error before any cascade stage runs.
func meanShapeError(t *testing.T, p *Predictor, images []*Image, detections [][]Detection) float64 {
	t.Helper()

	var total float64
	var count int
	for i := range images {
		for _, det := range detections[i] {
			prior, err := Denormalize(p.initialShape, det.Rect)
			require.NoError(t, err)
			for k := range det.Points {
				total += float64(prior[k].Dist(det.Points[k]))
				count++
			}
		}
	}
	require.NotZero(t, count)
	return total / float64(count)
}

func TestTrain_SmallScenarioStructure(t *testing.T) {
	img := blobImage(50, 50)
	rect := NewRect(10, 10, 90, 90)
	det := NewDetection(rect, blobShape(50, 50))

	opts := testOptions()
	opts.CascadeDepth = 1
	opts.TreeDepth = 2
	opts.NumTreesPerCascade = 1
	opts.OversamplingAmount = 1

	p, err := Train([]*Image{img}, [][]Detection{{det}}, opts)
	require.NoError(t, err)

	require.Equal(t, 1, p.NumStages())
	require.Len(t, p.stages[0].Trees, 1)
	tree := p.stages[0].Trees[0]
	assert.Len(t, tree.Splits, 3)
	assert.Len(t, tree.Leaves, 4)
	assert.Equal(t, 2, p.NumParts())

	// Training on its own example must not end up worse than the prior.
	pred, err := p.Predict(img, rect)
	require.NoError(t, err)

	prior, err := Denormalize(p.initialShape, rect)
	require.NoError(t, err)

	var predErr, priorErr float64
	for k := range det.Points {
		predErr += float64(pred.Points[k].Dist(det.Points[k]))
		priorErr += float64(prior[k].Dist(det.Points[k]))
	}
	assert.LessOrEqual(t, predErr, priorErr+1e-4)
}

func TestTrain_ReducesTrainingError(t *testing.T) {
	images, detections := trainingFixture()

	p, err := Train(images, detections, testOptions())
	require.NoError(t, err)

	trained, err := Test(p, images, detections, nil)
	require.NoError(t, err)

	baseline := meanShapeError(t, p, images, detections)
	assert.Less(t, trained, baseline,
		"the cascade should land closer to the ground truth than the mean shape prior")
}

func TestTrain_IsDeterministic(t *testing.T) {
	images, detections := trainingFixture()
	opts := testOptions()
	opts.CascadeDepth = 2
	opts.NumTreesPerCascade = 10

	p1, err := Train(images, detections, opts)
	require.NoError(t, err)
	p2, err := Train(images, detections, opts)
	require.NoError(t, err)

	assert.Equal(t, p1, p2, "identical inputs and seed must reproduce an identical model")
}

func TestPredict_IsPureAndConcurrencySafe(t *testing.T) {
	images, detections := trainingFixture()
	opts := testOptions()
	opts.CascadeDepth = 2
	opts.NumTreesPerCascade = 10

	p, err := Train(images, detections, opts)
	require.NoError(t, err)

	rect := detections[0][0].Rect
	want, err := p.Predict(images[0], rect)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Detection, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := p.Predict(images[0], rect)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestPredict_TranslationConsistency(t *testing.T) {
	images, detections := trainingFixture()
	opts := testOptions()
	opts.CascadeDepth = 2
	opts.NumTreesPerCascade = 10

	p, err := Train(images, detections, opts)
	require.NoError(t, err)

	const dx, dy = 32, 16
	src := images[0]
	shifted := make([]uint8, (testImgSize+dx)*(testImgSize+dy))
	for y := 0; y < testImgSize; y++ {
		for x := 0; x < testImgSize; x++ {
			shifted[(y+dy)*(testImgSize+dx)+(x+dx)] = src.Pixels[y*testImgSize+x]
		}
	}
	shiftedImg := NewImage(shifted, testImgSize+dx, testImgSize+dy)

	rect := detections[0][0].Rect
	shiftedRect := NewRect(rect.Left+dx, rect.Top+dy, rect.Right+dx, rect.Bottom+dy)

	base, err := p.Predict(src, rect)
	require.NoError(t, err)
	moved, err := p.Predict(shiftedImg, shiftedRect)
	require.NoError(t, err)

	for k := range base.Points {
		assert.InDelta(t, float64(base.Points[k].X+dx), float64(moved.Points[k].X), 3)
		assert.InDelta(t, float64(base.Points[k].Y+dy), float64(moved.Points[k].Y), 3)
	}
}

func TestPredict_RejectsBadInputs(t *testing.T) {
	images, detections := trainingFixture()
	opts := testOptions()
	opts.CascadeDepth = 1
	opts.NumTreesPerCascade = 5

	p, err := Train(images, detections, opts)
	require.NoError(t, err)

	_, err = p.Predict(nil, NewRect(0, 0, 10, 10))
	assert.Error(t, err)

	_, err = p.Predict(images[0], NewRect(10, 10, 10, 50))
	assert.Error(t, err)
}
