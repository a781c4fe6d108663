package facemark

import (
	"math/rand"

	"github.com/chewxy/math32"
)

// featurePool is the shared set of pixel sample locations reused by every
// regression tree within one cascade stage. Each location is pinned to an
// anchor landmark of the initial shape and kept as a displacement from it,
// so that it can follow the current shape estimate as the cascade refines it.
type featurePool struct {
	// Coords are the sampled locations in the normalized reference frame.
	// They are only needed while training, to bias the split candidate
	// selection towards nearby feature pairs; inference uses anchors and
	// deltas alone.
	Coords []Point

	// Anchors holds for every pool location the index of the landmark
	// it is pinned to.
	Anchors []uint32

	// Deltas holds the displacement of every pool location from its
	// anchor landmark, in normalized coordinates.
	Deltas []Point
}

// samplePool draws a fresh feature pool for one cascade stage. Every
// location picks a random anchor landmark of the initial shape and adds an
// offset drawn uniformly from a disk whose radius grows with the region
// padding, so a larger padding lets the trees probe further away from the
// current landmark estimate.
func samplePool(rnd *rand.Rand, initial Shape, size int, padding float32) *featurePool {
	pool := &featurePool{
		Coords:  make([]Point, size),
		Anchors: make([]uint32, size),
		Deltas:  make([]Point, size),
	}
	radius := baseSampleRadius + padding

	for i := 0; i < size; i++ {
		anchor := rnd.Intn(len(initial))

		// Uniform sampling over the disk area.
		r := radius * math32.Sqrt(float32(rnd.Float64()))
		theta := 2 * math32.Pi * float32(rnd.Float64())
		delta := Point{X: r * math32.Cos(theta), Y: r * math32.Sin(theta)}

		pool.Anchors[i] = uint32(anchor)
		pool.Deltas[i] = delta
		pool.Coords[i] = initial[anchor].Add(delta)
	}
	return pool
}

// baseSampleRadius is the disk radius, in normalized box units, that the
// pool locations are drawn from when no extra region padding is requested.
const baseSampleRadius = 0.5

// extractPixelValues reads the image intensity under every pool location,
// repositioned relative to the current shape estimate. The displacements are
// rescaled through the similarity transform between the initial shape and the
// current estimate before being mapped into absolute image coordinates, so
// the probes stay attached to the pose of the latest guess. Locations falling
// outside of the image read as zero intensity.
func extractPixelValues(img *Image, rect Rect, current, initial Shape, anchors []uint32, deltas []Point, out []float32) {
	tform := similarityTransform(initial, current)
	toImg := unnormalizingTransform(rect)

	for i := range anchors {
		p := current[anchors[i]].Add(tform.applyScale(deltas[i]))
		abs := toImg.apply(p)
		x := int(math32.Round(abs.X))
		y := int(math32.Round(abs.Y))
		out[i] = float32(img.At(x, y))
	}
}
