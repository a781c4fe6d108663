package facemark

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testMarkerColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

func TestDrawLandmarks_Dot(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	det := NewDetection(NewRect(0, 0, 40, 40), Shape{{X: 10, Y: 10}, {X: 30, Y: 20}})

	DrawLandmarks(dst, det, Dot, 2, testMarkerColor)

	assert.Equal(t, testMarkerColor, dst.NRGBAAt(10, 10))
	assert.Equal(t, testMarkerColor, dst.NRGBAAt(30, 20))
	// Outside of the dot radius nothing is painted.
	assert.Equal(t, color.NRGBA{}, dst.NRGBAAt(10, 14))
}

func TestDrawLandmarks_Cross(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	det := NewDetection(NewRect(0, 0, 40, 40), Shape{{X: 20, Y: 20}})

	DrawLandmarks(dst, det, Cross, 3, testMarkerColor)

	assert.Equal(t, testMarkerColor, dst.NRGBAAt(23, 20))
	assert.Equal(t, testMarkerColor, dst.NRGBAAt(20, 17))
	// The cross has no diagonal arms.
	assert.Equal(t, color.NRGBA{}, dst.NRGBAAt(22, 22))
}

func TestDrawLandmarks_ClipsOutOfBounds(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	det := NewDetection(NewRect(0, 0, 8, 8), Shape{{X: -20, Y: 4}, {X: 4, Y: 100}})

	// Must not panic on markers fully outside of the image.
	DrawLandmarks(dst, det, Dot, 3, testMarkerColor)
}

func TestDrawRect(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	DrawRect(dst, NewRect(5, 6, 30, 25), testMarkerColor)

	assert.Equal(t, testMarkerColor, dst.NRGBAAt(5, 6))
	assert.Equal(t, testMarkerColor, dst.NRGBAAt(30, 25))
	assert.Equal(t, testMarkerColor, dst.NRGBAAt(17, 6))
	assert.Equal(t, testMarkerColor, dst.NRGBAAt(5, 15))
	// The interior stays untouched.
	assert.Equal(t, color.NRGBA{}, dst.NRGBAAt(17, 15))
}
