package facemark

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
)

// MarkerStyle selects how the predicted landmarks are rendered.
type MarkerStyle string

const (
	// Dot paints each landmark as a small filled circle.
	Dot MarkerStyle = "dot"
	// Cross paints each landmark as a cross hair.
	Cross MarkerStyle = "cross"
)

// DrawLandmarks paints the landmark points of a detection onto the image
// using the given marker style, size and color. The destination is mutated
// in place; markers falling outside of the image bounds are clipped.
func DrawLandmarks(dst *image.NRGBA, det Detection, style MarkerStyle, size int, col color.NRGBA) {
	if size < 1 {
		size = 1
	}
	for _, p := range det.Points {
		x := int(math32.Round(p.X))
		y := int(math32.Round(p.Y))
		switch style {
		case Cross:
			drawCross(dst, x, y, size, col)
		default:
			drawDot(dst, x, y, size, col)
		}
	}
}

// DrawRect outlines the detection rectangle on the image.
func DrawRect(dst *image.NRGBA, r Rect, col color.NRGBA) {
	left := int(math32.Round(r.Left))
	top := int(math32.Round(r.Top))
	right := int(math32.Round(r.Right))
	bottom := int(math32.Round(r.Bottom))

	for x := left; x <= right; x++ {
		setPixel(dst, x, top, col)
		setPixel(dst, x, bottom, col)
	}
	for y := top; y <= bottom; y++ {
		setPixel(dst, left, y, col)
		setPixel(dst, right, y, col)
	}
}

// drawDot fills a circle of the given radius around the center point.
func drawDot(dst *image.NRGBA, cx, cy, radius int, col color.NRGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(dst, cx+dx, cy+dy, col)
			}
		}
	}
}

// drawCross paints a cross hair of the given arm length around the center point.
func drawCross(dst *image.NRGBA, cx, cy, size int, col color.NRGBA) {
	for d := -size; d <= size; d++ {
		setPixel(dst, cx+d, cy, col)
		setPixel(dst, cx, cy+d, col)
	}
}

// setPixel writes one pixel, silently clipping out-of-bounds coordinates.
func setPixel(dst *image.NRGBA, x, y int, col color.NRGBA) {
	if (image.Point{X: x, Y: y}).In(dst.Bounds()) {
		dst.SetNRGBA(x, y, col)
	}
}
