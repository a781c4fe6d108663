package facemark

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Point is a 2D coordinate expressed in either absolute image space
// or in the box-normalized reference space, depending on the context.
type Point struct {
	X, Y float32
}

// Add returns the component-wise sum of two points.
func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y}
}

// Sub returns the component-wise difference of two points.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

// Dist returns the Euclidean distance between two points.
func (p Point) Dist(q Point) float32 {
	return math32.Hypot(p.X-q.X, p.Y-q.Y)
}

// Shape is an ordered set of landmark points describing the object pose.
// All shapes handled by one predictor have the same, fixed length.
type Shape []Point

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

// Rect delimits the image region the landmarks are predicted into.
type Rect struct {
	Left, Top, Right, Bottom float32
}

// NewRect constructs a rectangle from the left-top and right-bottom corners.
func NewRect(left, top, right, bottom float32) Rect {
	return Rect{Left: left, Top: top, Right: right, Bottom: bottom}
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float32 {
	return r.Right - r.Left
}

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float32 {
	return r.Bottom - r.Top
}

// IsDegenerate reports whether the rectangle cannot host a normalized
// coordinate frame, i.e. one of its sides collapsed to zero or below.
func (r Rect) IsDegenerate() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

func (r Rect) String() string {
	return fmt.Sprintf("(%v, %v)-(%v, %v)", r.Left, r.Top, r.Right, r.Bottom)
}

// Detection pairs a bounding rectangle with the landmark points
// located inside of it. The points are stored in absolute image coordinates.
type Detection struct {
	Rect   Rect
	Points Shape
}

// NewDetection constructs a labeled or predicted object instance.
func NewDetection(rect Rect, points Shape) Detection {
	return Detection{Rect: rect, Points: points}
}

// NumParts returns the number of landmark points of the detection.
func (d Detection) NumParts() int {
	return len(d.Points)
}

// Part returns the landmark point at the given index.
// Querying an index outside of [0, NumParts) is rejected with a range error
// instead of being silently clamped.
func (d Detection) Part(idx int) (Point, error) {
	if idx < 0 || idx >= len(d.Points) {
		return Point{}, errors.Errorf("part index %d out of range [0, %d)", idx, len(d.Points))
	}
	return d.Points[idx], nil
}

// transform is a 4-parameter axis-aligned similarity: a per-axis scale
// followed by a translation. No rotation term is ever needed, since both the
// box-normalization frame and the shape-to-shape alignment are axis-aligned.
type transform struct {
	scaleX, scaleY float32
	transX, transY float32
}

// apply maps a point through the transform.
func (t transform) apply(p Point) Point {
	return Point{
		X: t.scaleX*p.X + t.transX,
		Y: t.scaleY*p.Y + t.transY,
	}
}

// applyScale maps a displacement vector through the transform,
// ignoring the translation term.
func (t transform) applyScale(p Point) Point {
	return Point{X: t.scaleX * p.X, Y: t.scaleY * p.Y}
}

// normalizingTransform maps the rectangle onto the unit square.
// The rectangle must not be degenerate.
func normalizingTransform(r Rect) transform {
	sx := 1 / r.Width()
	sy := 1 / r.Height()
	return transform{
		scaleX: sx, scaleY: sy,
		transX: -r.Left * sx, transY: -r.Top * sy,
	}
}

// unnormalizingTransform maps the unit square back onto the rectangle.
// It is the exact inverse of normalizingTransform for the same rectangle.
func unnormalizingTransform(r Rect) transform {
	return transform{
		scaleX: r.Width(), scaleY: r.Height(),
		transX: r.Left, transY: r.Top,
	}
}

// Normalize maps a shape from absolute image coordinates into the
// box-normalized frame of the rectangle.
func Normalize(s Shape, r Rect) (Shape, error) {
	if r.IsDegenerate() {
		return nil, errors.Errorf("cannot normalize into a degenerate rectangle %s", r)
	}
	return mapShape(s, normalizingTransform(r)), nil
}

// Denormalize maps a box-normalized shape back into absolute image
// coordinates. It is the inverse of Normalize for the same rectangle.
func Denormalize(s Shape, r Rect) (Shape, error) {
	if r.IsDegenerate() {
		return nil, errors.Errorf("cannot denormalize from a degenerate rectangle %s", r)
	}
	return mapShape(s, unnormalizingTransform(r)), nil
}

// mapShape applies the transform to every point of the shape.
func mapShape(s Shape, t transform) Shape {
	out := make(Shape, len(s))
	for i, p := range s {
		out[i] = t.apply(p)
	}
	return out
}

// similarityTransform finds the least-squares axis-aligned similarity
// mapping the first shape onto the second one. Both shapes must have the
// same length. An axis with no spread keeps a unit scale, so that aligning
// a shape with itself is always the identity.
func similarityTransform(from, to Shape) transform {
	var meanFrom, meanTo Point
	n := float32(len(from))
	for i := range from {
		meanFrom = meanFrom.Add(from[i])
		meanTo = meanTo.Add(to[i])
	}
	meanFrom = Point{meanFrom.X / n, meanFrom.Y / n}
	meanTo = Point{meanTo.X / n, meanTo.Y / n}

	var covX, covY, varX, varY float32
	for i := range from {
		df := from[i].Sub(meanFrom)
		dt := to[i].Sub(meanTo)
		covX += df.X * dt.X
		covY += df.Y * dt.Y
		varX += df.X * df.X
		varY += df.Y * df.Y
	}

	sx, sy := float32(1), float32(1)
	if varX > 0 {
		sx = covX / varX
	}
	if varY > 0 {
		sy = covY / varY
	}
	return transform{
		scaleX: sx, scaleY: sy,
		transX: meanTo.X - sx*meanFrom.X,
		transY: meanTo.Y - sy*meanFrom.Y,
	}
}
