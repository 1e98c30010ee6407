// Package images - Geometry, letterbox remapping and probability mask grids.
package images

import "github.com/chewxy/math32"

// Box is a detection box in model input space. X,Y is the top-left corner.
type Box struct {
	X, Y, W, H float32
}

// Rect is an axis-aligned box in corner form.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// Rect converts the box to corner form.
func (b Box) Rect() Rect {
	return Rect{X1: b.X, Y1: b.Y, X2: b.X + b.W, Y2: b.Y + b.H}
}

// Area returns the area of the rectangle, or 0 when it is degenerate or inverted.
func (r Rect) Area() float32 {
	w := r.X2 - r.X1
	h := r.Y2 - r.Y1
	if !(w > 0) || !(h > 0) {
		return 0
	}
	return w * h
}

// CalculateIoU computes the Intersection over Union of two rectangles.
//
// IoU is the ratio between the area both rectangles share and the area they cover
// together:
//
//	IoU = Area of Intersection / Area of Union
//
// A value of 1.0 means the rectangles are identical and 0.0 means they do not overlap.
// Rectangles that only touch, degenerate rectangles and inverted rectangles (X2 < X1)
// all produce 0. NaN coordinates also produce 0 so that a malformed box can never
// suppress a sibling.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//
//	iou := CalculateIoU(a, b) // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	// Written as negated comparisons so NaN widths fall into the no-overlap branch.
	interW := ix2 - ix1
	interH := iy2 - iy1
	if !(interW > 0) || !(interH > 0) {
		return 0.0
	}
	interArea := interW * interH

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	unionArea := r.Area() + o.Area() - interArea
	if !(unionArea > 0) {
		return 0.0
	}

	return interArea / unionArea
}
