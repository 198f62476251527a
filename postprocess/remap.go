package postprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateBox is returned when a detection has no area or non finite
// coordinates and so can not be rendered
var ErrDegenerateBox = errors.New("degenerate detection box")

// Remap translates a tile local detection into source image coordinates by
// adding the tile offset to its center.  Size and angle are invariant under
// translation and pass through unchanged.
func Remap(raw RawDetection, offset image.Point, classes ClassTable) (GlobalDetection, error) {

	if err := validate(raw); err != nil {
		return GlobalDetection{}, err
	}

	g := GlobalDetection{
		RawDetection: raw,
		ClassName:    classes.Name(raw.ClassID),
	}

	g.CX = raw.CX + float64(offset.X)
	g.CY = raw.CY + float64(offset.Y)
	g.Corners = Corners(g.CX, g.CY, g.Width, g.Height, g.Angle)

	return g, nil
}

// validate checks the box can be turned into a polygon
func validate(raw RawDetection) error {

	for _, v := range []float64{raw.CX, raw.CY, raw.Width, raw.Height, raw.Angle} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non finite value in %+v", ErrDegenerateBox, raw)
		}
	}

	if raw.Width <= 0 || raw.Height <= 0 {
		return fmt.Errorf("%w: size %gx%g", ErrDegenerateBox, raw.Width, raw.Height)
	}

	return nil
}

// Corners returns the four vertices of a rotated rectangle.  The unrotated
// corners (±w/2, ±h/2) are rotated about the origin by angle radians and then
// translated to (cx, cy).  Vertex order is top-left, top-right, bottom-right,
// bottom-left of the unrotated box.
func Corners(cx, cy, w, h, angle float64) [4]Point {

	sin, cos := math.Sincos(angle)

	rot := mat.NewDense(2, 2, []float64{
		cos, -sin,
		sin, cos,
	})

	// one column per corner
	box := mat.NewDense(2, 4, []float64{
		-w / 2, w / 2, w / 2, -w / 2,
		-h / 2, -h / 2, h / 2, h / 2,
	})

	var out mat.Dense
	out.Mul(rot, box)

	var pts [4]Point

	for i := range pts {
		pts[i] = Point{X: out.At(0, i) + cx, Y: out.At(1, i) + cy}
	}

	return pts
}

// Bounds returns the axis aligned bounding rectangle of the corners
func Bounds(corners [4]Point) (minPt, maxPt Point) {

	minPt = corners[0]
	maxPt = corners[0]

	for _, p := range corners[1:] {
		minPt.X = math.Min(minPt.X, p.X)
		minPt.Y = math.Min(minPt.Y, p.Y)
		maxPt.X = math.Max(maxPt.X, p.X)
		maxPt.Y = math.Max(maxPt.Y, p.Y)
	}

	return minPt, maxPt
}
