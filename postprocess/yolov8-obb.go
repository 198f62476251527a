package postprocess

import (
	"fmt"
	"math"
	"sort"

	"github.com/swdee/go-obbtile/preprocess"
)

// YOLOv8obb defines the struct for decoding the float output tensor of a
// YOLOv8/YOLO11 oriented bounding box model exported to ONNX
type YOLOv8obb struct {
	// Params are the Model configuration parameters
	Params YOLOv8obbParams
}

// YOLOv8obbParams defines the struct containing the YOLOv8-obb parameters to use
// for post processing operations
type YOLOv8obbParams struct {
	// BoxThreshold is the minimum class score required for an anchor to be
	// considered a detection
	BoxThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed rotated Intersection Over Union (IoU) between two
	// boxes of the same class for both to be kept
	NMSThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects returned per tile
	MaxObjectNumber int
}

// YOLOv8obbDOTAv1Params returns an instance of YOLOv8obbParams configured
// with default values for a Model trained on the DOTAv1 dataset
// - Object Classes: 15
// - Box Threshold: 0.25
// - NMS Threshold: 0.7
// - Maximum Object Number: 300
func YOLOv8obbDOTAv1Params() YOLOv8obbParams {
	return YOLOv8obbParams{
		BoxThreshold:    0.25,
		NMSThreshold:    0.7,
		ObjectClassNum:  15,
		MaxObjectNumber: 300,
	}
}

// NewYOLOv8obb returns an instance of the YOLOv8obb post processor
func NewYOLOv8obb(p YOLOv8obbParams) *YOLOv8obb {
	return &YOLOv8obb{
		Params: p,
	}
}

// Rows returns the number of values the model outputs per anchor, being the
// box center and size, one score per class and the angle
func (y *YOLOv8obb) Rows() int {
	return 4 + y.Params.ObjectClassNum + 1
}

// DetectObjects decodes the output tensor of a single image, laid out as
// [Rows(), anchors], into detections in the coordinate space of the tile the
// resizer letterboxed.  Results are ordered by descending confidence.
func (y *YOLOv8obb) DetectObjects(output []float32,
	resizer *preprocess.Resizer) ([]RawDetection, error) {

	rows := y.Rows()

	if len(output) == 0 || len(output)%rows != 0 {
		return nil, fmt.Errorf("output of %d values is not a multiple of %d rows",
			len(output), rows)
	}

	anchors := len(output) / rows
	angleRow := 4 + y.Params.ObjectClassNum

	candidates := make([]RawDetection, 0)

	for a := 0; a < anchors; a++ {

		// find the highest scoring class for this anchor
		best := -1
		bestScore := float32(0)

		for c := 0; c < y.Params.ObjectClassNum; c++ {
			score := output[(4+c)*anchors+a]

			if score > bestScore {
				best = c
				bestScore = score
			}
		}

		if best < 0 || bestScore < y.Params.BoxThreshold {
			continue
		}

		candidates = append(candidates, RawDetection{
			CX:         float64(output[a]),
			CY:         float64(output[anchors+a]),
			Width:      float64(output[2*anchors+a]),
			Height:     float64(output[3*anchors+a]),
			Angle:      float64(output[angleRow*anchors+a]),
			Confidence: float64(bestScore),
			ClassID:    best,
		})
	}

	if len(candidates) == 0 {
		// no object detected
		return nil, nil
	}

	kept := NMS(candidates, float64(y.Params.NMSThreshold))

	if y.Params.MaxObjectNumber > 0 && len(kept) > y.Params.MaxObjectNumber {
		kept = kept[:y.Params.MaxObjectNumber]
	}

	// map boxes out of the letterboxed tensor back onto the tile
	if resizer != nil {
		for i := range kept {
			kept[i].CX, kept[i].CY = resizer.Restore(kept[i].CX, kept[i].CY)
			kept[i].Width = resizer.RestoreLength(kept[i].Width)
			kept[i].Height = resizer.RestoreLength(kept[i].Height)
		}
	}

	return kept, nil
}

// NMS performs class aware Non-Maximum Suppression over rotated boxes.  A box
// is dropped when its rotated IoU with a higher confidence box of the same
// class exceeds threshold.  The surviving boxes are returned in descending
// confidence order.
func NMS(dets []RawDetection, threshold float64) []RawDetection {

	order := make([]RawDetection, len(dets))
	copy(order, dets)

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Confidence > order[j].Confidence
	})

	suppressed := make([]bool, len(order))
	kept := make([]RawDetection, 0, len(order))

	for i := range order {
		if suppressed[i] {
			continue
		}

		kept = append(kept, order[i])

		for j := i + 1; j < len(order); j++ {
			if suppressed[j] || order[j].ClassID != order[i].ClassID {
				continue
			}

			if RotatedIoU(order[i], order[j]) > threshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// RotatedIoU calculates the Intersection over Union between two rotated boxes
func RotatedIoU(a, b RawDetection) float64 {

	corners1 := Corners(a.CX, a.CY, a.Width, a.Height, a.Angle)
	corners2 := Corners(b.CX, b.CY, b.Width, b.Height, b.Angle)

	pts := make([]Point, 0, 24)

	// corners of each box that lie inside the other
	for _, p := range corners1 {
		if pointInQuadrilateral(p, corners2) {
			pts = append(pts, p)
		}
	}

	for _, p := range corners2 {
		if pointInQuadrilateral(p, corners1) {
			pts = append(pts, p)
		}
	}

	// crossings of the edges of both boxes
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if p, ok := lineSegmentIntersection(corners1, corners2, i, j); ok {
				pts = append(pts, p)
			}
		}
	}

	inter := polygonArea(sortVertexInConvexPolygon(pts))
	union := a.Width*a.Height + b.Width*b.Height - inter

	if union <= 0 {
		return 0
	}

	return inter / union
}

// pointInQuadrilateral checks if a point is inside a rectangle given by its
// corners in order
func pointInQuadrilateral(pt Point, corners [4]Point) bool {

	ab0 := corners[1].X - corners[0].X
	ab1 := corners[1].Y - corners[0].Y
	ad0 := corners[3].X - corners[0].X
	ad1 := corners[3].Y - corners[0].Y
	ap0 := pt.X - corners[0].X
	ap1 := pt.Y - corners[0].Y

	abab := ab0*ab0 + ab1*ab1
	abap := ab0*ap0 + ab1*ap1
	adad := ad0*ad0 + ad1*ad1
	adap := ad0*ap0 + ad1*ap1

	return abab >= abap && abap >= 0 && adad >= adap && adap >= 0
}

// lineSegmentIntersection returns the crossing point of edge i of the first
// box with edge j of the second box
func lineSegmentIntersection(pts1, pts2 [4]Point, i, j int) (Point, bool) {

	A := pts1[i]
	B := pts1[(i+1)%4]
	C := pts2[j]
	D := pts2[(j+1)%4]

	BA0 := B.X - A.X
	BA1 := B.Y - A.Y
	DA0 := D.X - A.X
	CA0 := C.X - A.X
	DA1 := D.Y - A.Y
	CA1 := C.Y - A.Y

	// check directions using cross product
	acd := DA1*CA0 > CA1*DA0
	bcd := (D.Y-B.Y)*(C.X-B.X) > (C.Y-B.Y)*(D.X-B.X)

	if acd == bcd {
		return Point{}, false
	}

	abc := CA1*BA0 > BA1*CA0
	abd := DA1*BA0 > BA1*DA0

	if abc == abd {
		return Point{}, false
	}

	DC0 := D.X - C.X
	DC1 := D.Y - C.Y
	ABBA := A.X*B.Y - B.X*A.Y
	CDDC := C.X*D.Y - D.X*C.Y
	DH := BA1*DC0 - BA0*DC1

	if DH == 0 {
		return Point{}, false
	}

	return Point{
		X: (ABBA*DC0 - BA0*CDDC) / DH,
		Y: (ABBA*DC1 - BA1*CDDC) / DH,
	}, true
}

// sortVertexInConvexPolygon orders the vertices of a convex polygon by their
// angle around its centroid
func sortVertexInConvexPolygon(pts []Point) []Point {

	if len(pts) == 0 {
		return pts
	}

	var center Point

	for _, p := range pts {
		center.X += p.X
		center.Y += p.Y
	}

	center.X /= float64(len(pts))
	center.Y /= float64(len(pts))

	sort.Slice(pts, func(i, j int) bool {
		return math.Atan2(pts[i].Y-center.Y, pts[i].X-center.X) <
			math.Atan2(pts[j].Y-center.Y, pts[j].X-center.X)
	})

	return pts
}

// polygonArea calculates the area of a convex polygon by decomposing it into
// triangles fanned from the first vertex
func polygonArea(pts []Point) float64 {

	area := 0.0

	for i := 1; i < len(pts)-1; i++ {
		area += triangleArea(pts[0], pts[i], pts[i+1])
	}

	return area
}

// triangleArea calculates the area of a triangle
func triangleArea(a, b, c Point) float64 {
	return math.Abs((a.X-c.X)*(b.Y-c.Y)-(a.Y-c.Y)*(b.X-c.X)) / 2.0
}
