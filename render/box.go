package render

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/swdee/go-obbtile/postprocess"
	"gocv.io/x/gocv"
)

// LineThickness is the stroke width of oriented box outlines
const LineThickness = 3

// ErrUnsupportedImage is returned when annotations are drawn onto an image
// that is not a 3 channel 8 bit Mat
var ErrUnsupportedImage = errors.New("unsupported image for rendering")

// Check returns ErrUnsupportedImage unless img can be drawn on
func Check(img *gocv.Mat) error {

	if img == nil || img.Empty() {
		return fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}

	if img.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: mat type %v, expected CV_8UC3", ErrUnsupportedImage,
			img.Type())
	}

	return nil
}

// OBB renders the rotated polygon outline of a single detection and its class
// name label onto the image in the detection's assigned color
func OBB(img *gocv.Mat, det postprocess.GlobalDetection, font Font) error {

	if err := Check(img); err != nil {
		return err
	}

	label := outline(img, det)
	drawLabel(img, label, font)

	return nil
}

// OBBs renders all detections onto the image in emission order, each
// detection's outline followed by its label, so a later box is drawn over the
// label of an earlier one it overlaps.
func OBBs(img *gocv.Mat, dets []postprocess.GlobalDetection, font Font) error {

	if err := Check(img); err != nil {
		return err
	}

	for _, det := range dets {
		drawLabel(img, outline(img, det), font)
	}

	return nil
}

// boxLabel holds the details of a label anchored to a drawn outline
type boxLabel struct {
	det postprocess.GlobalDetection
	// anchor is the top left corner of the box's axis aligned bounds
	anchor image.Point
}

// outline draws the closed polygon through the detection's corners and
// returns the position its label is anchored to
func outline(img *gocv.Mat, det postprocess.GlobalDetection) boxLabel {

	pts := make([]image.Point, len(det.Corners))

	for i, c := range det.Corners {
		pts[i] = image.Pt(int(math.Round(c.X)), int(math.Round(c.Y)))
	}

	ptsVec := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer ptsVec.Close()

	gocv.Polylines(img, ptsVec, true, det.Color, LineThickness)

	minPt, _ := postprocess.Bounds(det.Corners)

	return boxLabel{
		det:    det,
		anchor: image.Pt(int(math.Round(minPt.X)), int(math.Round(minPt.Y))),
	}
}

// drawLabel writes the class name above the top left of the box bounds
func drawLabel(img *gocv.Mat, l boxLabel, font Font) {

	textPos := image.Pt(l.anchor.X, l.anchor.Y-font.LabelMargin)

	gocv.PutTextWithParams(img, l.det.ClassName, textPos, font.Face, font.Scale,
		l.det.Color, font.Thickness, font.LineType, false)
}
