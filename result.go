package obbtile

import (
	"encoding/json"

	"github.com/swdee/go-obbtile/postprocess"
	"gocv.io/x/gocv"
)

// Record is the structured form of an accepted detection in full image
// coordinates
type Record struct {
	ClassName string
	ClassID   int
	// CX and CY are the box center in source image pixels
	CX float64
	CY float64
	// Width and Height are the box size before rotation
	Width  float64
	Height float64
	// Angle is in radians as output by the detector
	Angle      float64
	Confidence float64
	// Color is the name of the display color assigned to the class
	Color string
}

// recordJSON is the wire form of a Record
type recordJSON struct {
	ClassName string     `json:"class_name"`
	ClassID   int        `json:"class_id"`
	OBB       [6]float64 `json:"obb"`
	Color     string     `json:"color,omitempty"`
}

// MarshalJSON encodes the box as an obb array of
// [cx, cy, width, height, angle, confidence]
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ClassName: r.ClassName,
		ClassID:   r.ClassID,
		OBB:       [6]float64{r.CX, r.CY, r.Width, r.Height, r.Angle, r.Confidence},
		Color:     r.Color,
	})
}

// UnmarshalJSON decodes the obb array form written by MarshalJSON
func (r *Record) UnmarshalJSON(data []byte) error {

	var w recordJSON

	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Record{
		ClassName:  w.ClassName,
		ClassID:    w.ClassID,
		CX:         w.OBB[0],
		CY:         w.OBB[1],
		Width:      w.OBB[2],
		Height:     w.OBB[3],
		Angle:      w.OBB[4],
		Confidence: w.OBB[5],
		Color:      w.Color,
	}

	return nil
}

// AnalysisResult is the outcome of analyzing a single image
type AnalysisResult struct {
	// Detections in tile order then detector order within each tile
	Detections []Record
	// Width of the source image
	Width int
	// Height of the source image
	Height int
	// Annotated is the source image with detections drawn on it.  It is
	// owned by the caller of Analyze.
	Annotated *gocv.Mat
}

// Aggregate collects accepted detections into records alongside the full
// resolution image size.  Detections are neither filtered nor transformed.
func Aggregate(dets []postprocess.GlobalDetection, width, height int) AnalysisResult {

	records := make([]Record, 0, len(dets))

	for _, d := range dets {
		records = append(records, Record{
			ClassName:  d.ClassName,
			ClassID:    d.ClassID,
			CX:         d.CX,
			CY:         d.CY,
			Width:      d.Width,
			Height:     d.Height,
			Angle:      d.Angle,
			Confidence: d.Confidence,
			Color:      d.ColorName,
		})
	}

	return AnalysisResult{
		Detections: records,
		Width:      width,
		Height:     height,
	}
}

// ClassCounts returns the number of detections of each class
func (r AnalysisResult) ClassCounts() map[string]int {

	counts := make(map[string]int)

	for _, d := range r.Detections {
		counts[d.ClassName]++
	}

	return counts
}
