package render

import (
	"gocv.io/x/gocv"
)

// Font defines the parameters for rendering text on an image using GoCV
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Thickness int
	LineType  gocv.LineType
	// LabelMargin is the distance above the top of a box that its label
	// baseline is placed at
	LabelMargin int
}

// DefaultFont returns default font settings
func DefaultFont() Font {
	return Font{
		Face:        gocv.FontHersheySimplex,
		Scale:       0.6,
		Thickness:   2,
		LineType:    gocv.LineAA,
		LabelMargin: 10,
	}
}
