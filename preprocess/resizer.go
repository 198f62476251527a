package preprocess

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// LetterBoxColor is the padding color YOLO models are trained with
var LetterBoxColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Resizer handles letterbox scaling of a tile into the model's input tensor
// size and maps coordinates in the model's output back onto the tile
type Resizer struct {
	// srcWidth is the width of the tile
	srcWidth int
	// srcHeight is the height of the tile
	srcHeight int
	// destWidth is the input tensor width
	destWidth int
	// destHeight is the input tensor height
	destHeight int
	// tempMat holds the scaled image before the border is applied
	tempMat gocv.Mat
	// letterbox parameters
	xPad  int
	yPad  int
	scale float64
	// resize dimensions before padding
	resizeW int
	resizeH int
}

// NewResizer returns a resizer used for scaling a tile of srcWidth x srcHeight
// into destWidth x destHeight
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
	}

	r.preCalc()

	return r
}

// Close frees memory allocated during the resize process
func (r *Resizer) Close() error {
	return r.tempMat.Close()
}

// preCalc works out the aspect preserving scale and the padding on each axis
func (r *Resizer) preCalc() {

	scaleW := float64(r.destWidth) / float64(r.srcWidth)
	scaleH := float64(r.destHeight) / float64(r.srcHeight)

	r.scale = min(scaleW, scaleH)

	r.resizeW = min(r.destWidth, int(float64(r.srcWidth)*r.scale+0.5))
	r.resizeH = min(r.destHeight, int(float64(r.srcHeight)*r.scale+0.5))

	r.xPad = (r.destWidth - r.resizeW) / 2
	r.yPad = (r.destHeight - r.resizeH) / 2
}

// LetterBoxResize scales src into dest keeping its aspect ratio and fills the
// remaining area with the given padding color
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, pad color.RGBA) {

	if r.resizeW == r.srcWidth && r.resizeH == r.srcHeight {
		// boundary tiles of a full size tile need no scaling, only padding
		src.CopyTo(&r.tempMat)
	} else {
		interp := gocv.InterpolationArea

		if r.scale > 1 {
			interp = gocv.InterpolationLinear
		}

		gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH), 0, 0, interp)
	}

	gocv.CopyMakeBorder(r.tempMat, dest, r.yPad, r.destHeight-r.resizeH-r.yPad,
		r.xPad, r.destWidth-r.resizeW-r.xPad, gocv.BorderConstant, pad)
}

// Restore maps a point in input tensor coordinates back onto the tile
func (r *Resizer) Restore(x, y float64) (float64, float64) {
	return (x - float64(r.xPad)) / r.scale, (y - float64(r.yPad)) / r.scale
}

// RestoreLength maps a length in input tensor pixels back onto the tile
func (r *Resizer) RestoreLength(l float64) float64 {
	return l / r.scale
}

// ScaleFactor returns the scale factor used in letterbox resize
func (r *Resizer) ScaleFactor() float64 {
	return r.scale
}

// XPad returns the x padding used in letterbox resize
func (r *Resizer) XPad() int {
	return r.xPad
}

// YPad returns the y padding used in letterbox resize
func (r *Resizer) YPad() int {
	return r.yPad
}
