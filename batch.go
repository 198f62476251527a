package obbtile

import (
	"errors"
	"fmt"
	"image"

	"github.com/swdee/go-obbtile/preprocess"
	"gocv.io/x/gocv"
)

// Batch defines a struct used for letterboxing a set of tiles to the Model's
// input size and concatenating them into a single NCHW float32 tensor for
// batched inference
type Batch struct {
	// blob is the 4D tensor of shape [size, 3, height, width]
	blob gocv.Mat
	// resizers hold the letterbox parameters of each tile for mapping output
	// coordinates back onto the tile
	resizers []*preprocess.Resizer
	// size of the batch
	size int
	// width is the input tensor size width
	width int
	// height is the input tensor size height
	height int
}

// NewBatch letterboxes each tile into width x height, converts BGR to RGB,
// scales pixel values to [0,1] and packs the tiles into a tensor
func NewBatch(tiles []preprocess.Tile, width, height int) (*Batch, error) {

	if len(tiles) == 0 {
		return nil, fmt.Errorf("batch has no tiles")
	}

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid input tensor size %dx%d", width, height)
	}

	b := &Batch{
		blob:     gocv.NewMat(),
		resizers: make([]*preprocess.Resizer, 0, len(tiles)),
		size:     len(tiles),
		width:    width,
		height:   height,
	}

	boxed := make([]gocv.Mat, 0, len(tiles))

	defer func() {
		for _, m := range boxed {
			m.Close()
		}
	}()

	for i := range tiles {
		if tiles[i].Width() <= 0 || tiles[i].Height() <= 0 {
			b.Close()
			return nil, fmt.Errorf("tile %d has no area", i)
		}

		resizer := preprocess.NewResizer(tiles[i].Width(), tiles[i].Height(),
			width, height)
		b.resizers = append(b.resizers, resizer)

		dst := gocv.NewMat()
		resizer.LetterBoxResize(tiles[i].Mat(), &dst, preprocess.LetterBoxColor)
		boxed = append(boxed, dst)
	}

	gocv.BlobFromImages(boxed, &b.blob, 1.0/255.0, image.Pt(width, height),
		gocv.NewScalar(0, 0, 0, 0), true, false, gocv.MatTypeCV32F)

	if b.blob.Empty() {
		b.Close()
		return nil, fmt.Errorf("error creating tensor from %d tiles", len(tiles))
	}

	return b, nil
}

// Size returns the number of tiles in the batch
func (b *Batch) Size() int {
	return b.size
}

// Shape returns the NCHW shape of the tensor
func (b *Batch) Shape() []int64 {
	return []int64{int64(b.size), 3, int64(b.height), int64(b.width)}
}

// Data returns the tensor data.  The slice is backed by the batch's memory
// and is only valid until Close is called.
func (b *Batch) Data() ([]float32, error) {

	data, err := b.blob.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error accessing float32 batch memory: %w", err)
	}

	return data, nil
}

// Resizer returns the letterbox resizer used for the tile at idx
func (b *Batch) Resizer(idx int) *preprocess.Resizer {
	return b.resizers[idx]
}

// GetOutputF32 returns the portion of a batched output tensor belonging to
// the tile at idx, where size is the number of output values per tile.  idx
// starts counting from 0 to (batchsize-1)
func (b *Batch) GetOutputF32(idx int, outputs []float32, size int) ([]float32, error) {

	if idx < 0 || idx >= b.size {
		return nil, fmt.Errorf("index %d out of range [0-%d)", idx, b.size)
	}

	offset := idx * size

	if offset+size > len(outputs) {
		return nil, fmt.Errorf("offset %d out of range [%d,%d)", offset,
			len(outputs), offset+size)
	}

	return outputs[offset : offset+size], nil
}

// Close the batch and free allocated memory
func (b *Batch) Close() error {

	var errs []error

	for _, r := range b.resizers {
		errs = append(errs, r.Close())
	}

	errs = append(errs, b.blob.Close())

	return errors.Join(errs...)
}
