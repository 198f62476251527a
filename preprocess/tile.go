package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrInvalidTiling is returned when the tile size and overlap can not produce
// a positive stride, or the source image has no pixels to partition
var ErrInvalidTiling = errors.New("invalid tiling parameters")

// Tile defines a cropped region of the source image and the offset of that
// region in the source image's coordinate space
type Tile struct {
	// Left is the x coordinate of the tile's left edge in the source image
	Left int
	// Top is the y coordinate of the tile's top edge in the source image
	Top int
	// Right is the x coordinate (exclusive) of the tile's right edge
	Right int
	// Bottom is the y coordinate (exclusive) of the tile's bottom edge
	Bottom int
	// region is a view onto the source image Mat, it shares pixel memory with
	// the source and must not be written to
	region gocv.Mat
}

// Offset returns the tile's top left corner in source image coordinates
func (t *Tile) Offset() image.Point {
	return image.Pt(t.Left, t.Top)
}

// Rect returns the tile's rectangle in source image coordinates
func (t *Tile) Rect() image.Rectangle {
	return image.Rect(t.Left, t.Top, t.Right, t.Bottom)
}

// Width of the tile in pixels, boundary tiles can be narrower than the
// configured tile size
func (t *Tile) Width() int {
	return t.Right - t.Left
}

// Height of the tile in pixels
func (t *Tile) Height() int {
	return t.Bottom - t.Top
}

// Mat returns the tile's pixel data
func (t *Tile) Mat() gocv.Mat {
	return t.region
}

// Close releases the tile's region header.  The source image is unaffected.
func (t *Tile) Close() error {
	return t.region.Close()
}

// Grid returns the tile rectangles covering an image of the given dimensions.
// The grid is walked top to bottom then left to right, with a stride of
// tileSize-overlap on both axes starting at (0,0).  Tiles on the right and
// bottom edges are clipped to the image and are not padded.
func Grid(width, height, tileSize, overlap int) ([]image.Rectangle, error) {

	if tileSize <= 0 {
		return nil, fmt.Errorf("%w: tile size %d must be positive",
			ErrInvalidTiling, tileSize)
	}

	if overlap < 0 || overlap >= tileSize {
		return nil, fmt.Errorf("%w: overlap %d must be in range [0,%d)",
			ErrInvalidTiling, overlap, tileSize)
	}

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image dimensions %dx%d are empty",
			ErrInvalidTiling, width, height)
	}

	stride := tileSize - overlap

	cols := (width + stride - 1) / stride
	rows := (height + stride - 1) / stride
	rects := make([]image.Rectangle, 0, cols*rows)

	for top := 0; top < height; top += stride {
		for left := 0; left < width; left += stride {
			rects = append(rects, image.Rect(left, top,
				min(left+tileSize, width), min(top+tileSize, height)))
		}
	}

	return rects, nil
}

// Partition slices the source image into tiles using the layout returned by
// Grid.  Each tile is a region view of src, so src must outlive the returned
// tiles.  Call CloseTiles when finished with them.
func Partition(src gocv.Mat, tileSize, overlap int) ([]Tile, error) {

	rects, err := Grid(src.Cols(), src.Rows(), tileSize, overlap)

	if err != nil {
		return nil, err
	}

	tiles := make([]Tile, 0, len(rects))

	for _, rect := range rects {
		tiles = append(tiles, Tile{
			Left:   rect.Min.X,
			Top:    rect.Min.Y,
			Right:  rect.Max.X,
			Bottom: rect.Max.Y,
			region: src.Region(rect),
		})
	}

	return tiles, nil
}

// CloseTiles releases all tiles returned by Partition
func CloseTiles(tiles []Tile) error {
	var errs []error

	for i := range tiles {
		errs = append(errs, tiles[i].Close())
	}

	return errors.Join(errs...)
}
