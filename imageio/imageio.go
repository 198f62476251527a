// Package imageio decodes uploaded rasters into BGR Mats and persists
// annotated results.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when data is not an image in any supported format
var ErrUndecodable = errors.New("undecodable image")

// Decode converts encoded image data into a 3 channel BGR Mat.  OpenCV is
// tried first, then the Go image decoders which cover the TIFF, BMP and WebP
// variants OpenCV builds are commonly compiled without.  The caller must
// Close the returned Mat.
func Decode(data []byte) (gocv.Mat, error) {

	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: no data", ErrUndecodable)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)

	if err == nil {
		if !mat.Empty() {
			return mat, nil
		}

		mat.Close()
	}

	img, format, err := image.Decode(bytes.NewReader(data))

	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	mat, err = gocv.ImageToMatRGB(img)

	if err != nil {
		return gocv.NewMat(), fmt.Errorf("error converting %s image: %w", format, err)
	}

	return mat, nil
}

// DecodeFile reads and decodes an image file
func DecodeFile(path string) (gocv.Mat, error) {

	data, err := os.ReadFile(path)

	if err != nil {
		return gocv.NewMat(), fmt.Errorf("error reading image: %w", err)
	}

	return Decode(data)
}

// Save writes img to path, choosing the format from its extension.  The file
// is written alongside path first and renamed into place so readers never
// see a partial image.
func Save(path string, img gocv.Mat) error {

	if img.Empty() {
		return errors.New("can not save empty image")
	}

	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	// keep the extension last so OpenCV picks the right encoder
	tmp := filepath.Join(dir, ".tmp-"+filepath.Base(path))

	if ok := gocv.IMWrite(tmp, img); !ok {
		return fmt.Errorf("error writing image %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error replacing %s: %w", path, err)
	}

	return nil
}
