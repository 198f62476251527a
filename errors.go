package obbtile

import (
	"errors"
	"fmt"
)

// ErrMisalignedResults is returned when a detector does not return exactly
// one result list per submitted tile
var ErrMisalignedResults = errors.New("detector results not aligned with tiles")

// ConfigurationError is returned for invalid tiling parameters or an empty
// image.  It is raised before any inference takes place.
type ConfigurationError struct {
	// Op is the pipeline stage that failed
	Op string
	// Err is the underlying cause
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DetectionError is returned when the detector fails, is cancelled or
// produces malformed output.  No partial result is available when it occurs.
type DetectionError struct {
	// Op is the pipeline stage that failed
	Op string
	// Err is the underlying cause
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection error in %s: %v", e.Op, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// RenderError is returned when annotations can not be drawn onto the image
type RenderError struct {
	// Op is the pipeline stage that failed
	Op string
	// Err is the underlying cause
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render error in %s: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
