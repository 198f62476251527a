package obbtile

import (
	"context"

	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/preprocess"
)

// Detections are the results of a single DetectBatch call
type Detections struct {
	// Tiles holds one list of tile local detections per tile, in tile order.
	// A tile with nothing detected has an empty list.
	Tiles [][]postprocess.RawDetection
	// Classes names the class IDs in Tiles.  It belongs to this call only,
	// a nil table falls back to the Detector's Classes.
	Classes postprocess.ClassTable
}

// Detector is an oriented bounding box detector able to run inference on a
// batch of tiles in a single call.  Implementations must be safe for
// concurrent use.
type Detector interface {
	// DetectBatch runs inference over all tiles in one call
	DetectBatch(ctx context.Context, tiles []preprocess.Tile) (Detections, error)
	// Classes returns the table used to name the class IDs the detector
	// outputs
	Classes() postprocess.ClassTable
}
