package obbtile

import (
	"context"
	"fmt"
	"time"

	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/preprocess"
	"github.com/swdee/go-obbtile/render"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Options are the per request tiling and filtering parameters
type Options struct {
	// TileSize is the width and height of each tile in pixels
	TileSize int
	// Overlap is the number of pixels adjacent tiles share
	Overlap int
	// Allow is the set of class names reported.  A nil list reports every
	// class.
	Allow postprocess.AllowList
}

// DefaultOptions returns Options configured with default values
// - Tile Size: 1024
// - Overlap: 0
// - Allow List: plane, ship, storage tank, helicopter
func DefaultOptions() Options {
	return Options{
		TileSize: 1024,
		Overlap:  0,
		Allow:    postprocess.NewAllowList(postprocess.DefaultAllowList...),
	}
}

// PipelineParams defines the rendering parameters of a Pipeline
type PipelineParams struct {
	// Font used for class labels
	Font render.Font
	// Palette colors are assigned to classes from in order of first
	// encounter
	Palette []render.NamedColor
}

// DefaultPipelineParams returns PipelineParams with the default font and
// palette
func DefaultPipelineParams() PipelineParams {
	return PipelineParams{
		Font:    render.DefaultFont(),
		Palette: render.Palette,
	}
}

// Pipeline runs tiled oriented object detection over images.  It holds no
// per request state and is safe for concurrent use provided the Detector is.
type Pipeline struct {
	detector Detector
	params   PipelineParams
	log      *zap.Logger
}

// NewPipeline returns a Pipeline using the given detector.  A nil logger
// disables logging.
func NewPipeline(d Detector, p PipelineParams, log *zap.Logger) *Pipeline {

	if log == nil {
		log = zap.NewNop()
	}

	if len(p.Palette) == 0 {
		p.Palette = render.Palette
	}

	return &Pipeline{
		detector: d,
		params:   p,
		log:      log,
	}
}

// Analyze partitions the image into tiles, runs a single batched inference
// over them, remaps the detections into image coordinates, filters them by
// the allow list and draws the accepted detections onto img in place.  On
// error img may only have been modified if a RenderError is returned.
func (p *Pipeline) Analyze(ctx context.Context, img *gocv.Mat,
	opts Options) (*AnalysisResult, error) {

	start := time.Now()

	if img == nil || img.Empty() {
		return nil, &ConfigurationError{Op: "partition",
			Err: fmt.Errorf("%w: empty image", preprocess.ErrInvalidTiling)}
	}

	tiles, err := preprocess.Partition(*img, opts.TileSize, opts.Overlap)

	if err != nil {
		return nil, &ConfigurationError{Op: "partition", Err: err}
	}

	defer preprocess.CloseTiles(tiles)

	if err := ctx.Err(); err != nil {
		return nil, &DetectionError{Op: "detect", Err: err}
	}

	dets, err := p.detector.DetectBatch(ctx, tiles)

	if err != nil {
		return nil, &DetectionError{Op: "detect", Err: err}
	}

	if len(dets.Tiles) != len(tiles) {
		return nil, &DetectionError{Op: "detect", Err: fmt.Errorf("%w: %d results for %d tiles",
			ErrMisalignedResults, len(dets.Tiles), len(tiles))}
	}

	// inference can return after the caller has given up on the request
	if err := ctx.Err(); err != nil {
		return nil, &DetectionError{Op: "detect", Err: err}
	}

	classes := dets.Classes

	if classes == nil {
		classes = p.detector.Classes()
	}

	accepted, rawCnt, err := p.accept(tiles, dets.Tiles, classes, opts.Allow)

	if err != nil {
		return nil, &DetectionError{Op: "remap", Err: err}
	}

	if err := render.OBBs(img, accepted, p.params.Font); err != nil {
		return nil, &RenderError{Op: "render", Err: err}
	}

	res := Aggregate(accepted, img.Cols(), img.Rows())
	res.Annotated = img

	p.log.Debug("analyzed image",
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
		zap.Int("tiles", len(tiles)),
		zap.Int("raw", rawCnt),
		zap.Int("accepted", len(accepted)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &res, nil
}

// accept remaps every raw detection into image coordinates and assigns a
// color to those the allow list retains.  All detections are remapped
// before anything is drawn so a malformed box leaves the image untouched.
func (p *Pipeline) accept(tiles []preprocess.Tile, raws [][]postprocess.RawDetection,
	classes postprocess.ClassTable,
	allow postprocess.AllowList) ([]postprocess.GlobalDetection, int, error) {

	colors := render.NewClassColorMap(p.params.Palette)

	accepted := make([]postprocess.GlobalDetection, 0)
	rawCnt := 0

	for i := range tiles {
		offset := tiles[i].Offset()

		for j, raw := range raws[i] {
			rawCnt++

			g, err := postprocess.Remap(raw, offset, classes)

			if err != nil {
				return nil, rawCnt, fmt.Errorf("tile %d detection %d: %w", i, j, err)
			}

			if !allow.Allows(g.ClassName) {
				continue
			}

			c := colors.Assign(g.ClassName)
			g.Color = c.Color
			g.ColorName = c.Name

			accepted = append(accepted, g)
		}
	}

	return accepted, rawCnt, nil
}
