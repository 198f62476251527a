package obbtile

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/preprocess"
	"gocv.io/x/gocv"
)

// fakeDetector returns canned detections keyed by tile offset
type fakeDetector struct {
	results map[image.Point][]postprocess.RawDetection
	err     error
	// drop removes the last tile's result to misalign the output
	drop bool
	// classes is returned with the detections when set
	classes postprocess.ClassTable
	calls   int
	tiles   int
}

func (f *fakeDetector) DetectBatch(ctx context.Context,
	tiles []preprocess.Tile) (Detections, error) {

	f.calls++
	f.tiles = len(tiles)

	if f.err != nil {
		return Detections{}, f.err
	}

	out := make([][]postprocess.RawDetection, len(tiles))

	for i := range tiles {
		out[i] = f.results[tiles[i].Offset()]
	}

	if f.drop {
		out = out[:len(out)-1]
	}

	return Detections{Tiles: out, Classes: f.classes}, nil
}

func (f *fakeDetector) Classes() postprocess.ClassTable {
	return postprocess.NewClassTable(postprocess.DOTAv1Classes)
}

const (
	plane = 0
	ship  = 1
)

func box(cx, cy float64, class int) postprocess.RawDetection {
	return postprocess.RawDetection{CX: cx, CY: cy, Width: 20, Height: 10,
		Angle: 0.25, Confidence: 0.8, ClassID: class}
}

func blank(width, height int) gocv.Mat {
	return gocv.Zeros(height, width, gocv.MatTypeCV8UC3)
}

func untouched(img gocv.Mat) bool {
	s := img.Sum()
	return s.Val1 == 0 && s.Val2 == 0 && s.Val3 == 0
}

func TestAnalyzeRemapsToGlobal(t *testing.T) {

	img := blank(2048, 1024)
	defer img.Close()

	det := &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
		{1024, 0}: {box(10, 10, ship)},
	}}

	p := NewPipeline(det, DefaultPipelineParams(), nil)

	res, err := p.Analyze(context.Background(), &img, DefaultOptions())

	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if det.calls != 1 || det.tiles != 2 {
		t.Errorf("expected 1 batched call over 2 tiles, got %d calls over %d tiles",
			det.calls, det.tiles)
	}

	if len(res.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(res.Detections))
	}

	d := res.Detections[0]

	if d.CX != 1034 || d.CY != 10 {
		t.Errorf("global center = (%g, %g); want (1034, 10)", d.CX, d.CY)
	}

	if d.Width != 20 || d.Height != 10 || d.Angle != 0.25 {
		t.Errorf("size or angle changed: %+v", d)
	}

	if res.Width != 2048 || res.Height != 1024 {
		t.Errorf("image size = %dx%d; want 2048x1024", res.Width, res.Height)
	}

	if res.Annotated != &img || untouched(img) {
		t.Error("expected detections drawn onto the source image")
	}
}

func TestAnalyzeOverlapKeepsDuplicates(t *testing.T) {

	img := blank(96, 64)
	defer img.Close()

	// tiles start every 32 pixels so the ship at (50, 20) lies in the
	// shared strip of the first two tiles and both report it
	second := box(18, 20, ship)
	second.Confidence = 0.6

	det := &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
		{0, 0}:  {box(50, 20, ship)},
		{32, 0}: {second},
	}}

	p := NewPipeline(det, DefaultPipelineParams(), nil)

	opts := Options{TileSize: 64, Overlap: 32}

	res, err := p.Analyze(context.Background(), &img, opts)

	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if det.tiles != 6 {
		t.Errorf("expected 6 overlapping tiles, got %d", det.tiles)
	}

	if len(res.Detections) != 2 {
		t.Fatalf("expected both tiles' detections kept, got %d", len(res.Detections))
	}

	// tile order puts the first tile's report ahead of the second's
	if res.Detections[0].Confidence != 0.8 || res.Detections[1].Confidence != 0.6 {
		t.Errorf("detections out of tile order: %+v", res.Detections)
	}

	for i, d := range res.Detections {
		if d.CX != 50 || d.CY != 20 {
			t.Errorf("detection %d center = (%g, %g); want (50, 20)", i, d.CX, d.CY)
		}

		if d.ClassName != "ship" || d.Color != "yellow" {
			t.Errorf("detection %d = %s %s; want yellow ship", i, d.Color, d.ClassName)
		}
	}

	if n := res.ClassCounts()["ship"]; n != 2 {
		t.Errorf("ship count = %d; want 2", n)
	}
}

func TestAnalyzeClassFilter(t *testing.T) {

	img := blank(256, 256)
	defer img.Close()

	det := &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
		{0, 0}: {box(50, 50, ship), box(150, 150, plane)},
	}}

	p := NewPipeline(det, DefaultPipelineParams(), nil)

	opts := DefaultOptions()
	opts.Allow = postprocess.NewAllowList("ship")

	res, err := p.Analyze(context.Background(), &img, opts)

	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(res.Detections) != 1 || res.Detections[0].ClassName != "ship" {
		t.Fatalf("expected only the ship, got %+v", res.Detections)
	}

	if res.Detections[0].Color != "yellow" {
		t.Errorf("ship color = %s; want yellow", res.Detections[0].Color)
	}
}

func TestAnalyzeNoAllowList(t *testing.T) {

	img := blank(256, 256)
	defer img.Close()

	det := &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
		{0, 0}: {box(50, 50, 9), box(150, 150, plane)},
	}}

	p := NewPipeline(det, DefaultPipelineParams(), nil)

	opts := DefaultOptions()
	opts.Allow = nil

	res, err := p.Analyze(context.Background(), &img, opts)

	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(res.Detections) != 2 {
		t.Errorf("expected every class accepted, got %d", len(res.Detections))
	}
}

func TestAnalyzeColorsPerRequest(t *testing.T) {

	p := NewPipeline(nil, DefaultPipelineParams(), nil)

	// first request sees plane then ship spread over two tiles
	img1 := blank(128, 64)
	defer img1.Close()

	p.detector = &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
		{0, 0}:  {box(20, 20, plane)},
		{64, 0}: {box(20, 20, ship), box(40, 40, ship)},
	}}

	opts := Options{TileSize: 64, Allow: postprocess.NewAllowList("plane", "ship")}

	res1, err := p.Analyze(context.Background(), &img1, opts)

	if err != nil {
		t.Fatalf("first Analyze failed: %v", err)
	}

	want := []string{"yellow", "red", "red"}

	for i, d := range res1.Detections {
		if d.Color != want[i] {
			t.Errorf("request 1 detection %d (%s) color = %s; want %s", i,
				d.ClassName, d.Color, want[i])
		}
	}

	// second request only sees ships and assigns colors afresh
	img2 := blank(128, 64)
	defer img2.Close()

	p.detector = &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
		{64, 0}: {box(20, 20, ship)},
	}}

	res2, err := p.Analyze(context.Background(), &img2, opts)

	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}

	if len(res2.Detections) != 1 || res2.Detections[0].Color != "yellow" {
		t.Errorf("request 2 expected a yellow ship, got %+v", res2.Detections)
	}
}

func TestAnalyzeErrors(t *testing.T) {

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		det     *fakeDetector
		opts    Options
		matType gocv.MatType
		// target receives the typed error
		target  any
		cause   error
		inferOK bool
	}{
		{
			name:    "overlap equals tile size",
			ctx:     context.Background(),
			det:     &fakeDetector{},
			opts:    Options{TileSize: 64, Overlap: 64},
			matType: gocv.MatTypeCV8UC3,
			target:  new(*ConfigurationError),
			cause:   preprocess.ErrInvalidTiling,
		},
		{
			name:    "zero tile size",
			ctx:     context.Background(),
			det:     &fakeDetector{},
			opts:    Options{TileSize: 0},
			matType: gocv.MatTypeCV8UC3,
			target:  new(*ConfigurationError),
			cause:   preprocess.ErrInvalidTiling,
		},
		{
			name:    "cancelled",
			ctx:     cancelled,
			det:     &fakeDetector{},
			opts:    Options{TileSize: 64},
			matType: gocv.MatTypeCV8UC3,
			target:  new(*DetectionError),
			cause:   context.Canceled,
		},
		{
			name:    "detector failure",
			ctx:     context.Background(),
			det:     &fakeDetector{err: errors.New("model exploded")},
			opts:    Options{TileSize: 64},
			matType: gocv.MatTypeCV8UC3,
			target:  new(*DetectionError),
			inferOK: true,
		},
		{
			name:    "misaligned results",
			ctx:     context.Background(),
			det:     &fakeDetector{drop: true},
			opts:    Options{TileSize: 64},
			matType: gocv.MatTypeCV8UC3,
			target:  new(*DetectionError),
			cause:   ErrMisalignedResults,
			inferOK: true,
		},
		{
			name: "degenerate box",
			ctx:  context.Background(),
			det: &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
				{0, 0}:  {box(10, 10, ship)},
				{64, 0}: {{CX: 5, CY: 5, Width: 0, Height: 4, ClassID: ship}},
			}},
			opts:    Options{TileSize: 64},
			matType: gocv.MatTypeCV8UC3,
			target:  new(*DetectionError),
			cause:   postprocess.ErrDegenerateBox,
			inferOK: true,
		},
		{
			name: "single channel image",
			ctx:  context.Background(),
			det: &fakeDetector{results: map[image.Point][]postprocess.RawDetection{
				{0, 0}: {box(10, 10, ship)},
			}},
			opts:    Options{TileSize: 64},
			matType: gocv.MatTypeCV8UC1,
			target:  new(*RenderError),
			inferOK: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {

			img := gocv.Zeros(64, 128, tc.matType)
			defer img.Close()

			p := NewPipeline(tc.det, DefaultPipelineParams(), nil)

			res, err := p.Analyze(tc.ctx, &img, tc.opts)

			if err == nil {
				t.Fatalf("expected error, got result %+v", res)
			}

			if res != nil {
				t.Errorf("expected no result on error")
			}

			if !errors.As(err, tc.target) {
				t.Errorf("error %v is not a %T", err, tc.target)
			}

			if tc.cause != nil && !errors.Is(err, tc.cause) {
				t.Errorf("error %v does not wrap %v", err, tc.cause)
			}

			if !tc.inferOK && tc.det.calls != 0 {
				t.Errorf("detector called %d times; want 0", tc.det.calls)
			}

			if !untouched(img) {
				t.Error("image modified on error")
			}
		})
	}
}

func TestAnalyzeEmptyImage(t *testing.T) {

	img := gocv.NewMat()
	defer img.Close()

	p := NewPipeline(&fakeDetector{}, DefaultPipelineParams(), nil)

	_, err := p.Analyze(context.Background(), &img, DefaultOptions())

	var cfgErr *ConfigurationError

	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}
