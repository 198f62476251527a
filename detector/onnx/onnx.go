// Package onnx provides an in process oriented bounding box Detector backed
// by ONNX Runtime, for YOLOv8 and YOLO11 OBB models exported to ONNX.
package onnx

import (
	"context"
	"errors"
	"fmt"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/preprocess"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Config defines the parameters used to load the model
type Config struct {
	// ModelFile is the path to the .onnx model
	ModelFile string
	// LabelFile is the path to the class names file, one per line.  The DOTA
	// v1 class names are used when empty.
	LabelFile string
	// SharedLibrary is the path to the onnxruntime shared library
	SharedLibrary string
	// InputSize is the square input tensor size the model was exported with
	InputSize int
	// InputName and OutputName are the model's tensor names
	InputName  string
	OutputName string
	// PoolSize is the number of sessions available for concurrent requests
	PoolSize int
	// Threads is the intra op thread count per session, 0 lets ONNX Runtime
	// decide
	Threads int
	// Params are the output decoding parameters
	Params postprocess.YOLOv8obbParams
}

// DefaultConfig returns a Config for a DOTA v1 trained model with an input
// size of 1024
func DefaultConfig() Config {
	return Config{
		InputSize:  1024,
		InputName:  "images",
		OutputName: "output0",
		PoolSize:   1,
		Params:     postprocess.YOLOv8obbDOTAv1Params(),
	}
}

// Validate checks the configuration can be used to load a detector
func (c Config) Validate() error {

	var errs []error

	if c.ModelFile == "" {
		errs = append(errs, errors.New("model file not set"))
	}

	// the model downsamples by up to 32
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("input size %d must be a positive multiple of 32",
			c.InputSize))
	}

	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool size %d must be positive", c.PoolSize))
	}

	if c.Params.ObjectClassNum <= 0 {
		errs = append(errs, fmt.Errorf("object class number %d must be positive",
			c.Params.ObjectClassNum))
	}

	return errors.Join(errs...)
}

// Detector runs batched inference over tiles with ONNX Runtime
type Detector struct {
	cfg     Config
	pool    *Pool
	decoder *postprocess.YOLOv8obb
	classes postprocess.ClassTable
	anchors int
	// buffers reuses output tensor memory between requests
	buffers *bufferPool
	log     *zap.Logger
}

// New initializes the ONNX Runtime environment if needed and loads
// PoolSize sessions of the model
func New(cfg Config, log *zap.Logger) (*Detector, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid onnx config: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	classes, err := obbtile.LoadClassTable(cfg.LabelFile)

	if err != nil {
		return nil, fmt.Errorf("error loading labels: %w", err)
	}

	if !ort.IsInitialized() {
		if cfg.SharedLibrary != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibrary)
		}

		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("error initializing onnxruntime: %w", err)
		}
	}

	pool, err := NewPool(cfg.PoolSize, cfg.ModelFile, cfg.InputName,
		cfg.OutputName, cfg.Threads)

	if err != nil {
		return nil, err
	}

	log.Info("loaded onnx model",
		zap.String("model", cfg.ModelFile),
		zap.Int("input_size", cfg.InputSize),
		zap.Int("sessions", cfg.PoolSize),
		zap.Int("classes", cfg.Params.ObjectClassNum),
	)

	return newDetector(cfg, pool, classes, log), nil
}

func newDetector(cfg Config, pool *Pool, classes postprocess.ClassTable,
	log *zap.Logger) *Detector {

	return &Detector{
		cfg:     cfg,
		pool:    pool,
		decoder: postprocess.NewYOLOv8obb(cfg.Params),
		classes: classes,
		anchors: AnchorCount(cfg.InputSize, cfg.InputSize),
		buffers: newBufferPool(),
		log:     log,
	}
}

// AnchorCount returns the number of anchors a YOLOv8 detection head outputs
// for an input of the given size, one per cell of its stride 8, 16 and 32
// feature maps
func AnchorCount(width, height int) int {

	n := 0

	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}

	return n
}

// Classes returns the class names the model was trained with
func (d *Detector) Classes() postprocess.ClassTable {
	return d.classes
}

// DetectBatch letterboxes all tiles into a single tensor and runs it through
// one session in one call
func (d *Detector) DetectBatch(ctx context.Context,
	tiles []preprocess.Tile) (obbtile.Detections, error) {

	batch, err := obbtile.NewBatch(tiles, d.cfg.InputSize, d.cfg.InputSize)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error creating batch: %w", err)
	}

	defer batch.Close()

	data, err := batch.Data()

	if err != nil {
		return obbtile.Detections{}, err
	}

	input, err := ort.NewTensor(ort.NewShape(batch.Shape()...), data)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error creating input tensor: %w", err)
	}

	defer input.Destroy()

	buf := d.buffers.Get(batch.Size() * d.decoder.Rows() * d.anchors)
	defer d.buffers.Put(buf)

	output, err := ort.NewTensor(ort.NewShape(int64(batch.Size()),
		int64(d.decoder.Rows()), int64(d.anchors)), buf)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error creating output tensor: %w", err)
	}

	defer output.Destroy()

	session, err := d.pool.Get(ctx)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error waiting for session: %w", err)
	}

	err = session.Run([]ort.Value{input}, []ort.Value{output})
	d.pool.Return(session)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error running inference: %w", err)
	}

	results, err := d.decode(batch, output.GetData())

	if err != nil {
		return obbtile.Detections{}, err
	}

	return obbtile.Detections{Tiles: results, Classes: d.classes}, nil
}

// decode splits the batched output tensor per tile and decodes each
func (d *Detector) decode(batch *obbtile.Batch,
	output []float32) ([][]postprocess.RawDetection, error) {

	size := d.decoder.Rows() * d.anchors

	if len(output) != batch.Size()*size {
		return nil, fmt.Errorf("output has %d values, expected %d for %d tiles",
			len(output), batch.Size()*size, batch.Size())
	}

	results := make([][]postprocess.RawDetection, batch.Size())

	for i := range results {
		out, err := batch.GetOutputF32(i, output, size)

		if err != nil {
			return nil, err
		}

		dets, err := d.decoder.DetectObjects(out, batch.Resizer(i))

		if err != nil {
			return nil, fmt.Errorf("error decoding tile %d: %w", i, err)
		}

		results[i] = dets
	}

	return results, nil
}

// Close destroys all sessions
func (d *Detector) Close() error {
	d.pool.Close()
	return nil
}
