// Package remote provides an oriented bounding box Detector that submits
// each batch of tiles to an HTTP inference service in a single request.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/preprocess"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Encoding is the payload format tiles are sent in
type Encoding string

const (
	// EncodingPNG sends each tile as a lossless PNG at its native size,
	// detections are returned in tile pixels
	EncodingPNG Encoding = "png"
	// EncodingFloat16 sends the letterboxed NCHW batch tensor in half
	// precision, detections are returned in tensor pixels and restored onto
	// each tile
	EncodingFloat16 Encoding = "f16"
)

// tupleLen is the number of values describing each detection in a response,
// being cx, cy, w, h, angle, confidence and class id
const tupleLen = 7

// ErrMalformedResponse is returned when the service response can not be
// mapped onto the submitted tiles
var ErrMalformedResponse = errors.New("malformed detector response")

// Config defines the inference service connection
type Config struct {
	// URL of the batch inference endpoint
	URL string
	// Encoding of the tile payload
	Encoding Encoding
	// InputSize is the tensor size tiles are letterboxed to with
	// EncodingFloat16
	InputSize int
	// Timeout bounds each request, 0 disables it
	Timeout time.Duration
}

// DefaultConfig returns a Config sending PNG tiles with a one minute timeout
func DefaultConfig() Config {
	return Config{
		Encoding:  EncodingPNG,
		InputSize: 1024,
		Timeout:   time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {

	if c.URL == "" {
		return errors.New("detector url not set")
	}

	switch c.Encoding {
	case EncodingPNG:
	case EncodingFloat16:
		if c.InputSize <= 0 {
			return fmt.Errorf("input size %d must be positive", c.InputSize)
		}
	default:
		return fmt.Errorf("unknown encoding %q", c.Encoding)
	}

	return nil
}

// response is the body returned by the inference service
type response struct {
	// Names maps class ID in decimal form to class name
	Names map[string]string `json:"names"`
	// Results holds one list of detection tuples per tile
	Results [][][]float64 `json:"results"`
}

// Detector submits tiles to a remote inference service
type Detector struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
	// mu guards classes which is refreshed from each response
	mu      sync.RWMutex
	classes postprocess.ClassTable
}

// New returns a remote Detector.  Class names default to DOTA v1 until the
// service reports its own.
func New(cfg Config, log *zap.Logger) (*Detector, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote config: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Detector{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
		classes: postprocess.NewClassTable(postprocess.DOTAv1Classes),
	}, nil
}

// Classes returns the class names last reported by the service.  Use the
// Classes of each DetectBatch result to name that result's detections.
func (d *Detector) Classes() postprocess.ClassTable {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.classes
}

// DetectBatch posts all tiles in one multipart request
func (d *Detector) DetectBatch(ctx context.Context,
	tiles []preprocess.Tile) (obbtile.Detections, error) {

	if len(tiles) == 0 {
		return obbtile.Detections{}, errors.New("no tiles to detect")
	}

	var (
		body    bytes.Buffer
		batch   *obbtile.Batch
		payload error
	)

	mw := multipart.NewWriter(&body)

	switch d.cfg.Encoding {
	case EncodingFloat16:
		batch, payload = writeTensor(mw, tiles, d.cfg.InputSize)

		if batch != nil {
			defer batch.Close()
		}

	default:
		payload = writePNGs(mw, tiles)
	}

	if payload != nil {
		return obbtile.Detections{}, fmt.Errorf("error encoding tiles: %w", payload)
	}

	if err := mw.Close(); err != nil {
		return obbtile.Detections{}, fmt.Errorf("error closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, &body)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)

	if err != nil {
		return obbtile.Detections{}, fmt.Errorf("error calling detector: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return obbtile.Detections{}, fmt.Errorf("detector returned %s: %s", resp.Status,
			strings.TrimSpace(string(msg)))
	}

	var r response

	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return obbtile.Detections{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	d.log.Debug("remote inference",
		zap.Int("tiles", len(tiles)),
		zap.String("encoding", string(d.cfg.Encoding)),
		zap.Duration("elapsed", time.Since(start)),
	)

	results, err := parseResults(r.Results, len(tiles), batch)

	if err != nil {
		return obbtile.Detections{}, err
	}

	if len(r.Names) == 0 {
		return obbtile.Detections{Tiles: results, Classes: d.Classes()}, nil
	}

	classes, err := parseNames(r.Names)

	if err != nil {
		return obbtile.Detections{}, err
	}

	d.mu.Lock()
	d.classes = classes
	d.mu.Unlock()

	return obbtile.Detections{Tiles: results, Classes: classes}, nil
}

// writePNGs adds each tile as an "images" file part in tile order
func writePNGs(mw *multipart.Writer, tiles []preprocess.Tile) error {

	for i := range tiles {
		buf, err := gocv.IMEncode(gocv.PNGFileExt, tiles[i].Mat())

		if err != nil {
			return fmt.Errorf("tile %d: %w", i, err)
		}

		part, err := mw.CreateFormFile("images", fmt.Sprintf("tile_%d.png", i))

		if err == nil {
			_, err = part.Write(buf.GetBytes())
		}

		buf.Close()

		if err != nil {
			return fmt.Errorf("tile %d: %w", i, err)
		}
	}

	return nil
}

// writeTensor letterboxes the tiles into a batch and adds it as a float16
// "tensor" part with its NCHW "shape"
func writeTensor(mw *multipart.Writer, tiles []preprocess.Tile,
	size int) (*obbtile.Batch, error) {

	batch, err := obbtile.NewBatch(tiles, size, size)

	if err != nil {
		return nil, err
	}

	data, err := batch.Data()

	if err != nil {
		return batch, err
	}

	dims := make([]string, 0, 4)

	for _, s := range batch.Shape() {
		dims = append(dims, strconv.FormatInt(s, 10))
	}

	if err := mw.WriteField("shape", strings.Join(dims, ",")); err != nil {
		return batch, err
	}

	if err := mw.WriteField("dtype", "float16"); err != nil {
		return batch, err
	}

	part, err := mw.CreateFormFile("tensor", "batch.f16")

	if err != nil {
		return batch, err
	}

	_, err = part.Write(obbtile.EncodeFloat16(data))

	return batch, err
}

// checkTuple rejects a detection whose confidence or class id is out of range
func checkTuple(v []float64) error {

	for k := 0; k < 5; k++ {
		if math.IsNaN(v[k]) || math.IsInf(v[k], 0) {
			return fmt.Errorf("value %d is not finite", k)
		}
	}

	conf := v[5]

	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", conf)
	}

	class := v[6]

	if math.IsNaN(class) || class < 0 || class > math.MaxInt32 || class != math.Trunc(class) {
		return fmt.Errorf("class id %v is not a non-negative integer", class)
	}

	return nil
}

// parseResults converts detection tuples to RawDetections, restoring them
// from tensor to tile pixels when a letterbox batch was sent
func parseResults(results [][][]float64, tiles int,
	batch *obbtile.Batch) ([][]postprocess.RawDetection, error) {

	if len(results) != tiles {
		return nil, fmt.Errorf("%w: %w: %d results for %d tiles",
			ErrMalformedResponse, obbtile.ErrMisalignedResults, len(results), tiles)
	}

	out := make([][]postprocess.RawDetection, tiles)

	for i, tuples := range results {
		dets := make([]postprocess.RawDetection, 0, len(tuples))

		for j, v := range tuples {
			if len(v) != tupleLen {
				return nil, fmt.Errorf("%w: tile %d detection %d has %d values, expected %d",
					ErrMalformedResponse, i, j, len(v), tupleLen)
			}

			if err := checkTuple(v); err != nil {
				return nil, fmt.Errorf("%w: tile %d detection %d: %v",
					ErrMalformedResponse, i, j, err)
			}

			det := postprocess.RawDetection{
				CX:         v[0],
				CY:         v[1],
				Width:      v[2],
				Height:     v[3],
				Angle:      v[4],
				Confidence: v[5],
				ClassID:    int(v[6]),
			}

			if batch != nil {
				r := batch.Resizer(i)
				det.CX, det.CY = r.Restore(det.CX, det.CY)
				det.Width = r.RestoreLength(det.Width)
				det.Height = r.RestoreLength(det.Height)
			}

			dets = append(dets, det)
		}

		out[i] = dets
	}

	return out, nil
}

// parseNames converts the names map keyed by decimal class ID
func parseNames(names map[string]string) (postprocess.ClassTable, error) {

	table := make(postprocess.ClassTable, len(names))

	for k, v := range names {
		id, err := strconv.Atoi(k)

		if err != nil {
			return nil, fmt.Errorf("%w: class id %q is not an integer",
				ErrMalformedResponse, k)
		}

		table[id] = v
	}

	return table, nil
}
