// Package server exposes the analysis pipeline, alarm zone store, geo
// helpers and place assistant over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/assistant"
	"github.com/swdee/go-obbtile/geo"
	"github.com/swdee/go-obbtile/imageio"
	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/zones"
	"go.uber.org/zap"
)

// Config defines the server's file locations and limits
type Config struct {
	// StaticDir is served at the web root
	StaticDir string
	// OutputPath is where the annotated image of the last request is written
	OutputPath string
	// OutputURL is the public path OutputPath is served at
	OutputURL string
	// MaxUploadBytes limits the multipart body of /analyze
	MaxUploadBytes int64
	// Options are the analysis defaults individual requests override
	Options obbtile.Options
}

// Server handles HTTP requests
type Server struct {
	cfg      Config
	pipeline *obbtile.Pipeline
	zones    zones.Store
	geocoder geo.Geocoder
	// assistant answers /generate, nil when no chat model is configured
	assistant *assistant.Assistant
	log       *zap.Logger
	// outMu serializes writes of the shared output image
	outMu sync.Mutex
	now   func() time.Time
}

// New returns a Server.  A nil assistant disables /generate and a nil logger
// disables logging.
func New(cfg Config, p *obbtile.Pipeline, store zones.Store, g geo.Geocoder,
	a *assistant.Assistant, log *zap.Logger) *Server {

	if log == nil {
		log = zap.NewNop()
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}

	return &Server{
		cfg:       cfg,
		pipeline:  p,
		zones:     store,
		geocoder:  g,
		assistant: a,
		log:       log,
		now:       time.Now,
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {

	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze", s.analyze)

	mux.HandleFunc("POST /api/save_alarm_zones", s.saveZones)
	mux.HandleFunc("GET /api/get_alarm_zones", s.listZones)
	mux.HandleFunc("DELETE /api/delete_alarm_zone/{id}", s.deleteZone)

	mux.HandleFunc("GET /api/geo/location", s.location)
	mux.HandleFunc("POST /api/geo/locations", s.locations)
	mux.HandleFunc("POST /api/geo/buffer", s.buffer)
	mux.HandleFunc("POST /api/geo/buffers", s.buffers)
	mux.HandleFunc("POST /api/geo/polygon", s.polygon)

	mux.HandleFunc("POST /generate", s.generate)

	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return s.logRequests(mux)
}

// imageSize is the full resolution size of an analyzed image
type imageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// analyzeResponse is the body returned by /analyze
type analyzeResponse struct {
	BBoxes    []obbtile.Record `json:"bboxes"`
	ImageSize imageSize        `json:"image_size"`
	ImagePath string           `json:"image_path"`
}

// analyze runs the pipeline over the uploaded image field.  The optional
// tile_size, overlap and classes fields override the configured options,
// classes being a comma separated list or * for every class.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("error parsing upload: %w", err))
		return
	}

	opts, err := s.requestOptions(r)

	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	file, _, err := r.FormFile("image")

	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("image field required: %w", err))
		return
	}

	data, err := io.ReadAll(file)
	file.Close()

	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("error reading image: %w", err))
		return
	}

	img, err := imageio.Decode(data)

	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	defer img.Close()

	res, err := s.pipeline.Analyze(r.Context(), &img, opts)

	if err != nil {
		s.fail(w, analyzeStatus(err), err)
		return
	}

	s.outMu.Lock()
	err = imageio.Save(s.cfg.OutputPath, img)
	s.outMu.Unlock()

	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	// the timestamp defeats browser caching of the fixed output path
	path := fmt.Sprintf("%s?t=%d", s.cfg.OutputURL, s.now().Unix())

	s.writeJSON(w, http.StatusOK, analyzeResponse{
		BBoxes:    res.Detections,
		ImageSize: imageSize{Width: res.Width, Height: res.Height},
		ImagePath: path,
	})
}

// requestOptions applies the form overrides to the configured options
func (s *Server) requestOptions(r *http.Request) (obbtile.Options, error) {

	opts := s.cfg.Options

	if v := r.FormValue("tile_size"); v != "" {
		n, err := strconv.Atoi(v)

		if err != nil {
			return opts, fmt.Errorf("invalid tile_size %q", v)
		}

		opts.TileSize = n
	}

	if v := r.FormValue("overlap"); v != "" {
		n, err := strconv.Atoi(v)

		if err != nil {
			return opts, fmt.Errorf("invalid overlap %q", v)
		}

		opts.Overlap = n
	}

	if v := strings.TrimSpace(r.FormValue("classes")); v != "" {
		opts.Allow = postprocess.ParseAllowList(strings.Split(v, ","))
	}

	return opts, nil
}

// analyzeStatus maps pipeline errors to a response status
func analyzeStatus(err error) int {

	var (
		cfgErr    *obbtile.ConfigurationError
		detectErr *obbtile.DetectionError
	)

	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &detectErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the body of failed requests
type errorResponse struct {
	Error string `json:"error"`
}

// fail logs err and writes it as the response
func (s *Server) fail(w http.ResponseWriter, status int, err error) {

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.log.Info("request rejected", zap.Int("status", status), zap.Error(err))
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("error writing response", zap.Error(err))
	}
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v any) error {

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}

	return nil
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs each request at debug level
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.log.Debug("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
