package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/assistant"
	"github.com/swdee/go-obbtile/geo"
	"github.com/swdee/go-obbtile/postprocess"
	"github.com/swdee/go-obbtile/preprocess"
	"github.com/swdee/go-obbtile/zones"
)

// stubDetector returns the same detections for the first tile
type stubDetector struct {
	dets []postprocess.RawDetection
	err  error
}

func (d *stubDetector) DetectBatch(ctx context.Context,
	tiles []preprocess.Tile) (obbtile.Detections, error) {

	if d.err != nil {
		return obbtile.Detections{}, d.err
	}

	out := make([][]postprocess.RawDetection, len(tiles))
	out[0] = d.dets

	return obbtile.Detections{Tiles: out}, nil
}

func (d *stubDetector) Classes() postprocess.ClassTable {
	return postprocess.NewClassTable(postprocess.DOTAv1Classes)
}

type stubGeocoder map[string]geo.LatLng

func (g stubGeocoder) Locate(ctx context.Context, place string) (geo.LatLng, error) {
	if c, ok := g[place]; ok {
		return c, nil
	}

	return geo.LatLng{}, geo.ErrNotFound
}

// chatModel replies to /generate with a canned completion
type chatModel struct {
	reply assistant.Completion
	err   error
}

func (m *chatModel) Complete(ctx context.Context, system, prompt string,
	fns []assistant.Function) (assistant.Completion, error) {
	return m.reply, m.err
}

type testServer struct {
	*Server
	handler http.Handler
	model   *chatModel
}

func newTestServer(t *testing.T, det obbtile.Detector) *testServer {

	t.Helper()

	dir := t.TempDir()
	store, err := zones.OpenFileStore(filepath.Join(dir, "zones.json"))

	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}

	cfg := Config{
		StaticDir:  dir,
		OutputPath: filepath.Join(dir, "processed_image.jpg"),
		OutputURL:  "/processed_image.jpg",
		Options:    obbtile.DefaultOptions(),
	}

	g := stubGeocoder{"taipei": {Latitude: 25.03, Longitude: 121.56}}
	model := &chatModel{}

	p := obbtile.NewPipeline(det, obbtile.DefaultPipelineParams(), nil)
	s := New(cfg, p, store, g, assistant.New(model, g, nil), nil)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	return &testServer{Server: s, handler: s.Handler(), model: model}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// upload builds a multipart /analyze request with a PNG image and the
// given extra fields
func upload(t *testing.T, width, height int, fields map[string]string) *http.Request {

	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{40, 80, 120, 255})
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", "scene.png")

	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}

	if err := png.Encode(part, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}

	for k, v := range fields {
		mw.WriteField(k, v)
	}

	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func TestAnalyze(t *testing.T) {

	det := &stubDetector{dets: []postprocess.RawDetection{
		{CX: 50, CY: 40, Width: 30, Height: 12, Confidence: 0.9, ClassID: 1},
		{CX: 100, CY: 60, Width: 30, Height: 12, Confidence: 0.8, ClassID: 7},
	}}

	ts := newTestServer(t, det)
	rec := ts.do(upload(t, 320, 240, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp analyzeResponse

	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error decoding response: %v", err)
	}

	// harbor is not in the default allow list
	if len(resp.BBoxes) != 1 || resp.BBoxes[0].ClassName != "ship" {
		t.Errorf("bboxes = %+v; want one ship", resp.BBoxes)
	}

	if resp.ImageSize.Width != 320 || resp.ImageSize.Height != 240 {
		t.Errorf("image size = %+v", resp.ImageSize)
	}

	if resp.ImagePath != "/processed_image.jpg?t=1700000000" {
		t.Errorf("image path = %q", resp.ImagePath)
	}

	if _, err := os.Stat(ts.cfg.OutputPath); err != nil {
		t.Errorf("annotated image not written: %v", err)
	}

	// the saved image is served from the static directory
	get := ts.do(httptest.NewRequest(http.MethodGet, "/processed_image.jpg", nil))

	if get.Code != http.StatusOK {
		t.Errorf("static status = %d", get.Code)
	}
}

func TestAnalyzeClassesOverride(t *testing.T) {

	det := &stubDetector{dets: []postprocess.RawDetection{
		{CX: 50, CY: 40, Width: 30, Height: 12, Confidence: 0.9, ClassID: 1},
		{CX: 100, CY: 60, Width: 30, Height: 12, Confidence: 0.8, ClassID: 7},
	}}

	tests := []struct {
		classes string
		want    int
	}{
		{"*", 2},
		{"harbor", 1},
		{"plane, helicopter", 0},
	}

	for _, tc := range tests {
		t.Run(tc.classes, func(t *testing.T) {
			ts := newTestServer(t, det)
			rec := ts.do(upload(t, 200, 100, map[string]string{"classes": tc.classes}))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}

			var resp analyzeResponse
			json.Unmarshal(rec.Body.Bytes(), &resp)

			if len(resp.BBoxes) != tc.want {
				t.Errorf("got %d bboxes; want %d", len(resp.BBoxes), tc.want)
			}
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {

	tests := []struct {
		name   string
		det    *stubDetector
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name: "overlap not below tile size",
			det:  &stubDetector{},
			req: func(t *testing.T) *http.Request {
				return upload(t, 64, 64, map[string]string{"tile_size": "32", "overlap": "32"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "non numeric tile size",
			det:  &stubDetector{},
			req: func(t *testing.T) *http.Request {
				return upload(t, 64, 64, map[string]string{"tile_size": "big"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "detector failure",
			det:  &stubDetector{err: errors.New("model offline")},
			req: func(t *testing.T) *http.Request {
				return upload(t, 64, 64, nil)
			},
			status: http.StatusBadGateway,
		},
		{
			name: "degenerate box",
			det: &stubDetector{dets: []postprocess.RawDetection{
				{CX: 5, CY: 5, Width: 0, Height: 4, ClassID: 1},
			}},
			req: func(t *testing.T) *http.Request {
				return upload(t, 64, 64, nil)
			},
			status: http.StatusBadGateway,
		},
		{
			name: "undecodable image",
			det:  &stubDetector{},
			req: func(t *testing.T) *http.Request {
				var body bytes.Buffer
				mw := multipart.NewWriter(&body)
				part, _ := mw.CreateFormFile("image", "scene.png")
				part.Write([]byte("not an image"))
				mw.Close()

				req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing image",
			det:  &stubDetector{},
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/analyze",
					strings.NewReader("tile_size=64"))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, tc.det)
			rec := ts.do(tc.req(t))

			if rec.Code != tc.status {
				t.Errorf("status = %d; want %d, body %s", rec.Code, tc.status, rec.Body.String())
			}

			if _, err := os.Stat(ts.cfg.OutputPath); err == nil {
				t.Error("output image written for failed request")
			}
		})
	}
}

func TestZoneRoutes(t *testing.T) {

	ts := newTestServer(t, &stubDetector{})

	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},
		 "properties":{"name":"harbor"}}]}`

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/save_alarm_zones",
		strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/save_alarm_zones",
		strings.NewReader(`{"type":"Feature"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("save of non collection status = %d", rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/get_alarm_zones", nil))

	var fc geo.FeatureCollection

	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("error decoding zones: %v", err)
	}

	if len(fc.Features) != 1 || fc.Features[0].Properties["id"] != float64(1) {
		t.Errorf("zones = %+v", fc)
	}

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/delete_alarm_zone/1", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/delete_alarm_zone/1", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d; want 404", rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/delete_alarm_zone/abc", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("delete of bad id status = %d; want 400", rec.Code)
	}
}

func TestGeoRoutes(t *testing.T) {

	ts := newTestServer(t, &stubDetector{})

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		status   int
		features int
	}{
		{"location", http.MethodGet, "/api/geo/location?place=taipei", "", http.StatusOK, 0},
		{"location missing", http.MethodGet, "/api/geo/location?place=atlantis", "", http.StatusNotFound, 0},
		{"location empty", http.MethodGet, "/api/geo/location", "", http.StatusBadRequest, 0},
		{"locations", http.MethodPost, "/api/geo/locations",
			`{"place_names":["taipei","atlantis"]}`, http.StatusOK, 1},
		{"buffer", http.MethodPost, "/api/geo/buffer",
			`{"place_name":"taipei","radius_km":2}`, http.StatusOK, 2},
		{"buffer no radius", http.MethodPost, "/api/geo/buffer",
			`{"place_name":"taipei"}`, http.StatusBadRequest, 0},
		{"buffers", http.MethodPost, "/api/geo/buffers",
			`{"locations":[{"place_name":"taipei","radius_km":1},{"place_name":"taipei","radius_km":3}]}`,
			http.StatusOK, 4},
		{"polygon", http.MethodPost, "/api/geo/polygon",
			`{"coordinates":[{"latitude":25,"longitude":121},{"latitude":25,"longitude":121.1},{"latitude":25.1,"longitude":121}]}`,
			http.StatusOK, 1},
		{"polygon buffered", http.MethodPost, "/api/geo/polygon",
			`{"coordinates":[{"latitude":25,"longitude":121},{"latitude":25,"longitude":121.1},{"latitude":25.1,"longitude":121}],"buffer_km":1}`,
			http.StatusOK, 1},
		{"polygon too few points", http.MethodPost, "/api/geo/polygon",
			`{"coordinates":[{"latitude":25,"longitude":121}]}`, http.StatusBadRequest, 0},
		{"bad json", http.MethodPost, "/api/geo/locations", `{`, http.StatusBadRequest, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))

			if rec.Code != tc.status {
				t.Fatalf("status = %d; want %d, body %s", rec.Code, tc.status, rec.Body.String())
			}

			if tc.features == 0 {
				return
			}

			var fc geo.FeatureCollection

			if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
				t.Fatalf("error decoding collection: %v", err)
			}

			if len(fc.Features) != tc.features {
				t.Errorf("got %d features; want %d", len(fc.Features), tc.features)
			}
		})
	}
}
