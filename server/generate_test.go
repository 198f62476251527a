package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/swdee/go-obbtile/assistant"
	"github.com/swdee/go-obbtile/geo"
)

// geoJSONBlock extracts the feature collection from a generated reply
func geoJSONBlock(t *testing.T, reply string) geo.FeatureCollection {

	t.Helper()

	_, block, ok := strings.Cut(reply, "geojson ```\n")

	if !ok {
		t.Fatalf("reply has no geojson block: %q", reply)
	}

	block, _, ok = strings.Cut(block, "\n```")

	if !ok {
		t.Fatalf("geojson block not closed: %q", reply)
	}

	var fc geo.FeatureCollection

	if err := json.Unmarshal([]byte(block), &fc); err != nil {
		t.Fatalf("error decoding geojson block: %v", err)
	}

	return fc
}

func TestGenerateFunctions(t *testing.T) {

	tests := []struct {
		call     string
		args     string
		features int
		// geometry is the type of the first feature
		geometry string
	}{
		{assistant.FuncLocation, `{"place_name":"taipei"}`, 1, "Point"},
		{assistant.FuncLocations, `{"place_names":["taipei","atlantis"]}`, 1, "Point"},
		{assistant.FuncBuffer, `{"place_name":"taipei","radius_km":2}`, 2, "Polygon"},
		{assistant.FuncBuffers,
			`{"locations":[{"place_name":"taipei","radius_km":1},{"place_name":"taipei","radius_km":5}]}`,
			4, "Polygon"},
		{assistant.FuncPolygon,
			`{"coordinates":[{"latitude":25,"longitude":121},{"latitude":25,"longitude":121.1},{"latitude":25.1,"longitude":121}]}`,
			1, "Polygon"},
	}

	for _, tc := range tests {
		t.Run(tc.call, func(t *testing.T) {

			ts := newTestServer(t, &stubDetector{})
			ts.model.reply = assistant.Completion{
				Call: &assistant.FunctionCall{Name: tc.call, Arguments: tc.args},
			}

			rec := ts.do(httptest.NewRequest(http.MethodPost, "/generate",
				strings.NewReader(`{"prompt":"where is taipei"}`)))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}

			var resp generateResponse

			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("error decoding response: %v", err)
			}

			fc := geoJSONBlock(t, resp.Response)

			if fc.Type != "FeatureCollection" || len(fc.Features) != tc.features {
				t.Fatalf("got %s with %d features; want %d", fc.Type, len(fc.Features), tc.features)
			}

			if g := fc.Features[0].Geometry.Type; g != tc.geometry {
				t.Errorf("first feature is a %s; want %s", g, tc.geometry)
			}
		})
	}
}

func TestGenerate(t *testing.T) {

	tests := []struct {
		name   string
		reply  assistant.Completion
		err    error
		body   string
		status int
		want   string
	}{
		{"plain answer", assistant.Completion{Content: "Nothing to locate."}, nil,
			`{"prompt":"hello"}`, http.StatusOK, "Nothing to locate."},
		{"not found", assistant.Completion{Call: &assistant.FunctionCall{
			Name: assistant.FuncLocation, Arguments: `{"place_name":"atlantis"}`}}, nil,
			`{"prompt":"where is atlantis"}`, http.StatusOK, "No information found for atlantis."},
		{"missing prompt", assistant.Completion{}, nil, `{}`, http.StatusBadRequest, ""},
		{"bad json", assistant.Completion{}, nil, `{`, http.StatusBadRequest, ""},
		{"bad arguments", assistant.Completion{Call: &assistant.FunctionCall{
			Name: assistant.FuncBuffer, Arguments: `{"place_name":`}}, nil,
			`{"prompt":"x"}`, http.StatusBadGateway, ""},
		{"unknown function", assistant.Completion{Call: &assistant.FunctionCall{
			Name: "get_weather", Arguments: `{}`}}, nil,
			`{"prompt":"x"}`, http.StatusBadGateway, ""},
		{"model down", assistant.Completion{}, errors.New("unavailable"),
			`{"prompt":"x"}`, http.StatusBadGateway, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {

			ts := newTestServer(t, &stubDetector{})
			ts.model.reply = tc.reply
			ts.model.err = tc.err

			rec := ts.do(httptest.NewRequest(http.MethodPost, "/generate",
				strings.NewReader(tc.body)))

			if rec.Code != tc.status {
				t.Fatalf("status = %d; want %d, body %s", rec.Code, tc.status, rec.Body.String())
			}

			if tc.want == "" {
				return
			}

			var resp generateResponse

			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("error decoding response: %v", err)
			}

			if resp.Response != tc.want {
				t.Errorf("response = %q; want %q", resp.Response, tc.want)
			}
		})
	}
}

func TestGenerateUnconfigured(t *testing.T) {

	ts := newTestServer(t, &stubDetector{})
	ts.assistant = nil

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"prompt":"hello"}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want 503", rec.Code)
	}
}
