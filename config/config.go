// Package config loads the service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/assistant"
	"github.com/swdee/go-obbtile/detector/onnx"
	"github.com/swdee/go-obbtile/detector/remote"
	"github.com/swdee/go-obbtile/postprocess"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file configuration
const (
	EnvPlacesKey = "GOOGLE_PLACES_API_KEY"
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvListen    = "OBBTILE_LISTEN"
)

// Detector backends
const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// Config is the service configuration
type Config struct {
	// Listen is the HTTP listen address
	Listen string `yaml:"listen"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// StaticDir is served at the web root
	StaticDir string `yaml:"static_dir"`
	// OutputPath is where the last annotated image is written, it should be
	// within StaticDir
	OutputPath string `yaml:"output_path"`
	// OutputURL is the public path of OutputPath
	OutputURL string `yaml:"output_url"`
	// ZoneStore is the alarm zone JSON file
	ZoneStore string `yaml:"zone_store"`
	// MaxUploadMB limits the size of uploaded images
	MaxUploadMB int64     `yaml:"max_upload_mb"`
	Tiling      Tiling    `yaml:"tiling"`
	Detector    Detector  `yaml:"detector"`
	Geo         Geo       `yaml:"geo"`
	Assistant   Assistant `yaml:"assistant"`
}

// Tiling are the default analysis options, overridable per request
type Tiling struct {
	TileSize int `yaml:"tile_size"`
	Overlap  int `yaml:"overlap"`
	// Classes is the allow list, ["*"] reports every class
	Classes []string `yaml:"classes"`
}

// Detector selects and configures the inference backend
type Detector struct {
	Backend string `yaml:"backend"`
	ONNX    ONNX   `yaml:"onnx"`
	Remote  Remote `yaml:"remote"`
}

// ONNX configures the in process backend
type ONNX struct {
	Model         string  `yaml:"model"`
	Labels        string  `yaml:"labels"`
	SharedLibrary string  `yaml:"shared_library"`
	InputSize     int     `yaml:"input_size"`
	PoolSize      int     `yaml:"pool_size"`
	Threads       int     `yaml:"threads"`
	Classes       int     `yaml:"classes"`
	BoxThreshold  float32 `yaml:"box_threshold"`
	NMSThreshold  float32 `yaml:"nms_threshold"`
	MaxObjects    int     `yaml:"max_objects"`
}

// Remote configures the HTTP backend
type Remote struct {
	URL       string        `yaml:"url"`
	Encoding  string        `yaml:"encoding"`
	InputSize int           `yaml:"input_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Geo configures the geocoder
type Geo struct {
	PlacesAPIKey string `yaml:"places_api_key"`
}

// Assistant configures the chat model behind /generate, which is disabled
// while APIKey is empty
type Assistant struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Default returns the configuration used when no file is given
func Default() Config {

	opts := obbtile.DefaultOptions()
	oc := onnx.DefaultConfig()
	rc := remote.DefaultConfig()
	ac := assistant.DefaultOpenAIConfig()

	return Config{
		Listen:      ":5000",
		LogLevel:    "info",
		StaticDir:   "static",
		OutputPath:  "static/processed_image.jpg",
		OutputURL:   "/processed_image.jpg",
		ZoneStore:   "db/alarm_zones.json",
		MaxUploadMB: 200,
		Tiling: Tiling{
			TileSize: opts.TileSize,
			Overlap:  opts.Overlap,
			Classes:  append([]string(nil), postprocess.DefaultAllowList...),
		},
		Detector: Detector{
			Backend: BackendONNX,
			ONNX: ONNX{
				Model:        "models/yolo11n-obb.onnx",
				InputSize:    oc.InputSize,
				PoolSize:     oc.PoolSize,
				Classes:      oc.Params.ObjectClassNum,
				BoxThreshold: oc.Params.BoxThreshold,
				NMSThreshold: oc.Params.NMSThreshold,
				MaxObjects:   oc.Params.MaxObjectNumber,
			},
			Remote: Remote{
				Encoding:  string(rc.Encoding),
				InputSize: rc.InputSize,
				Timeout:   rc.Timeout,
			},
		},
		Assistant: Assistant{
			Model: ac.Model,
		},
	}
}

// Load reads the YAML file over the defaults, applies environment overrides
// and validates the result.  An empty path uses the defaults.
func Load(path string) (Config, error) {

	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)

		if err != nil {
			return cfg, fmt.Errorf("error reading config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)

		// an empty file leaves the defaults in place
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("error parsing config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {

	if v, ok := lookup(EnvPlacesKey); ok && v != "" {
		c.Geo.PlacesAPIKey = v
	}

	if v, ok := lookup(EnvOpenAIKey); ok && v != "" {
		c.Assistant.APIKey = v
	}

	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {

	var errs []error

	if c.Tiling.TileSize <= 0 {
		errs = append(errs, fmt.Errorf("tiling.tile_size %d must be positive",
			c.Tiling.TileSize))
	}

	if c.Tiling.Overlap < 0 || c.Tiling.Overlap >= c.Tiling.TileSize {
		errs = append(errs, fmt.Errorf("tiling.overlap %d must be in range [0,%d)",
			c.Tiling.Overlap, c.Tiling.TileSize))
	}

	if c.OutputPath == "" {
		errs = append(errs, errors.New("output_path not set"))
	}

	switch c.Detector.Backend {
	case BackendONNX:
		if err := c.ONNXConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("detector.onnx: %w", err))
		}

	case BackendRemote:
		if err := c.RemoteConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("detector.remote: %w", err))
		}

	default:
		errs = append(errs, fmt.Errorf("unknown detector backend %q", c.Detector.Backend))
	}

	if c.AssistantEnabled() {
		if err := c.OpenAIConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("assistant: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Options returns the default analysis options
func (c Config) Options() obbtile.Options {
	return obbtile.Options{
		TileSize: c.Tiling.TileSize,
		Overlap:  c.Tiling.Overlap,
		Allow:    postprocess.ParseAllowList(c.Tiling.Classes),
	}
}

// ONNXConfig returns the configuration of the onnx backend
func (c Config) ONNXConfig() onnx.Config {

	o := c.Detector.ONNX
	oc := onnx.DefaultConfig()

	oc.ModelFile = o.Model
	oc.LabelFile = o.Labels
	oc.SharedLibrary = o.SharedLibrary
	oc.InputSize = o.InputSize
	oc.PoolSize = o.PoolSize
	oc.Threads = o.Threads
	oc.Params = postprocess.YOLOv8obbParams{
		BoxThreshold:    o.BoxThreshold,
		NMSThreshold:    o.NMSThreshold,
		ObjectClassNum:  o.Classes,
		MaxObjectNumber: o.MaxObjects,
	}

	return oc
}

// AssistantEnabled reports whether a chat model is configured
func (c Config) AssistantEnabled() bool {
	return c.Assistant.APIKey != ""
}

// OpenAIConfig returns the configuration of the assistant's chat model
func (c Config) OpenAIConfig() assistant.OpenAIConfig {
	return assistant.OpenAIConfig{
		APIKey:  c.Assistant.APIKey,
		Model:   c.Assistant.Model,
		BaseURL: c.Assistant.BaseURL,
	}
}

// RemoteConfig returns the configuration of the remote backend
func (c Config) RemoteConfig() remote.Config {

	r := c.Detector.Remote

	return remote.Config{
		URL:       r.URL,
		Encoding:  remote.Encoding(r.Encoding),
		InputSize: r.InputSize,
		Timeout:   r.Timeout,
	}
}
