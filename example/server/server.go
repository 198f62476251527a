package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/assistant"
	"github.com/swdee/go-obbtile/config"
	"github.com/swdee/go-obbtile/detector/onnx"
	"github.com/swdee/go-obbtile/detector/remote"
	"github.com/swdee/go-obbtile/geo"
	"github.com/swdee/go-obbtile/server"
	"github.com/swdee/go-obbtile/zones"
	"go.uber.org/zap"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	configFile := flag.String("c", "", "YAML configuration file, defaults are used when not set")
	listen := flag.String("l", "", "Listen address, overrides the configuration file")

	flag.Parse()

	cfg, err := config.Load(*configFile)

	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	if *listen != "" {
		cfg.Listen = *listen
	}

	logger, err := newLogger(cfg.LogLevel)

	if err != nil {
		log.Fatal("Error creating logger: ", err)
	}

	defer logger.Sync()

	detector, closeDetector, err := newDetector(cfg, logger)

	if err != nil {
		logger.Fatal("error creating detector", zap.Error(err))
	}

	defer closeDetector()

	store, err := zones.OpenFileStore(cfg.ZoneStore)

	if err != nil {
		logger.Fatal("error opening zone store", zap.Error(err))
	}

	pipeline := obbtile.NewPipeline(detector, obbtile.DefaultPipelineParams(), logger)
	geocoder := geo.NewGooglePlaces(cfg.Geo.PlacesAPIKey)

	var chat *assistant.Assistant

	if cfg.AssistantEnabled() {
		model, err := assistant.NewOpenAI(cfg.OpenAIConfig())

		if err != nil {
			logger.Fatal("error creating chat model", zap.Error(err))
		}

		chat = assistant.New(model, geocoder, logger)
	} else {
		logger.Info("no chat model api key set, /generate disabled")
	}

	srv := server.New(server.Config{
		StaticDir:      cfg.StaticDir,
		OutputPath:     cfg.OutputPath,
		OutputURL:      cfg.OutputURL,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		Options:        cfg.Options(),
	}, pipeline, store, geocoder, chat, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()

		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Warn("error shutting down", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", cfg.Listen),
		zap.String("backend", cfg.Detector.Backend),
	)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// newLogger builds a production logger at the named level
func newLogger(level string) (*zap.Logger, error) {

	zcfg := zap.NewProductionConfig()

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)

		if err != nil {
			return nil, err
		}

		zcfg.Level = lvl
	}

	return zcfg.Build()
}

// newDetector creates the configured backend and a function releasing it
func newDetector(cfg config.Config, logger *zap.Logger) (obbtile.Detector, func(), error) {

	switch cfg.Detector.Backend {
	case config.BackendRemote:
		d, err := remote.New(cfg.RemoteConfig(), logger)

		if err != nil {
			return nil, nil, err
		}

		return d, func() {}, nil

	default:
		d, err := onnx.New(cfg.ONNXConfig(), logger)

		if err != nil {
			return nil, nil, err
		}

		return d, func() {
			if err := d.Close(); err != nil {
				logger.Warn("error closing detector", zap.Error(err))
			}
		}, nil
	}
}
