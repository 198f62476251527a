package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	obbtile "github.com/swdee/go-obbtile"
	"github.com/swdee/go-obbtile/detector/onnx"
	"github.com/swdee/go-obbtile/detector/remote"
	"github.com/swdee/go-obbtile/imageio"
	"github.com/swdee/go-obbtile/postprocess"
	"go.uber.org/zap"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	modelFile := flag.String("m", "../data/models/yolo11n-obb.onnx", "ONNX exported YOLO OBB model file")
	imgFile := flag.String("i", "../data/harbor.tif", "Image file to run object detection on")
	labelFile := flag.String("l", "", "Text file containing model labels, DOTA v1 classes are used when not set")
	saveFile := flag.String("o", "../data/harbor-obb-out.jpg", "The output JPG file with oriented box markers")
	tileSize := flag.Int("t", 1024, "Tile size in pixels")
	overlap := flag.Int("v", 0, "Overlap between adjacent tiles in pixels")
	classes := flag.String("c", strings.Join(postprocess.DefaultAllowList, ","), "Comma separated class names to report, * for all")
	sharedLib := flag.String("s", "", "Path to the onnxruntime shared library")
	remoteURL := flag.String("r", "", "URL of a remote inference service, used instead of the ONNX model when set")
	debug := flag.Bool("d", false, "Enable debug logging")

	flag.Parse()

	logger := zap.NewNop()

	if *debug {
		var err error
		logger, err = zap.NewDevelopment()

		if err != nil {
			log.Fatal("Error creating logger: ", err)
		}
	}

	defer logger.Sync()

	var detector obbtile.Detector

	if *remoteURL != "" {
		rcfg := remote.DefaultConfig()
		rcfg.URL = *remoteURL

		d, err := remote.New(rcfg, logger)

		if err != nil {
			log.Fatal("Error creating remote detector: ", err)
		}

		detector = d

	} else {
		ocfg := onnx.DefaultConfig()
		ocfg.ModelFile = *modelFile
		ocfg.LabelFile = *labelFile
		ocfg.SharedLibrary = *sharedLib

		d, err := onnx.New(ocfg, logger)

		if err != nil {
			log.Fatal("Error creating onnx detector: ", err)
		}

		defer d.Close()
		detector = d
	}

	// load image
	img, err := imageio.DecodeFile(*imgFile)

	if err != nil {
		log.Fatal("Error reading image: ", err)
	}

	defer img.Close()

	// output dimensions of source image
	log.Printf("Source image dimensions %dx%d\n", img.Cols(), img.Rows())

	pipeline := obbtile.NewPipeline(detector, obbtile.DefaultPipelineParams(), logger)

	opts := obbtile.Options{
		TileSize: *tileSize,
		Overlap:  *overlap,
		Allow:    postprocess.ParseAllowList(strings.Split(*classes, ",")),
	}

	start := time.Now()

	res, err := pipeline.Analyze(context.Background(), &img, opts)

	if err != nil {
		log.Fatal("Error analyzing image: ", err)
	}

	end := time.Now()

	for _, d := range res.Detections {
		log.Printf("%s (%.2f%%) center=(%.1f,%.1f) size=%.1fx%.1f angle=%.3f color=%s\n",
			d.ClassName, d.Confidence*100, d.CX, d.CY, d.Width, d.Height,
			d.Angle, d.Color)
	}

	for name, n := range res.ClassCounts() {
		log.Printf("Class %s: %d\n", name, n)
	}

	log.Printf("Analysis time=%s, total detections=%d\n", end.Sub(start).String(),
		len(res.Detections))

	if err := imageio.Save(*saveFile, img); err != nil {
		log.Fatal("Error saving output image: ", err)
	}

	log.Printf("Saved object detection result to %s\n", *saveFile)
}
