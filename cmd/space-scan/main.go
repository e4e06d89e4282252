// space-scan: runs the shelf space advisor over one image and prints the
// report as JSON.
//
// Usage:
//
//	space-scan -image shelf.jpg
//	space-scan -image shelf.jpg -detector-url http://localhost:8000/detect
//	space-scan -camera 0
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/camera/webcam"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/detection/yolo"
	"github.com/teslashibe/go-scenewatch/pkg/space"
)

var (
	imagePath   = flag.String("image", "", "JPEG image to scan")
	device      = flag.String("camera", "", "Grab one frame from this camera instead of -image")
	modelPath   = flag.String("model", yolo.DefaultConfig().ModelPath, "YOLO ONNX model")
	labelsPath  = flag.String("labels", yolo.DefaultConfig().LabelsPath, "Class names file")
	detectorURL = flag.String("detector-url", "", "Use a remote detection server instead of YOLO")
	gap         = flag.Float64("gap", space.DefaultGapThreshold, "Pixels of clearance that count as space")
	minConf     = flag.Float64("min-conf", space.DefaultConfidenceFloor, "Minimum detection confidence")
	timeout     = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := "warn"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "space-scan: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	frame, err := loadFrame()
	if err != nil {
		return err
	}

	detector, err := newDetector()
	if err != nil {
		return err
	}
	defer detector.Close()

	opts := space.DefaultOptions(0)
	opts.GapThreshold = *gap
	opts.ConfidenceFloor = *minConf

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := space.NewScanner(detector, opts).Scan(ctx, frame)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func loadFrame() (camera.Frame, error) {
	switch {
	case *device != "":
		cfg := camera.DefaultConfig()
		cfg.Device = *device
		return camera.Grab(webcam.New(cfg), 10, 50*time.Millisecond)
	case *imagePath != "":
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			return camera.Frame{}, err
		}
		return camera.Frame{Data: data, CapturedAt: time.Now()}, nil
	default:
		return camera.Frame{}, fmt.Errorf("one of -image or -camera is required")
	}
}

func newDetector() (detection.Detector, error) {
	if *detectorURL != "" {
		d, err := detection.NewRemote(detection.RemoteConfig{URL: *detectorURL, Timeout: *timeout})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	cfg := yolo.DefaultConfig()
	cfg.ModelPath = *modelPath
	cfg.LabelsPath = *labelsPath
	d, err := yolo.New(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}
