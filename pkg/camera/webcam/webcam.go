// Package webcam captures frames from a local camera, video file or stream
// URL through OpenCV.
package webcam

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/camera"
)

// Webcam implements camera.Source on top of gocv.VideoCapture.
type Webcam struct {
	cfg camera.Config

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// New creates an unopened webcam source.
func New(cfg camera.Config) *Webcam {
	return &Webcam{cfg: cfg}
}

// Factory returns a camera.SourceFactory for cfg.
func Factory(cfg camera.Config) camera.SourceFactory {
	return func() camera.Source { return New(cfg) }
}

// Open acquires the capture device and applies the requested format.
func (w *Webcam) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.capture != nil {
		return nil
	}

	// Numeric devices are opened as camera indexes, anything else as a path or URL.
	capture, err := gocv.OpenVideoCapture(w.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", camera.ErrSourceUnavailable, w.cfg.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: %q not opened", camera.ErrSourceUnavailable, w.cfg.Device)
	}

	if w.cfg.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(w.cfg.Width))
	}
	if w.cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(w.cfg.Height))
	}
	if w.cfg.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(w.cfg.FPS))
	}

	w.capture = capture
	w.mat = gocv.NewMat()

	// Let auto exposure settle.
	for i := 0; i < w.cfg.WarmupFrames; i++ {
		w.capture.Read(&w.mat)
	}

	log.Info("camera opened", "component", "webcam", "device", w.cfg.Device,
		"width", int(capture.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(capture.Get(gocv.VideoCaptureFrameHeight)))
	return nil
}

// Read grabs one frame and encodes it as JPEG.
func (w *Webcam) Read() (camera.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.capture == nil {
		return camera.Frame{}, camera.ErrClosed
	}

	if ok := w.capture.Read(&w.mat); !ok || w.mat.Empty() {
		return camera.Frame{}, camera.ErrFrameMissing
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, w.mat, []int{gocv.IMWriteJpegQuality, w.cfg.Quality})
	if err != nil {
		return camera.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return camera.Frame{
		Data:       bytes.Clone(buf.GetBytes()),
		Width:      w.mat.Cols(),
		Height:     w.mat.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the capture device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.capture == nil {
		return nil
	}
	err := w.capture.Close()
	w.mat.Close()
	w.capture = nil
	log.Info("camera released", "component", "webcam", "device", w.cfg.Device)
	return err
}
