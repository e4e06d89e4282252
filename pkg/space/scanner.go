package space

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG header decoding for frame width
	_ "image/png"

	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
)

// Scanner runs one-shot advisory passes over supplied frames.
// It holds no state between scans.
type Scanner struct {
	detector detection.Detector
	opts     Options
}

// NewScanner creates a scanner. opts.FrameWidth is ignored; each frame
// provides its own width.
func NewScanner(detector detection.Detector, opts Options) *Scanner {
	return &Scanner{detector: detector, opts: opts}
}

// Scan detects objects in frame and advises on their spacing.
func (s *Scanner) Scan(ctx context.Context, frame camera.Frame) (Report, error) {
	if frame.Empty() {
		return Report{}, camera.ErrFrameMissing
	}

	width := frame.Width
	if width <= 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(frame.Data))
		if err != nil {
			return Report{}, fmt.Errorf("space: read frame size: %w", err)
		}
		width = cfg.Width
	}

	dets, err := s.detector.Detect(ctx, frame.Data)
	if err != nil {
		return Report{}, detection.Failure("scan", err)
	}

	opts := s.opts
	opts.FrameWidth = float64(width)
	return Advise(dets, opts)
}
