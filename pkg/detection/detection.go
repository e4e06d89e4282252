// Package detection defines the object detection contract used by the
// scene monitor and the space advisor, plus label filtering helpers.
package detection

import (
	"context"
	"fmt"
	"math"
)

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the center point of the box
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Width returns the horizontal extent of the box
func (b Box) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box
func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Detection is one detected object instance.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Validate checks the detection preconditions: a label, a confidence in
// [0,1] and a box with x1<x2 and y1<y2.
func (d Detection) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidDetection)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: %q confidence %v outside [0,1]", ErrInvalidDetection, d.Label, d.Confidence)
	}
	b := d.Box
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %q has non-finite coordinates", ErrInvalidDetection, d.Label)
		}
	}
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return fmt.Errorf("%w: %q box (%.1f,%.1f)-(%.1f,%.1f) is degenerate",
			ErrInvalidDetection, d.Label, b.X1, b.Y1, b.X2, b.Y2)
	}
	return nil
}

// ValidateAll validates every detection and reports the first violation
// together with its index.
func ValidateAll(dets []Detection) error {
	for i, d := range dets {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("detection %d: %w", i, err)
		}
	}
	return nil
}

// Detector is the interface for object detection backends
type Detector interface {
	// Detect finds objects in a JPEG image
	Detect(ctx context.Context, jpeg []byte) ([]Detection, error)

	// Close releases resources
	Close() error
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, jpeg []byte) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, jpeg []byte) ([]Detection, error) {
	return f(ctx, jpeg)
}

// Close is a no-op.
func (f DetectorFunc) Close() error { return nil }
