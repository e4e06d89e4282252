// Package camera provides frame sources and the latest-frame slot shared
// between the frame refresh task and the detection loop.
package camera

import "time"

// Frame is one encoded camera image.
type Frame struct {
	Data       []byte    // JPEG bytes, never modified after publish
	Width      int       // Pixels
	Height     int       // Pixels
	Seq        uint64    // Monotonic per feed
	CapturedAt time.Time // Wall-clock capture time
}

// Empty reports whether the frame carries no image.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Source supplies camera frames on demand.
type Source interface {
	// Open acquires the device. Failures wrap ErrSourceUnavailable.
	Open() error

	// Read returns the next frame, or ErrFrameMissing when none is ready.
	Read() (Frame, error)

	// Close releases the device.
	Close() error
}

// SourceFactory builds a fresh, unopened Source.
type SourceFactory func() Source
