package camera

import "errors"

var (
	// ErrSourceUnavailable is returned when the frame source cannot be
	// acquired or has stopped responding.
	ErrSourceUnavailable = errors.New("camera: source unavailable")

	// ErrFrameMissing means no frame was ready on this read. It is
	// transient and callers skip the tick.
	ErrFrameMissing = errors.New("camera: frame missing")

	// ErrClosed is returned when reading from a closed source.
	ErrClosed = errors.New("camera: source closed")
)
