package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrInvalidDetection is returned when a detection violates its
	// geometric or confidence preconditions.
	ErrInvalidDetection = errors.New("detection: invalid detection")

	// ErrModelNotFound is returned when a model file is missing.
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrEmptyImage is returned when the input image decodes to nothing.
	ErrEmptyImage = errors.New("detection: empty image")
)

// DetectorError wraps a failure of a detection backend.
type DetectorError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *DetectorError) Error() string {
	return fmt.Sprintf("detection [%s]: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Failure wraps err with backend context. Returns nil for a nil err.
func Failure(backend string, err error) error {
	if err == nil {
		return nil
	}
	var de *DetectorError
	if errors.As(err, &de) {
		return err
	}
	return &DetectorError{Backend: backend, Err: err}
}

// IsFailure reports whether err came from a detection backend.
func IsFailure(err error) bool {
	var de *DetectorError
	return errors.As(err, &de)
}
