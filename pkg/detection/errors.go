package detection

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrClosed is returned when detecting with a released detector.
	ErrClosed = errors.New("detection: detector closed")

	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("detection: empty image")

	// ErrEmptyModel is returned when the model artifact has no bytes.
	ErrEmptyModel = errors.New("detection: empty model")
)
