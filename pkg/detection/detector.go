// Package detection provides face detection using computer vision
package detection

import (
	"context"
	"image"

	"github.com/teslashibe/go-emotion/pkg/geometry"
)

// Detector is the interface for face detection backends
type Detector interface {
	// Detect finds faces in img. Boxes are in img's pixel space, best first.
	Detect(ctx context.Context, img image.Image) ([]geometry.Box, error)

	// Close releases resources. Calling Close more than once is safe.
	Close() error
}

// Config holds detector configuration
type Config struct {
	ModelPath        string  // Path to model artifact (ONNX for YuNet, cascade for pigo)
	ConfidenceThresh float64 // Minimum confidence; pigo uses its own Q scale
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
	MinFaceSize      int     // Smallest face side in pixels (pigo)
	MaxFaceSize      int     // Largest face side in pixels (pigo)
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.6,
		InputWidth:       320,
		InputHeight:      240,
	}
}

// PigoConfig returns defaults for the pure-Go cascade detector
func PigoConfig() Config {
	return Config{
		ModelPath:        "models/facefinder",
		ConfidenceThresh: 5.0,
		InputWidth:       320,
		InputHeight:      240,
		MinFaceSize:      24,
		MaxFaceSize:      480,
	}
}

// First returns the first detection. Only one face is tracked at a time, so
// additional faces are ignored.
func First(boxes []geometry.Box) (geometry.Box, bool) {
	if len(boxes) == 0 {
		return geometry.Box{}, false
	}
	return boxes[0], true
}

// Warmup runs one detection on a blank frame of the given size so backend
// initialisation happens during model loading rather than on the first
// live frame.
func Warmup(ctx context.Context, d Detector, width, height int) error {
	_, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, width, height)))
	return err
}
