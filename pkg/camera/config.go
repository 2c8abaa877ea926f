// Package camera provides runtime-configurable capture constraints for the
// emotion pipeline. Constraints are requests: drivers pick the closest mode
// the device offers.
package camera

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Capture drivers.
const (
	DriverGoCV      = "gocv"      // OpenCV VideoCapture
	DriverV4L2      = "v4l2"      // Linux V4L2 MJPEG via blackjack/webcam
	DriverWebRTC    = "webrtc"    // Browser camera streamed over WebRTC
	DriverSynthetic = "synthetic" // Generated frames, no hardware
)

// Facing modes.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// Config holds the camera request constraints.
// These can be modified via the camera API at runtime and apply to the next
// session opened.
type Config struct {
	Driver string `json:"driver" validate:"oneof=gocv v4l2 webrtc synthetic"`

	// Device is a device index ("0") or node ("/dev/video0"); unused by the
	// webrtc and synthetic drivers.
	Device string `json:"device"`

	// === Resolution ===
	Width     int `json:"width" validate:"min=160,max=3840"`  // Ideal frame width
	Height    int `json:"height" validate:"min=120,max=2160"` // Ideal frame height
	Framerate int `json:"framerate" validate:"min=1,max=120"` // Target FPS
	Quality   int `json:"quality" validate:"min=1,max=100"`   // Preview JPEG quality

	// Facing asks for the front (user) or rear (environment) camera.
	Facing string `json:"facing" validate:"oneof=user environment"`
}

// DefaultConfig returns the standard request: the user-facing camera at an
// ideal 1280x720.
func DefaultConfig() Config {
	return Config{
		Driver:    DriverGoCV,
		Device:    "0",
		Width:     1280,
		Height:    720,
		Framerate: 30,
		Quality:   80,
		Facing:    FacingUser,
	}
}

var validate = validator.New()

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// Capabilities describes what the camera layer supports.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"drivers": []string{DriverGoCV, DriverV4L2, DriverWebRTC, DriverSynthetic},
		"facing":  []string{FacingUser, FacingEnvironment},
		"presets": PresetNames(),
	}
}
