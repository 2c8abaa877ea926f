// Package profile selects the per-device pipeline tuning: how often heavy
// inference runs, the detection resolution and the display box correction.
package profile

import (
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Profile is a named set of pipeline tuning values. It is chosen once when a
// session opens and never changes while the session runs.
type Profile struct {
	Name string `json:"name" validate:"required"`

	// SkipInterval runs detection and classification on every Nth display
	// frame.
	SkipInterval int `json:"skip_interval" validate:"min=1,max=60"`

	// DetectionWidth is the width of the low-resolution processing canvas.
	// Height follows the source aspect ratio.
	DetectionWidth int `json:"detection_width" validate:"min=64,max=1920"`

	// BoxInflation enlarges display boxes about their centre. Detectors
	// return tighter boxes at small detection widths.
	BoxInflation float64 `json:"box_inflation" validate:"gte=1,lte=3"`

	// DisplayFPS is the display refresh rate driving the frame clock.
	DisplayFPS int `json:"display_fps" validate:"min=1,max=240"`
}

// Desktop returns the profile for capable machines.
func Desktop() Profile {
	return Profile{
		Name:           "desktop",
		SkipInterval:   3,
		DetectionWidth: 320,
		BoxInflation:   1.0,
		DisplayFPS:     60,
	}
}

// Mobile returns the profile for constrained devices.
func Mobile() Profile {
	return Profile{
		Name:           "mobile",
		SkipInterval:   6,
		DetectionWidth: 160,
		BoxInflation:   1.4,
		DisplayFPS:     30,
	}
}

// Presets maps preset names to profile constructors.
var Presets = map[string]func() Profile{
	"desktop": Desktop,
	"mobile":  Mobile,
}

// Get returns the named preset, or nil if unknown.
func Get(name string) *Profile {
	fn, ok := Presets[strings.ToLower(name)]
	if !ok {
		return nil
	}
	p := fn()
	return &p
}

// Names returns the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var validate = validator.New()

// Validate checks that every tuning value is within range.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return nil
}

// Capabilities describes the device a session runs for.
type Capabilities struct {
	// UserAgent of the browser that opened the session, if any.
	UserAgent string

	// CPUs available to the pipeline; zero means runtime.NumCPU.
	CPUs int
}

// MinDesktopCPUs is the CPU count below which the mobile profile is used.
const MinDesktopCPUs = 4

var mobileUA = regexp.MustCompile(`(?i)mobi|android|iphone|ipad|ipod|silk|opera mini`)

// Probe chooses a profile from device capabilities. A mobile browser or a
// machine with fewer than MinDesktopCPUs cores gets the mobile profile.
func Probe(c Capabilities) Profile {
	if mobileUA.MatchString(c.UserAgent) {
		return Mobile()
	}
	cpus := c.CPUs
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	if cpus < MinDesktopCPUs {
		return Mobile()
	}
	return Desktop()
}

// Resolve returns the named preset when override is set, otherwise the
// probed profile.
func Resolve(override string, c Capabilities) (Profile, error) {
	if override == "" || override == "auto" {
		return Probe(c), nil
	}
	p := Get(override)
	if p == nil {
		return Profile{}, fmt.Errorf("profile: unknown preset %q", override)
	}
	return *p, nil
}
