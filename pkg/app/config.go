// Package app wires the emotion demo service: model loading, camera
// acquisition, the session controller and the web server.
package app

import (
	"os"
	"time"

	"github.com/teslashibe/go-emotion/internal/config"
	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
	"github.com/teslashibe/go-emotion/pkg/pipeline"
	"github.com/teslashibe/go-emotion/pkg/profile"
)

// Detector backends.
const (
	DetectorPigo  = "pigo"
	DetectorYuNet = "yunet"
)

// Default model references.
const (
	DefaultPigoModel       = "models/facefinder"
	DefaultYuNetModel      = "models/face_detection_yunet.onnx"
	DefaultClassifierModel = "models/emotion.onnx"
)

// Config holds all configuration for the demo service.
// Flag parsing is done in cmd/emotion-demo; this struct is data only.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	// DebugPipeline enables per-frame pipeline logs.
	DebugPipeline bool

	// LogLevel and LogFile configure the global logger.
	LogLevel string
	LogFile  string

	// Addr is the HTTP listen address.
	Addr string

	// StaticDir holds the demo page.
	StaticDir string

	// Camera selection. CameraPreset is applied first, then Driver and
	// Device when set.
	CameraPreset string
	Driver       string
	Device       string
	StartTimeout time.Duration

	// Detector is "pigo" or "yunet". Model references may be paths or
	// http(s), s3 or gs URLs.
	Detector        string
	DetectorModel   string
	ClassifierModel string // Empty runs in demo mode
	CacheDir        string

	// Profile is "auto", "desktop" or "mobile".
	Profile string

	// GraceFrames and HistorySize tune the scheduler.
	GraceFrames int
	HistorySize int

	// AutoStart opens a session as soon as the server is up.
	AutoStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		Addr:            ":" + config.DefaultPort,
		StaticDir:       "./web",
		CameraPreset:    camera.PresetDefault,
		Detector:        DetectorPigo,
		ClassifierModel: DefaultClassifierModel,
		CacheDir:        config.DefaultCacheDir,
		Profile:         "auto",
		GraceFrames:     pipeline.DefaultGraceFrames,
		HistorySize:     pipeline.DefaultConfig().HistorySize,
	}
}

// LoadEnvConfig applies environment overrides for values not set by flag.
func (c *Config) LoadEnvConfig() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == DefaultConfig().Addr {
		c.Addr = ":" + port
	}
	if c.DetectorModel == "" {
		c.DetectorModel = os.Getenv("DETECTOR_MODEL")
	}
	if v := os.Getenv("CLASSIFIER_MODEL"); v != "" && c.ClassifierModel == DefaultClassifierModel {
		c.ClassifierModel = v
	}
	c.CacheDir = config.String("MODEL_CACHE_DIR", c.CacheDir)
	if c.LogFile == "" {
		c.LogFile = os.Getenv("LOG_FILE")
	}
}

// LogOptions returns the logger settings. The debug flags raise the level
// to debug, otherwise their records would be filtered out.
func (c *Config) LogOptions() log.Options {
	opts := log.Options{Level: c.LogLevel, File: c.LogFile}
	if opts.File == "" {
		opts.File = os.Getenv("LOG_FILE")
	}
	if c.Debug || c.DebugPipeline {
		opts.Level = "debug"
	}
	return opts
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return &ConfigError{Field: "Addr", Message: "listen address is required"}
	}
	if c.Detector != DetectorPigo && c.Detector != DetectorYuNet {
		return &ConfigError{Field: "Detector", Message: "detector must be pigo or yunet, got " + c.Detector}
	}
	if camera.GetPreset(c.CameraPreset) == nil {
		return &ConfigError{Field: "CameraPreset", Message: "unknown camera preset " + c.CameraPreset}
	}
	if c.Profile != "auto" && profile.Get(c.Profile) == nil {
		return &ConfigError{Field: "Profile", Message: "profile must be auto, desktop or mobile, got " + c.Profile}
	}
	if c.GraceFrames < 1 {
		return &ConfigError{Field: "GraceFrames", Message: "grace frames must be at least 1"}
	}
	if c.HistorySize < 1 {
		return &ConfigError{Field: "HistorySize", Message: "history size must be at least 1"}
	}
	return nil
}

// detectorModel returns the model reference for the selected detector.
func (c *Config) detectorModel() string {
	if c.DetectorModel != "" {
		return c.DetectorModel
	}
	if c.Detector == DetectorYuNet {
		return DefaultYuNetModel
	}
	return DefaultPigoModel
}

// cameraConfig builds the camera request from the preset and overrides.
func (c *Config) cameraConfig() camera.Config {
	cfg := *camera.GetPreset(c.CameraPreset)
	if c.Driver != "" {
		cfg.Driver = c.Driver
	}
	if c.Device != "" {
		cfg.Device = c.Device
	}
	return cfg
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
