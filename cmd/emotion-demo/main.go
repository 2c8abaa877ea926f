// Emotion demo - live webcam emotion inference with a browser UI
// Detects a face, classifies its expression and streams the annotated preview.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-emotion/internal/config"
	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/app"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ .env: %v\n", err)
		os.Exit(1)
	}

	cfg := parseFlags()
	log.InitWith(cfg.LogOptions())

	a, err := app.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() app.Config {
	cfg := app.DefaultConfig()

	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")
	flag.BoolVar(&cfg.DebugPipeline, "debug-pipeline", false, "Log every pipeline pass (very verbose)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to this rotated file (overrides LOG_FILE)")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address (PORT env var applies when unset)")
	flag.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Directory with the demo page")
	flag.StringVar(&cfg.CameraPreset, "camera", cfg.CameraPreset, "Camera preset: default, 480p, 720p, 1080p, browser, demo")
	flag.StringVar(&cfg.Driver, "driver", "", "Override capture driver: gocv, v4l2, webrtc, synthetic")
	flag.StringVar(&cfg.Device, "device", "", "Capture device index or node")
	flag.DurationVar(&cfg.StartTimeout, "camera-timeout", 0, "How long to wait for the first frame")
	flag.StringVar(&cfg.Detector, "detector", cfg.Detector, "Face detector: pigo, yunet")
	flag.StringVar(&cfg.DetectorModel, "detector-model", "", "Detector model path or URL (DETECTOR_MODEL)")
	flag.StringVar(&cfg.ClassifierModel, "classifier-model", cfg.ClassifierModel, "Emotion model path or URL; empty runs demo mode (CLASSIFIER_MODEL)")
	flag.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Where remote models are stored (MODEL_CACHE_DIR)")
	flag.StringVar(&cfg.Profile, "profile", cfg.Profile, "Device profile: auto, desktop, mobile")
	flag.IntVar(&cfg.GraceFrames, "grace-frames", cfg.GraceFrames, "Processed frames without a face before the bars are hidden")
	flag.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Predictions averaged by the smoother")
	flag.BoolVar(&cfg.AutoStart, "autostart", false, "Open a session at startup instead of waiting for the UI")

	flag.Parse()
	return cfg
}
