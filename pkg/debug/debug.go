// Package debug provides global debug logging flags
package debug

import "github.com/teslashibe/go-emotion/internal/log"

// Enabled controls whether debug logging is active
var Enabled bool

// Pipeline controls whether per-frame pipeline logs are shown (detections,
// predictions, skipped frames). Use --debug-pipeline to enable these very
// verbose logs.
var Pipeline bool

// Log emits a debug record only if debug mode is enabled
func Log(msg string, args ...any) {
	if Enabled {
		log.Debug(msg, args...)
	}
}

// FrameLog emits a debug record only if pipeline debug mode is enabled
func FrameLog(msg string, args ...any) {
	if Pipeline {
		log.Debug(msg, args...)
	}
}
