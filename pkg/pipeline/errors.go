package pipeline

import "errors"

var (
	// ErrRunning is returned when Start is called on a running scheduler.
	ErrRunning = errors.New("pipeline: already running")

	// ErrMissingDeps is returned by New when a clock or frame source is nil.
	ErrMissingDeps = errors.New("pipeline: clock and frame source are required")
)
