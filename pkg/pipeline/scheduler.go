// Package pipeline runs the per-frame loop: every display refresh draws the
// cached overlay, and every Nth refresh starts a detection and
// classification pass in the background when none is in flight.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/debug"
	"github.com/teslashibe/go-emotion/pkg/detection"
	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
	"github.com/teslashibe/go-emotion/pkg/normalize"
	"github.com/teslashibe/go-emotion/pkg/overlay"
	"github.com/teslashibe/go-emotion/pkg/profile"
)

// DefaultGraceFrames is how many consecutive faceless processed frames the
// bars survive.
const DefaultGraceFrames = 30

// FrameSource supplies the most recent camera frame, or nil before the
// first one arrives.
type FrameSource interface {
	Latest() image.Image
}

// Config holds scheduler parameters.
type Config struct {
	Profile     profile.Profile
	GraceFrames int
	HistorySize int
	Normalize   normalize.Config
	Style       overlay.Style
}

// DefaultConfig returns the desktop configuration.
func DefaultConfig() Config {
	return Config{
		Profile:     profile.Desktop(),
		GraceFrames: DefaultGraceFrames,
		HistorySize: emotion.DefaultWindow,
		Normalize:   normalize.DefaultConfig(),
		Style:       overlay.DefaultStyle(),
	}
}

// Deps are the collaborators a scheduler drives. Detector and Classifier may
// be nil while models load; ticks then only reschedule.
type Deps struct {
	Clock      FrameClock
	Source     FrameSource
	Detector   detection.Detector
	Classifier emotion.Classifier
}

// Hooks are optional callbacks. OnVideoReady and OnRender run on the clock
// goroutine and must return quickly. OnRender runs under the scheduler lock
// and must not retain layer; OnVideoReady runs after the lock is released.
type Hooks struct {
	OnVideoReady func()
	OnRender     func(frame image.Image, layer *image.RGBA)
	OnUpdate     func(Snapshot)
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Ticks       uint64 `json:"ticks"`
	Frames      uint64 `json:"frames"`
	Passes      uint64 `json:"passes"`
	SkippedBusy uint64 `json:"skipped_busy"`
	Stale       uint64 `json:"stale"`
	Errors      uint64 `json:"errors"`
}

type job struct {
	gen   uint64
	frame *image.RGBA
	det   geometry.Size
	disp  geometry.Size
}

// Scheduler owns the frame loop of one session.
type Scheduler struct {
	cfg        Config
	deps       Deps
	hooks      Hooks
	normalizer *normalize.Normalizer
	renderer   *overlay.Renderer
	proc       *overlay.Canvas
	display    *overlay.Canvas

	mu         sync.Mutex
	state      *State
	running    bool
	handle     FrameHandle
	frame      uint64
	videoReady bool
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc

	busy     atomic.Bool
	inflight sync.WaitGroup

	ticks       atomic.Uint64
	passes      atomic.Uint64
	skippedBusy atomic.Uint64
	stale       atomic.Uint64
	errors      atomic.Uint64
}

// New creates a stopped scheduler.
func New(cfg Config, deps Deps, hooks Hooks) (*Scheduler, error) {
	if deps.Clock == nil || deps.Source == nil {
		return nil, ErrMissingDeps
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.GraceFrames <= 0 {
		cfg.GraceFrames = DefaultGraceFrames
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = emotion.DefaultWindow
	}
	return &Scheduler{
		cfg:        cfg,
		deps:       deps,
		hooks:      hooks,
		normalizer: normalize.New(cfg.Normalize),
		renderer:   overlay.NewRenderer(cfg.Style),
		proc:       overlay.NewCanvas(),
		display:    overlay.NewCanvas(),
		state:      NewState(cfg.HistorySize),
	}, nil
}

// Start schedules the first tick. Inference passes run under a context
// derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.schedule()
	log.Info("pipeline started",
		"profile", s.cfg.Profile.Name,
		"skip_interval", s.cfg.Profile.SkipInterval,
		"detection_width", s.cfg.Profile.DetectionWidth)
	return nil
}

// Stop cancels the pending tick and any in-flight pass, then waits for that
// pass to return. Results arriving after Stop are discarded. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.inflight.Wait()
		return
	}
	s.running = false
	s.generation++
	s.deps.Clock.CancelFrame(s.handle)
	s.cancel()
	s.mu.Unlock()

	s.inflight.Wait()
	log.Info("pipeline stopped", "frames", s.Frames(), "passes", s.passes.Load())
}

// Wait blocks until no inference pass is in flight.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Reset clears the face cache, the smoothing history and the video-ready
// flag. Call it between sessions.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Reset()
	s.frame = 0
	s.videoReady = false
	s.generation++
}

// Running reports whether ticks are being scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// VideoReady reports whether a valid frame has been seen.
func (s *Scheduler) VideoReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoReady
}

// Frames returns the frame counter.
func (s *Scheduler) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Profile returns the active profile.
func (s *Scheduler) Profile() profile.Profile {
	return s.cfg.Profile
}

// Snapshot returns a copy of the cache.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() Snapshot {
	snap := s.state.snapshot()
	snap.VideoReady = s.videoReady
	snap.Frame = s.frame
	return snap
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:       s.ticks.Load(),
		Frames:      s.Frames(),
		Passes:      s.passes.Load(),
		SkippedBusy: s.skippedBusy.Load(),
		Stale:       s.stale.Load(),
		Errors:      s.errors.Load(),
	}
}

// schedule requests the next tick. Callers hold mu.
func (s *Scheduler) schedule() {
	s.handle = s.deps.Clock.RequestFrame(s.tick)
}

func (s *Scheduler) tick() {
	if s.advance() && s.hooks.OnVideoReady != nil {
		s.hooks.OnVideoReady()
	}
}

// advance handles one display refresh under mu. It reports whether this was
// the first frame with video.
func (s *Scheduler) advance() (videoReady bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.ticks.Add(1)

	frame := s.deps.Source.Latest()
	if frame == nil || s.deps.Detector == nil || s.deps.Classifier == nil {
		s.schedule()
		return false
	}
	srcW, srcH := frame.Bounds().Dx(), frame.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		s.schedule()
		return false
	}

	if !s.videoReady {
		s.videoReady = true
		videoReady = true
		log.Info("video ready", "width", srcW, "height", srcH)
	}

	detW, detH := processingSize(s.cfg.Profile.DetectionWidth, srcW, srcH)
	if s.proc.Ensure(detW, detH) {
		debug.Log("processing canvas resized", "width", detW, "height", detH)
	}
	if s.display.Ensure(srcW, srcH) {
		debug.Log("display canvas resized", "width", srcW, "height", srcH)
	}

	s.frame++
	s.schedule()

	// The overlay always shows the last completed pass.
	s.renderer.Render(s.display, s.state.Face, s.state.Bars)
	if s.hooks.OnRender != nil {
		s.hooks.OnRender(frame, s.display.Image())
	}

	if s.frame%uint64(s.cfg.Profile.SkipInterval) != 0 {
		return videoReady
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.skippedBusy.Add(1)
		debug.FrameLog("pass skipped, previous still running", "frame", s.frame)
		return videoReady
	}

	s.proc.DrawScaled(frame)
	j := job{
		gen:   s.generation,
		frame: s.proc.Image(),
		det:   geometry.Size{W: float64(detW), H: float64(detH)},
		disp:  geometry.SizeOf(frame.Bounds()),
	}
	s.inflight.Add(1)
	go s.process(s.ctx, j)
	return videoReady
}

// processingSize returns the detection canvas size: the profile width (never
// upscaled) with height following the source aspect ratio.
func processingSize(width, srcW, srcH int) (w, h int) {
	w = min(width, srcW)
	h = int(math.Round(float64(w) * float64(srcH) / float64(srcW)))
	return w, max(h, 1)
}

// process runs one detection and classification pass. The processing canvas
// is not touched by ticks while busy is held.
func (s *Scheduler) process(ctx context.Context, j job) {
	defer s.inflight.Done()
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.errors.Add(1)
			log.Error("inference pass panicked", "panic", fmt.Sprint(r))
		}
	}()

	boxes, err := s.deps.Detector.Detect(ctx, j.frame)
	if err != nil {
		s.passFailed(ctx, "detect", err)
		return
	}

	box, ok := detection.First(boxes)
	if !ok {
		s.commit(j.gen, func(st *State) {
			if st.FaceMissing(s.cfg.GraceFrames) {
				debug.FrameLog("emotion bars expired", "streak", st.NoFaceStreak)
			}
		})
		return
	}

	display := geometry.MapToDisplay(box, j.det, j.disp, s.cfg.Profile.BoxInflation)

	tensor, err := s.normalizer.Normalize(j.frame, box)
	if err != nil {
		s.passFailed(ctx, "normalize", err)
		return
	}

	probs, err := s.deps.Classifier.Predict(ctx, tensor)
	if err != nil {
		s.passFailed(ctx, "classify", err)
		return
	}

	label, score := probs.Dominant()
	debug.FrameLog("face classified", "box", display, "label", label.String(), "score", score)

	s.commit(j.gen, func(st *State) {
		st.FaceFound(display, probs)
	})
}

// passFailed records a per-frame error. The cache is left as it was.
// Errors caused by Stop cancelling the pass are not counted.
func (s *Scheduler) passFailed(ctx context.Context, stage string, err error) {
	if ctx.Err() != nil {
		return
	}
	s.errors.Add(1)
	log.Warn("inference pass failed", "stage", stage, "error", err)
}

// commit applies a completed pass unless the session it belongs to has
// been stopped or reset since it started.
func (s *Scheduler) commit(gen uint64, apply func(*State)) {
	s.mu.Lock()
	if !s.running || gen != s.generation {
		s.mu.Unlock()
		s.stale.Add(1)
		return
	}
	apply(s.state)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.passes.Add(1)
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(snap)
	}
}
