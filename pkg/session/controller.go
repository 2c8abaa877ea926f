// Package session drives one emotion demo from opening to teardown: model
// loading with the demo-mode fallback, camera acquisition with its retry
// path, the frame scheduler, and ordered resource release.
package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/capture"
	"github.com/teslashibe/go-emotion/pkg/detection"
	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
	"github.com/teslashibe/go-emotion/pkg/pipeline"
	"github.com/teslashibe/go-emotion/pkg/profile"
)

// State is a lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateRunning State = "running"
	StateClosing State = "closing"
	StateFailed  State = "failed"
)

// Deps are the session's external collaborators.
type Deps struct {
	// LoadDetector is required. Its failure fails the session.
	LoadDetector func(ctx context.Context) (detection.Detector, error)

	// LoadClassifier may be nil. A nil loader or a load failure switches
	// the session to demo mode.
	LoadClassifier func(ctx context.Context) (emotion.Classifier, error)

	// OpenCamera must return a started source or the acquisition error.
	OpenCamera func(ctx context.Context) (capture.Source, error)

	// NewClock creates the display clock; defaults to a ticker at the
	// profile's refresh rate.
	NewClock func(fps int) pipeline.FrameClock
}

// Hooks are optional observers. OnChange receives every state change and
// every committed inference pass. OnRender is forwarded to the scheduler.
type Hooks struct {
	OnChange func(Status)
	OnRender func(frame image.Image, layer *image.RGBA)
}

// ErrorInfo is the operator-facing part of a Failure.
type ErrorInfo struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID  string          `json:"session_id,omitempty"`
	State      State           `json:"state"`
	Loading    bool            `json:"loading"`
	VideoReady bool            `json:"video_ready"`
	DemoMode   bool            `json:"demo_mode"`
	Profile    string          `json:"profile"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	Face       *geometry.Box   `json:"face,omitempty"`
	Emotions   []emotion.Score `json:"emotions,omitempty"`
	Dominant   string          `json:"dominant,omitempty"`
	Stats      *pipeline.Stats `json:"stats,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Controller is the lifecycle state machine of the demo. All methods are
// safe for concurrent use.
type Controller struct {
	cfg   pipeline.Config
	deps  Deps
	hooks Hooks

	// notifyMu keeps OnChange deliveries in snapshot order.
	notifyMu sync.Mutex

	mu         sync.Mutex
	profile    profile.Profile
	id         string
	state      State
	loading    bool
	demo       bool
	failure    *Failure
	op         uint64
	ctx        context.Context
	cancel     context.CancelFunc
	detector   detection.Detector
	classifier emotion.Classifier
	source     capture.Source
	clock      pipeline.FrameClock
	sched      *pipeline.Scheduler
}

// New creates an idle controller.
func New(cfg pipeline.Config, deps Deps, hooks Hooks) (*Controller, error) {
	if deps.LoadDetector == nil || deps.OpenCamera == nil {
		return nil, ErrMissingLoader
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if deps.NewClock == nil {
		deps.NewClock = func(fps int) pipeline.FrameClock { return pipeline.NewTickerClock(fps) }
	}
	return &Controller{cfg: cfg, deps: deps, hooks: hooks, state: StateIdle, profile: cfg.Profile}, nil
}

type profileKey struct{}

// WithProfile returns a context that makes Open use p instead of the
// configured profile, typically one probed from the client's browser.
func WithProfile(ctx context.Context, p profile.Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

// ProfileFrom returns the profile stored by WithProfile.
func ProfileFrom(ctx context.Context) (profile.Profile, bool) {
	p, ok := ctx.Value(profileKey{}).(profile.Profile)
	return p, ok
}

// Open loads the models, acquires the camera and starts the frame loop. It
// blocks until the session is running or has failed. The session lives
// until Close is called or ctx is cancelled.
func (c *Controller) Open(ctx context.Context) error {
	prof := c.cfg.Profile
	if p, ok := ProfileFrom(ctx); ok {
		if err := p.Validate(); err != nil {
			return err
		}
		prof = p
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.profile = prof
	c.op++
	op := c.op
	c.id = uuid.NewString()
	c.ctx, c.cancel = context.WithCancel(ctx)
	sessCtx := c.ctx
	c.state = StateLoading
	c.loading = true
	c.demo = false
	c.failure = nil
	id := c.id
	c.mu.Unlock()

	log.Info("session opening", "session", id, "profile", prof.Name)
	c.notify()

	det, cls, demo, err := c.loadModels(sessCtx, prof)
	if err != nil {
		return c.fail(op, modelFailure(err))
	}

	c.mu.Lock()
	if c.op != op {
		c.mu.Unlock()
		det.Close()
		cls.Close()
		return ErrClosed
	}
	c.detector, c.classifier, c.demo = det, cls, demo
	c.state = StateReady
	c.mu.Unlock()

	log.Info("models ready", "session", id, "demo_mode", demo)
	c.notify()

	return c.startCamera(sessCtx, op)
}

// loadModels acquires and warms the detector and classifier. Any classifier
// problem falls back to the demo classifier.
func (c *Controller) loadModels(ctx context.Context, prof profile.Profile) (detection.Detector, emotion.Classifier, bool, error) {
	det, err := c.deps.LoadDetector(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	w := prof.DetectionWidth
	if err := detection.Warmup(ctx, det, w, w*3/4); err != nil {
		det.Close()
		return nil, nil, false, err
	}

	var cls emotion.Classifier
	if c.deps.LoadClassifier != nil {
		cls, err = c.deps.LoadClassifier(ctx)
		if err == nil {
			if werr := emotion.Warmup(ctx, cls, c.cfg.Normalize.InputSize); werr != nil {
				cls.Close()
				cls, err = nil, werr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				det.Close()
				return nil, nil, false, ctx.Err()
			}
			log.Warn("emotion classifier unavailable, using demo mode", "error", err)
		}
	}
	if cls == nil {
		return det, emotion.NewDemo(), true, nil
	}
	return det, cls, false, nil
}

// Retry re-attempts camera acquisition after a permission refusal, keeping
// the loaded models.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateFailed || c.failure == nil || !c.failure.Retryable() {
		c.mu.Unlock()
		return ErrRetryNotAllowed
	}
	op := c.op
	sessCtx := c.ctx
	c.failure = nil
	c.state = StateReady
	c.loading = true
	c.mu.Unlock()

	log.Info("retrying camera", "session", c.ID())
	c.notify()

	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()
	return c.attachCamera(acquireCtx, sessCtx, op)
}

func (c *Controller) startCamera(sessCtx context.Context, op uint64) error {
	return c.attachCamera(sessCtx, sessCtx, op)
}

// attachCamera acquires the camera under acquireCtx and starts the
// scheduler for the session.
func (c *Controller) attachCamera(acquireCtx, sessCtx context.Context, op uint64) error {
	src, err := c.deps.OpenCamera(acquireCtx)
	if err != nil {
		return c.fail(op, cameraFailure(err))
	}

	c.mu.Lock()
	if c.op != op || c.state != StateReady {
		c.mu.Unlock()
		src.Stop()
		return ErrClosed
	}
	cfg := c.cfg
	cfg.Profile = c.profile
	clock := c.deps.NewClock(cfg.Profile.DisplayFPS)
	sched, err := pipeline.New(cfg, pipeline.Deps{
		Clock:      clock,
		Source:     src,
		Detector:   c.detector,
		Classifier: c.classifier,
	}, pipeline.Hooks{
		OnVideoReady: c.notify,
		OnRender:     c.hooks.OnRender,
		OnUpdate:     func(pipeline.Snapshot) { c.notify() },
	})
	if err == nil {
		err = sched.Start(sessCtx)
	}
	if err != nil {
		c.mu.Unlock()
		src.Stop()
		stopClock(clock)
		return c.fail(op, &Failure{Kind: FailureCameraUnknown, Message: capture.KindUnknown.Message(), Err: err})
	}
	c.source, c.clock, c.sched = src, clock, sched
	c.state = StateRunning
	c.loading = false
	id := c.id
	c.mu.Unlock()

	log.Info("session running", "session", id)
	c.notify()
	return nil
}

// fail moves the session to Failed unless it was closed since op began.
func (c *Controller) fail(op uint64, f *Failure) error {
	c.mu.Lock()
	if c.op != op {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateFailed
	c.loading = false
	c.failure = f
	id := c.id
	c.mu.Unlock()

	log.Warn("session failed", "session", id, "kind", string(f.Kind), "error", f.Err)
	c.notify()
	return f
}

// Close tears the session down: frame loop first, then the camera, then the
// models, then the cached pipeline state. It is safe to call at any time and
// more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.op++
	c.state = StateClosing
	cancel := c.cancel
	sched, src, clock := c.sched, c.source, c.clock
	det, cls := c.detector, c.classifier
	c.sched, c.source, c.clock = nil, nil, nil
	c.detector, c.classifier = nil, nil
	id := c.id
	c.mu.Unlock()

	c.notify()

	var errs []error
	if sched != nil {
		sched.Stop()
	}
	stopClock(clock)
	if cancel != nil {
		cancel()
	}
	if src != nil {
		if err := src.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if cls != nil {
		if err := cls.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if det != nil {
		if err := det.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sched != nil {
		sched.Reset()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.loading = false
	c.demo = false
	c.failure = nil
	c.id = ""
	c.profile = c.cfg.Profile
	c.mu.Unlock()

	log.Info("session closed", "session", id)
	c.notify()
	return errors.Join(errs...)
}

func stopClock(clock pipeline.FrameClock) {
	if s, ok := clock.(interface{ Stop() }); ok {
		s.Stop()
	}
}

// Wait blocks until the running session has no inference pass in flight.
func (c *Controller) Wait() {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched != nil {
		sched.Wait()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the current session id, empty when idle.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Failure returns the active failure, if any.
func (c *Controller) Failure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Status returns a snapshot for the UI.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		SessionID: c.id,
		State:     c.state,
		Loading:   c.loading,
		DemoMode:  c.demo,
		Profile:   c.profile.Name,
		UpdatedAt: time.Now(),
	}
	if c.failure != nil {
		st.Error = &ErrorInfo{
			Kind:      c.failure.Kind,
			Message:   c.failure.Message,
			Retryable: c.failure.Retryable(),
		}
	}
	sched := c.sched
	c.mu.Unlock()

	// The scheduler lock is taken without holding c.mu; ticks call back
	// into the controller while holding theirs.
	if sched != nil {
		snap := sched.Snapshot()
		stats := sched.Stats()
		st.VideoReady = snap.VideoReady
		st.Face = snap.Face
		st.Stats = &stats
		if snap.HasReading {
			st.Emotions = snap.Smoothed.Scores()
			label, _ := snap.Smoothed.Dominant()
			st.Dominant = label.String()
		}
	}
	return st
}

// notify publishes a fresh snapshot. Callers must not hold c.mu or the
// scheduler lock.
func (c *Controller) notify() {
	if c.hooks.OnChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.hooks.OnChange(c.Status())
}
