package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-emotion/pkg/detection"
	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
	"github.com/teslashibe/go-emotion/pkg/normalize"
)

type stubSource struct {
	mu  sync.Mutex
	img image.Image
}

func (s *stubSource) Latest() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img
}

func (s *stubSource) set(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

func frame1280() *stubSource {
	return &stubSource{img: image.NewRGBA(image.Rect(0, 0, 1280, 960))}
}

var happy = emotion.Vector{0, 0, 0, 0.9, 0.1, 0, 0}

// detectionBox sits well inside the 320x240 processing canvas.
var detectionBox = geometry.Box{X: 100, Y: 50, W: 40, H: 40}

func newTestScheduler(t *testing.T, src FrameSource, det detection.Detector, cls emotion.Classifier, hooks Hooks) (*Scheduler, *ManualClock) {
	t.Helper()
	clock := NewManualClock()
	s, err := New(DefaultConfig(), Deps{Clock: clock, Source: src, Detector: det, Classifier: cls}, hooks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, clock
}

// step advances the clock by one skip interval, which starts exactly one
// pass when the previous one has finished.
func step(s *Scheduler, clock *ManualClock) {
	for i := 0; i < s.Profile().SkipInterval; i++ {
		clock.Step()
	}
}

// runPass advances one skip interval and waits for the pass to finish.
func runPass(s *Scheduler, clock *ManualClock) {
	step(s, clock)
	s.Wait()
}

func TestNew_RequiresClockAndSource(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{Source: frame1280()}, Hooks{}); !errors.Is(err, ErrMissingDeps) {
		t.Errorf("missing clock err = %v", err)
	}
	if _, err := New(DefaultConfig(), Deps{Clock: NewManualClock()}, Hooks{}); !errors.Is(err, ErrMissingDeps) {
		t.Errorf("missing source err = %v", err)
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s, _ := newTestScheduler(t, frame1280(), detection.NewMock(), emotion.NewMock(happy), Hooks{})
	if err := s.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start err = %v, want ErrRunning", err)
	}
}

func TestScheduler_GuardReschedules(t *testing.T) {
	src := &stubSource{}
	det := detection.NewMock(detectionBox)
	s, clock := newTestScheduler(t, src, det, emotion.NewMock(happy), Hooks{})

	for i := 0; i < 10; i++ {
		if n := clock.Step(); n != 1 {
			t.Fatalf("step %d ran %d callbacks, want 1", i, n)
		}
	}
	s.Wait()
	if det.DetectCalls() != 0 {
		t.Errorf("detector called %d times without a frame", det.DetectCalls())
	}
	if s.VideoReady() || s.Frames() != 0 {
		t.Errorf("video ready = %v, frames = %d before first frame", s.VideoReady(), s.Frames())
	}

	src.set(image.NewRGBA(image.Rect(0, 0, 640, 480)))
	clock.Step()
	if !s.VideoReady() || s.Frames() != 1 {
		t.Errorf("video ready = %v, frames = %d after first frame", s.VideoReady(), s.Frames())
	}
}

func TestScheduler_GuardWaitsForModels(t *testing.T) {
	clock := NewManualClock()
	s, err := New(DefaultConfig(), Deps{Clock: clock, Source: frame1280()}, Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for i := 0; i < 6; i++ {
		clock.Step()
	}
	if s.Frames() != 0 || s.VideoReady() {
		t.Error("ticks advanced without models")
	}
	if clock.Pending() != 1 {
		t.Errorf("pending = %d, want 1", clock.Pending())
	}
}

func TestScheduler_SkipInterval(t *testing.T) {
	det := detection.NewMock()
	s, clock := newTestScheduler(t, frame1280(), det, emotion.NewMock(happy), Hooks{})

	for i := 0; i < 9; i++ {
		clock.Step()
		s.Wait()
	}
	if got := det.DetectCalls(); got != 3 {
		t.Errorf("detect calls = %d, want 3", got)
	}
	if got := det.LastSize(); got != (image.Point{X: 320, Y: 240}) {
		t.Errorf("processing size = %v, want 320x240", got)
	}
	if st := s.Stats(); st.Frames != 9 || st.Passes != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestScheduler_MapsFaceToDisplay(t *testing.T) {
	tests := []struct {
		name string
		box  geometry.Box
		want geometry.Box
	}{
		{"40px face", detectionBox, geometry.Box{X: 720, Y: 200, W: 160, H: 160}},
		{"80px face", geometry.Box{X: 100, Y: 50, W: 80, H: 80}, geometry.Box{X: 560, Y: 200, W: 320, H: 320}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var updates atomic.Int32
			s, clock := newTestScheduler(t, frame1280(), detection.NewMock(tt.box), emotion.NewMock(happy), Hooks{
				OnUpdate: func(Snapshot) { updates.Add(1) },
			})

			runPass(s, clock)

			snap := s.Snapshot()
			if snap.Face == nil || *snap.Face != tt.want {
				t.Fatalf("face = %+v, want %+v", snap.Face, tt.want)
			}
			if !snap.HasReading || snap.Bars.Vector != happy || snap.Bars.Box != tt.want {
				t.Errorf("bars = %+v", snap.Bars)
			}
			if label, _ := snap.Smoothed.Dominant(); label != emotion.Happy {
				t.Errorf("dominant = %s, want Happy", label)
			}
			if updates.Load() != 1 {
				t.Errorf("updates = %d, want 1", updates.Load())
			}
		})
	}
}

func TestScheduler_NoReentrancy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	cls := &emotion.Mock{
		PredictFunc: func(context.Context, *normalize.Tensor) (emotion.Vector, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return happy, nil
		},
	}
	det := detection.NewMock(detectionBox)
	s, clock := newTestScheduler(t, frame1280(), det, cls, Hooks{})

	step(s, clock)
	<-entered
	for i := 0; i < 3; i++ {
		step(s, clock)
	}
	if got := det.DetectCalls(); got != 1 {
		t.Errorf("detect calls while busy = %d, want 1", got)
	}
	if got := s.Stats().SkippedBusy; got != 3 {
		t.Errorf("skipped busy = %d, want 3", got)
	}

	close(release)
	s.Wait()
	runPass(s, clock)
	if got := det.DetectCalls(); got != 2 {
		t.Errorf("detect calls after release = %d, want 2", got)
	}
}

func TestScheduler_GraceWindow(t *testing.T) {
	var faceOn atomic.Bool
	faceOn.Store(true)
	det := &detection.Mock{
		DetectFunc: func(context.Context, image.Image) ([]geometry.Box, error) {
			if faceOn.Load() {
				return []geometry.Box{detectionBox}, nil
			}
			return nil, nil
		},
	}
	s, clock := newTestScheduler(t, frame1280(), det, emotion.NewMock(happy), Hooks{})

	runPass(s, clock)
	if s.Snapshot().Bars == nil {
		t.Fatal("no bars after face pass")
	}

	faceOn.Store(false)
	for i := 1; i < DefaultGraceFrames; i++ {
		runPass(s, clock)
		snap := s.Snapshot()
		if snap.Face != nil {
			t.Fatalf("pass %d: face box survived a faceless frame", i)
		}
		if snap.Bars == nil {
			t.Fatalf("pass %d: bars dropped before the grace window", i)
		}
	}

	runPass(s, clock)
	snap := s.Snapshot()
	if snap.Bars != nil {
		t.Error("bars survived the grace window")
	}
	if snap.NoFaceStreak != DefaultGraceFrames {
		t.Errorf("streak = %d, want %d", snap.NoFaceStreak, DefaultGraceFrames)
	}

	faceOn.Store(true)
	runPass(s, clock)
	if snap := s.Snapshot(); snap.Bars == nil || snap.NoFaceStreak != 0 {
		t.Errorf("face did not restore bars: %+v", snap)
	}
}

func TestScheduler_PanicReleasesBusy(t *testing.T) {
	var calls atomic.Int32
	det := &detection.Mock{
		DetectFunc: func(context.Context, image.Image) ([]geometry.Box, error) {
			if calls.Add(1) == 1 {
				panic("detector blew up")
			}
			return nil, nil
		},
	}
	s, clock := newTestScheduler(t, frame1280(), det, emotion.NewMock(happy), Hooks{})

	runPass(s, clock)
	if got := s.Stats().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	runPass(s, clock)
	if got := det.DetectCalls(); got != 2 {
		t.Errorf("detect calls = %d, want 2", got)
	}
}

func TestScheduler_ErrorKeepsCache(t *testing.T) {
	var fail atomic.Bool
	cls := &emotion.Mock{
		PredictFunc: func(context.Context, *normalize.Tensor) (emotion.Vector, error) {
			if fail.Load() {
				return emotion.Vector{}, errors.New("inference failed")
			}
			return happy, nil
		},
	}
	s, clock := newTestScheduler(t, frame1280(), detection.NewMock(detectionBox), cls, Hooks{})

	runPass(s, clock)
	before := s.Snapshot()

	fail.Store(true)
	runPass(s, clock)
	after := s.Snapshot()

	if after.Face == nil || *after.Face != *before.Face {
		t.Error("failed pass changed the face cache")
	}
	if after.Smoothed != before.Smoothed {
		t.Error("failed pass changed the readout")
	}
	if got := s.Stats().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestScheduler_StopDiscardsInflight(t *testing.T) {
	release := make(chan struct{})
	cls := &emotion.Mock{
		PredictFunc: func(context.Context, *normalize.Tensor) (emotion.Vector, error) {
			<-release
			return happy, nil
		},
	}
	s, clock := newTestScheduler(t, frame1280(), detection.NewMock(detectionBox), cls, Hooks{})
	step(s, clock)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	if s.Snapshot().Face != nil {
		t.Error("result committed after Stop")
	}
	if got := s.Stats().Stale; got != 1 {
		t.Errorf("stale = %d, want 1", got)
	}
	if s.Running() {
		t.Error("still running after Stop")
	}
	if n := clock.Step(); n != 0 {
		t.Errorf("%d ticks ran after Stop", n)
	}
}

func TestScheduler_RendersCachedOverlay(t *testing.T) {
	var painted atomic.Bool
	var renders atomic.Int32
	hooks := Hooks{
		OnRender: func(_ image.Image, layer *image.RGBA) {
			renders.Add(1)
			for i := 3; i < len(layer.Pix); i += 4 {
				if layer.Pix[i] != 0 {
					painted.Store(true)
					return
				}
			}
			painted.Store(false)
		},
	}
	s, clock := newTestScheduler(t, frame1280(), detection.NewMock(detectionBox), emotion.NewMock(happy), hooks)

	clock.Step()
	if painted.Load() {
		t.Error("overlay painted before any pass")
	}
	step(s, clock)
	s.Wait()

	clock.Step()
	if !painted.Load() {
		t.Error("cached face not drawn on the next tick")
	}
	if renders.Load() != 5 {
		t.Errorf("renders = %d, want one per tick", renders.Load())
	}
}

func TestScheduler_VideoReadyHookOnce(t *testing.T) {
	var (
		ready    atomic.Int32
		sawReady atomic.Bool
		s        *Scheduler
	)
	s, clock := newTestScheduler(t, frame1280(), detection.NewMock(), emotion.NewMock(happy), Hooks{
		// The hook may read the scheduler back.
		OnVideoReady: func() {
			ready.Add(1)
			sawReady.Store(s.Snapshot().VideoReady)
		},
	})
	for i := 0; i < 5; i++ {
		clock.Step()
	}
	s.Wait()
	if ready.Load() != 1 {
		t.Errorf("OnVideoReady calls = %d, want 1", ready.Load())
	}
	if !sawReady.Load() {
		t.Error("snapshot inside OnVideoReady did not report video ready")
	}
}

func TestScheduler_Reset(t *testing.T) {
	s, clock := newTestScheduler(t, frame1280(), detection.NewMock(detectionBox), emotion.NewMock(happy), Hooks{})
	runPass(s, clock)

	s.Reset()
	snap := s.Snapshot()
	if snap.Face != nil || snap.Bars != nil || snap.VideoReady || snap.Frame != 0 {
		t.Errorf("snapshot after Reset = %+v", snap)
	}
}

func TestProcessingSize(t *testing.T) {
	tests := []struct {
		width, srcW, srcH int
		wantW, wantH      int
	}{
		{320, 1280, 720, 320, 180},
		{320, 1280, 960, 320, 240},
		{160, 640, 480, 160, 120},
		{320, 200, 100, 200, 100},
		{320, 4000, 1, 320, 1},
	}
	for _, tt := range tests {
		w, h := processingSize(tt.width, tt.srcW, tt.srcH)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("processingSize(%d, %d, %d) = %dx%d, want %dx%d",
				tt.width, tt.srcW, tt.srcH, w, h, tt.wantW, tt.wantH)
		}
	}
}
