// Package capture acquires live camera frames from local devices, the
// operator's browser or a synthetic generator.
package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/teslashibe/go-emotion/pkg/camera"
)

// DefaultStartTimeout bounds how long Start waits for the first frame.
const DefaultStartTimeout = 20 * time.Second

// Source is a live video stream.
type Source interface {
	// Start acquires the camera and blocks until the first frame arrives.
	// Acquisition failures are returned as *CameraError.
	Start(ctx context.Context) error

	// Latest returns the most recent frame, or nil before the first one.
	// Callers must not modify the returned image.
	Latest() image.Image

	// Stop releases the camera and ends every track. Safe to call more
	// than once.
	Stop() error
}

// frameStore holds the latest frame and signals the first arrival.
type frameStore struct {
	mu    sync.RWMutex
	frame image.Image
	first chan struct{}
	once  sync.Once
}

func newFrameStore() *frameStore {
	return &frameStore{first: make(chan struct{})}
}

func (s *frameStore) put(img image.Image) {
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
	s.once.Do(func() { close(s.first) })
}

func (s *frameStore) Latest() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// wait blocks until the first frame, a failure on fail, ctx cancellation or
// timeout.
func (s *frameStore) wait(ctx context.Context, timeout time.Duration, fail <-chan error) error {
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.first:
		return nil
	case err := <-fail:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w within %v", ErrNoFrame, timeout)
	}
}

// Opener builds sources for a camera configuration.
type Opener struct {
	// Broker hands browser cameras to sessions; required for the webrtc
	// driver.
	Broker *Broker

	// StartTimeout bounds Start; zero means DefaultStartTimeout.
	StartTimeout time.Duration
}

// Open creates an unstarted source for cfg.
func (o *Opener) Open(cfg camera.Config) (Source, error) {
	switch cfg.Driver {
	case camera.DriverGoCV:
		return NewDevice(cfg, o.StartTimeout), nil
	case camera.DriverV4L2:
		return newV4L2(cfg, o.StartTimeout), nil
	case camera.DriverWebRTC:
		if o.Broker == nil {
			return nil, fmt.Errorf("%w: webrtc requires a broker", ErrUnknownDriver)
		}
		return o.Broker.Open(cfg, o.StartTimeout), nil
	case camera.DriverSynthetic:
		return NewSynthetic(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Acquire opens and starts a source. On failure the source is stopped and
// the error is classified.
func (o *Opener) Acquire(ctx context.Context, cfg camera.Config) (Source, error) {
	src, err := o.Open(cfg)
	if err != nil {
		return nil, Classify(cfg.Device, err)
	}
	if err := src.Start(ctx); err != nil {
		src.Stop()
		return nil, Classify(cfg.Device, err)
	}
	return src, nil
}
