//go:build !linux

package capture

import (
	"context"
	"image"
	"time"

	"github.com/teslashibe/go-emotion/pkg/camera"
)

type unsupportedSource struct {
	device string
}

func newV4L2(cfg camera.Config, _ time.Duration) Source {
	return &unsupportedSource{device: cfg.Device}
}

func (s *unsupportedSource) Start(context.Context) error {
	return &CameraError{Kind: KindNotFound, Device: s.device, Err: ErrUnsupported}
}

func (s *unsupportedSource) Latest() image.Image { return nil }

func (s *unsupportedSource) Stop() error { return nil }
