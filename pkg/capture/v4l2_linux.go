//go:build linux

package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
)

// V4L2 fourcc for Motion-JPEG.
const pixelFormatMJPEG webcam.PixelFormat = 0x47504A4D

// V4L2Source streams MJPEG frames straight from a V4L2 device.
type V4L2Source struct {
	cfg     camera.Config
	timeout time.Duration
	store   *frameStore

	cam      *webcam.Webcam
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	fail     chan error
}

func newV4L2(cfg camera.Config, timeout time.Duration) Source {
	return &V4L2Source{
		cfg:     cfg,
		timeout: timeout,
		store:   newFrameStore(),
		fail:    make(chan error, 1),
	}
}

// Start opens the device, negotiates MJPEG at the requested size and waits
// for the first frame.
func (s *V4L2Source) Start(ctx context.Context) error {
	path := devicePath(s.cfg.Device)

	cam, err := webcam.Open(path)
	if err != nil {
		return Classify(path, errors.Wrap(err, "open v4l2 device"))
	}

	format, ok := findMJPEG(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return &CameraError{Kind: KindNotFound, Device: path, Err: errors.New("device has no MJPEG mode")}
	}

	_, w, h, err := cam.SetImageFormat(format, uint32(s.cfg.Width), uint32(s.cfg.Height))
	if err != nil {
		cam.Close()
		return Classify(path, errors.Wrap(err, "set image format"))
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return Classify(path, errors.Wrap(err, "start streaming"))
	}
	s.cam = cam

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx, path)

	log.Info("camera opened", "driver", camera.DriverV4L2, "device", path, "width", w, "height", h)
	return s.store.wait(ctx, s.timeout, s.fail)
}

func findMJPEG(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	if _, ok := formats[pixelFormatMJPEG]; ok {
		return pixelFormatMJPEG, true
	}
	for f, desc := range formats {
		if strings.Contains(strings.ToLower(desc), "jpeg") {
			return f, true
		}
	}
	return 0, false
}

func (s *V4L2Source) loop(ctx context.Context, path string) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.cam.WaitForFrame(1)
		var timeout *webcam.Timeout
		switch {
		case errors.As(err, &timeout):
			continue
		case err != nil:
			select {
			case s.fail <- Classify(path, errors.Wrap(err, "wait for frame")):
			default:
			}
			log.Warn("v4l2 wait failed", "device", path, "error", err)
			return
		}

		frame, err := s.cam.ReadFrame()
		if err != nil || len(frame) == 0 {
			continue
		}
		// The mmap buffer is requeued by ReadFrame; copy before decoding.
		data := append([]byte(nil), frame...)
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			log.Debug("v4l2 frame decode failed", "device", path, "error", err)
			continue
		}
		s.store.put(img)
	}
}

// Latest returns the most recent frame.
func (s *V4L2Source) Latest() image.Image {
	return s.store.Latest()
}

// Stop ends streaming and closes the device.
func (s *V4L2Source) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.cam != nil {
			s.cam.StopStreaming()
			err = s.cam.Close()
		}
	})
	return err
}
