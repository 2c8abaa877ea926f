package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
)

// DeviceSource reads frames from a local camera through OpenCV.
type DeviceSource struct {
	cfg     camera.Config
	timeout time.Duration
	store   *frameStore

	vc       *gocv.VideoCapture
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	fail     chan error
}

// NewDevice creates an OpenCV-backed source for cfg.Device.
func NewDevice(cfg camera.Config, timeout time.Duration) *DeviceSource {
	return &DeviceSource{
		cfg:     cfg,
		timeout: timeout,
		store:   newFrameStore(),
		fail:    make(chan error, 1),
	}
}

// devicePath resolves an index like "0" to its Linux device node.
func devicePath(device string) string {
	if _, err := strconv.Atoi(device); err == nil && runtime.GOOS == "linux" {
		return "/dev/video" + device
	}
	return device
}

// probeNode opens the device node once so OS errors can be classified;
// OpenCV reports every failure the same way.
func probeNode(path string) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Classify(path, err)
	}
	return f.Close()
}

// Start opens the device and waits for the first frame.
func (d *DeviceSource) Start(ctx context.Context) error {
	path := devicePath(d.cfg.Device)
	if err := probeNode(path); err != nil {
		return err
	}

	var target interface{} = d.cfg.Device
	if idx, err := strconv.Atoi(d.cfg.Device); err == nil {
		target = idx
	}
	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return &CameraError{Kind: KindUnknown, Device: path, Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return &CameraError{Kind: KindInUse, Device: path, Err: fmt.Errorf("device did not open")}
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(d.cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(d.cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(d.cfg.Framerate))
	d.vc = vc

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(runCtx, path)

	log.Info("camera opened", "driver", camera.DriverGoCV, "device", path,
		"width", d.cfg.Width, "height", d.cfg.Height)
	return d.store.wait(ctx, d.timeout, d.fail)
}

func (d *DeviceSource) loop(ctx context.Context, path string) {
	defer d.wg.Done()

	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if ok := d.vc.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses == 100 {
				select {
				case d.fail <- &CameraError{Kind: KindInUse, Device: path, Err: ErrNoFrame}:
				default:
				}
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0

		img, err := mat.ToImage()
		if err != nil {
			log.Warn("frame conversion failed", "device", path, "error", err)
			continue
		}
		d.store.put(img)
	}
}

// Latest returns the most recent frame.
func (d *DeviceSource) Latest() image.Image {
	return d.store.Latest()
}

// Stop ends the read loop and releases the device.
func (d *DeviceSource) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		if d.vc != nil {
			err = d.vc.Close()
		}
	})
	return err
}
