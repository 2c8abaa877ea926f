package capture

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"

	"github.com/teslashibe/go-emotion/pkg/camera"
)

// SyntheticSource generates frames with a face-like figure drifting across a
// gradient. It needs no hardware and always starts.
type SyntheticSource struct {
	cfg   camera.Config
	store *frameStore

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	frame    int
}

// NewSynthetic creates a generator producing cfg.Width×cfg.Height frames at
// cfg.Framerate.
func NewSynthetic(cfg camera.Config) *SyntheticSource {
	if cfg.Framerate <= 0 {
		cfg.Framerate = 30
	}
	return &SyntheticSource{cfg: cfg, store: newFrameStore()}
}

// Start renders the first frame synchronously and starts the generator.
func (s *SyntheticSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.put(s.render())

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Second / time.Duration(s.cfg.Framerate))
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.store.put(s.render())
			}
		}
	}()
	return nil
}

func (s *SyntheticSource) render() image.Image {
	w, h := float64(s.cfg.Width), float64(s.cfg.Height)
	t := float64(s.frame) / float64(s.cfg.Framerate)
	s.frame++

	dc := gg.NewContext(s.cfg.Width, s.cfg.Height)
	grad := gg.NewLinearGradient(0, 0, 0, h)
	grad.AddColorStop(0, rgb(40, 48, 64))
	grad.AddColorStop(1, rgb(12, 14, 20))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	r := h / 6
	cx := w/2 + math.Sin(t*0.7)*w/5
	cy := h/2 + math.Cos(t*0.5)*h/10

	dc.SetColor(rgb(224, 180, 150))
	dc.DrawEllipse(cx, cy, r*0.8, r)
	dc.Fill()
	dc.SetColor(rgb(30, 30, 30))
	dc.DrawCircle(cx-r*0.3, cy-r*0.2, r*0.1)
	dc.DrawCircle(cx+r*0.3, cy-r*0.2, r*0.1)
	dc.Fill()
	dc.SetLineWidth(r * 0.06)
	dc.DrawArc(cx, cy+r*0.2, r*0.35, 0.2, math.Pi-0.2)
	dc.Stroke()

	return dc.Image()
}

// Latest returns the most recent frame.
func (s *SyntheticSource) Latest() image.Image {
	return s.store.Latest()
}

// Stop halts the generator.
func (s *SyntheticSource) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
	return nil
}

func rgb(r, g, b uint8) color.Color {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
