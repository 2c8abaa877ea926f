package detection

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"

	"github.com/teslashibe/go-emotion/pkg/debug"
	"github.com/teslashibe/go-emotion/pkg/geometry"
)

// PigoDetector runs the pigo pixel-intensity-comparison cascade. It needs no
// native libraries, which makes it the default backend.
type PigoDetector struct {
	classifier *pigo.Pigo
	config     Config
	closed     bool
	mu         sync.Mutex // Protects classifier
}

// NewPigo unpacks a facefinder cascade.
func NewPigo(cascade []byte, cfg Config) (*PigoDetector, error) {
	if len(cascade) == 0 {
		return nil, ErrEmptyModel
	}
	def := PigoConfig()
	if cfg.MinFaceSize <= 0 {
		cfg.MinFaceSize = def.MinFaceSize
	}
	if cfg.MaxFaceSize <= 0 {
		cfg.MaxFaceSize = def.MaxFaceSize
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("detection: unpack cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, config: cfg}, nil
}

// Detect finds faces in img, sorted by descending cascade score.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image) ([]geometry.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, ErrEmptyImage
	}

	src := imaging.Clone(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	pixels := pigo.RgbToGrayscale(src)

	params := pigo.CascadeParams{
		MinSize:     d.config.MinFaceSize,
		MaxSize:     min(d.config.MaxFaceSize, max(cols, rows)),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)
	d.mu.Unlock()

	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Q > dets[j].Q })

	boxes := make([]geometry.Box, 0, len(dets))
	for _, det := range dets {
		if float64(det.Q) < d.config.ConfidenceThresh {
			continue
		}
		half := float64(det.Scale) / 2
		boxes = append(boxes, geometry.Box{
			X: float64(bounds.Min.X) + float64(det.Col) - half,
			Y: float64(bounds.Min.Y) + float64(det.Row) - half,
			W: float64(det.Scale),
			H: float64(det.Scale),
		})
	}

	if len(boxes) > 0 {
		debug.FrameLog("pigo found faces", "count", len(boxes))
	}
	return boxes, nil
}

// Close releases the cascade. Safe to call more than once.
func (d *PigoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.classifier = nil
	return nil
}
