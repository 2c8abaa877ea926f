// Package normalize turns a detected face region into the fixed-size RGB
// tensor the emotion classifier expects.
package normalize

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-emotion/pkg/geometry"
)

// ErrEmptyCrop is returned when the padded face box does not overlap the frame.
var ErrEmptyCrop = errors.New("normalize: crop region is empty")

// Config holds the calibration used to build classifier input. The padding
// and the two-stage resample reproduce the conditions the classifier was
// trained under; changing them shifts its accuracy.
type Config struct {
	// PadX is the total horizontal padding as a fraction of box width,
	// split evenly between both sides. Negative values trim.
	PadX float64 `json:"pad_x"`

	// PadY is the total vertical padding as a fraction of box height.
	PadY float64 `json:"pad_y"`

	// IntermediateSize is the side of the low-resolution first resample.
	IntermediateSize int `json:"intermediate_size"`

	// InputSize is the classifier's input side.
	InputSize int `json:"input_size"`

	// Filter is the resampling kernel used by both stages.
	Filter imaging.ResampleFilter `json:"-"`
}

// DefaultConfig returns the calibration the bundled classifier expects.
func DefaultConfig() Config {
	return Config{
		PadX:             -0.06,
		PadY:             0.47,
		IntermediateSize: 48,
		InputSize:        224,
		Filter:           imaging.Linear,
	}
}

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// NewTensor allocates a zeroed [1, size, size, 3] tensor.
func NewTensor(size int) *Tensor {
	return &Tensor{
		Shape: [4]int{1, size, size, 3},
		Data:  make([]float32, size*size*3),
	}
}

// At returns the value at pixel (x, y), channel c.
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Shape[2]+x)*t.Shape[3]+c]
}

// Normalizer crops, resamples and rescales face regions.
type Normalizer struct {
	cfg Config
}

// New creates a Normalizer. Zero sizes fall back to the defaults.
func New(cfg Config) *Normalizer {
	def := DefaultConfig()
	if cfg.IntermediateSize <= 0 {
		cfg.IntermediateSize = def.IntermediateSize
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = def.InputSize
	}
	return &Normalizer{cfg: cfg}
}

// Config returns the normalizer's calibration.
func (n *Normalizer) Config() Config {
	return n.cfg
}

// CropRect pads box asymmetrically and clamps the result to bounds.
func (n *Normalizer) CropRect(box geometry.Box, bounds image.Rectangle) (image.Rectangle, error) {
	padW := box.W * n.cfg.PadX
	padH := box.H * n.cfg.PadY
	padded := geometry.Box{
		X: box.X - padW/2,
		Y: box.Y - padH/2,
		W: box.W + padW,
		H: box.H + padH,
	}
	r := image.Rect(
		int(math.Round(padded.X)),
		int(math.Round(padded.Y)),
		int(math.Round(padded.X+padded.W)),
		int(math.Round(padded.Y+padded.H)),
	).Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: box %+v outside %v", ErrEmptyCrop, box, bounds)
	}
	return r, nil
}

// Normalize extracts the face described by box (in src's pixel space) and
// returns the classifier tensor. The crop is first shrunk to
// IntermediateSize and then enlarged to InputSize; both stages always run.
func (n *Normalizer) Normalize(src image.Image, box geometry.Box) (*Tensor, error) {
	r, err := n.CropRect(box, src.Bounds())
	if err != nil {
		return nil, err
	}
	face := imaging.Crop(src, r)
	small := imaging.Resize(face, n.cfg.IntermediateSize, n.cfg.IntermediateSize, n.cfg.Filter)
	full := imaging.Resize(small, n.cfg.InputSize, n.cfg.InputSize, n.cfg.Filter)
	return tensorFromNRGBA(full), nil
}

func tensorFromNRGBA(img *image.NRGBA) *Tensor {
	size := img.Bounds().Dx()
	t := NewTensor(size)
	i := 0
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+size*4]
		for x := 0; x < size; x++ {
			p := row[x*4 : x*4+3]
			t.Data[i] = float32(p[0]) / 255
			t.Data[i+1] = float32(p[1]) / 255
			t.Data[i+2] = float32(p[2]) / 255
			i += 3
		}
	}
	return t
}
