package emotion

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-emotion/pkg/debug"
	"github.com/teslashibe/go-emotion/pkg/normalize"
)

// ONNXConfig holds classifier configuration.
type ONNXConfig struct {
	// InputSize is the side of the square NHWC input tensor.
	InputSize int

	// Softmax applies a softmax to the raw outputs. Leave false for models
	// whose last layer already produces probabilities.
	Softmax bool

	// Backend and Target select the OpenCV DNN execution path.
	Backend gocv.NetBackendType
	Target  gocv.NetTargetType
}

// DefaultONNXConfig returns defaults for the bundled Keras-exported model.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		InputSize: 224,
		Backend:   gocv.NetBackendDefault,
		Target:    gocv.NetTargetCPU,
	}
}

// ONNXClassifier runs an emotion model through OpenCV's DNN module.
type ONNXClassifier struct {
	net    gocv.Net
	config ONNXConfig
	closed bool
	mu     sync.Mutex // Protects inference
}

// NewONNX loads a classifier from ONNX model bytes.
func NewONNX(model []byte, cfg ONNXConfig) (*ONNXClassifier, error) {
	if len(model) == 0 {
		return nil, ErrEmptyModel
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultONNXConfig().InputSize
	}

	net, err := gocv.ReadNetFromONNXBytes(model)
	if err != nil {
		return nil, fmt.Errorf("emotion: read model: %w", err)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("emotion: model has no layers")
	}

	if err := net.SetPreferableBackend(cfg.Backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("emotion: set backend: %w", err)
	}
	if err := net.SetPreferableTarget(cfg.Target); err != nil {
		net.Close()
		return nil, fmt.Errorf("emotion: set target: %w", err)
	}

	return &ONNXClassifier{net: net, config: cfg}, nil
}

// Predict runs the model on t. Input and output Mats are released before
// returning so native memory does not accumulate across frames.
func (c *ONNXClassifier) Predict(ctx context.Context, t *normalize.Tensor) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}
	size := c.config.InputSize
	if t == nil || t.Shape != [4]int{1, size, size, 3} {
		return Vector{}, ErrBadTensor
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Vector{}, ErrClosed
	}

	input, err := gocv.NewMatWithSizesFromBytes(t.Shape[:], gocv.MatTypeCV32F, float32Bytes(t.Data))
	if err != nil {
		return Vector{}, fmt.Errorf("emotion: input tensor: %w", err)
	}
	defer input.Close()

	c.net.SetInput(input, "")
	output := c.net.Forward("")
	defer output.Close()

	values, err := output.DataPtrFloat32()
	if err != nil {
		return Vector{}, fmt.Errorf("emotion: read output: %w", err)
	}
	if len(values) != NumLabels {
		return Vector{}, &OutputError{Got: len(values)}
	}

	var v Vector
	if c.config.Softmax {
		v = Softmax(values)
	} else {
		for i, p := range values {
			v[i] = float64(p)
		}
	}

	label, p := v.Dominant()
	debug.FrameLog("classifier prediction", "label", label.String(), "p", p)
	return v, nil
}

// Close releases the network. Safe to call more than once.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.net.Close()
}

func float32Bytes(data []float32) []byte {
	buf := make([]byte, len(data)*4)
	for i, f := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
