package detection

import (
	"context"
	"image"
	"sync"

	"github.com/teslashibe/go-emotion/pkg/geometry"
)

// Mock is a mock Detector for testing.
type Mock struct {
	DetectFunc func(ctx context.Context, img image.Image) ([]geometry.Box, error)
	CloseFunc  func() error

	mu          sync.Mutex
	detectCalls int
	closeCalls  int
	lastSize    image.Point
}

// NewMock creates a Mock that always returns boxes.
func NewMock(boxes ...geometry.Box) *Mock {
	return &Mock{
		DetectFunc: func(context.Context, image.Image) ([]geometry.Box, error) {
			return boxes, nil
		},
	}
}

// Detect implements Detector.
func (m *Mock) Detect(ctx context.Context, img image.Image) ([]geometry.Box, error) {
	m.mu.Lock()
	m.detectCalls++
	m.lastSize = img.Bounds().Size()
	fn := m.DetectFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, img)
	}
	return nil, nil
}

// Close implements Detector.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closeCalls++
	fn := m.CloseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// DetectCalls returns how many times Detect was called.
func (m *Mock) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectCalls
}

// CloseCalls returns how many times Close was called.
func (m *Mock) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// LastSize returns the size of the most recent input image.
func (m *Mock) LastSize() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSize
}
