package emotion

import (
	"context"
	"sync"

	"github.com/teslashibe/go-emotion/pkg/normalize"
)

// Mock is a mock Classifier for testing.
type Mock struct {
	PredictFunc func(ctx context.Context, t *normalize.Tensor) (Vector, error)
	CloseFunc   func() error

	mu           sync.Mutex
	predictCalls int
	closeCalls   int
}

// NewMock creates a Mock that always returns v.
func NewMock(v Vector) *Mock {
	return &Mock{
		PredictFunc: func(context.Context, *normalize.Tensor) (Vector, error) {
			return v, nil
		},
	}
}

// Predict implements Classifier.
func (m *Mock) Predict(ctx context.Context, t *normalize.Tensor) (Vector, error) {
	m.mu.Lock()
	m.predictCalls++
	fn := m.PredictFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, t)
	}
	return Vector{}, nil
}

// Close implements Classifier.
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

// PredictCalls returns how many times Predict was called.
func (m *Mock) PredictCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictCalls
}

// CloseCalls returns how many times Close was called.
func (m *Mock) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
