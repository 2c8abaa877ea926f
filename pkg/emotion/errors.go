package emotion

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrClosed is returned when predicting with a released classifier.
	ErrClosed = errors.New("emotion: classifier closed")

	// ErrEmptyModel is returned when the model artifact has no bytes.
	ErrEmptyModel = errors.New("emotion: empty model")

	// ErrBadTensor is returned when the input tensor does not match the model.
	ErrBadTensor = errors.New("emotion: tensor shape mismatch")
)

// OutputError reports a model output that is not a seven-way distribution.
type OutputError struct {
	Got int
}

// Error implements the error interface.
func (e *OutputError) Error() string {
	return fmt.Sprintf("emotion: model produced %d outputs, want %d", e.Got, NumLabels)
}
