package emotion

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-emotion/pkg/normalize"
)

// DemoClassifier stands in for a classifier that failed to load. It ignores
// its input and emits a slowly oscillating distribution so the overlay keeps
// moving; callers must surface that the readings are synthetic.
type DemoClassifier struct {
	// Period is the time for one full oscillation of a label.
	Period time.Duration

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time

	start  time.Time
	closed atomic.Bool
}

// NewDemo creates a DemoClassifier anchored at the current time.
func NewDemo() *DemoClassifier {
	return &DemoClassifier{Period: 6 * time.Second, Now: time.Now, start: time.Now()}
}

// Predict returns a synthetic probability vector.
func (d *DemoClassifier) Predict(ctx context.Context, _ *normalize.Tensor) (Vector, error) {
	if d.closed.Load() {
		return Vector{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	period := d.Period
	if period <= 0 {
		period = 6 * time.Second
	}

	phase := 2 * math.Pi * now().Sub(d.start).Seconds() / period.Seconds()
	var v Vector
	sum := 0.0
	for i := range v {
		// Offset each label so they peak in turn; the floor keeps every bar visible.
		v[i] = 0.1 + 0.5*(1+math.Sin(phase+float64(i)*2*math.Pi/NumLabels))
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
	return v, nil
}

// Close marks the classifier as released.
func (d *DemoClassifier) Close() error {
	d.closed.Store(true)
	return nil
}

// IsDemo reports whether c produces synthetic readings.
func IsDemo(c Classifier) bool {
	_, ok := c.(*DemoClassifier)
	return ok
}
