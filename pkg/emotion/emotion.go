// Package emotion classifies normalized face crops into the seven basic
// emotion categories and smooths the readings over time.
package emotion

import (
	"context"
	"math"

	"github.com/teslashibe/go-emotion/pkg/normalize"
)

// Label is an emotion category.
type Label int

// Labels in the classifier's output order.
const (
	Angry Label = iota
	Disgust
	Fear
	Happy
	Neutral
	Sad
	Surprise

	// NumLabels is the length of every probability vector.
	NumLabels = 7
)

var labelNames = [NumLabels]string{"Angry", "Disgust", "Fear", "Happy", "Neutral", "Sad", "Surprise"}

// String returns the display name of the label.
func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return "Unknown"
	}
	return labelNames[l]
}

// Labels returns all labels in output order.
func Labels() []Label {
	out := make([]Label, NumLabels)
	for i := range out {
		out[i] = Label(i)
	}
	return out
}

// Vector holds one probability per label, indexed by Label.
type Vector [NumLabels]float64

// Dominant returns the label with the highest probability.
func (v Vector) Dominant() (Label, float64) {
	best := 0
	for i := 1; i < NumLabels; i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return Label(best), v[best]
}

// Sum returns the sum of all probabilities.
func (v Vector) Sum() float64 {
	s := 0.0
	for _, p := range v {
		s += p
	}
	return s
}

// Score is a label with its probability, used in JSON payloads.
type Score struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Scores returns the vector as labelled scores in output order.
func (v Vector) Scores() []Score {
	out := make([]Score, NumLabels)
	for i, p := range v {
		out[i] = Score{Label: Label(i).String(), Value: p}
	}
	return out
}

// Softmax converts raw logits into a probability vector.
func Softmax(logits []float32) Vector {
	var v Vector
	if len(logits) == 0 {
		return v
	}
	maxLogit := float64(logits[0])
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	sum := 0.0
	for i := 0; i < NumLabels && i < len(logits); i++ {
		v[i] = math.Exp(float64(logits[i]) - maxLogit)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}

// Classifier maps a normalized face tensor to an emotion probability vector.
type Classifier interface {
	// Predict runs one inference. Implementations release any native
	// tensors they allocate before returning.
	Predict(ctx context.Context, t *normalize.Tensor) (Vector, error)

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}

// Warmup runs a single inference on a zero tensor so the first real frame
// does not pay for lazy backend initialisation.
func Warmup(ctx context.Context, c Classifier, inputSize int) error {
	_, err := c.Predict(ctx, normalize.NewTensor(inputSize))
	return err
}
