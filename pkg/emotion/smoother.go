package emotion

// DefaultWindow is the number of recent predictions averaged together.
const DefaultWindow = 5

// Smoother keeps a bounded FIFO of recent predictions and reports their
// element-wise mean. It is not safe for concurrent use.
type Smoother struct {
	size    int
	history []Vector
}

// NewSmoother creates a Smoother over the last size predictions.
func NewSmoother(size int) *Smoother {
	if size < 1 {
		size = DefaultWindow
	}
	return &Smoother{size: size, history: make([]Vector, 0, size)}
}

// Push appends v, evicting the oldest entry when full, and returns the mean
// of the retained predictions.
func (s *Smoother) Push(v Vector) Vector {
	if len(s.history) == s.size {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.size-1]
	}
	s.history = append(s.history, v)
	return s.Mean()
}

// Mean returns the element-wise mean of the retained predictions.
func (s *Smoother) Mean() Vector {
	var out Vector
	if len(s.history) == 0 {
		return out
	}
	for _, h := range s.history {
		for i, p := range h {
			out[i] += p
		}
	}
	n := float64(len(s.history))
	for i := range out {
		out[i] /= n
	}
	return out
}

// Len returns the number of retained predictions.
func (s *Smoother) Len() int {
	return len(s.history)
}

// Size returns the window length.
func (s *Smoother) Size() int {
	return s.size
}

// Reset drops all retained predictions.
func (s *Smoother) Reset() {
	s.history = s.history[:0]
}
