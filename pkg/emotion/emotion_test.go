package emotion

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func vec(vals ...float64) Vector {
	var v Vector
	copy(v[:], vals)
	return v
}

func vecApprox(a, b Vector) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestLabels(t *testing.T) {
	want := []string{"Angry", "Disgust", "Fear", "Happy", "Neutral", "Sad", "Surprise"}
	got := Labels()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, l := range got {
		if l.String() != want[i] {
			t.Errorf("label %d = %s, want %s", i, l, want[i])
		}
	}
	if Label(9).String() != "Unknown" {
		t.Error("out of range label should be Unknown")
	}
}

func TestSmoother_Mean(t *testing.T) {
	tests := []struct {
		name   string
		pushes []Vector
		want   Vector
	}{
		{
			name:   "single prediction",
			pushes: []Vector{vec(1, 0, 0, 0, 0, 0, 0)},
			want:   vec(1, 0, 0, 0, 0, 0, 0),
		},
		{
			name:   "two predictions average",
			pushes: []Vector{vec(1, 0, 0, 0, 0, 0, 0), vec(0, 1, 0, 0, 0, 0, 0)},
			want:   vec(0.5, 0.5, 0, 0, 0, 0, 0),
		},
		{
			name: "sixth prediction evicts the first",
			pushes: []Vector{
				vec(1, 0, 0, 0, 0, 0, 0),
				vec(0, 0, 0, 1, 0, 0, 0),
				vec(0, 0, 0, 1, 0, 0, 0),
				vec(0, 0, 0, 1, 0, 0, 0),
				vec(0, 0, 0, 1, 0, 0, 0),
				vec(0, 0, 0, 0, 0, 0, 1),
			},
			want: vec(0, 0, 0, 0.8, 0, 0, 0.2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSmoother(DefaultWindow)
			var got Vector
			for _, p := range tt.pushes {
				got = s.Push(p)
			}
			if !vecApprox(got, tt.want) {
				t.Errorf("mean = %v, want %v", got, tt.want)
			}
			if s.Len() > DefaultWindow {
				t.Errorf("len = %d exceeds window", s.Len())
			}
		})
	}
}

func TestSmoother_NeverExceedsWindow(t *testing.T) {
	s := NewSmoother(5)
	for i := 0; i < 50; i++ {
		s.Push(vec(float64(i%2), 0, 0, 0, 0, 0, 0))
		if s.Len() > 5 {
			t.Fatalf("len = %d after %d pushes", s.Len(), i+1)
		}
	}
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("len after reset = %d", s.Len())
	}
	if s.Mean() != (Vector{}) {
		t.Errorf("mean after reset = %v", s.Mean())
	}
}

func TestSoftmax(t *testing.T) {
	v := Softmax([]float32{0, 0, 0, 0, 0, 0, 0})
	for i, p := range v {
		if math.Abs(p-1.0/7) > 1e-9 {
			t.Errorf("p[%d] = %v, want 1/7", i, p)
		}
	}

	v = Softmax([]float32{1, 2, 3, 10, 0, -1, 2})
	if label, _ := v.Dominant(); label != Happy {
		t.Errorf("dominant = %s, want Happy", label)
	}
	if math.Abs(v.Sum()-1) > 1e-9 {
		t.Errorf("sum = %v, want 1", v.Sum())
	}
}

func TestDemoClassifier(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDemo()
	d.start = now
	d.Now = func() time.Time { return now }

	var last Vector
	for step := 0; step < 10; step++ {
		v, err := d.Predict(context.Background(), nil)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		for i, p := range v {
			if p < 0 || p > 1 {
				t.Fatalf("p[%d] = %v out of range", i, p)
			}
		}
		if math.Abs(v.Sum()-1) > 1e-9 {
			t.Fatalf("sum = %v, want 1", v.Sum())
		}
		if step > 0 && v == last {
			t.Fatalf("step %d: distribution did not change", step)
		}
		last = v
		now = now.Add(500 * time.Millisecond)
	}

	if !IsDemo(d) {
		t.Error("IsDemo = false for DemoClassifier")
	}
	if IsDemo(NewMock(Vector{})) {
		t.Error("IsDemo = true for Mock")
	}

	d.Close()
	d.Close()
	if _, err := d.Predict(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Predict after Close err = %v, want ErrClosed", err)
	}
}

func TestVectorScores(t *testing.T) {
	v := vec(0.1, 0, 0, 0.7, 0.2, 0, 0)
	scores := v.Scores()
	if scores[3].Label != "Happy" || scores[3].Value != 0.7 {
		t.Errorf("scores[3] = %+v", scores[3])
	}
	if label, p := v.Dominant(); label != Happy || p != 0.7 {
		t.Errorf("Dominant = %s %v", label, p)
	}
}
