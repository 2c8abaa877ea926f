package pipeline

import (
	"testing"
	"time"

	"github.com/teslashibe/go-emotion/pkg/emotion"
	"github.com/teslashibe/go-emotion/pkg/geometry"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock()
	var order []int
	c.RequestFrame(func() { order = append(order, 1) })
	h := c.RequestFrame(func() { order = append(order, 2) })
	c.RequestFrame(func() { order = append(order, 3) })
	c.CancelFrame(h)

	if n := c.Step(); n != 2 {
		t.Errorf("Step ran %d callbacks, want 2", n)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("order = %v, want [1 3]", order)
	}
	if n := c.Step(); n != 0 {
		t.Errorf("callbacks ran twice: %d", n)
	}
}

func TestManualClock_RequestDuringStep(t *testing.T) {
	c := NewManualClock()
	var fn func()
	runs := 0
	fn = func() {
		runs++
		c.RequestFrame(fn)
	}
	c.RequestFrame(fn)

	c.Step()
	c.Step()
	if runs != 2 {
		t.Errorf("runs = %d, want one per step", runs)
	}
	if c.Pending() != 1 {
		t.Errorf("pending = %d, want 1", c.Pending())
	}
}

func TestTickerClock(t *testing.T) {
	c := NewTickerClock(100)
	defer c.Stop()

	done := make(chan struct{})
	c.RequestFrame(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	c.Stop()
	c.Stop()
}

func TestState_GraceThreshold(t *testing.T) {
	st := NewState(emotion.DefaultWindow)
	st.FaceFound(geometry.Box{X: 1, Y: 2, W: 3, H: 4}, emotion.Vector{1})

	for i := 1; i < 3; i++ {
		if st.FaceMissing(3) {
			t.Fatalf("bars dropped at streak %d", i)
		}
	}
	if !st.FaceMissing(3) {
		t.Fatal("bars not dropped at the threshold")
	}
	if st.FaceMissing(3) {
		t.Error("bars reported dropped twice")
	}
	if st.History.Len() != 1 {
		t.Error("history cleared by the grace window")
	}

	st.Reset()
	if st.History.Len() != 0 || st.NoFaceStreak != 0 {
		t.Error("Reset left state behind")
	}
}

func TestState_SnapshotIsCopy(t *testing.T) {
	st := NewState(2)
	st.FaceFound(geometry.Box{X: 10, W: 5, H: 5}, emotion.Vector{0, 1})
	snap := st.snapshot()
	st.Face.X = 99
	st.Bars.Vector[0] = 1

	if snap.Face.X != 10 || snap.Bars.Vector[0] != 0 {
		t.Error("snapshot shares memory with the cache")
	}
}
