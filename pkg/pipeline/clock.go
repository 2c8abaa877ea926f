package pipeline

import (
	"sync"
	"time"
)

// FrameHandle identifies a pending frame callback.
type FrameHandle uint64

// FrameClock delivers display-refresh callbacks. A callback requested before
// a refresh runs once on that refresh; it must be requested again to run on
// the next one.
type FrameClock interface {
	RequestFrame(fn func()) FrameHandle
	CancelFrame(h FrameHandle)
}

type pendingFrame struct {
	handle FrameHandle
	fn     func()
}

// frameQueue is the pending-callback bookkeeping shared by the clocks.
type frameQueue struct {
	mu      sync.Mutex
	next    FrameHandle
	pending []pendingFrame
}

func (q *frameQueue) RequestFrame(fn func()) FrameHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.pending = append(q.pending, pendingFrame{handle: q.next, fn: fn})
	return q.next
}

func (q *frameQueue) CancelFrame(h FrameHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p.handle == h {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// take removes and returns every pending callback.
func (q *frameQueue) take() []pendingFrame {
	q.mu.Lock()
	defer q.mu.Unlock()
	due := q.pending
	q.pending = nil
	return due
}

// Pending returns the number of callbacks waiting for the next refresh.
func (q *frameQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// TickerClock refreshes at a fixed rate on its own goroutine.
type TickerClock struct {
	frameQueue
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTickerClock starts a clock refreshing fps times per second.
func NewTickerClock(fps int) *TickerClock {
	if fps <= 0 {
		fps = 60
	}
	c := &TickerClock{
		interval: time.Second / time.Duration(fps),
		stop:     make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *TickerClock) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			for _, p := range c.take() {
				p.fn()
			}
		}
	}
}

// Stop halts the clock. Pending callbacks never run.
func (c *TickerClock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// ManualClock refreshes only when Step is called.
type ManualClock struct {
	frameQueue
}

// NewManualClock creates a stopped clock.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Step performs one refresh, running the callbacks pending when it was
// called, and returns how many ran.
func (c *ManualClock) Step() int {
	due := c.take()
	for _, p := range due {
		p.fn()
	}
	return len(due)
}
