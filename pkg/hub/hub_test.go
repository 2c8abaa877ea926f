package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

type written struct {
	typ  int
	data []byte
}

type fakeConn struct {
	writes    chan written
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{writes: make(chan written, 512), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(typ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.writes <- written{typ, data}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) next(t *testing.T) written {
	t.Helper()
	select {
	case w := <-c.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no message written")
		return written{}
	}
}

func startHub(t *testing.T, opts Options) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", opts)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestHub_BroadcastJSON(t *testing.T) {
	h, _ := startHub(t, Options{})
	conn := newFakeConn()
	client := NewClient(h, conn)
	go client.Run()
	defer conn.Close()

	if err := h.BroadcastJSON(map[string]string{"state": "running"}); err != nil {
		t.Fatal(err)
	}
	w := conn.next(t)
	if w.typ != websocket.TextMessage || string(w.data) != `{"state":"running"}` {
		t.Errorf("wrote %d %q", w.typ, w.data)
	}

	h.BroadcastBinary([]byte{0xff, 0xd8})
	if w := conn.next(t); w.typ != websocket.BinaryMessage {
		t.Errorf("binary message sent as type %d", w.typ)
	}
	waitFor(t, func() bool { return h.ClientCount() == 1 })
}

func TestHub_RetainsLastMessage(t *testing.T) {
	h, _ := startHub(t, Options{Retain: true})
	h.Broadcast(NewJSONMessage([]byte(`{"n":1}`)))
	h.Broadcast(NewJSONMessage([]byte(`{"n":2}`)))

	conn := newFakeConn()
	client := NewClient(h, conn)
	go client.Run()
	defer conn.Close()

	if w := conn.next(t); string(w.data) != `{"n":2}` {
		t.Errorf("late client got %q, want the last message", w.data)
	}
}

func TestHub_RateLimit(t *testing.T) {
	h, _ := startHub(t, Options{Rate: 1, Burst: 1})
	if !h.Allow() {
		t.Error("fresh limiter should allow")
	}
	if !h.Broadcast(NewJSONMessage([]byte("{}"))) {
		t.Error("first broadcast dropped")
	}
	if h.Broadcast(NewJSONMessage([]byte("{}"))) {
		t.Error("second immediate broadcast passed the limit")
	}
	if h.Allow() {
		t.Error("Allow true with no tokens")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t, Options{})
	// No pumps: nothing drains the send queue.
	NewClient(h, newFakeConn())
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	for i := 0; i < sendQueue+1; i++ {
		h.Broadcast(NewJSONMessage([]byte("{}")))
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	h, cancel := startHub(t, Options{})
	conn := newFakeConn()
	client := NewClient(h, conn)
	done := make(chan struct{})
	go func() {
		client.Run()
		close(done)
	}()
	waitFor(t, h.IsRunning)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not disconnect")
	}
	if NewClient(h, newFakeConn()) != nil {
		t.Error("stopped hub accepted a client")
	}
}

func TestHub_BroadcastNowIgnoresLimit(t *testing.T) {
	h, _ := startHub(t, Options{Rate: 1, Burst: 1})
	h.Broadcast(NewJSONMessage([]byte("{}")))
	if !h.BroadcastNow(NewJSONMessage([]byte(`{"state":"failed"}`))) {
		t.Error("BroadcastNow was rate limited")
	}
}
