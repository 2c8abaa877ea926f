package web

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/teslashibe/go-emotion/pkg/camera"
	"github.com/teslashibe/go-emotion/pkg/capture"
	"github.com/teslashibe/go-emotion/pkg/hub"
	"github.com/teslashibe/go-emotion/pkg/profile"
	"github.com/teslashibe/go-emotion/pkg/session"
)

type fakeSession struct {
	mu      sync.Mutex
	status  session.Status
	opened  chan struct{}
	retried chan struct{}
	closes  int
	profile string
}

func newFakeSession(st session.Status) *fakeSession {
	return &fakeSession{
		status:  st,
		opened:  make(chan struct{}, 1),
		retried: make(chan struct{}, 1),
	}
}

func (f *fakeSession) Open(ctx context.Context) error {
	if p, ok := session.ProfileFrom(ctx); ok {
		f.mu.Lock()
		f.profile = p.Name
		f.mu.Unlock()
	}
	f.opened <- struct{}{}
	return nil
}

func (f *fakeSession) Retry(context.Context) error {
	f.retried <- struct{}{}
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.status = session.Status{State: session.StateIdle}
	return nil
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func newTestServer(t *testing.T, sess Session, broker *capture.Broker) *Server {
	t.Helper()
	opts := DefaultOptions()
	opts.StaticDir = ""
	return NewServer(opts, Deps{
		Session: sess,
		Camera:  camera.NewManager(camera.DefaultConfig()),
		Broker:  broker,
		Profile: profile.Desktop(),
	})
}

func do(t *testing.T, s *Server, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s was not called", what)
	}
}

func TestStatus(t *testing.T) {
	sess := newFakeSession(session.Status{State: session.StateRunning, Dominant: "Happy", DemoMode: true})
	s := newTestServer(t, sess, nil)

	code, body := do(t, s, http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !strings.Contains(body, `"demo_mode":true`) {
		t.Errorf("body missing demo_mode: %s", body)
	}
	var st session.Status
	if err := jsoniter.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != session.StateRunning || st.Dominant != "Happy" || !st.DemoMode {
		t.Errorf("status = %+v", st)
	}
}

func TestProfiles(t *testing.T) {
	s := newTestServer(t, newFakeSession(session.Status{State: session.StateIdle}), nil)
	code, body := do(t, s, http.MethodGet, "/api/profiles", "")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	var got struct {
		Active  profile.Profile   `json:"active"`
		Presets []profile.Profile `json:"presets"`
	}
	if err := jsoniter.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Active.Name != "desktop" || len(got.Presets) != len(profile.Presets) {
		t.Errorf("profiles = %+v", got)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name  string
		state session.State
		want  int
	}{
		{"idle", session.StateIdle, http.StatusAccepted},
		{"running", session.StateRunning, http.StatusConflict},
		{"failed", session.StateFailed, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession(session.Status{State: tt.state})
			s := newTestServer(t, sess, nil)
			code, _ := do(t, s, http.MethodPost, "/api/session/open", "")
			if code != tt.want {
				t.Fatalf("code = %d, want %d", code, tt.want)
			}
			if tt.want == http.StatusAccepted {
				waitSignal(t, sess.opened, "Open")
			}
		})
	}
}

func TestOpen_ProfileFromUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"phone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "mobile"},
		{"desktop", "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0", "desktop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession(session.Status{State: session.StateIdle})
			opts := DefaultOptions()
			opts.StaticDir = ""
			s := NewServer(opts, Deps{
				Session: sess,
				Profile: profile.Desktop(),
				ProfileFor: func(ua string) profile.Profile {
					if strings.Contains(ua, "iPhone") {
						return profile.Mobile()
					}
					return profile.Desktop()
				},
			})

			req := httptest.NewRequest(http.MethodPost, "/api/session/open", nil)
			req.Header.Set("User-Agent", tt.ua)
			resp, err := s.App().Test(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				t.Fatalf("code = %d", resp.StatusCode)
			}
			waitSignal(t, sess.opened, "Open")

			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sess.profile != tt.want {
				t.Errorf("session profile = %q, want %q", sess.profile, tt.want)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name string
		st   session.Status
		want int
	}{
		{"permission denied", session.Status{
			State: session.StateFailed,
			Error: &session.ErrorInfo{Kind: session.FailureCameraPermission, Retryable: true},
		}, http.StatusAccepted},
		{"camera in use", session.Status{
			State: session.StateFailed,
			Error: &session.ErrorInfo{Kind: session.FailureCameraInUse},
		}, http.StatusConflict},
		{"running", session.Status{State: session.StateRunning}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession(tt.st)
			s := newTestServer(t, sess, nil)
			code, _ := do(t, s, http.MethodPost, "/api/session/retry", "")
			if code != tt.want {
				t.Fatalf("code = %d, want %d", code, tt.want)
			}
			if tt.want == http.StatusAccepted {
				waitSignal(t, sess.retried, "Retry")
			}
		})
	}
}

func TestClose(t *testing.T) {
	sess := newFakeSession(session.Status{State: session.StateRunning})
	s := newTestServer(t, sess, nil)

	code, body := do(t, s, http.MethodPost, "/api/session/close", "")
	if code != http.StatusOK || !strings.Contains(body, `"state":"idle"`) {
		t.Errorf("close = %d %s", code, body)
	}
	if sess.closes != 1 {
		t.Errorf("closes = %d", sess.closes)
	}
}

func TestOffer(t *testing.T) {
	sess := newFakeSession(session.Status{State: session.StateLoading})

	tests := []struct {
		name   string
		broker *capture.Broker
		body   string
		want   int
	}{
		{"no broker", nil, `{"type":"offer","sdp":"v=0"}`, http.StatusNotImplemented},
		{"wrong type", capture.NewBroker(), `{"type":"answer","sdp":"v=0"}`, http.StatusBadRequest},
		{"missing sdp", capture.NewBroker(), `{"type":"offer"}`, http.StatusBadRequest},
		{"nothing pending", capture.NewBroker(), `{"type":"offer","sdp":"v=0"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, sess, tt.broker)
			if code, body := do(t, s, http.MethodPost, "/api/session/offer", tt.body); code != tt.want {
				t.Errorf("code = %d (%s), want %d", code, body, tt.want)
			}
		})
	}
}

func TestCameraError(t *testing.T) {
	sess := newFakeSession(session.Status{State: session.StateLoading})
	broker := capture.NewBroker()
	s := newTestServer(t, sess, broker)

	if code, _ := do(t, s, http.MethodPost, "/api/session/camera-error", `{"message":"x"}`); code != http.StatusBadRequest {
		t.Errorf("missing name code = %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/session/camera-error", `{"name":"NotAllowedError"}`); code != http.StatusConflict {
		t.Errorf("no pending source code = %d", code)
	}

	src := broker.Open(camera.BrowserConfig(), time.Second)
	defer src.Stop()
	if code, _ := do(t, s, http.MethodPost, "/api/session/camera-error", `{"name":"NotAllowedError"}`); code != http.StatusNoContent {
		t.Errorf("pending source code = %d", code)
	}
}

func TestCamera(t *testing.T) {
	s := newTestServer(t, newFakeSession(session.Status{State: session.StateIdle}), nil)

	code, body := do(t, s, http.MethodPut, "/api/camera", `{"preset":"480p"}`)
	if code != http.StatusOK {
		t.Fatalf("update = %d %s", code, body)
	}
	var cfg camera.Config
	jsoniter.Unmarshal([]byte(body), &cfg)
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("config after preset = %+v", cfg)
	}

	if code, _ := do(t, s, http.MethodPut, "/api/camera", `{"quality":500}`); code != http.StatusBadRequest {
		t.Errorf("invalid quality code = %d", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/api/camera", ""); code != http.StatusOK {
		t.Errorf("get code = %d", code)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, newFakeSession(session.Status{State: session.StateIdle}), nil)
	if code, _ := do(t, s, http.MethodGet, "/ws/status", ""); code != http.StatusUpgradeRequired {
		t.Errorf("code = %d, want 426", code)
	}
}

func TestPublishStatus(t *testing.T) {
	opts := DefaultOptions()
	opts.StaticDir = ""
	opts.StatusRate = 1
	s := NewServer(opts, Deps{Session: newFakeSession(session.Status{})})
	// Hub not running: queued messages stay in the broadcast channel.
	s.statusHub = hub.New("status", hub.Options{Rate: 1, Burst: 1, Retain: true})
	queued := s.statusHub.Queued

	running := session.Status{State: session.StateRunning}
	s.PublishStatus(running)
	s.PublishStatus(running)
	s.PublishStatus(running)
	if queued() != 2 {
		t.Fatalf("queued = %d, want 2 (transition plus one throttled update)", queued())
	}

	s.PublishStatus(session.Status{State: session.StateFailed, Error: &session.ErrorInfo{Kind: session.FailureCameraNotFound}})
	if queued() != 3 {
		t.Errorf("state change was throttled: queued = %d", queued())
	}
}

type statusConn struct {
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *statusConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, io.EOF
}

func (c *statusConn) WriteMessage(_ int, data []byte) error {
	select {
	case c.writes <- data:
	case <-c.closed:
		return io.ErrClosedPipe
	}
	return nil
}

func (c *statusConn) SetReadLimit(int64)                {}
func (c *statusConn) SetReadDeadline(time.Time) error   { return nil }
func (c *statusConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *statusConn) SetPongHandler(func(string) error) {}
func (c *statusConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestPublishStatus_DemoMode(t *testing.T) {
	s := newTestServer(t, newFakeSession(session.Status{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.statusHub.Run(ctx)

	conn := &statusConn{writes: make(chan []byte, 8), closed: make(chan struct{})}
	client := hub.NewClient(s.statusHub, conn)
	go client.Run()
	defer conn.Close()

	s.PublishStatus(session.Status{State: session.StateRunning, DemoMode: true})
	select {
	case data := <-conn.writes:
		var st session.Status
		if err := jsoniter.Unmarshal(data, &st); err != nil {
			t.Fatal(err)
		}
		if !st.DemoMode || !strings.Contains(string(data), `"demo_mode":true`) {
			t.Errorf("published status = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status not published")
	}
}

func TestPublishFrameWithoutClients(t *testing.T) {
	s := newTestServer(t, newFakeSession(session.Status{}), nil)
	s.PublishFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if len(s.previews) != 0 {
		t.Error("frame queued with no preview clients")
	}
}
