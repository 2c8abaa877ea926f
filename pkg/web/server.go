// Package web serves the emotion demo: the session control API, WebRTC
// signalling for the browser camera, and websocket streams of session status
// and the annotated preview.
package web

import (
	"context"
	"image"
	"net"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
	"github.com/teslashibe/go-emotion/pkg/capture"
	"github.com/teslashibe/go-emotion/pkg/hub"
	"github.com/teslashibe/go-emotion/pkg/overlay"
	"github.com/teslashibe/go-emotion/pkg/profile"
	"github.com/teslashibe/go-emotion/pkg/session"
)

// Session is the lifecycle surface the API drives.
type Session interface {
	Open(ctx context.Context) error
	Retry(ctx context.Context) error
	Close() error
	Status() session.Status
}

// Options configure the server.
type Options struct {
	// StaticDir holds the demo page; empty disables static files.
	StaticDir string

	// StatusRate caps status broadcasts per second.
	StatusRate rate.Limit

	// PreviewFPS caps preview frames per second.
	PreviewFPS rate.Limit
}

// DefaultOptions returns the standard options.
func DefaultOptions() Options {
	return Options{
		StaticDir:  "./web",
		StatusRate: 10,
		PreviewFPS: 12,
	}
}

// Deps are the components behind the API.
type Deps struct {
	Session Session
	Camera  *camera.Manager
	Broker  *capture.Broker
	Profile profile.Profile

	// ProfileFor, when set, picks each session's profile from the
	// User-Agent of the browser that opens it.
	ProfileFor func(userAgent string) profile.Profile
}

type previewJob struct {
	frame image.Image
	layer *image.RGBA
}

// Server is the demo web server
type Server struct {
	app      *fiber.App
	opts     Options
	deps     Deps
	validate *validator.Validate

	statusHub  *hub.Hub
	previewHub *hub.Hub
	previews   chan previewJob

	mu        sync.Mutex
	lastState session.State
	lastError *session.ErrorInfo
}

// NewServer creates the server and its routes
func NewServer(opts Options, deps Deps) *Server {
	s := &Server{
		opts:       opts,
		deps:       deps,
		validate:   validator.New(),
		statusHub:  hub.New("status", hub.Options{Rate: opts.StatusRate, Burst: 2, Retain: true}),
		previewHub: hub.New("preview", hub.Options{Rate: opts.PreviewFPS, Burst: 1}),
		previews:   make(chan previewJob, 1),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Emotion Demo",
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
	})

	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/profiles", s.handleProfiles)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	api.Post("/session/open", s.handleOpen)
	api.Post("/session/retry", s.handleRetry)
	api.Post("/session/close", s.handleClose)
	api.Post("/session/offer", s.handleOffer)
	api.Post("/session/camera-error", s.handleCameraError)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))

	s.app = app
	return s
}

// App returns the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve runs the hubs and the preview encoder and serves HTTP on ln until
// ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.statusHub.Run(ctx)
	go s.previewHub.Run(ctx)
	go s.encodePreviews(ctx)

	s.PublishStatus(s.deps.Session.Status())

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()

	log.Info("web server listening", "addr", ln.Addr().String())
	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-errc:
		return err
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// PublishStatus broadcasts a session status. State and error changes are
// always delivered; other updates are throttled.
func (s *Server) PublishStatus(st session.Status) {
	data, err := jsoniter.Marshal(st)
	if err != nil {
		log.Error("encode status", "error", err)
		return
	}
	msg := hub.NewJSONMessage(data)

	s.mu.Lock()
	changed := st.State != s.lastState || !sameError(st.Error, s.lastError)
	s.lastState, s.lastError = st.State, st.Error
	s.mu.Unlock()

	if changed {
		s.statusHub.BroadcastNow(msg)
		return
	}
	s.statusHub.Broadcast(msg)
}

func sameError(a, b *session.ErrorInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PublishFrame queues a preview of frame with the overlay layer. It returns
// at once: nothing is copied unless a preview client is connected and the
// frame rate allows another frame. layer is copied before returning.
func (s *Server) PublishFrame(frame image.Image, layer *image.RGBA) {
	if s.previewHub.ClientCount() == 0 || !s.previewHub.Allow() {
		return
	}
	snapshot := image.NewRGBA(layer.Rect)
	copy(snapshot.Pix, layer.Pix)

	select {
	case s.previews <- previewJob{frame: frame, layer: snapshot}:
	default:
		// Encoder still busy with the previous frame.
	}
}

func (s *Server) encodePreviews(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.previews:
			data, err := overlay.EncodeJPEG(overlay.Compose(job.frame, job.layer), s.previewQuality())
			if err != nil {
				log.Warn("preview encode failed", "error", err)
				continue
			}
			s.previewHub.BroadcastBinary(data)
		}
	}
}

func (s *Server) previewQuality() int {
	if s.deps.Camera == nil {
		return camera.DefaultConfig().Quality
	}
	return s.deps.Camera.GetConfig().Quality
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		client := hub.NewClient(h, c)
		if client == nil {
			return
		}
		client.Run()
	}
}
