package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
	"github.com/teslashibe/go-emotion/pkg/capture"
	"github.com/teslashibe/go-emotion/pkg/debug"
	"github.com/teslashibe/go-emotion/pkg/models"
	"github.com/teslashibe/go-emotion/pkg/pipeline"
	"github.com/teslashibe/go-emotion/pkg/profile"
	"github.com/teslashibe/go-emotion/pkg/session"
	"github.com/teslashibe/go-emotion/pkg/web"
)

// browserOfferWait covers model loading: the page posts its camera offer
// right after opening a session.
const browserOfferWait = time.Minute

// App is the emotion demo service.
type App struct {
	config Config

	profile       profile.Profile
	fetcher       *models.Fetcher
	cameraManager *camera.Manager
	broker        *capture.Broker
	session       *session.Controller
	webServer     *web.Server
}

// New creates the application with the given configuration.
func New(cfg Config) (*App, error) {
	// Apply environment overrides
	cfg.LoadEnvConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	debug.Enabled = cfg.Debug
	debug.Pipeline = cfg.DebugPipeline

	return &App{config: cfg}, nil
}

// Init builds every component. Call it after New and before Run.
func (a *App) Init() error {
	prof, err := profile.Resolve(a.config.Profile, profile.Capabilities{})
	if err != nil {
		return err
	}
	a.profile = prof
	log.Info("device profile selected",
		"profile", prof.Name,
		"skip_interval", prof.SkipInterval,
		"detection_width", prof.DetectionWidth)

	a.fetcher = models.NewFetcher(a.config.CacheDir)
	a.cameraManager = camera.NewManager(a.config.cameraConfig())
	a.cameraManager.Guard = a.guardCamera
	a.broker = capture.NewBroker()
	a.broker.Wait = browserOfferWait

	if err := a.initSession(a.fetcher); err != nil {
		return fmt.Errorf("session init: %w", err)
	}

	deps := web.Deps{
		Session: a.session,
		Camera:  a.cameraManager,
		Broker:  a.broker,
		Profile: prof,
	}
	if a.config.Profile == "auto" {
		deps.ProfileFor = probeBrowser
	}

	opts := web.DefaultOptions()
	opts.StaticDir = a.config.StaticDir
	a.webServer = web.NewServer(opts, deps)
	return nil
}

// probeBrowser picks the profile for the browser opening a session.
func probeBrowser(userAgent string) profile.Profile {
	return profile.Probe(profile.Capabilities{UserAgent: userAgent})
}

func (a *App) initSession(art Artifacts) error {
	pcfg := pipeline.DefaultConfig()
	pcfg.Profile = a.profile
	pcfg.GraceFrames = a.config.GraceFrames
	pcfg.HistorySize = a.config.HistorySize

	opener := &capture.Opener{Broker: a.broker, StartTimeout: a.config.StartTimeout}

	ctrl, err := session.New(pcfg, session.Deps{
		LoadDetector:   detectorLoader(a.config, art),
		LoadClassifier: classifierLoader(a.config, art),
		OpenCamera: func(ctx context.Context) (capture.Source, error) {
			// Constraints are read per attempt so API updates apply to
			// the next session or retry.
			return opener.Acquire(ctx, a.cameraManager.GetConfig())
		},
	}, session.Hooks{
		OnChange: a.publishStatus,
		OnRender: a.publishFrame,
	})
	if err != nil {
		return err
	}
	a.session = ctrl
	return nil
}

// guardCamera keeps the constraints fixed from Open until Close.
func (a *App) guardCamera(camera.Config) error {
	if a.session == nil {
		return nil
	}
	switch a.session.State() {
	case session.StateIdle, session.StateFailed:
		return nil
	}
	return camera.ErrLocked
}

func (a *App) publishStatus(st session.Status) {
	if a.webServer != nil {
		a.webServer.PublishStatus(st)
	}
}

func (a *App) publishFrame(frame image.Image, layer *image.RGBA) {
	if a.webServer != nil {
		a.webServer.PublishFrame(frame, layer)
	}
}

// Run serves the web UI until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.config.Addr, err)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd notify failed", "error", err)
	} else if ok {
		log.Debug("systemd notified ready")
	}

	if a.config.AutoStart {
		go func() {
			if err := a.session.Open(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
				log.Warn("auto-start failed", "error", err)
			}
		}()
	}

	log.Info("emotion demo ready", "addr", ln.Addr().String(), "camera", a.cameraManager.GetConfig().Driver)
	return a.webServer.Serve(ctx, ln)
}

// Shutdown releases the session and stops the web server.
func (a *App) Shutdown() {
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.session != nil {
		if err := a.session.Close(); err != nil {
			log.Warn("session close reported errors", "error", err)
		}
	}
	if a.webServer != nil {
		a.webServer.Shutdown()
	}
	log.Info("goodbye")
}

// Session returns the session controller.
func (a *App) Session() *session.Controller {
	return a.session
}
