package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-emotion/internal/log"
	"github.com/teslashibe/go-emotion/pkg/camera"
	"github.com/teslashibe/go-emotion/pkg/capture"
	"github.com/teslashibe/go-emotion/pkg/profile"
	"github.com/teslashibe/go-emotion/pkg/session"
)

// OfferRequest is a browser SDP offer.
type OfferRequest struct {
	Type string `json:"type" validate:"required,eq=offer"`
	SDP  string `json:"sdp" validate:"required"`
}

// CameraErrorRequest reports a getUserMedia failure by DOMException name.
type CameraErrorRequest struct {
	Name    string `json:"name" validate:"required,max=64"`
	Message string `json:"message" validate:"max=512"`
}

func apiError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleStatus returns the current session status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.deps.Session.Status())
}

// handleProfiles returns the active profile and the presets
func (s *Server) handleProfiles(c *fiber.Ctx) error {
	presets := make([]profile.Profile, 0, len(profile.Presets))
	for _, name := range profile.Names() {
		presets = append(presets, *profile.Get(name))
	}
	return c.JSON(fiber.Map{
		"active":  s.deps.Profile,
		"presets": presets,
	})
}

// handleGetCamera returns the camera constraints for the next session
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return apiError(c, fiber.StatusNotImplemented, errors.New("camera manager not configured"))
	}
	return c.JSON(fiber.Map{
		"config":       s.deps.Camera.GetConfig(),
		"capabilities": camera.Capabilities(),
	})
}

// handleUpdateCamera updates the constraints for the next session; fields
// may be mixed with a preset
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return apiError(c, fiber.StatusNotImplemented, errors.New("camera manager not configured"))
	}
	var params map[string]any
	if err := c.BodyParser(&params); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	err := s.deps.Camera.UpdateConfig(params)
	if errors.Is(err, camera.ErrLocked) {
		return apiError(c, fiber.StatusConflict, err)
	}
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	return c.JSON(s.deps.Camera.GetConfig())
}

// handleOpen starts a session in the background; progress arrives on
// /ws/status
func (s *Server) handleOpen(c *fiber.Ctx) error {
	if st := s.deps.Session.Status(); st.State != session.StateIdle {
		return apiError(c, fiber.StatusConflict, session.ErrBusy)
	}
	ctx := context.Background()
	if s.deps.ProfileFor != nil {
		ctx = session.WithProfile(ctx, s.deps.ProfileFor(c.Get(fiber.HeaderUserAgent)))
	}
	go func() {
		if err := s.deps.Session.Open(ctx); err != nil {
			log.Warn("session open failed", "error", err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "opening"})
}

// handleRetry re-requests the camera after a permission refusal
func (s *Server) handleRetry(c *fiber.Ctx) error {
	st := s.deps.Session.Status()
	if st.State != session.StateFailed || st.Error == nil || !st.Error.Retryable {
		return apiError(c, fiber.StatusConflict, session.ErrRetryNotAllowed)
	}
	go func() {
		if err := s.deps.Session.Retry(context.Background()); err != nil {
			log.Warn("camera retry failed", "error", err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "retrying"})
}

// handleClose tears the session down; the close button and Escape key both
// land here
func (s *Server) handleClose(c *fiber.Ctx) error {
	if err := s.deps.Session.Close(); err != nil {
		log.Warn("session close reported errors", "error", err)
	}
	return c.JSON(s.deps.Session.Status())
}

// handleOffer answers the browser camera's SDP offer
func (s *Server) handleOffer(c *fiber.Ctx) error {
	if s.deps.Broker == nil {
		return apiError(c, fiber.StatusNotImplemented, errors.New("browser camera not enabled"))
	}
	var req OfferRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}

	answer, err := s.deps.Broker.Offer(c.UserContext(), webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
	if errors.Is(err, capture.ErrNoPendingSource) {
		return apiError(c, fiber.StatusConflict, err)
	}
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"type": answer.Type.String(), "sdp": answer.SDP})
}

// handleCameraError forwards a browser getUserMedia failure to the session
func (s *Server) handleCameraError(c *fiber.Ctx) error {
	if s.deps.Broker == nil {
		return apiError(c, fiber.StatusNotImplemented, errors.New("browser camera not enabled"))
	}
	var req CameraErrorRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return apiError(c, fiber.StatusBadRequest, err)
	}

	if err := s.deps.Broker.Reject(c.UserContext(), req.Name, req.Message); err != nil {
		return apiError(c, fiber.StatusConflict, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
