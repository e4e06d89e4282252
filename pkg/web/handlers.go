package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/history"
	"github.com/teslashibe/go-scenewatch/pkg/inventory"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
)

// securityResponse is the diff as parallel label and status lists.
type securityResponse struct {
	history.SecurityEntry
	State     monitor.State `json:"state"`
	Cycle     uint64        `json:"cycle,omitempty"`
	UpdatedAt *time.Time    `json:"updated_at"`
}

func newSecurityResponse(r monitor.Result, ok bool, state monitor.State) securityResponse {
	resp := securityResponse{
		SecurityEntry: history.NewSecurityEntry(r.Diff),
		State:         state,
	}
	if ok {
		at := r.UpdatedAt
		resp.Cycle = r.Cycle
		resp.UpdatedAt = &at
	}
	return resp
}

// CaptureRequest is the body of POST /api/inventory/capture.
type CaptureRequest struct {
	Mode string `json:"mode"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, camera.ErrSourceUnavailable), errors.Is(err, camera.ErrFrameMissing):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, inventory.ErrIncomplete):
		return fiber.StatusConflict
	case errors.Is(err, inventory.ErrInvalidPhase), errors.Is(err, history.ErrInvalidKind):
		return fiber.StatusBadRequest
	case detection.IsFailure(err), errors.Is(err, detection.ErrInvalidDetection):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		log.Warn("request failed", "component", "web", "path", c.Path(), "status", code, "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"monitor": s.deps.Monitor.State(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSecurityStart(c *fiber.Ctx) error {
	if err := s.deps.Monitor.Start(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"state": s.deps.Monitor.State()})
}

// handleSecurityStop stops monitoring and returns the last diff.
func (s *Server) handleSecurityStop(c *fiber.Ctx) error {
	diff := s.deps.Monitor.Stop()
	entry := history.NewSecurityEntry(diff)

	if len(diff) > 0 {
		s.record(c.UserContext(), history.KindSecurity, entry)
	}
	return c.JSON(entry)
}

func (s *Server) handleSecurityLatest(c *fiber.Ctx) error {
	r, ok := s.deps.Monitor.LatestDiff()
	return c.JSON(newSecurityResponse(r, ok, s.deps.Monitor.State()))
}

func (s *Server) handleSpaceScan(c *fiber.Ctx) error {
	frame, err := s.frame()
	if err != nil {
		return fail(c, err)
	}

	report, err := s.deps.Scanner.Scan(c.UserContext(), frame)
	if err != nil {
		return fail(c, err)
	}

	s.record(c.UserContext(), history.KindSpace, report)
	s.publish(c.UserContext(), "space", report)
	return c.JSON(report)
}

func (s *Server) handleInventoryCapture(c *fiber.Ctx) error {
	var req CaptureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	phase, err := inventory.ParsePhase(req.Mode)
	if err != nil {
		return fail(c, err)
	}

	frame, err := s.frame()
	if err != nil {
		return fail(c, err)
	}

	dets, err := s.deps.Detector.Detect(c.UserContext(), frame.Data)
	if err != nil {
		return fail(c, detection.Failure("inventory", err))
	}
	if err := detection.ValidateAll(dets); err != nil {
		return fail(c, detection.Failure("inventory", err))
	}

	counts := inventory.Count(dets, s.deps.InventoryIgnore)
	if err := s.deps.Inventory.Record(phase, counts, time.Now()); err != nil {
		return fail(c, err)
	}

	return c.JSON(fiber.Map{
		"mode":   phase,
		"counts": counts,
		"total":  counts.Total(),
	})
}

func (s *Server) handleInventoryProcess(c *fiber.Ctx) error {
	cmp, err := s.deps.Inventory.Process()
	if err != nil {
		return fail(c, err)
	}

	s.record(c.UserContext(), history.KindInventory, cmp)
	s.publish(c.UserContext(), "inventory", cmp)
	return c.JSON(cmp)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.deps.History == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "history disabled"})
	}

	kind, err := history.ParseKind(c.Query("kind"))
	if err != nil {
		return fail(c, err)
	}

	reports, err := s.deps.History.Recent(c.UserContext(), kind, c.QueryInt("limit", history.DefaultLimit))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(reports)
}

func (s *Server) handleCameraConfig(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "camera config not available"})
	}
	return c.JSON(fiber.Map{
		"config":  s.deps.Camera.Config(),
		"presets": camera.PresetNames(),
	})
}

func (s *Server) handleCameraUpdate(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "camera config not available"})
	}

	var params map[string]any
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := s.deps.Camera.Update(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"config": s.deps.Camera.Config()})
}

// frame returns the running monitor's latest frame, or opens the source
// briefly when the monitor is idle.
func (s *Server) frame() (camera.Frame, error) {
	if s.deps.Monitor.State() == monitor.Running {
		if f, ok := s.deps.Monitor.LatestFrame(); ok && !f.Empty() {
			return f, nil
		}
		return camera.Frame{}, camera.ErrFrameMissing
	}
	return camera.Grab(s.deps.NewSource(), s.opts.GrabAttempts, s.opts.GrabWait)
}

func (s *Server) record(ctx context.Context, kind history.Kind, payload any) {
	if s.deps.History == nil {
		return
	}
	if _, err := s.deps.History.Record(ctx, kind, payload); err != nil {
		log.Warn("history record failed", "component", "web", "kind", kind, "error", err)
	}
}

func (s *Server) publish(ctx context.Context, kind string, payload any) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishJSON(ctx, kind, payload); err != nil {
		log.Warn("publish failed", "component", "web", "kind", kind, "error", err)
	}
}
