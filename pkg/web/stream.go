package web

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/hub"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
)

const mjpegBoundary = "frame"

// handleVideoFeed streams the monitor's latest frame as multipart MJPEG
// until the client goes away or the monitor stops.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	if s.deps.Monitor.State() != monitor.Running {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "monitor is not running"})
	}

	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Set(fiber.HeaderCacheControl, "no-cache")

	interval := s.opts.FrameInterval
	if interval <= 0 {
		interval = 30 * time.Millisecond
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastSeq uint64
		for range ticker.C {
			if s.deps.Monitor.State() != monitor.Running {
				return
			}
			f, ok := s.deps.Monitor.LatestFrame()
			if !ok || f.Empty() || f.Seq == lastSeq {
				continue
			}
			lastSeq = f.Seq

			if err := writePart(w, f.Data); err != nil {
				log.Debug("mjpeg client gone", "component", "web", "error", err)
				return
			}
		}
	})
	return nil
}

func writePart(w *bufio.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.cameraHub, c).Run()
}

// handleDiffsWS sends the latest diff, if any, then live updates.
func (s *Server) handleDiffsWS(c *websocket.Conn) {
	if r, ok := s.deps.Monitor.LatestDiff(); ok {
		msg, err := hub.EncodeEvent("diff", r.UpdatedAt, newSecurityResponse(r, ok, s.deps.Monitor.State()))
		if err == nil {
			if err := c.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		}
	}
	hub.NewClient(s.diffHub, c).Run()
}
