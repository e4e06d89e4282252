// Package web serves the scenewatch HTTP API, the MJPEG preview and the
// websocket feeds.
package web

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/history"
	"github.com/teslashibe/go-scenewatch/pkg/hub"
	"github.com/teslashibe/go-scenewatch/pkg/inventory"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/space"
)

// Publisher forwards one-shot reports to an external bus.
type Publisher interface {
	PublishJSON(ctx context.Context, kind string, v any) error
}

// Deps are the collaborators behind the routes. History, Publisher and
// Camera are optional.
type Deps struct {
	Monitor   *monitor.Monitor
	Scanner   *space.Scanner
	Detector  detection.Detector
	Inventory *inventory.Session
	NewSource camera.SourceFactory

	// InventoryIgnore filters labels before counting.
	InventoryIgnore detection.Matcher

	History   *history.Store
	Publisher Publisher
	Camera    *camera.Manager
}

// Options tunes the server.
type Options struct {
	GrabAttempts  int           // Frames tried when opening the source for a one-shot request
	GrabWait      time.Duration // Delay between those attempts
	FrameInterval time.Duration // MJPEG poll period
	ShutdownGrace time.Duration
}

// DefaultOptions returns the server defaults.
func DefaultOptions() Options {
	return Options{
		GrabAttempts:  10,
		GrabWait:      50 * time.Millisecond,
		FrameInterval: camera.DefaultFrameInterval,
		ShutdownGrace: 5 * time.Second,
	}
}

// Server is the scenewatch HTTP server.
type Server struct {
	app     *fiber.App
	deps    Deps
	opts    Options
	started time.Time

	cameraHub *hub.Hub
	diffHub   *hub.Hub

	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// NewServer builds the app and its routes.
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		deps:      deps,
		opts:      opts,
		started:   time.Now(),
		cameraHub: hub.New("camera"),
		diffHub:   hub.New("diffs"),
	}
	s.initMetrics()

	app := fiber.New(fiber.Config{
		AppName:               "scenewatch",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(s.countRequests)

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics())
	app.Get("/video_feed", s.handleVideoFeed)

	api := app.Group("/api")
	api.Post("/security/start", s.handleSecurityStart)
	api.Post("/security/stop", s.handleSecurityStop)
	api.Get("/security/latest", s.handleSecurityLatest)
	api.Get("/space/scan", s.handleSpaceScan)
	api.Post("/inventory/capture", s.handleInventoryCapture)
	api.Get("/inventory/process", s.handleInventoryProcess)
	api.Get("/history", s.handleHistory)
	api.Get("/camera/config", s.handleCameraConfig)
	api.Put("/camera/config", s.handleCameraUpdate)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/diffs", websocket.New(s.handleDiffsWS))

	s.app = app
	return s
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hubs and serves on ln until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { s.cameraHub.Run(gctx); return nil })
	g.Go(func() error { s.diffHub.Run(gctx); return nil })
	g.Go(func() error {
		log.Info("web server listening", "component", "web", "addr", ln.Addr().String())
		return s.app.Listener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Publish pushes a monitor result to /ws/diffs subscribers. It implements
// monitor.Sink.
func (s *Server) Publish(ctx context.Context, r monitor.Result) error {
	if s.diffHub.ClientCount() == 0 {
		return nil
	}
	msg, err := hub.EncodeEvent("diff", r.UpdatedAt, newSecurityResponse(r, true, s.deps.Monitor.State()))
	if err != nil {
		return err
	}
	s.diffHub.Broadcast(msg)
	return nil
}

// SendCameraFrame pushes a frame to /ws/camera subscribers.
func (s *Server) SendCameraFrame(f camera.Frame) {
	if s.cameraHub.ClientCount() == 0 || f.Empty() {
		return
	}
	s.cameraHub.BroadcastBinary(f.Data)
}
