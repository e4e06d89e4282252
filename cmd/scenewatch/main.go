// scenewatch: watches a scene through a camera, reports what changed
// between samples and advises on free shelf space.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-scenewatch/internal/config"
	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/camera/webcam"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/detection/yolo"
	"github.com/teslashibe/go-scenewatch/pkg/emitter"
	"github.com/teslashibe/go-scenewatch/pkg/history"
	"github.com/teslashibe/go-scenewatch/pkg/inventory"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/space"
	"github.com/teslashibe/go-scenewatch/pkg/web"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	autostart  = flag.Bool("autostart", false, "Start monitoring immediately")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scenewatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if *debug {
		level = "debug"
	}
	log.Setup(log.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	log.Info("scenewatch starting", "instance_id", cfg.InstanceID, "detector", cfg.Detector.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, err := newDetector(cfg)
	if err != nil {
		return err
	}
	defer detector.Close()

	cameras := camera.NewManager(cfg.Camera)
	newSource := func() camera.Source { return webcam.New(cameras.Config()) }

	var sinks []monitor.Sink
	var publisher web.Publisher

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	if cfg.MQTT.Enabled() {
		em := emitter.New(cfg.MQTT, cfg.InstanceID)
		if err := em.Connect(ctx); err != nil {
			log.Warn("mqtt unavailable, publishing disabled", "error", err)
		} else {
			defer em.Close()
			sinks = append(sinks, em)
			publisher = em
		}
	}

	// srv is assigned below; relay forwards diffs to /ws/diffs.
	srvDeps := web.Deps{
		Scanner:         space.NewScanner(detector, cfg.SpaceOptions()),
		Detector:        detector,
		Inventory:       inventory.NewSession(),
		NewSource:       newSource,
		InventoryIgnore: cfg.InventoryIgnore(),
		History:         store,
		Publisher:       publisher,
		Camera:          cameras,
	}

	var srv *web.Server
	relay := monitor.SinkFunc(func(ctx context.Context, r monitor.Result) error {
		return srv.Publish(ctx, r)
	})

	mcfg := cfg.Monitor
	mcfg.FrameInterval = cfg.Camera.FrameInterval
	mon, err := monitor.New(mcfg, newSource, detector, monitor.WithSinks(append(sinks, relay)...))
	if err != nil {
		return err
	}
	mon.OnError = func(err error) {
		log.Warn("detection cycle failed", "error", err)
	}
	srvDeps.Monitor = mon

	opts := web.DefaultOptions()
	opts.GrabAttempts = cfg.HTTP.GrabAttempts
	opts.FrameInterval = cfg.Camera.FrameInterval
	opts.ShutdownGrace = cfg.HTTP.ShutdownGrace
	srv = web.NewServer(srvDeps, opts)

	mon.OnFrame = srv.SendCameraFrame

	cameras.OnConfigChange = func(camera.Config) error {
		if mon.State() != monitor.Running {
			return nil
		}
		log.Info("camera config changed, restarting monitor")
		mon.Stop()
		return mon.Start(ctx)
	}

	if *autostart {
		if err := mon.Start(ctx); err != nil {
			log.Warn("autostart failed", "error", err)
		}
	}

	err = srv.Run(ctx, cfg.HTTP.Addr)

	mon.Stop()
	log.Info("scenewatch stopped")
	return err
}

func newDetector(cfg *config.Config) (detection.Detector, error) {
	switch cfg.Detector.Backend {
	case config.BackendRemote:
		d, err := detection.NewRemote(cfg.Remote())
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		y := yolo.DefaultConfig()
		y.ModelPath = cfg.Detector.ModelPath
		y.LabelsPath = cfg.Detector.LabelsPath
		y.ConfidenceThresh = float32(cfg.Detector.Confidence)
		y.NMSThresh = float32(cfg.Detector.NMS)
		if cfg.Detector.InputSize > 0 {
			y.InputWidth, y.InputHeight = cfg.Detector.InputSize, cfg.Detector.InputSize
		}
		d, err := yolo.New(y)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}
