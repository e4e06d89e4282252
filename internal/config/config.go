// Package config loads scenewatch settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/emitter"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/space"
)

// Detector backends.
const (
	BackendYOLO   = "yolo"
	BackendRemote = "remote"
)

// Config is the complete service configuration.
type Config struct {
	InstanceID string          `yaml:"instance_id"`
	Log        LogConfig       `yaml:"log"`
	HTTP       HTTPConfig      `yaml:"http"`
	Camera     camera.Config   `yaml:"camera"`
	Detector   DetectorConfig  `yaml:"detector"`
	Monitor    monitor.Config  `yaml:"monitor"`
	Space      SpaceConfig     `yaml:"space"`
	Inventory  InventoryConfig `yaml:"inventory"`
	History    HistoryConfig   `yaml:"history"`
	MQTT       emitter.Config  `yaml:"mqtt"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	File       string `yaml:"file"`        // Optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb"` // Rotation size
	MaxBackups int    `yaml:"max_backups"` // Rotated files kept
}

// HTTPConfig controls the web server.
type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	GrabAttempts  int           `yaml:"grab_attempts"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DetectorConfig selects and tunes the detection backend.
type DetectorConfig struct {
	Backend string `yaml:"backend"` // yolo or remote

	// yolo
	ModelPath  string  `yaml:"model_path"`
	LabelsPath string  `yaml:"labels_path"`
	Confidence float64 `yaml:"confidence"`
	NMS        float64 `yaml:"nms"`
	InputSize  int     `yaml:"input_size"`

	// remote
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"api_key"`
}

// SpaceConfig tunes the gap advisor.
type SpaceConfig struct {
	ConfidenceFloor float64  `yaml:"confidence_floor"`
	GapThreshold    float64  `yaml:"gap_threshold"`
	IgnoreLabels    []string `yaml:"ignore_labels"`
}

// InventoryConfig tunes inventory counting.
type InventoryConfig struct {
	IgnoreLabels []string `yaml:"ignore_labels"`
}

// HistoryConfig locates the report log. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Default returns a configuration that runs against the first local
// webcam with the bundled YOLO model.
func Default() Config {
	return Config{
		InstanceID: "scenewatch",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		HTTP: HTTPConfig{
			Addr:          ":8080",
			GrabAttempts:  10,
			ShutdownGrace: 5 * time.Second,
		},
		Camera: camera.DefaultConfig(),
		Detector: DetectorConfig{
			Backend:    BackendYOLO,
			ModelPath:  "models/yolov8n-oiv7.onnx",
			LabelsPath: "models/oiv7.names",
			Confidence: 0.25,
			NMS:        0.45,
			InputSize:  640,
			Timeout:    10 * time.Second,
		},
		Monitor: monitor.DefaultConfig(),
		Space: SpaceConfig{
			ConfidenceFloor: space.DefaultConfidenceFloor,
			GapThreshold:    space.DefaultGapThreshold,
			IgnoreLabels:    append([]string(nil), detection.DefaultIgnoreLabels...),
		},
		Inventory: InventoryConfig{
			IgnoreLabels: append([]string(nil), detection.DefaultIgnoreLabels...),
		},
		History: HistoryConfig{Path: "scenewatch.db"},
		MQTT:    emitter.DefaultConfig(),
	}
}

// Load reads path on top of the defaults, applies environment overrides
// and validates the result. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section and joins all problems.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, msgs []string) {
		for _, m := range msgs {
			errs = append(errs, fmt.Errorf("%s: %s", section, m))
		}
	}

	if c.InstanceID == "" {
		errs = append(errs, errors.New("instance_id is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	add("camera", c.Camera.Validate())
	add("monitor", c.Monitor.Validate())

	switch c.Detector.Backend {
	case BackendYOLO:
		if c.Detector.ModelPath == "" {
			errs = append(errs, errors.New("detector: model_path is required for yolo"))
		}
		if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
			errs = append(errs, errors.New("detector: confidence must be in (0,1]"))
		}
	case BackendRemote:
		if c.Detector.URL == "" {
			errs = append(errs, errors.New("detector: url is required for remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("detector: unknown backend %q", c.Detector.Backend))
	}

	if c.Space.ConfidenceFloor < 0 || c.Space.ConfidenceFloor > 1 {
		errs = append(errs, errors.New("space: confidence_floor must be in [0,1]"))
	}
	if c.Space.GapThreshold < 0 {
		errs = append(errs, errors.New("space: gap_threshold must not be negative"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt: qos must be 0, 1 or 2"))
	}

	return errors.Join(errs...)
}

// Remote returns the detector settings for the remote backend.
func (c *Config) Remote() detection.RemoteConfig {
	return detection.RemoteConfig{
		URL:     c.Detector.URL,
		Timeout: c.Detector.Timeout,
		APIKey:  c.Detector.APIKey,
	}
}

// SpaceOptions returns the advisor options. Frame width comes from each
// scanned frame.
func (c *Config) SpaceOptions() space.Options {
	return space.Options{
		Ignore:          detection.NewMatcher(c.Space.IgnoreLabels, true),
		ConfidenceFloor: c.Space.ConfidenceFloor,
		GapThreshold:    c.Space.GapThreshold,
	}
}

// InventoryIgnore returns the inventory label filter.
func (c *Config) InventoryIgnore() detection.Matcher {
	return detection.NewMatcher(c.Inventory.IgnoreLabels, true)
}
