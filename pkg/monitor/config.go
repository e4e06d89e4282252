package monitor

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-scenewatch/pkg/camera"
	"github.com/teslashibe/go-scenewatch/pkg/detection"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
)

// DefaultSampleInterval is the period between detection cycles.
const DefaultSampleInterval = 5 * time.Second

// Config holds monitor tuning.
type Config struct {
	// SampleInterval is the detect-and-reconcile period.
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`

	// FrameInterval is the frame refresh period of the feed.
	FrameInterval time.Duration `yaml:"frame_interval" json:"frame_interval"`

	// MovementThreshold is the pixel distance that counts as movement.
	MovementThreshold float64 `yaml:"movement_threshold" json:"movement_threshold"`

	// PersonLabels are reported as person_present.
	PersonLabels []string `yaml:"person_labels" json:"person_labels"`

	// PersonCaseInsensitive folds case when matching person labels.
	PersonCaseInsensitive bool `yaml:"person_case_insensitive" json:"person_case_insensitive"`

	// IgnoreLabels and IgnoreKeywords are dropped before reconciliation.
	IgnoreLabels   []string `yaml:"ignore_labels" json:"ignore_labels"`
	IgnoreKeywords []string `yaml:"ignore_keywords" json:"ignore_keywords"`
}

// DefaultConfig returns the security monitor defaults: 5s cycles, a 50px
// movement threshold and worn clothing ignored.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    DefaultSampleInterval,
		FrameInterval:     camera.DefaultFrameInterval,
		MovementThreshold: scene.DefaultMovementThreshold,
		PersonLabels:      append([]string(nil), detection.DefaultPersonLabels...),
		IgnoreKeywords:    append([]string(nil), detection.DefaultClothingKeywords...),
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.SampleInterval < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("sample_interval must be at least 100ms, got %v", c.SampleInterval))
	}
	if c.FrameInterval <= 0 || c.FrameInterval > c.SampleInterval {
		errors = append(errors, "frame_interval must be positive and not longer than sample_interval")
	}
	if c.MovementThreshold < 0 {
		errors = append(errors, "movement_threshold must not be negative")
	}

	return errors
}

func (c *Config) reconcileOptions() scene.ReconcileOptions {
	return scene.ReconcileOptions{
		MovementThreshold: c.MovementThreshold,
		PersonLabels:      detection.NewMatcher(c.PersonLabels, c.PersonCaseInsensitive),
	}
}

func (c *Config) ignoreMatcher() detection.Matcher {
	return detection.NewMatcher(c.IgnoreLabels, true, c.IgnoreKeywords...)
}
