package camera

import (
	"fmt"
	"time"
)

// Config holds capture settings for a frame source.
type Config struct {
	// Device is a camera index ("0") or a file / stream URL.
	Device string `yaml:"device" json:"device"`

	Width   int `yaml:"width" json:"width"`     // Requested frame width
	Height  int `yaml:"height" json:"height"`   // Requested frame height
	FPS     int `yaml:"fps" json:"fps"`         // Requested capture rate
	Quality int `yaml:"quality" json:"quality"` // JPEG quality 1-100

	// FrameInterval is the frame task refresh period.
	FrameInterval time.Duration `yaml:"frame_interval" json:"frame_interval"`

	// WarmupFrames are read and discarded after opening the device.
	WarmupFrames int `yaml:"warmup_frames" json:"warmup_frames"`
}

// DefaultConfig returns settings for a typical USB webcam.
func DefaultConfig() Config {
	return Config{
		Device:        "0",
		Width:         640,
		Height:        480,
		FPS:           30,
		Quality:       80,
		FrameInterval: DefaultFrameInterval,
		WarmupFrames:  5,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device is required")
	}
	if c.Width < 0 || c.Width > 7680 {
		errors = append(errors, "width must be between 0 (device default) and 7680")
	}
	if c.Height < 0 || c.Height > 4320 {
		errors = append(errors, "height must be between 0 (device default) and 4320")
	}
	if c.FPS < 0 || c.FPS > 120 {
		errors = append(errors, "fps must be between 0 (device default) and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.FrameInterval < time.Millisecond || c.FrameInterval > time.Second {
		errors = append(errors, fmt.Sprintf("frame_interval must be between 1ms and 1s, got %v", c.FrameInterval))
	}
	if c.WarmupFrames < 0 {
		errors = append(errors, "warmup_frames must not be negative")
	}

	return errors
}
