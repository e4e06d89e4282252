package camera

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Manager holds the current capture configuration and handles updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// OnConfigChange is called after a valid config is stored. The feed
	// owner uses it to reopen the device.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager seeded with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and stores cfg.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: invalid config: %v", errs)
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("camera: apply config: %w", err)
		}
	}
	return nil
}

// Update applies a partial update. A "preset" key is applied first and
// the remaining keys override it. Unknown keys are ignored.
func (m *Manager) Update(params map[string]any) error {
	cfg := m.Config()

	if name, ok := params["preset"].(string); ok {
		p, found := GetPreset(name, cfg)
		if !found {
			return fmt.Errorf("camera: unknown preset %q", name)
		}
		cfg = p
	}

	for key, value := range params {
		switch key {
		case "device":
			if v, ok := value.(string); ok {
				cfg.Device = v
			}
		case "width":
			if v, ok := toInt(value); ok {
				cfg.Width = v
			}
		case "height":
			if v, ok := toInt(value); ok {
				cfg.Height = v
			}
		case "fps":
			if v, ok := toInt(value); ok {
				cfg.FPS = v
			}
		case "quality":
			if v, ok := toInt(value); ok {
				cfg.Quality = v
			}
		case "frame_interval_ms":
			if v, ok := toInt(value); ok {
				cfg.FrameInterval = time.Duration(v) * time.Millisecond
			}
		case "warmup_frames":
			if v, ok := toInt(value); ok {
				cfg.WarmupFrames = v
			}
		}
	}

	return m.SetConfig(cfg)
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
