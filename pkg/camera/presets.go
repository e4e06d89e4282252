package camera

// Preset names for common capture profiles
const (
	PresetDefault = "default"
	PresetLow     = "low"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetArchive = "archive"
)

// PresetNames lists the presets in display order.
func PresetNames() []string {
	return []string{PresetDefault, PresetLow, Preset720p, Preset1080p, PresetArchive}
}

// GetPreset returns a preset applied on top of base, or false if the
// name is unknown. The device is always taken from base.
func GetPreset(name string, base Config) (Config, bool) {
	cfg := base
	switch name {
	case PresetDefault:
		d := DefaultConfig()
		d.Device = base.Device
		return d, true
	case PresetLow:
		// Cheapest to run detection on.
		cfg.Width, cfg.Height = 320, 240
		cfg.FPS = 15
		cfg.Quality = 70
	case Preset720p:
		cfg.Width, cfg.Height = 1280, 720
	case Preset1080p:
		cfg.Width, cfg.Height = 1920, 1080
		cfg.FPS = 15
	case PresetArchive:
		cfg.Quality = 95
	default:
		return Config{}, false
	}
	return cfg, true
}
