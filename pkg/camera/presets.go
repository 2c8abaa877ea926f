package camera

// Preset names for common configurations
const (
	PresetDefault = "default"
	Preset480p    = "480p"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetBrowser = "browser"
	PresetDemo    = "demo"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		Preset480p:    SD480Config(),
		Preset720p:    HD720Config(),
		Preset1080p:   HD1080Config(),
		PresetBrowser: BrowserConfig(),
		PresetDemo:    SyntheticConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		Preset480p,
		Preset720p,
		Preset1080p,
		PresetBrowser,
		PresetDemo,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// SD480Config returns 640x480 for slow USB cameras.
func SD480Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// HD720Config returns 720p HD configuration.
// Good balance of quality and performance.
func HD720Config() Config {
	return DefaultConfig()
}

// HD1080Config returns 1080p. Detection still runs at the profile's low
// resolution, so this mainly sharpens the preview.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	cfg.Quality = 75
	return cfg
}

// BrowserConfig streams the operator's browser camera over WebRTC.
func BrowserConfig() Config {
	cfg := DefaultConfig()
	cfg.Driver = DriverWebRTC
	cfg.Device = ""
	return cfg
}

// SyntheticConfig generates frames without any camera.
func SyntheticConfig() Config {
	cfg := SD480Config()
	cfg.Driver = DriverSynthetic
	cfg.Device = ""
	return cfg
}
