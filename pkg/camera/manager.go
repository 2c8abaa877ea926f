package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrLocked is returned by a Guard that refuses changes, typically while a
// session holds the camera.
var ErrLocked = errors.New("camera: configuration is locked while a session is active")

// Manager holds the camera request for the next session.
type Manager struct {
	mu     sync.RWMutex
	config Config

	// Guard, when set, runs before every change and may refuse it.
	Guard func(next Config) error
}

// NewManager creates a manager holding cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates cfg and makes it current.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	if m.Guard != nil {
		if err := m.Guard(cfg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

var stringFields = map[string]func(*Config, string){
	"driver": func(c *Config, v string) { c.Driver = v },
	"device": func(c *Config, v string) { c.Device = v },
	"facing": func(c *Config, v string) { c.Facing = v },
}

var intFields = map[string]func(*Config, int){
	"width":     func(c *Config, v int) { c.Width = v },
	"height":    func(c *Config, v int) { c.Height = v },
	"framerate": func(c *Config, v int) { c.Framerate = v },
	"quality":   func(c *Config, v int) { c.Quality = v },
}

// UpdateConfig applies a partial update given as JSON-decoded fields.
// "preset" replaces the whole configuration first; the other fields then
// override it. Unknown fields and mistyped values are errors.
func (m *Manager) UpdateConfig(params map[string]any) error {
	cfg := m.GetConfig()

	if raw, ok := params["preset"]; ok {
		name, _ := raw.(string)
		preset := GetPreset(name)
		if preset == nil {
			return fmt.Errorf("unknown preset: %v", raw)
		}
		cfg = *preset
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := params[key]
		switch {
		case key == "preset":
		case stringFields[key] != nil:
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("%s must be a string", key)
			}
			stringFields[key](&cfg, v)
		case intFields[key] != nil:
			v, ok := toInt(value)
			if !ok {
				return fmt.Errorf("%s must be an integer", key)
			}
			intFields[key](&cfg, v)
		default:
			return fmt.Errorf("unknown camera field %q", key)
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
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
