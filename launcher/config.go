package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/process"
	"github.com/tailored-agentic-units/darkroom/render"
	"github.com/tailored-agentic-units/darkroom/session"
	"github.com/tailored-agentic-units/darkroom/staging"
)

const defaultObserver = "slog"

// Config holds initialization parameters for all launcher subsystems.
// Each subsystem section delegates to that subsystem's config-driven constructor.
type Config struct {
	Adjustment adjustment.Config `json:"adjustment" yaml:"adjustment"`
	Staging    staging.Config    `json:"staging" yaml:"staging"`
	Process    process.Config    `json:"process" yaml:"process"`
	Render     render.Config     `json:"render" yaml:"render"`
	Session    session.Config    `json:"session" yaml:"session"`
	Observer   string            `json:"observer,omitempty" yaml:"observer,omitempty"` // observability registry name
	Metrics    bool              `json:"metrics,omitempty" yaml:"metrics,omitempty"`   // adds a Prometheus observer
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Adjustment: adjustment.DefaultConfig(),
		Staging:    staging.DefaultConfig(),
		Process:    process.DefaultConfig(),
		Render:     render.DefaultConfig(),
		Session:    session.DefaultConfig(),
		Observer:   defaultObserver,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Adjustment.Merge(&source.Adjustment)
	c.Staging.Merge(&source.Staging)
	c.Process.Merge(&source.Process)
	c.Render.Merge(&source.Render)
	c.Session.Merge(&source.Session)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.Metrics {
		c.Metrics = true
	}
}

// LoadConfig reads a config file, merges it with defaults, and returns the
// resulting Config. Files ending in .yaml or .yml are parsed as YAML,
// anything else as JSON.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &loaded)
	default:
		err = json.Unmarshal(data, &loaded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
