package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/tailored-agentic-units/darkroom/process"
)

// OutputArg selects what the renderer receives as its third argument.
type OutputArg string

const (
	// OutputArgDir passes the directory holding the raw file; the renderer
	// names the artifact itself.
	OutputArgDir OutputArg = "dir"
	// OutputArgFile passes the full artifact path.
	OutputArgFile OutputArg = "file"
)

// Config holds headless renderer parameters.
type Config struct {
	Tool      process.Tool `json:"tool" yaml:"tool"`
	OutputExt string       `json:"output_ext,omitempty" yaml:"output_ext,omitempty"`
	OutputArg OutputArg    `json:"output_arg,omitempty" yaml:"output_arg,omitempty"`
	Timeout   string       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultConfig returns the darktable-cli configuration.
func DefaultConfig() Config {
	return Config{
		Tool:      process.Tool{Executable: "darktable-cli"},
		OutputExt: ".jpg",
		OutputArg: OutputArgDir,
		Timeout:   "2m",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.Tool.Merge(&source.Tool)

	if source.OutputExt != "" {
		c.OutputExt = source.OutputExt
	}
	if source.OutputArg != "" {
		c.OutputArg = source.OutputArg
	}
	if source.Timeout != "" {
		c.Timeout = source.Timeout
	}
}

func (c *Config) validate() (time.Duration, error) {
	if c.Tool.Executable == "" {
		return 0, fmt.Errorf("render tool executable is required")
	}
	if !strings.HasPrefix(c.OutputExt, ".") || len(c.OutputExt) < 2 {
		return 0, fmt.Errorf("invalid output extension %q", c.OutputExt)
	}
	switch c.OutputArg {
	case OutputArgDir, OutputArgFile:
	default:
		return 0, fmt.Errorf("unknown output argument mode %q", c.OutputArg)
	}
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid render timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}
