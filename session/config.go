package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailored-agentic-units/darkroom/process"
)

// FinishPolicy selects how Finish treats a session whose editor is still
// running.
type FinishPolicy string

const (
	// FinishWait blocks until the editor exits, the context ends or the
	// session is cancelled.
	FinishWait FinishPolicy = "wait"
	// FinishReject fails immediately with ErrNotReady.
	FinishReject FinishPolicy = "reject"
)

// Config holds session manager parameters.
type Config struct {
	Editor       process.Tool `json:"editor" yaml:"editor"`
	FinishPolicy FinishPolicy `json:"finish_policy,omitempty" yaml:"finish_policy,omitempty"`
	// OutputDir receives rendered artifacts for inputs without an OutputPath.
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

// DefaultConfig returns the default session configuration: darktable with
// an in-memory library, waiting finishes.
func DefaultConfig() Config {
	return Config{
		Editor: process.Tool{
			Executable: "darktable",
			Args:       []string{"--library", ":memory:"},
		},
		FinishPolicy: FinishWait,
		OutputDir:    filepath.Join(os.TempDir(), "darkroom-output"),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.Editor.Merge(&source.Editor)

	if source.FinishPolicy != "" {
		c.FinishPolicy = source.FinishPolicy
	}
	if source.OutputDir != "" {
		c.OutputDir = source.OutputDir
	}
}

func (c *Config) validate() error {
	if c.Editor.Executable == "" {
		return fmt.Errorf("editor executable is required")
	}
	switch c.FinishPolicy {
	case FinishWait, FinishReject:
	default:
		return fmt.Errorf("unknown finish policy %q", c.FinishPolicy)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}
