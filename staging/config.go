package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Disposal selects what Release does with a session directory.
type Disposal string

const (
	// DisposalDelete removes the directory tree permanently.
	DisposalDelete Disposal = "delete"
	// DisposalTrash moves the directory tree under the trash directory,
	// where it stays recoverable until a Sweep finds it older than the
	// sweep age.
	DisposalTrash Disposal = "trash"
)

const (
	defaultReleaseAttempts = 3
	defaultSweepAfter      = "24h"
)

// Config holds staging area parameters.
type Config struct {
	Root            string   `json:"root,omitempty" yaml:"root,omitempty"`                         // parent of all session directories
	Disposal        Disposal `json:"disposal,omitempty" yaml:"disposal,omitempty"`                 // "delete" or "trash"
	TrashDir        string   `json:"trash_dir,omitempty" yaml:"trash_dir,omitempty"`               // defaults to <root>/.trash
	MinFreeBytes    uint64   `json:"min_free_bytes,omitempty" yaml:"min_free_bytes,omitempty"`     // headroom required beyond the copied file
	ReleaseAttempts int      `json:"release_attempts,omitempty" yaml:"release_attempts,omitempty"` // tries before a release is reported failed
	SweepOnStart    bool     `json:"sweep_on_start,omitempty" yaml:"sweep_on_start,omitempty"`
	SweepAfter      string   `json:"sweep_after,omitempty" yaml:"sweep_after,omitempty"` // minimum age of an orphaned directory
}

// DefaultConfig returns a staging configuration rooted in the system
// temporary directory that deletes released sessions.
func DefaultConfig() Config {
	return Config{
		Root:            filepath.Join(os.TempDir(), "darkroom"),
		Disposal:        DisposalDelete,
		ReleaseAttempts: defaultReleaseAttempts,
		SweepAfter:      defaultSweepAfter,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Root != "" {
		c.Root = source.Root
	}
	if source.Disposal != "" {
		c.Disposal = source.Disposal
	}
	if source.TrashDir != "" {
		c.TrashDir = source.TrashDir
	}
	if source.MinFreeBytes > 0 {
		c.MinFreeBytes = source.MinFreeBytes
	}
	if source.ReleaseAttempts > 0 {
		c.ReleaseAttempts = source.ReleaseAttempts
	}
	if source.SweepOnStart {
		c.SweepOnStart = true
	}
	if source.SweepAfter != "" {
		c.SweepAfter = source.SweepAfter
	}
}

// SweepAge parses SweepAfter.
func (c *Config) SweepAge() (time.Duration, error) {
	if c.SweepAfter == "" {
		return time.ParseDuration(defaultSweepAfter)
	}
	d, err := time.ParseDuration(c.SweepAfter)
	if err != nil {
		return 0, fmt.Errorf("invalid sweep_after %q: %w", c.SweepAfter, err)
	}
	return d, nil
}

func (c *Config) validate() error {
	if c.Root == "" {
		return fmt.Errorf("staging root is empty")
	}
	switch c.Disposal {
	case DisposalDelete, DisposalTrash:
	default:
		return fmt.Errorf("unknown disposal policy %q", c.Disposal)
	}
	_, err := c.SweepAge()
	return err
}
