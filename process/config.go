package process

import (
	"fmt"
	"time"
)

const (
	defaultStderrLimit    = 4096
	defaultTerminateGrace = "5s"
)

// Config holds runner parameters.
type Config struct {
	MaxWaiters     int    `json:"max_waiters,omitempty" yaml:"max_waiters,omitempty"`         // concurrent async processes; 0 is unlimited
	StderrLimit    int    `json:"stderr_limit,omitempty" yaml:"stderr_limit,omitempty"`       // trailing stderr bytes kept per process
	TerminateGrace string `json:"terminate_grace,omitempty" yaml:"terminate_grace,omitempty"` // wait between terminate and kill
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		StderrLimit:    defaultStderrLimit,
		TerminateGrace: defaultTerminateGrace,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.MaxWaiters > 0 {
		c.MaxWaiters = source.MaxWaiters
	}
	if source.StderrLimit > 0 {
		c.StderrLimit = source.StderrLimit
	}
	if source.TerminateGrace != "" {
		c.TerminateGrace = source.TerminateGrace
	}
}

// Grace parses TerminateGrace.
func (c *Config) Grace() (time.Duration, error) {
	if c.TerminateGrace == "" {
		return time.ParseDuration(defaultTerminateGrace)
	}
	d, err := time.ParseDuration(c.TerminateGrace)
	if err != nil {
		return 0, fmt.Errorf("invalid terminate_grace %q: %w", c.TerminateGrace, err)
	}
	return d, nil
}
