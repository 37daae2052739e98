package adjustment

import "fmt"

// Defaults for the adjustment format tags and the sidecar naming convention.
const (
	DefaultIdentity   = "io.github.tailored-agentic-units.darkroom"
	DefaultVersion    = "1"
	DefaultSidecarExt = ".xmp"
)

// Config holds the format tags stamped on produced blobs and required of
// consumed ones.
type Config struct {
	Identity   string `json:"identity,omitempty" yaml:"identity,omitempty"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	SidecarExt string `json:"sidecar_ext,omitempty" yaml:"sidecar_ext,omitempty"`
}

// DefaultConfig returns the production format tags.
func DefaultConfig() Config {
	return Config{
		Identity:   DefaultIdentity,
		Version:    DefaultVersion,
		SidecarExt: DefaultSidecarExt,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Identity != "" {
		c.Identity = source.Identity
	}
	if source.Version != "" {
		c.Version = source.Version
	}
	if source.SidecarExt != "" {
		c.SidecarExt = source.SidecarExt
	}
}

// Validate reports configuration that would make every blob unrecognizable.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("adjustment identity is empty")
	}
	if c.Version == "" {
		return fmt.Errorf("adjustment version is empty")
	}
	if c.SidecarExt == "" {
		return fmt.Errorf("sidecar extension is empty")
	}
	return nil
}
