package adjustment

import (
	"os"
	"path/filepath"
)

// Codec moves edit history between Blobs and sidecar files. It is stateless
// apart from its Format and safe for concurrent use.
type Codec struct {
	format     Format
	sidecarExt string
}

// NewCodec creates a Codec from configuration.
func NewCodec(cfg *Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{
		format:     Format{Identity: cfg.Identity, Version: cfg.Version},
		sidecarExt: cfg.SidecarExt,
	}, nil
}

// Format returns the tags this codec produces and accepts.
func (c *Codec) Format() Format {
	return c.format
}

// Recognize reports whether b was produced by this format: identity and
// version must both match exactly.
func (c *Codec) Recognize(b *Blob) bool {
	return b.Matches(c.format)
}

// Blob wraps sidecar bytes in a blob tagged with this codec's format.
func (c *Codec) Blob(data []byte) *Blob {
	return &Blob{
		Identity: c.format.Identity,
		Version:  c.format.Version,
		Data:     data,
	}
}

// SidecarPath returns the sidecar location for a raw working copy: the raw
// path with the sidecar extension appended.
func (c *Codec) SidecarPath(rawPath string) string {
	return rawPath + c.sidecarExt
}

// WriteHistory atomically replaces path with the blob payload. The payload is
// written to a temporary file in the same directory and renamed into place,
// so a reader never observes a partial sidecar.
func (c *Codec) WriteHistory(b *Blob, path string) error {
	if b == nil {
		return &Error{Kind: ErrWriteFailed, Path: path, Err: os.ErrInvalid}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sidecar-*")
	if err != nil {
		return &Error{Kind: ErrWriteFailed, Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b.Data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: ErrWriteFailed, Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: ErrWriteFailed, Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: ErrWriteFailed, Path: path, Err: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: ErrWriteFailed, Path: path, Err: err}
	}

	return nil
}

// ReadHistory returns the full contents of the sidecar at path.
func (c *Codec) ReadHistory(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrReadFailed, Path: path, Err: err}
	}
	return data, nil
}
