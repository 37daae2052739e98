package render

import (
	"errors"
	"fmt"
)

// ErrRenderFailed reports a renderer that exited non-zero, could not be
// launched, or left no artifact behind.
var ErrRenderFailed = errors.New("render failed")

// Error describes a failed render of a single raw file.
type Error struct {
	Kind error
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
