package staging

import (
	"errors"
	"fmt"
)

// Sentinel errors for staging operations.
var (
	ErrCreateFailed      = errors.New("staging directory creation failed")
	ErrCopyFailed        = errors.New("staging copy failed")
	ErrReleaseFailed     = errors.New("staging release failed")
	ErrInsufficientSpace = errors.New("insufficient space")
)

// Error describes a failed staging operation. It unwraps to both the kind
// sentinel and the underlying cause.
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
