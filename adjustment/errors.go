package adjustment

import (
	"errors"
	"fmt"
)

// Sentinel errors for codec operations.
var (
	ErrWriteFailed   = errors.New("sidecar write failed")
	ErrReadFailed    = errors.New("sidecar read failed")
	ErrMalformedBlob = errors.New("malformed adjustment blob")
)

// Error describes a failed sidecar operation. It unwraps to both the kind
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
