package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for process launches.
var (
	ErrLaunchFailed  = errors.New("process launch failed")
	ErrPoolExhausted = errors.New("too many running processes")
)

// Error describes a process that could not be started. It unwraps to both
// the kind sentinel and the underlying cause.
type Error struct {
	Kind    error
	Command string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Command)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Command, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
