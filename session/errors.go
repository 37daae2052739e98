package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	ErrNotFound      = errors.New("session not found")
	ErrNotReady      = errors.New("editor still running")
	ErrCancelled     = errors.New("session cancelled")
	ErrFinished      = errors.New("session already finished")
	ErrNotTerminal   = errors.New("session still active")
	ErrClosed        = errors.New("session manager closed")
	ErrInvalidInput  = errors.New("invalid editing input")
	ErrDeliverFailed = errors.New("artifact delivery failed")
)

// Error reports a failed operation on one session together with the state
// the session was left in.
type Error struct {
	Handle string
	State  State
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s (%s): %v", e.Handle, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
