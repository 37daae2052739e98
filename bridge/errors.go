package bridge

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/process"
	"github.com/tailored-agentic-units/darkroom/render"
	"github.com/tailored-agentic-units/darkroom/session"
	"github.com/tailored-agentic-units/darkroom/staging"
)

// codeOf maps session and subsystem errors onto Connect codes.
func codeOf(err error) connect.Code {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, adjustment.ErrMalformedBlob):
		return connect.CodeInvalidArgument
	case errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrFinished),
		errors.Is(err, session.ErrNotTerminal):
		return connect.CodeFailedPrecondition
	case errors.Is(err, session.ErrCancelled):
		return connect.CodeAborted
	case errors.Is(err, session.ErrClosed), errors.Is(err, process.ErrPoolExhausted):
		return connect.CodeUnavailable
	case errors.Is(err, staging.ErrInsufficientSpace):
		return connect.CodeResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, staging.ErrCopyFailed),
		errors.Is(err, process.ErrLaunchFailed),
		errors.Is(err, render.ErrRenderFailed):
		return connect.CodeFailedPrecondition
	default:
		return connect.CodeInternal
	}
}

func toConnectError(err error) *connect.Error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return connect.NewError(codeOf(err), err)
}
