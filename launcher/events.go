package launcher

import "github.com/tailored-agentic-units/darkroom/observability"

// Launcher event types.
const (
	EventStart       observability.EventType = "launcher.start"
	EventSweepFailed observability.EventType = "launcher.sweep.failed"
	EventEdit        observability.EventType = "launcher.edit"
	EventClose       observability.EventType = "launcher.close"
)
