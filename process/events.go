package process

import "github.com/tailored-agentic-units/darkroom/observability"

// Process event types.
const (
	EventStart        observability.EventType = "process.start"
	EventExit         observability.EventType = "process.exit"
	EventLaunchFailed observability.EventType = "process.launch.failed"
	EventTerminate    observability.EventType = "process.terminate"
)
