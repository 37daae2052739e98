package render

import "github.com/tailored-agentic-units/darkroom/observability"

// Render event types.
const (
	EventStart    observability.EventType = "render.start"
	EventComplete observability.EventType = "render.complete"
	EventFailed   observability.EventType = "render.failed"
)
