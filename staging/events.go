package staging

import "github.com/tailored-agentic-units/darkroom/observability"

// Staging event types.
const (
	EventCreate        observability.EventType = "staging.create"
	EventStaleRemoved  observability.EventType = "staging.stale"
	EventCopy          observability.EventType = "staging.copy"
	EventRelease       observability.EventType = "staging.release"
	EventReleaseRetry  observability.EventType = "staging.release.retry"
	EventReleaseFailed observability.EventType = "staging.release.failed"
	EventSweep         observability.EventType = "staging.sweep"
)
