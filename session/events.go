package session

import "github.com/tailored-agentic-units/darkroom/observability"

// Session event types.
const (
	EventBegin              observability.EventType = "session.begin"
	EventTransition         observability.EventType = "session.transition"
	EventAdjustmentIgnored  observability.EventType = "session.adjustment.ignored"
	EventSidecarWriteFailed observability.EventType = "session.sidecar.write_failed"
	EventPreview            observability.EventType = "session.preview"
	EventPreviewFailed      observability.EventType = "session.preview.failed"
	EventEditorExit         observability.EventType = "session.editor.exit"
	EventSidecarReadFailed  observability.EventType = "session.sidecar.read_failed"
	EventComplete           observability.EventType = "session.complete"
	EventFailed             observability.EventType = "session.failed"
	EventCancel             observability.EventType = "session.cancel"
	EventForget             observability.EventType = "session.forget"
)
