package bridge

import "github.com/tailored-agentic-units/darkroom/observability"

// EventCall is emitted once per handled procedure call.
const EventCall observability.EventType = "bridge.call"
