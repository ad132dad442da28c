package models

import (
	"time"
)

// RunEvent is one progress event emitted while a design run executes.
// Events are streamed to WebSocket subscribers in emission order.
type RunEvent struct {
	RunID     string         `json:"run_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Run event types
const (
	EventTypeStageStarted   = "stage.started"
	EventTypeStageFinished  = "stage.finished"
	EventTypeCallDispatched = "call.dispatched"
	EventTypeRunFinished    = "run.finished"
)
