package models

import (
	"time"
)

// StreamEvent is a lifecycle notification published for downstream
// consumers (display layer, notifiers)
type StreamEvent struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEventType constants
const (
	StreamEventStarted      = "stream_started"
	StreamEventEnded        = "stream_ended"
	StreamEventLaunchFailed = "launch_failed"
	StreamEventCrashed      = "stream_crashed"
	StreamEventRecovered    = "stream_recovered" // Orphan cleaned up at boot
)

// StreamSnapshot is the cached view of a stream's current state kept in
// redis for cheap display reads
type StreamSnapshot struct {
	StreamID            string    `json:"stream_id"`
	Status              string    `json:"status"`
	ExternalBroadcastID string    `json:"external_broadcast_id,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}
