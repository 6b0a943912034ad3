package models

import (
	"time"
)

// Stream represents a broadcastable channel definition
type Stream struct {
	ID                   string     `json:"id" db:"id"`
	Title                string     `json:"title" db:"title"`
	Status               string     `json:"status" db:"status"`
	UseExternalAPI       bool       `json:"use_external_api" db:"use_external_api"`
	ExternalBroadcastID  *string    `json:"external_broadcast_id,omitempty" db:"external_broadcast_id"`
	DurationMinutes      *int       `json:"duration_minutes,omitempty" db:"duration_minutes"` // nil = open-ended
	StartTime            time.Time  `json:"start_time" db:"start_time"`
	ChannelID            *string    `json:"channel_id,omitempty" db:"channel_id"` // nil = default channel
	ActiveScheduleID     *string    `json:"active_schedule_id,omitempty" db:"active_schedule_id"`
	StartedAt            *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt              *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// StreamStatus constants
const (
	StreamStatusScheduled = "scheduled" // Waiting for a schedule to fire
	StreamStatusStarting  = "starting"  // Dispatched, broadcast process starting up
	StreamStatusLive      = "live"      // Broadcast process running
	StreamStatusEnding    = "ending"    // Stop requested, waiting for process exit
	StreamStatusEnded     = "ended"     // Completed
	StreamStatusError     = "error"     // Failed to start or crashed
)

// IsActiveStatus reports whether a stream in the given status is being
// driven by a schedule. A stream carries an active_schedule_id exactly
// while it is in one of these states.
func IsActiveStatus(status string) bool {
	switch status {
	case StreamStatusStarting, StreamStatusLive, StreamStatusEnding:
		return true
	}
	return false
}

// IsTerminalStatus reports whether the status is final until a new
// schedule is linked.
func IsTerminalStatus(status string) bool {
	return status == StreamStatusEnded || status == StreamStatusError
}

// PlannedEnd returns the time the stream should stop, based on its start
// and planned duration. ok is false for open-ended streams or streams
// that have not started.
func (s *Stream) PlannedEnd() (time.Time, bool) {
	if s.DurationMinutes == nil || s.StartedAt == nil {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(*s.DurationMinutes) * time.Minute), true
}
