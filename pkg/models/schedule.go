package models

import (
	"time"
)

// Schedule is a single future trigger point for a stream. It is evaluated
// at most once: the triggered flag is flipped atomically with the decision
// to dispatch, and the row is immutable afterwards except for the result.
type Schedule struct {
	ID           string     `json:"id" db:"id"`
	StreamID     string     `json:"stream_id" db:"stream_id"`
	ScheduleTime time.Time  `json:"schedule_time" db:"schedule_time"`
	Triggered    bool       `json:"triggered" db:"triggered"`
	TriggeredAt  *time.Time `json:"triggered_at,omitempty" db:"triggered_at"`
	Result       *string    `json:"result,omitempty" db:"result"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// ScheduleResult constants
const (
	ScheduleResultSucceeded = "succeeded" // Broadcast reached live
	ScheduleResultFailed    = "failed"    // Launch failed or process crashed
	ScheduleResultSkipped   = "skipped"   // Stream was already active when the schedule fired
)

// Due reports whether the schedule should fire at the given instant.
func (s *Schedule) Due(now time.Time) bool {
	return !s.Triggered && !s.ScheduleTime.After(now)
}
