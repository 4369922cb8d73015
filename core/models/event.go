package models

import "time"

// JobEvent represents a state transition within a run. PlatformID is empty
// for run level transitions.
type JobEvent struct {
	ID         int64                  `json:"id"`
	RunID      string                 `json:"run_id"`
	PlatformID PlatformID             `json:"platform_id,omitempty"`
	At         time.Time              `json:"at"`
	FromState  *JobState              `json:"from_state,omitempty"`
	ToState    JobState               `json:"to_state"`
	Reason     string                 `json:"reason"`
	MetaJSON   map[string]interface{} `json:"meta,omitempty"` // Additional metadata
}
