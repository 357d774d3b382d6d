// internal/models/status.go
package models

import (
	"time"
)

// StatusMessage represents a status update message for tasks and the engine
type StatusMessage struct {
	Type      string      `json:"type"`      // "engine" or "task"
	ID        string      `json:"id"`        // unique identifier of the entity
	Status    string      `json:"status"`    // current status of the entity
	Timestamp time.Time   `json:"timestamp"` // when the status was updated
	Metadata  interface{} `json:"metadata"`  // additional entity-specific information
}

// SystemState represents the current state of the whole engine
type SystemState struct {
	RunningTasks int       `json:"runningTasks"`
	PausedTasks  int       `json:"pausedTasks"`
	TotalTasks   int       `json:"totalTasks"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type EngineEventType string

const (
	EngineStarted  EngineEventType = "STARTED"
	EngineStopping EngineEventType = "STOPPING"
	EngineStopped  EngineEventType = "STOPPED"
)

type EngineStatus struct {
	ID          string          `json:"id"`
	Event       EngineEventType `json:"event"`
	Timestamp   time.Time       `json:"timestamp"`
	ActiveTasks int             `json:"activeTasks"`
}

// DelegateAccount is one identity performing outreach on behalf of the
// operator. UsedToday is the rolling-day usage counter shared across tasks.
type DelegateAccount struct {
	ID        string `json:"id"`
	Group     string `json:"group,omitempty"`
	Banned    bool   `json:"banned"`
	UsedToday int    `json:"usedToday"`
}
