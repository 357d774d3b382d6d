// internal/models/task.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of an outreach task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusPaused    TaskStatus = "PAUSED"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ParseTaskStatus normalizes an operator-supplied status string. Only
// RUNNING and PAUSED are valid patch targets; everything else is an
// engine-owned transition.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch s {
	case "RUNNING", "running":
		return TaskStatusRunning, nil
	case "PAUSED", "paused":
		return TaskStatusPaused, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// TaskPolicy holds the pacing, quota and exclusion rules for a task.
// Validated once at creation; the execution loop treats it as immutable.
type TaskPolicy struct {
	MinDelaySeconds       int  `json:"minDelaySeconds" yaml:"minDelaySeconds"`
	MaxDelaySeconds       int  `json:"maxDelaySeconds" yaml:"maxDelaySeconds"`
	MaxPerDelegate        int  `json:"maxPerDelegate" yaml:"maxPerDelegate"`
	MaxTargets            int  `json:"maxTargets" yaml:"maxTargets"`
	MaxRetries            int  `json:"maxRetries" yaml:"maxRetries"`
	StopOnFlood           bool `json:"stopOnFlood" yaml:"stopOnFlood"`
	ExcludeInvited        bool `json:"excludeInvited" yaml:"excludeInvited"`
	ExcludeFailedRecently bool `json:"excludeFailedRecently" yaml:"excludeFailedRecently"`
	FailedCooldownHours   int  `json:"failedCooldownHours" yaml:"failedCooldownHours"`
}

// Validate rejects policies that must never reach the execution loop.
func (p TaskPolicy) Validate() error {
	if p.MinDelaySeconds < 0 || p.MaxDelaySeconds < 0 {
		return errors.New("delay bounds must be non-negative")
	}
	if p.MinDelaySeconds > p.MaxDelaySeconds {
		return errors.New("minDelaySeconds must not exceed maxDelaySeconds")
	}
	if p.MaxPerDelegate <= 0 {
		return errors.New("maxPerDelegate must be positive")
	}
	if p.MaxTargets <= 0 {
		return errors.New("maxTargets must be positive")
	}
	if p.MaxRetries < 0 {
		return errors.New("maxRetries must be non-negative")
	}
	if p.ExcludeFailedRecently && p.FailedCooldownHours <= 0 {
		return errors.New("failedCooldownHours must be positive when excludeFailedRecently is set")
	}
	return nil
}

// TaskCounters tracks per-task progress. Counters are monotone: they are
// only ever incremented, except Pending which decreases as units complete.
type TaskCounters struct {
	Total             int `json:"total"`
	Success           int `json:"success"`
	Failed            int `json:"failed"`
	PrivacyRestricted int `json:"privacyRestricted"`
	FloodWaits        int `json:"floodWaits"`
	Pending           int `json:"pending"`
}

// Consumed returns the number of units with a recorded outcome.
func (c TaskCounters) Consumed() int {
	return c.Success + c.Failed + c.PrivacyRestricted
}

// Task is one configured outreach run: a destination group, a delegate
// pool, a policy and its live progress.
type Task struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	DestinationGroup string       `json:"destinationGroup"`
	Delegates        []string     `json:"delegates,omitempty"`
	DelegateGroup    string       `json:"delegateGroup,omitempty"`
	Filter           Filter       `json:"filter"`
	Policy           TaskPolicy   `json:"policy"`
	Counters         TaskCounters `json:"counters"`
	Status           TaskStatus   `json:"status"`
	LastError        string       `json:"lastError,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// NewTask creates a pending task with zero counters.
func NewTask(name, destinationGroup string, filter Filter, policy TaskPolicy) *Task {
	now := time.Now()
	return &Task{
		ID:               uuid.New().String(),
		Name:             name,
		DestinationGroup: destinationGroup,
		Filter:           filter,
		Policy:           policy,
		Status:           TaskStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks creation-time invariants beyond the policy itself.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.DestinationGroup == "" {
		return errors.New("destination group is required")
	}
	if len(t.Delegates) == 0 && t.DelegateGroup == "" {
		return errors.New("delegate selection is empty")
	}
	return t.Policy.Validate()
}

// ToJSON converts the task to JSON.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON populates the task from JSON.
func (t *Task) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
