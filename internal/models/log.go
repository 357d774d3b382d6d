// internal/models/log.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the closed taxonomy of per-unit execution results.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomePrivacyRestricted Outcome = "privacy_restricted"
	OutcomeFloodWait         Outcome = "flood_wait"
	OutcomeAccountBanned     Outcome = "account_banned"
	OutcomeOtherError        Outcome = "other_error"
)

// ExecutionLog is the write-once audit record of one assignment: which
// delegate acted on which target and how it went. Never mutated after
// creation; retained after task completion.
type ExecutionLog struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"taskId"`
	DelegateID   string        `json:"delegateId"`
	TargetID     string        `json:"targetId"`
	Outcome      Outcome       `json:"outcome"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// NewExecutionLog creates a log entry for one completed unit of work.
func NewExecutionLog(taskID, delegateID, targetID string, outcome Outcome) *ExecutionLog {
	return &ExecutionLog{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		DelegateID: delegateID,
		TargetID:   targetID,
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	}
}
