// internal/task/state.go
package task

import (
	"errors"
	"sync"
	"time"

	"github.com/astercc518/outreachd/internal/models"
)

var (
	// ErrTerminal is returned for any transition attempted on a task that
	// already reached COMPLETED, FAILED or CANCELLED.
	ErrTerminal = errors.New("task is in a terminal state")
	// ErrNotRunning is returned when pause is requested outside RUNNING.
	ErrNotRunning = errors.New("task is not running")
	// ErrNotPaused is returned when resume is requested outside PAUSED.
	ErrNotPaused = errors.New("task is not paused")
)

// Notify receives a snapshot after every status transition. Counter-only
// updates do not notify; they are visible to pollers through Snapshot at
// any time.
type Notify func(snapshot models.Task)

// Machine owns a task's lifecycle and progress counters. All methods are
// safe for concurrent use; the execution loop and the operator API share
// one instance per task.
type Machine struct {
	mu     sync.Mutex
	task   models.Task
	notify Notify
}

// NewMachine wraps an existing task record. notify may be nil.
func NewMachine(t *models.Task, notify Notify) *Machine {
	m := &Machine{task: *t, notify: notify}
	if m.task.Counters.Pending == 0 && !m.task.Status.Terminal() {
		m.task.Counters.Pending = m.task.Counters.Total - m.task.Counters.Consumed()
	}
	return m
}

// SetQueue records the materialized queue size. Called once, before the
// first unit of work.
func (m *Machine) SetQueue(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.task.Counters.Total = total
	m.task.Counters.Pending = total - m.task.Counters.Consumed()
	m.task.UpdatedAt = time.Now()
}

// Start moves PENDING or PAUSED to RUNNING. Idempotent when already
// running.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.task.Status {
	case models.TaskStatusRunning:
		return nil
	case models.TaskStatusPending, models.TaskStatusPaused:
		now := time.Now()
		if m.task.StartedAt == nil {
			m.task.StartedAt = &now
		}
		m.transition(models.TaskStatusRunning)
		return nil
	default:
		return ErrTerminal
	}
}

// Pause moves RUNNING to PAUSED. The execution loop observes the new
// status before its next unit of work; an in-flight unit finishes.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task.Status != models.TaskStatusRunning {
		if m.task.Status.Terminal() {
			return ErrTerminal
		}
		return ErrNotRunning
	}
	m.transition(models.TaskStatusPaused)
	return nil
}

// Resume is Start restricted to PAUSED.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task.Status != models.TaskStatusPaused {
		if m.task.Status.Terminal() {
			return ErrTerminal
		}
		return ErrNotPaused
	}
	m.transition(models.TaskStatusRunning)
	return nil
}

// Cancel moves any non-terminal state to CANCELLED. Queued assignments
// are discarded by the loop; an in-flight unit is allowed to finish and
// record its own outcome.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task.Status.Terminal() {
		return ErrTerminal
	}
	now := time.Now()
	m.task.CompletedAt = &now
	m.transition(models.TaskStatusCancelled)
	return nil
}

// Complete marks a running task completed. Used when the materialized
// queue exhausts without a final outcome to record, such as a queue that
// was empty at claim time.
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task.Status != models.TaskStatusRunning {
		if m.task.Status.Terminal() {
			return ErrTerminal
		}
		return ErrNotRunning
	}
	now := time.Now()
	m.task.CompletedAt = &now
	m.transition(models.TaskStatusCompleted)
	return nil
}

// Fail force-fails the task with a reason. Used for task-fatal conditions
// detected outside outcome classification, such as an empty delegate pool.
func (m *Machine) Fail(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.task.Status.Terminal() {
		return
	}
	m.task.LastError = reason
	now := time.Now()
	m.task.CompletedAt = &now
	m.transition(models.TaskStatusFailed)
}

// RecordOutcome folds one unit's classified outcome into the counters and
// advances the lifecycle: pending hitting zero completes the task, a halt
// verdict fails it. Outcomes arriving after cancellation still count (the
// in-flight unit logs its result) but never change the terminal status.
func (m *Machine) RecordOutcome(o models.Outcome, halt bool, haltReason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch o {
	case models.OutcomeSuccess:
		m.task.Counters.Success++
	case models.OutcomePrivacyRestricted:
		m.task.Counters.PrivacyRestricted++
	case models.OutcomeFloodWait:
		m.task.Counters.Failed++
		m.task.Counters.FloodWaits++
	default:
		m.task.Counters.Failed++
	}
	if m.task.Counters.Pending > 0 {
		m.task.Counters.Pending--
	}
	m.task.UpdatedAt = time.Now()

	if m.task.Status.Terminal() {
		return
	}
	if halt {
		m.task.LastError = haltReason
		now := time.Now()
		m.task.CompletedAt = &now
		m.transition(models.TaskStatusFailed)
		return
	}
	if m.task.Counters.Pending == 0 {
		now := time.Now()
		m.task.CompletedAt = &now
		m.transition(models.TaskStatusCompleted)
	}
}

// Status returns the current lifecycle state.
func (m *Machine) Status() models.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task.Status
}

// Snapshot returns a copy of the task record for pollers.
func (m *Machine) Snapshot() models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.task
	t.Delegates = append([]string(nil), m.task.Delegates...)
	return t
}

// transition must be called with m.mu held.
func (m *Machine) transition(to models.TaskStatus) {
	m.task.Status = to
	m.task.UpdatedAt = time.Now()
	if m.notify != nil {
		// Synchronous so status-changed events reach the sink in
		// transition order. Sinks must not call back into the machine.
		m.notify(m.task)
	}
}
