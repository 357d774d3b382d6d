// internal/engine/loop.go
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/astercc518/outreachd/internal/delegate"
	"github.com/astercc518/outreachd/internal/models"
	"github.com/astercc518/outreachd/internal/outcome"
	"github.com/astercc518/outreachd/internal/task"
)

// loop drives one task: it walks the materialized queue one unit at a
// time and observes pause/cancel at its suspension points. Assignments
// exist only transiently here; once an outcome is recorded, only the
// execution log remains.
type loop struct {
	engine           *Engine
	machine          *task.Machine
	destinationGroup string
	queue            []string
	ctrl             chan struct{}
	done             chan struct{} // closed after the loop goroutine fully exits

	posMu sync.Mutex
	next  int
}

func newLoop(e *Engine, t *models.Task, queue []string) *loop {
	m := task.NewMachine(t, e.notify)
	m.SetQueue(len(queue))
	return &loop{
		engine:           e,
		machine:          m,
		destinationGroup: t.DestinationGroup,
		queue:            queue,
		ctrl:             make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
}

// pos and advance guard the queue cursor; remaining is read by other
// goroutines to exclude still-queued targets from new selections.
func (l *loop) pos() int {
	l.posMu.Lock()
	defer l.posMu.Unlock()
	return l.next
}

func (l *loop) advance() {
	l.posMu.Lock()
	l.next++
	l.posMu.Unlock()
}

// remaining returns the targets without a recorded outcome yet, the
// in-flight one included.
func (l *loop) remaining() []string {
	l.posMu.Lock()
	defer l.posMu.Unlock()
	if l.next >= len(l.queue) {
		return nil
	}
	return append([]string(nil), l.queue[l.next:]...)
}

// poke wakes the loop after a control action. Non-blocking; the loop
// re-reads the machine status on wake.
func (l *loop) poke() {
	select {
	case l.ctrl <- struct{}{}:
	default:
	}
}

func (l *loop) run(ctx context.Context) {
	t := l.machine.Snapshot()
	log.Printf("Task %s claimed: %d queued targets", t.ID, len(l.queue))

	for {
		select {
		case <-ctx.Done():
			l.persist()
			return
		default:
		}

		switch l.machine.Status() {
		case models.TaskStatusRunning:
		case models.TaskStatusPaused:
			select {
			case <-l.ctrl:
			case <-ctx.Done():
				l.persist()
				return
			}
			continue
		default:
			// Terminal; status was already persisted on transition.
			return
		}

		next := l.pos()
		if next >= len(l.queue) {
			if err := l.machine.Complete(); err != nil {
				log.Printf("Warning: task %s queue exhausted in state %s: %v", t.ID, l.machine.Status(), err)
			}
			return
		}

		if l.runUnit(ctx, &t, l.queue[next]) {
			l.advance()
		}
	}
}

// runUnit executes one (delegate, target) assignment. It returns true
// when the unit recorded an outcome and the queue should advance; false
// when a control signal or fatal condition interrupted the unit before
// the action was performed.
func (l *loop) runUnit(ctx context.Context, t *models.Task, targetID string) bool {
	e := l.engine
	attempts := 0

	for {
		delegateID, err := e.allocator.NextAvailable(ctx, t)
		if err != nil {
			if errors.Is(err, delegate.ErrNoneAvailable) {
				// The only task-fatal condition inside the loop.
				l.machine.Fail("no delegates available")
				return false
			}
			// Registry trouble is not fatal by construction; fold it
			// into the unit as other_error with the message preserved.
			res := outcome.ExecResult{Code: outcome.CodeError, Message: err.Error()}
			l.record(t, "", targetID, res, outcome.Classify(res, t.Policy.StopOnFlood, false), 0)
			return true
		}

		// Suspension point: the randomized pacing delay.
		d := e.sampler.DelaySeconds(t.Policy.MinDelaySeconds, t.Policy.MaxDelaySeconds)
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-l.ctrl:
			timer.Stop()
			l.releaseReservation(delegateID)
			return false
		case <-ctx.Done():
			timer.Stop()
			l.releaseReservation(delegateID)
			return false
		}

		// Suspension point: the network call, bounded so the loop always
		// makes progress. A cancel arriving now lets the unit finish.
		start := time.Now()
		ictx, cancel := context.WithTimeout(ctx, e.inviteTimeout)
		res := e.executor.Invite(ictx, delegateID, targetID, t.DestinationGroup)
		cancel()
		duration := time.Since(start)

		lastDelegate := false
		if res.Code == outcome.CodeBanned {
			e.allocator.Retire(t.ID, delegateID)
			if err := e.allocator.MarkBanned(ctx, delegateID); err != nil {
				log.Printf("Warning: failed to mark delegate %s banned: %v", delegateID, err)
			}
			remaining, err := e.allocator.UsableCount(ctx, t)
			if err != nil {
				log.Printf("Warning: failed to count usable delegates for task %s: %v", t.ID, err)
			}
			lastDelegate = err == nil && remaining == 0
		}

		decision := outcome.Classify(res, t.Policy.StopOnFlood, lastDelegate)

		if decision.Outcome == models.OutcomeOtherError && attempts < t.Policy.MaxRetries {
			attempts++
			log.Printf("Task %s target %s attempt %d/%d failed: %s",
				t.ID, targetID, attempts, t.Policy.MaxRetries+1, res.Message)
			continue
		}

		l.record(t, delegateID, targetID, res, decision, duration)
		return true
	}
}

// record folds one classified outcome into the state machine and writes
// the audit trail. Persistence failures degrade to warnings; the loop
// never throws past this point.
func (l *loop) record(t *models.Task, delegateID, targetID string, res outcome.ExecResult, decision outcome.Decision, duration time.Duration) {
	e := l.engine

	entry := models.NewExecutionLog(t.ID, delegateID, targetID, decision.Outcome)
	entry.Duration = duration
	if decision.Outcome != models.OutcomeSuccess {
		entry.ErrorCode = res.Code
		entry.ErrorMessage = res.Message
	}

	l.machine.RecordOutcome(decision.Outcome, decision.HaltTask, decision.HaltReason)

	// Writes use a fresh context so an engine shutdown mid-unit still
	// lands the final counter state and log entry.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot := l.machine.Snapshot()
	if err := e.store.UpdateTask(ctx, &snapshot); err != nil {
		log.Printf("Warning: failed to persist progress of task %s: %v", t.ID, err)
	}
	if err := e.store.InsertExecutionLog(ctx, entry); err != nil {
		log.Printf("Warning: failed to store execution log for task %s: %v", t.ID, err)
	}
	if err := e.sink.PublishLog(ctx, entry); err != nil {
		log.Printf("Warning: failed to publish execution log for task %s: %v", t.ID, err)
	}
}

// releaseReservation returns an unused pick to the allocator on a fresh
// context; the loop's own context may already be cancelled here.
func (l *loop) releaseReservation(delegateID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.engine.allocator.Release(ctx, delegateID); err != nil {
		log.Printf("Warning: failed to release reservation for delegate %s: %v", delegateID, err)
	}
}

// persist flushes the current snapshot outside the notify path, used when
// the loop exits on a cancelled context.
func (l *loop) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot := l.machine.Snapshot()
	if err := l.engine.store.UpdateTask(ctx, &snapshot); err != nil {
		log.Printf("Warning: failed to persist task %s on shutdown: %v", snapshot.ID, err)
	}
}
