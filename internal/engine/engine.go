// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/astercc518/outreachd/internal/config"
	"github.com/astercc518/outreachd/internal/delegate"
	"github.com/astercc518/outreachd/internal/filter"
	"github.com/astercc518/outreachd/internal/models"
	"github.com/astercc518/outreachd/internal/outcome"
	"github.com/astercc518/outreachd/internal/pacing"
	"github.com/astercc518/outreachd/internal/storage/postgres"
	"github.com/astercc518/outreachd/internal/task"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrTaskNotFound is returned for control operations on unknown tasks.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskRunning guards deletion of a task that is still executing.
	ErrTaskRunning = errors.New("task is running")
	// ErrEmptySelection rejects task creation when the filter matches
	// nothing; the loop must never start against an empty queue.
	ErrEmptySelection = errors.New("filter matches no candidates")
)

// CandidateStore supplies the filtered snapshot the engine selects
// targets from.
type CandidateStore interface {
	LoadCandidates(ctx context.Context) ([]models.TargetCandidate, error)
}

// ActionExecutor performs one outreach action. It never returns a Go
// error; transport failures arrive as error-coded results.
type ActionExecutor interface {
	Invite(ctx context.Context, delegateID, targetID, destinationGroup string) outcome.ExecResult
}

// AuditSink receives status-changed events and execution-log entries.
type AuditSink interface {
	PublishStatus(ctx context.Context, status *models.StatusMessage) error
	PublishLog(ctx context.Context, entry *models.ExecutionLog) error
}

// Store is the durable task and log persistence the engine writes through.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	InsertExecutionLog(ctx context.Context, l *models.ExecutionLog) error
	DemoteRunningTasks(ctx context.Context) (int64, error)
}

// Engine runs one execution loop per active task. The delegate allocator
// is the only state genuinely shared across loops.
type Engine struct {
	id         string
	store      Store
	candidates CandidateStore
	allocator  *delegate.Allocator
	executor   ActionExecutor
	sink       AuditSink
	sampler    *pacing.Sampler

	sem           *semaphore.Weighted
	inviteTimeout time.Duration

	baseCtx  context.Context
	mu       sync.Mutex
	loops    map[string]*loop
	starting map[string]struct{} // task ids mid-claim in StartTask
	wg       sync.WaitGroup
}

// NewEngine wires the engine to its collaborators.
func NewEngine(cfg config.EngineConfig, gw config.GatewayConfig, store Store, candidates CandidateStore, allocator *delegate.Allocator, executor ActionExecutor, sink AuditSink) *Engine {
	maxTasks := int64(cfg.MaxConcurrentTasks)
	if maxTasks <= 0 {
		maxTasks = config.DefaultMaxConcurrentTasks
	}
	return &Engine{
		id:            uuid.New().String(),
		store:         store,
		candidates:    candidates,
		allocator:     allocator,
		executor:      executor,
		sink:          sink,
		sampler:       pacing.NewSampler(),
		sem:           semaphore.NewWeighted(maxTasks),
		inviteTimeout: time.Duration(gw.RequestTimeout) * time.Second,
		loops:         make(map[string]*loop),
		starting:      make(map[string]struct{}),
	}
}

// Start records the base context for loop goroutines, demotes tasks left
// RUNNING by a previous session and announces the engine on the sink.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx = ctx

	demoted, err := e.store.DemoteRunningTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	if demoted > 0 {
		log.Printf("Demoted %d interrupted tasks to PAUSED", demoted)
	}

	e.publishEngineStatus(ctx, models.EngineStarted)
	log.Printf("Engine %s started", e.id)
	return nil
}

// CreateTask validates and persists a new pending task. An empty filter
// selection is a validation error here so it never reaches the loop.
func (e *Engine) CreateTask(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	queue, err := e.materialize(ctx, t)
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		return ErrEmptySelection
	}

	if err := e.store.CreateTask(ctx, t); err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}
	return nil
}

// StartTask claims a pending or paused task for execution. Starting a
// task that already owns a loop resumes it; starting a running task is a
// no-op.
func (e *Engine) StartTask(ctx context.Context, id string) error {
	e.mu.Lock()
	if l, ok := e.loops[id]; ok {
		e.mu.Unlock()
		if err := l.machine.Start(); err != nil {
			return err
		}
		l.poke()
		return nil
	}
	if _, claiming := e.starting[id]; claiming {
		e.mu.Unlock()
		// Another start owns the claim for this id; exactly one loop
		// will exist when it finishes.
		return nil
	}
	e.starting[id] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.starting, id)
		e.mu.Unlock()
	}()

	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return e.mapStoreErr(err)
	}
	if t.Status.Terminal() {
		return task.ErrTerminal
	}

	// Materialize the queue at claim time; assignments are created
	// lazily as the loop advances, never ahead of need.
	queue, err := e.materialize(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to materialize queue: %w", err)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire task slot: %w", err)
	}

	l := newLoop(e, t, queue)
	if err := l.machine.Start(); err != nil {
		e.sem.Release(1)
		return err
	}

	e.mu.Lock()
	e.loops[id] = l
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.loops, id)
			e.mu.Unlock()
			e.allocator.Forget(id)
			e.sem.Release(1)
			e.wg.Done()
			close(l.done)
		}()
		l.run(e.baseCtx)
	}()
	return nil
}

// PauseTask asks a running loop to pause before its next unit of work.
func (e *Engine) PauseTask(ctx context.Context, id string) error {
	l, ok := e.liveLoop(id)
	if !ok {
		// No loop means nothing is executing; reject like the machine would.
		t, err := e.store.GetTask(ctx, id)
		if err != nil {
			return e.mapStoreErr(err)
		}
		if t.Status.Terminal() {
			return task.ErrTerminal
		}
		return task.ErrNotRunning
	}
	if err := l.machine.Pause(); err != nil {
		return err
	}
	l.poke()
	return nil
}

// CancelTask cancels any non-terminal task. Queued work is discarded; an
// in-flight unit finishes and logs its own outcome.
func (e *Engine) CancelTask(ctx context.Context, id string) error {
	if l, ok := e.liveLoop(id); ok {
		if err := l.machine.Cancel(); err != nil {
			return err
		}
		l.poke()
		return nil
	}

	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return e.mapStoreErr(err)
	}
	m := task.NewMachine(t, e.notify)
	if err := m.Cancel(); err != nil {
		return err
	}
	snapshot := m.Snapshot()
	return e.store.UpdateTask(ctx, &snapshot)
}

// DeleteTask removes a non-running task and its logs. A parked loop is
// torn down first so no goroutine outlives the row it persists to.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	if l, ok := e.liveLoop(id); ok {
		if l.machine.Status() == models.TaskStatusRunning {
			return ErrTaskRunning
		}
		if err := l.machine.Cancel(); err != nil && !errors.Is(err, task.ErrTerminal) {
			return err
		}
		l.poke()
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.mapStoreErr(e.store.DeleteTask(ctx, id))
}

// TaskSnapshot prefers the live machine over the store so progress
// counters are visible mid-unit.
func (e *Engine) TaskSnapshot(ctx context.Context, id string) (*models.Task, error) {
	if l, ok := e.liveLoop(id); ok {
		t := l.machine.Snapshot()
		return &t, nil
	}
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	return t, nil
}

// Preview runs the candidate filter without creating a task.
func (e *Engine) Preview(ctx context.Context, destinationGroup string, f models.Filter, policy models.TaskPolicy) ([]string, error) {
	snapshot, err := e.candidates.LoadCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return filter.Select(snapshot, f, filter.Options{
		DestinationGroup:      destinationGroup,
		ExcludeInvited:        policy.ExcludeInvited,
		ExcludeFailedRecently: policy.ExcludeFailedRecently,
		FailedCooldown:        time.Duration(policy.FailedCooldownHours) * time.Hour,
		Cap:                   policy.MaxTargets,
		Queued:                e.queuedTargets(destinationGroup, ""),
	}), nil
}

// Shutdown waits for in-flight units to finish. Loops observe the base
// context; paused work is demoted on the next start.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.publishEngineStatus(context.Background(), models.EngineStopping)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.publishEngineStatus(context.Background(), models.EngineStopped)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}

// ActiveLoops reports the number of live execution loops.
func (e *Engine) ActiveLoops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loops)
}

func (e *Engine) materialize(ctx context.Context, t *models.Task) ([]string, error) {
	snapshot, err := e.candidates.LoadCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	return filter.Select(snapshot, t.Filter, filter.Options{
		DestinationGroup:      t.DestinationGroup,
		ExcludeInvited:        t.Policy.ExcludeInvited,
		ExcludeFailedRecently: t.Policy.ExcludeFailedRecently,
		FailedCooldown:        time.Duration(t.Policy.FailedCooldownHours) * time.Hour,
		Cap:                   t.Policy.MaxTargets,
		Queued:                e.queuedTargets(t.DestinationGroup, t.ID),
	}), nil
}

// queuedTargets collects ids still pending in other live loops feeding
// the same destination group. A queued-but-unresolved target counts as
// invited for exclusion purposes; the store only knows about recorded
// successes.
func (e *Engine) queuedTargets(destinationGroup, excludeTaskID string) map[string]struct{} {
	e.mu.Lock()
	loops := make([]*loop, 0, len(e.loops))
	for id, l := range e.loops {
		if id != excludeTaskID {
			loops = append(loops, l)
		}
	}
	e.mu.Unlock()

	out := make(map[string]struct{})
	for _, l := range loops {
		if l.destinationGroup != destinationGroup || l.machine.Status().Terminal() {
			continue
		}
		for _, id := range l.remaining() {
			out[id] = struct{}{}
		}
	}
	return out
}

func (e *Engine) liveLoop(id string) (*loop, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.loops[id]
	return l, ok
}

// notify persists status transitions and fans them out to the audit sink.
func (e *Engine) notify(snapshot models.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.store.UpdateTask(ctx, &snapshot); err != nil {
		log.Printf("Warning: failed to persist status of task %s: %v", snapshot.ID, err)
	}
	msg := &models.StatusMessage{
		Type:      "task",
		ID:        snapshot.ID,
		Status:    string(snapshot.Status),
		Timestamp: time.Now(),
		Metadata:  snapshot.Counters,
	}
	if err := e.sink.PublishStatus(ctx, msg); err != nil {
		log.Printf("Warning: failed to publish status of task %s: %v", snapshot.ID, err)
	}
}

func (e *Engine) publishEngineStatus(ctx context.Context, event models.EngineEventType) {
	msg := &models.StatusMessage{
		Type:      "engine",
		ID:        e.id,
		Status:    string(event),
		Timestamp: time.Now(),
		Metadata:  models.EngineStatus{ID: e.id, Event: event, Timestamp: time.Now(), ActiveTasks: e.ActiveLoops()},
	}
	if err := e.sink.PublishStatus(ctx, msg); err != nil {
		log.Printf("Warning: failed to publish engine status: %v", err)
	}
}

func (e *Engine) mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, postgres.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}
