// internal/delegate/allocator.go
package delegate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/astercc518/outreachd/internal/models"
)

// ErrNoneAvailable is returned when every delegate in a task's pool is at
// its daily cap, retired or banned.
var ErrNoneAvailable = errors.New("no delegates available")

// Registry is the external delegate-account collaborator. Group membership
// is resolved through it at call time, never snapshotted at task creation,
// so pool churn does not stall a runnable task.
type Registry interface {
	ListByGroup(ctx context.Context, name string) ([]string, error)
	UsageToday(ctx context.Context, id string) (int, error)
	RecordUse(ctx context.Context, id string, day string) error
	ReleaseUse(ctx context.Context, id string, day string) error
	MarkBanned(ctx context.Context, id string) error
	Unban(ctx context.Context, id string) error
}

// usage is the in-process daily counter for one delegate. Each delegate
// gets its own mutex: the per-delegate counter mutation is the only
// synchronization shared across concurrently running tasks.
type usage struct {
	mu     sync.Mutex
	day    string
	count  int
	seeded bool
}

// Allocator hands out delegate identities to execution loops and enforces
// the account-scoped daily cap. One instance is shared by every task.
type Allocator struct {
	registry Registry

	mu      sync.Mutex
	usages  map[string]*usage
	banned  map[string]bool
	retired map[string]map[string]bool // taskID -> delegate ids retired for that task
	cursors map[string]int             // taskID -> round-robin position

	now func() time.Time
}

// NewAllocator creates an allocator backed by the given registry.
func NewAllocator(registry Registry) *Allocator {
	return &Allocator{
		registry: registry,
		usages:   make(map[string]*usage),
		banned:   make(map[string]bool),
		retired:  make(map[string]map[string]bool),
		cursors:  make(map[string]int),
		now:      time.Now,
	}
}

// NextAvailable picks the next delegate for the task, round-robin among
// delegates under their daily cap. The pick reserves one use: the usage
// counter is incremented before the id is returned, so two tasks drawing
// from the same pool can never push a delegate past its cap. A unit that
// ends up never executing must return the reservation via Release.
func (a *Allocator) NextAvailable(ctx context.Context, task *models.Task) (string, error) {
	pool, err := a.resolvePool(ctx, task)
	if err != nil {
		return "", err
	}
	if len(pool) == 0 {
		return "", ErrNoneAvailable
	}

	a.mu.Lock()
	start := a.cursors[task.ID] % len(pool)
	a.mu.Unlock()

	for i := 0; i < len(pool); i++ {
		id := pool[(start+i)%len(pool)]
		if a.skipped(task.ID, id) {
			continue
		}
		ok, err := a.reserve(ctx, id, task.Policy.MaxPerDelegate)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		a.mu.Lock()
		a.cursors[task.ID] = (start + i + 1) % len(pool)
		a.mu.Unlock()
		return id, nil
	}
	return "", ErrNoneAvailable
}

// Release returns a reservation taken by NextAvailable whose unit of work
// was never performed (pause or cancel hit before the network call). The
// registry counter written by the reservation is compensated too, so a
// restart mid-day does not seed an inflated quota.
func (a *Allocator) Release(ctx context.Context, id string) error {
	day := a.day()
	u := a.usageFor(id)
	u.mu.Lock()
	if u.day != day || u.count == 0 {
		u.mu.Unlock()
		return nil
	}
	u.count--
	u.mu.Unlock()
	return a.registry.ReleaseUse(ctx, id, day)
}

// Retire removes a delegate from the pool for one task only. Used when an
// account-level failure makes the delegate unusable for the remainder of
// the task.
func (a *Allocator) Retire(taskID, delegateID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.retired[taskID] == nil {
		a.retired[taskID] = make(map[string]bool)
	}
	a.retired[taskID][delegateID] = true
}

// MarkBanned retires a delegate globally and records the ban in the
// registry.
func (a *Allocator) MarkBanned(ctx context.Context, id string) error {
	a.mu.Lock()
	a.banned[id] = true
	a.mu.Unlock()
	return a.registry.MarkBanned(ctx, id)
}

// Unban lifts a global ban, in the registry and in-process.
func (a *Allocator) Unban(ctx context.Context, id string) error {
	if err := a.registry.Unban(ctx, id); err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.banned, id)
	a.mu.Unlock()
	return nil
}

// Forget drops the per-task allocation state once a task reaches a
// terminal status.
func (a *Allocator) Forget(taskID string) {
	a.mu.Lock()
	delete(a.retired, taskID)
	delete(a.cursors, taskID)
	a.mu.Unlock()
}

// UsableCount reports how many delegates in the task's pool are neither
// banned nor retired nor at their daily cap.
func (a *Allocator) UsableCount(ctx context.Context, task *models.Task) (int, error) {
	pool, err := a.resolvePool(ctx, task)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range pool {
		if a.skipped(task.ID, id) {
			continue
		}
		u := a.usageFor(id)
		u.mu.Lock()
		if err := a.roll(ctx, id, u); err != nil {
			u.mu.Unlock()
			return 0, err
		}
		underCap := u.count < task.Policy.MaxPerDelegate
		u.mu.Unlock()
		if underCap {
			n++
		}
	}
	return n, nil
}

// UsedToday returns the in-process view of a delegate's usage counter.
func (a *Allocator) UsedToday(ctx context.Context, id string) (int, error) {
	u := a.usageFor(id)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := a.roll(ctx, id, u); err != nil {
		return 0, err
	}
	return u.count, nil
}

func (a *Allocator) resolvePool(ctx context.Context, task *models.Task) ([]string, error) {
	if len(task.Delegates) > 0 {
		return task.Delegates, nil
	}
	// Late binding: live group membership at call time.
	ids, err := a.registry.ListByGroup(ctx, task.DelegateGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve delegate group %s: %w", task.DelegateGroup, err)
	}
	return ids, nil
}

func (a *Allocator) skipped(taskID, delegateID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.banned[delegateID] {
		return true
	}
	return a.retired[taskID][delegateID]
}

func (a *Allocator) usageFor(id string) *usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.usages[id]
	if !ok {
		u = &usage{}
		a.usages[id] = u
	}
	return u
}

// reserve increments the delegate's counter when it is under cap. The
// caller holds no locks; the increment is linearized per delegate id.
func (a *Allocator) reserve(ctx context.Context, id string, cap int) (bool, error) {
	u := a.usageFor(id)
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := a.roll(ctx, id, u); err != nil {
		return false, err
	}
	if u.count >= cap {
		return false, nil
	}
	u.count++
	if err := a.registry.RecordUse(ctx, id, u.day); err != nil {
		u.count--
		return false, fmt.Errorf("failed to record use for delegate %s: %w", id, err)
	}
	return true, nil
}

// roll handles the day boundary and first-touch seeding from the registry.
// Must be called with u.mu held.
func (a *Allocator) roll(ctx context.Context, id string, u *usage) error {
	today := a.day()
	if u.day == today && u.seeded {
		return nil
	}
	if u.day != today {
		u.count = 0
		u.day = today
		u.seeded = false
	}
	// Seed from the registry so a restart mid-day does not reset quotas.
	n, err := a.registry.UsageToday(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read usage for delegate %s: %w", id, err)
	}
	if n > u.count {
		u.count = n
	}
	u.seeded = true
	return nil
}

func (a *Allocator) day() string {
	return a.now().UTC().Format("2006-01-02")
}
