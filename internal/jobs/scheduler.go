// Package jobs runs resumable, batch-at-a-time jobs on top of an external
// scheduler. Every batch is its own scheduled task, so a run survives process
// restarts between any two batches.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateTask is returned by Scheduler.Enqueue when a task with the same
	// unique key is already pending or running.
	ErrDuplicateTask = errors.New("jobs: duplicate task")

	// ErrUnknownHook is returned when a task names a hook nobody registered.
	ErrUnknownHook = errors.New("jobs: unknown hook")
)

// Args travel with every task of a run.
type Args struct {
	RunID       string `json:"run_id,omitempty"`
	BatchNumber int    `json:"batch_number,omitempty"`
	// Cursor is the key of the last item of the previous batch.
	Cursor string `json:"cursor,omitempty"`
}

// Task is one unit of scheduled work.
type Task struct {
	Hook  string
	Args  Args
	Delay time.Duration
	// UniqueKey, when set, makes Enqueue fail with ErrDuplicateTask while
	// another task with the same key is pending or running.
	UniqueKey string
}

// Scheduler is the durable task queue the jobs are driven by.
type Scheduler interface {
	Enqueue(ctx context.Context, task Task) error
	// IsScheduled reports whether a task for hook is pending, delayed or running.
	IsScheduled(ctx context.Context, hook string) (bool, error)
	// Unschedule drops every pending or delayed task for hook.
	Unschedule(ctx context.Context, hook string) error
}

// HandlerFunc executes a task.
type HandlerFunc func(ctx context.Context, args Args) error

// Mux maps hook names to handlers. It is safe for concurrent use.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for hook, replacing any previous handler.
func (m *Mux) Handle(hook string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[hook] = fn
}

// Dispatch runs the handler registered for hook.
func (m *Mux) Dispatch(ctx context.Context, hook string, args Args) error {
	m.mu.RLock()
	fn, ok := m.handlers[hook]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHook, hook)
	}
	return fn(ctx, args)
}

// Hooks lists the registered hook names in sorted order.
func (m *Mux) Hooks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hooks := make([]string, 0, len(m.handlers))
	for h := range m.handlers {
		hooks = append(hooks, h)
	}
	sort.Strings(hooks)
	return hooks
}
