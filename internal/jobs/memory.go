package jobs

import (
	"context"
	"sync"
	"time"

	"feedsync/internal/logger"
)

type memoryTask struct {
	Task
	due time.Time
	seq int64
}

// MemoryScheduler is an in-process Scheduler. Tasks execute one at a time in
// due order when RunPending is called, or continuously under Run.
type MemoryScheduler struct {
	mux    *Mux
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []*memoryTask
	running *memoryTask
	seq     int64

	// serialises task execution
	execMu sync.Mutex
}

var _ Scheduler = (*MemoryScheduler)(nil)

func NewMemoryScheduler(mux *Mux, logger *logger.Logger) *MemoryScheduler {
	return &MemoryScheduler{
		mux:    mux,
		logger: logger,
		now:    time.Now,
	}
}

func (s *MemoryScheduler) Enqueue(ctx context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.UniqueKey != "" && s.hasKeyLocked(task.UniqueKey) {
		return ErrDuplicateTask
	}

	s.seq++
	s.pending = append(s.pending, &memoryTask{
		Task: task,
		due:  s.now().Add(task.Delay),
		seq:  s.seq,
	})
	return nil
}

func (s *MemoryScheduler) IsScheduled(ctx context.Context, hook string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil && s.running.Hook == hook {
		return true, nil
	}
	for _, t := range s.pending {
		if t.Hook == hook {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryScheduler) Unschedule(ctx context.Context, hook string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[:0]
	for _, t := range s.pending {
		if t.Hook != hook {
			kept = append(kept, t)
		}
	}
	s.pending = kept
	return nil
}

// Pending returns the number of queued tasks, due or not.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PendingHooks lists the hooks of queued tasks in queue order.
func (s *MemoryScheduler) PendingHooks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	hooks := make([]string, 0, len(s.pending))
	for _, t := range s.pending {
		hooks = append(hooks, t.Hook)
	}
	return hooks
}

// RunNext executes the earliest due task. It reports false when nothing is due.
// A failing task is logged and dropped; its error is returned.
func (s *MemoryScheduler) RunNext(ctx context.Context) (bool, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	task := s.popDue()
	if task == nil {
		return false, nil
	}

	err := s.mux.Dispatch(ctx, task.Hook, task.Args)

	s.mu.Lock()
	s.running = nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled task failed", "hook", task.Hook, "batch", task.Args.BatchNumber, "error", err)
	}
	return true, err
}

// RunPending executes due tasks until none is left, including tasks enqueued by
// the tasks themselves. It returns how many ran and the first error seen.
func (s *MemoryScheduler) RunPending(ctx context.Context) (int, error) {
	var firstErr error
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		ran, err := s.RunNext(ctx)
		if !ran {
			return count, firstErr
		}
		count++
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
}

// Run polls for due tasks until ctx is cancelled.
func (s *MemoryScheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		_, _ = s.RunPending(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *MemoryScheduler) popDue() *memoryTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idx := -1
	for i, t := range s.pending {
		if t.due.After(now) {
			continue
		}
		if idx == -1 || t.due.Before(s.pending[idx].due) ||
			(t.due.Equal(s.pending[idx].due) && t.seq < s.pending[idx].seq) {
			idx = i
		}
	}
	if idx == -1 {
		return nil
	}

	task := s.pending[idx]
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	s.running = task
	return task
}

func (s *MemoryScheduler) hasKeyLocked(key string) bool {
	if s.running != nil && s.running.UniqueKey == key {
		return true
	}
	for _, t := range s.pending {
		if t.UniqueKey == key {
			return true
		}
	}
	return false
}
