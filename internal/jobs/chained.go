package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feedsync/internal/logger"

	"github.com/google/uuid"
)

// Unbounded is the batch size of jobs that fetch everything in a single batch.
// Such jobs skip the chain and run start, process and end synchronously.
const Unbounded = -1

const (
	ModeChained = "chained"
	ModeSync    = "sync"
)

// ErrAlreadyRunning is returned when a job is asked to run while a run of the
// same job is in progress.
var ErrAlreadyRunning = errors.New("jobs: already running")

// SyncLease bounds how long an inline run blocks other runs of the same job if
// its process dies before releasing the lease.
const SyncLease = 6 * time.Hour

// Item is one record handled by a job. Key must be immutable and strictly
// ascending within a run; it becomes the cursor of the next batch.
type Item interface {
	Key() string
}

// Steps are the per-job capabilities driven by a ChainedJob.
type Steps interface {
	// HandleStart runs once before batch 1. It must tolerate leftovers of an
	// aborted earlier run.
	HandleStart(ctx context.Context, args Args) error
	// GetBatch returns the items of batchNumber (starting at 1). An empty
	// result ends the run.
	GetBatch(ctx context.Context, batchNumber int, args Args) ([]Item, error)
	ProcessBatch(ctx context.Context, items []Item, args Args) error
	// HandleEnd runs once after the last non-empty batch.
	HandleEnd(ctx context.Context, args Args) error
}

// FailureHandler is implemented by Steps that need to clean up after an
// aborted run.
type FailureHandler interface {
	HandleFailure(ctx context.Context, args Args, err error)
}

// RunRecorder keeps a history of runs.
type RunRecorder interface {
	RunStarted(ctx context.Context, job, runID, mode string)
	BatchProcessed(ctx context.Context, runID string, items int)
	RunFinished(ctx context.Context, runID string, err error)
}

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateEnding
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateEnding:
		return "ending"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is this process's view of the job.
type Status struct {
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	RunID       string    `json:"run_id,omitempty"`
	BatchNumber int       `json:"batch_number,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Option func(*ChainedJob)

func WithRecorder(r RunRecorder) Option {
	return func(j *ChainedJob) {
		j.recorder = r
	}
}

// ChainedJob runs Steps one batch per scheduled task.
type ChainedJob struct {
	name      string
	batchSize int
	steps     Steps
	scheduler Scheduler
	recorder  RunRecorder
	logger    *logger.Logger

	mu     sync.Mutex
	status Status
}

func NewChainedJob(name string, batchSize int, steps Steps, scheduler Scheduler, log *logger.Logger, opts ...Option) *ChainedJob {
	j := &ChainedJob{
		name:      name,
		batchSize: batchSize,
		steps:     steps,
		scheduler: scheduler,
		logger:    log.With("job", name),
		status:    Status{State: StateIdle, StateName: StateIdle.String()},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *ChainedJob) Name() string {
	return j.name
}

func (j *ChainedJob) BatchSize() int {
	return j.batchSize
}

func (j *ChainedJob) StartHook() string {
	return "feedsync_" + j.name + "_chain_start"
}

func (j *ChainedJob) BatchHook() string {
	return "feedsync_" + j.name + "_chain_batch"
}

// SyncHook names the lease task an inline run holds in the scheduler. The task
// only executes once the lease expired.
func (j *ChainedJob) SyncHook() string {
	return "feedsync_" + j.name + "_sync_lease"
}

// Register wires the chain hooks into mux.
func (j *ChainedJob) Register(mux *Mux) {
	mux.Handle(j.StartHook(), j.handleStartTask)
	mux.Handle(j.BatchHook(), j.handleBatchTask)
	mux.Handle(j.SyncHook(), j.handleExpiredLease)
}

func (j *ChainedJob) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// IsRunning reports whether a run is queued or in progress in any process
// sharing the scheduler.
func (j *ChainedJob) IsRunning(ctx context.Context) (bool, error) {
	return j.anyScheduled(ctx, j.SyncHook(), j.StartHook(), j.BatchHook())
}

func (j *ChainedJob) anyScheduled(ctx context.Context, hooks ...string) (bool, error) {
	for _, hook := range hooks {
		scheduled, err := j.scheduler.IsScheduled(ctx, hook)
		if err != nil {
			return false, fmt.Errorf("failed to inspect %s: %w", hook, err)
		}
		if scheduled {
			return true, nil
		}
	}
	return false, nil
}

// QueueStart queues a new run. It returns false without error when a run is
// already queued or in progress.
func (j *ChainedJob) QueueStart(ctx context.Context) (bool, error) {
	if j.batchSize == Unbounded {
		err := j.RunSync(ctx)
		if errors.Is(err, ErrAlreadyRunning) {
			return false, nil
		}
		return err == nil, err
	}

	running, err := j.IsRunning(ctx)
	if err != nil {
		return false, err
	}
	if running {
		j.logger.Info("Run already in progress, not starting another")
		return false, nil
	}

	args := Args{RunID: uuid.NewString()}
	err = j.scheduler.Enqueue(ctx, Task{
		Hook:      j.StartHook(),
		Args:      args,
		UniqueKey: j.StartHook(),
	})
	if errors.Is(err, ErrDuplicateTask) {
		j.logger.Info("Start already queued")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to queue %s: %w", j.name, err)
	}

	j.setStatus(StateStarting, args.RunID, 0)
	j.logger.Info("Run queued", "run_id", args.RunID)
	return true, nil
}

// RunSync runs start, every batch and end inline. For its whole duration it
// holds the sync lease, which keeps queued start tasks from touching the feed.
func (j *ChainedJob) RunSync(ctx context.Context) error {
	args := Args{RunID: uuid.NewString()}

	release, err := j.acquireLease(ctx, args.RunID)
	if err != nil {
		return err
	}
	defer release()

	// a chained run that got past its own lease check first wins
	running, err := j.anyScheduled(ctx, j.StartHook(), j.BatchHook())
	if err != nil {
		return err
	}
	if running {
		return ErrAlreadyRunning
	}

	j.recordStart(ctx, args.RunID, ModeSync)
	j.setStatus(StateStarting, args.RunID, 0)

	if err := j.steps.HandleStart(ctx, args); err != nil {
		return j.abort(ctx, args, fmt.Errorf("start: %w", err))
	}

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return j.abort(ctx, args, err)
		}

		args.BatchNumber = n
		j.setStatus(StateRunning, args.RunID, n)

		items, err := j.steps.GetBatch(ctx, n, args)
		if err != nil {
			return j.abort(ctx, args, fmt.Errorf("batch %d: %w", n, err))
		}
		if len(items) == 0 {
			break
		}

		if err := j.steps.ProcessBatch(ctx, items, args); err != nil {
			return j.abort(ctx, args, fmt.Errorf("batch %d: %w", n, err))
		}
		j.recordBatch(ctx, args.RunID, len(items))
		args.Cursor = items[len(items)-1].Key()

		if j.batchSize == Unbounded {
			break
		}
	}

	return j.end(ctx, args)
}

// acquireLease enqueues the sync lease task. The scheduler's unique key makes
// acquisition atomic across processes.
func (j *ChainedJob) acquireLease(ctx context.Context, runID string) (func(), error) {
	err := j.scheduler.Enqueue(ctx, Task{
		Hook:      j.SyncHook(),
		Args:      Args{RunID: runID},
		Delay:     SyncLease,
		UniqueKey: j.SyncHook(),
	})
	if errors.Is(err, ErrDuplicateTask) {
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lease for %s: %w", j.name, err)
	}

	return func() {
		// the caller's context may already be cancelled
		ctx := context.WithoutCancel(ctx)
		if err := j.scheduler.Unschedule(ctx, j.SyncHook()); err != nil {
			j.logger.Error("Failed to release run lease", "run_id", runID, "error", err)
		}
	}, nil
}

func (j *ChainedJob) handleExpiredLease(ctx context.Context, args Args) error {
	j.logger.Warn("Inline run lease expired", "run_id", args.RunID)
	return nil
}

func (j *ChainedJob) handleStartTask(ctx context.Context, args Args) error {
	if args.RunID == "" {
		args.RunID = uuid.NewString()
	}

	leased, err := j.anyScheduled(ctx, j.SyncHook())
	if err != nil {
		return err
	}
	if leased {
		j.logger.Info("Inline run in progress, dropping queued start", "run_id", args.RunID)
		return nil
	}

	j.recordStart(ctx, args.RunID, ModeChained)
	j.setStatus(StateStarting, args.RunID, 0)
	j.logger.Info("Run starting", "run_id", args.RunID)

	if err := j.steps.HandleStart(ctx, args); err != nil {
		return j.abort(ctx, args, fmt.Errorf("start: %w", err))
	}

	if err := j.queueBatch(ctx, Args{RunID: args.RunID, BatchNumber: 1}); err != nil {
		return j.abort(ctx, args, err)
	}
	return nil
}

func (j *ChainedJob) handleBatchTask(ctx context.Context, args Args) error {
	if args.BatchNumber < 1 {
		args.BatchNumber = 1
	}
	n := args.BatchNumber
	j.setStatus(StateRunning, args.RunID, n)

	items, err := j.steps.GetBatch(ctx, n, args)
	if err != nil {
		return j.abort(ctx, args, fmt.Errorf("batch %d: %w", n, err))
	}
	if len(items) == 0 {
		return j.end(ctx, args)
	}

	if err := j.steps.ProcessBatch(ctx, items, args); err != nil {
		return j.abort(ctx, args, fmt.Errorf("batch %d: %w", n, err))
	}
	j.recordBatch(ctx, args.RunID, len(items))
	j.logger.Debug("Batch processed", "run_id", args.RunID, "batch", n, "items", len(items))

	next := Args{
		RunID:       args.RunID,
		BatchNumber: n + 1,
		Cursor:      items[len(items)-1].Key(),
	}
	if err := j.queueBatch(ctx, next); err != nil {
		return j.abort(ctx, args, err)
	}
	return nil
}

func (j *ChainedJob) queueBatch(ctx context.Context, args Args) error {
	err := j.scheduler.Enqueue(ctx, Task{Hook: j.BatchHook(), Args: args})
	if err != nil {
		return fmt.Errorf("failed to queue batch %d: %w", args.BatchNumber, err)
	}
	return nil
}

func (j *ChainedJob) end(ctx context.Context, args Args) error {
	j.setStatus(StateEnding, args.RunID, args.BatchNumber)

	if err := j.steps.HandleEnd(ctx, args); err != nil {
		return j.abort(ctx, args, fmt.Errorf("end: %w", err))
	}

	if j.recorder != nil {
		j.recorder.RunFinished(ctx, args.RunID, nil)
	}
	j.setStatus(StateIdle, args.RunID, 0)
	j.logger.Info("Run completed", "run_id", args.RunID, "batches", args.BatchNumber-1)
	return nil
}

func (j *ChainedJob) abort(ctx context.Context, args Args, err error) error {
	j.setStatus(StateAborted, args.RunID, args.BatchNumber)
	j.logger.Error("Run aborted", "run_id", args.RunID, "batch", args.BatchNumber, "error", err)

	if fh, ok := j.steps.(FailureHandler); ok {
		fh.HandleFailure(ctx, args, err)
	}
	if j.recorder != nil {
		j.recorder.RunFinished(ctx, args.RunID, err)
	}
	return err
}

func (j *ChainedJob) recordStart(ctx context.Context, runID, mode string) {
	if j.recorder != nil {
		j.recorder.RunStarted(ctx, j.name, runID, mode)
	}
}

func (j *ChainedJob) recordBatch(ctx context.Context, runID string, items int) {
	if j.recorder != nil {
		j.recorder.BatchProcessed(ctx, runID, items)
	}
}

func (j *ChainedJob) setStatus(state State, runID string, batch int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = Status{
		State:       state,
		StateName:   state.String(),
		RunID:       runID,
		BatchNumber: batch,
		UpdatedAt:   time.Now(),
	}
}
