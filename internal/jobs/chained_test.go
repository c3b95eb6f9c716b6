package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"feedsync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type key string

func (k key) Key() string { return string(k) }

// fakeSteps pages through a sorted key list by cursor.
type fakeSteps struct {
	mu        sync.Mutex
	keys      []string
	batchSize int

	starts    int
	processed [][]string
	ends      int
	failures  []error
	cursors   []string

	failOnBatch int
	failErr     error
}

func newFakeSteps(n, batchSize int) *fakeSteps {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%04d", i+1)
	}
	return &fakeSteps{keys: keys, batchSize: batchSize}
}

func (f *fakeSteps) HandleStart(ctx context.Context, args Args) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSteps) GetBatch(ctx context.Context, batchNumber int, args Args) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, args.Cursor)

	var items []Item
	for _, k := range f.keys {
		if k <= args.Cursor {
			continue
		}
		items = append(items, key(k))
		if f.batchSize != Unbounded && len(items) == f.batchSize {
			break
		}
	}
	return items, nil
}

func (f *fakeSteps) ProcessBatch(ctx context.Context, items []Item, args Args) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOnBatch == args.BatchNumber {
		return f.failErr
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key()
	}
	f.processed = append(f.processed, keys)
	return nil
}

func (f *fakeSteps) HandleEnd(ctx context.Context, args Args) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return nil
}

func (f *fakeSteps) HandleFailure(ctx context.Context, args Args, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	items    int
	finished map[string]error
}

func (r *fakeRecorder) RunStarted(ctx context.Context, job, runID, mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, mode)
}

func (r *fakeRecorder) BatchProcessed(ctx context.Context, runID string, items int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items += items
}

func (r *fakeRecorder) RunFinished(ctx context.Context, runID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[string]error{}
	}
	r.finished[runID] = err
}

func newTestJob(steps Steps, batchSize int, opts ...Option) (*ChainedJob, *MemoryScheduler) {
	mux := NewMux()
	sched := NewMemoryScheduler(mux, logger.NewNop())
	job := NewChainedJob("test", batchSize, steps, sched, logger.NewNop(), opts...)
	job.Register(mux)
	return job, sched
}

func TestChainedJob_BatchTermination(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		records   int
		batchSize int
		batches   int
	}{
		{records: 0, batchSize: 10, batches: 0},
		{records: 3, batchSize: 1, batches: 3},
		{records: 10, batchSize: 5, batches: 2},
		{records: 11, batchSize: 5, batches: 3},
	} {
		t.Run(fmt.Sprintf("%d_by_%d", tc.records, tc.batchSize), func(t *testing.T) {
			steps := newFakeSteps(tc.records, tc.batchSize)
			job, sched := newTestJob(steps, tc.batchSize)

			queued, err := job.QueueStart(ctx)
			require.NoError(t, err)
			require.True(t, queued)

			ran, err := sched.RunPending(ctx)
			require.NoError(t, err)

			// start + k batch tasks, the last one empty
			assert.Equal(t, tc.batches+2, ran)
			assert.Equal(t, 1, steps.starts)
			assert.Len(t, steps.processed, tc.batches)
			assert.Equal(t, 1, steps.ends)
			assert.Equal(t, StateIdle, job.Status().State)
			assert.Zero(t, sched.Pending())
		})
	}
}

func TestChainedJob_CursorIsLastKeyOfPreviousBatch(t *testing.T) {
	ctx := context.Background()
	steps := newFakeSteps(5, 2)
	job, sched := newTestJob(steps, 2)

	_, err := job.QueueStart(ctx)
	require.NoError(t, err)
	_, err = sched.RunPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "0002", "0004", "0005"}, steps.cursors)
	assert.Equal(t, [][]string{{"0001", "0002"}, {"0003", "0004"}, {"0005"}}, steps.processed)
}

func TestChainedJob_InsertBehindCursorDoesNotShiftScan(t *testing.T) {
	ctx := context.Background()
	steps := newFakeSteps(4, 2)
	job, sched := newTestJob(steps, 2)

	_, err := job.QueueStart(ctx)
	require.NoError(t, err)

	// start, then batch 1
	for i := 0; i < 2; i++ {
		_, err := sched.RunNext(ctx)
		require.NoError(t, err)
	}

	steps.mu.Lock()
	steps.keys = append([]string{"0000"}, steps.keys...)
	steps.mu.Unlock()

	_, err = sched.RunPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"0001", "0002"}, {"0003", "0004"}}, steps.processed)
}

func TestChainedJob_QueueStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	steps := newFakeSteps(3, 1)
	job, sched := newTestJob(steps, 1)

	queued, err := job.QueueStart(ctx)
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = job.QueueStart(ctx)
	require.NoError(t, err)
	assert.False(t, queued)

	// still refused once the chain moved on to batch tasks
	_, err = sched.RunNext(ctx)
	require.NoError(t, err)
	queued, err = job.QueueStart(ctx)
	require.NoError(t, err)
	assert.False(t, queued)

	_, err = sched.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, steps.starts)
	assert.Equal(t, 1, steps.ends)

	queued, err = job.QueueStart(ctx)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestChainedJob_ErrorAbortsChain(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	steps := newFakeSteps(5, 1)
	steps.failOnBatch = 2
	steps.failErr = boom
	rec := &fakeRecorder{}
	job, sched := newTestJob(steps, 1, WithRecorder(rec))

	_, err := job.QueueStart(ctx)
	require.NoError(t, err)

	_, err = sched.RunPending(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	assert.Len(t, steps.processed, 1)
	assert.Zero(t, steps.ends)
	require.Len(t, steps.failures, 1)
	assert.ErrorIs(t, steps.failures[0], boom)
	assert.Equal(t, StateAborted, job.Status().State)
	assert.Zero(t, sched.Pending())

	require.Len(t, rec.finished, 1)
	for _, finishErr := range rec.finished {
		assert.ErrorIs(t, finishErr, boom)
	}
}

func TestChainedJob_RestartAfterAbort(t *testing.T) {
	ctx := context.Background()
	steps := newFakeSteps(3, 1)
	steps.failOnBatch = 2
	steps.failErr = errors.New("interrupted")
	job, sched := newTestJob(steps, 1)

	_, err := job.QueueStart(ctx)
	require.NoError(t, err)
	_, _ = sched.RunPending(ctx)

	steps.mu.Lock()
	steps.failOnBatch = 0
	steps.processed = nil
	steps.mu.Unlock()

	queued, err := job.QueueStart(ctx)
	require.NoError(t, err)
	require.True(t, queued)
	_, err = sched.RunPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, steps.starts)
	assert.Equal(t, [][]string{{"0001"}, {"0002"}, {"0003"}}, steps.processed)
	assert.Equal(t, 1, steps.ends)
}

func TestChainedJob_UnboundedRunsSynchronously(t *testing.T) {
	ctx := context.Background()
	steps := newFakeSteps(7, Unbounded)
	rec := &fakeRecorder{}
	job, sched := newTestJob(steps, Unbounded, WithRecorder(rec))

	queued, err := job.QueueStart(ctx)
	require.NoError(t, err)
	assert.True(t, queued)

	assert.Zero(t, sched.Pending())
	require.Len(t, steps.processed, 1)
	assert.Len(t, steps.processed[0], 7)
	assert.Equal(t, 1, steps.ends)
	assert.Equal(t, []string{ModeSync}, rec.started)
	assert.Equal(t, 7, rec.items)
}

func TestChainedJob_RunSync(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every batch inline", func(t *testing.T) {
		steps := newFakeSteps(5, 2)
		job, sched := newTestJob(steps, 2)

		require.NoError(t, job.RunSync(ctx))
		assert.Len(t, steps.processed, 3)
		assert.Equal(t, 1, steps.ends)
		assert.Zero(t, sched.Pending())
	})

	t.Run("refuses while a chain is scheduled", func(t *testing.T) {
		steps := newFakeSteps(5, 2)
		job, _ := newTestJob(steps, 2)

		_, err := job.QueueStart(ctx)
		require.NoError(t, err)

		err = job.RunSync(ctx)
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		assert.Zero(t, steps.starts)
	})
}

// blockingSteps parks GetBatch for one batch number until released.
type blockingSteps struct {
	*fakeSteps
	blockOn int
	reached chan struct{}
	release chan struct{}
}

func (b *blockingSteps) GetBatch(ctx context.Context, batchNumber int, args Args) ([]Item, error) {
	if batchNumber == b.blockOn {
		close(b.reached)
		<-b.release
	}
	return b.fakeSteps.GetBatch(ctx, batchNumber, args)
}

func TestChainedJob_InlineRunHoldsOffOtherProcesses(t *testing.T) {
	ctx := context.Background()

	// two processes: same job name, one shared scheduler
	mux := NewMux()
	sched := NewMemoryScheduler(mux, logger.NewNop())

	inline := &blockingSteps{
		fakeSteps: newFakeSteps(3, 1),
		blockOn:   2,
		reached:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	api := NewChainedJob("test", 1, inline, sched, logger.NewNop())
	api.Register(mux)

	queuedSteps := newFakeSteps(3, 1)
	worker := NewChainedJob("test", 1, queuedSteps, sched, logger.NewNop())
	worker.Register(mux)

	done := make(chan error, 1)
	go func() { done <- api.RunSync(ctx) }()
	<-inline.reached

	queued, err := worker.QueueStart(ctx)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.ErrorIs(t, worker.RunSync(ctx), ErrAlreadyRunning)

	// a start that was queued before the lease became visible is dropped
	require.NoError(t, sched.Enqueue(ctx, Task{Hook: worker.StartHook(), UniqueKey: worker.StartHook()}))
	_, err = sched.RunPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, queuedSteps.starts)

	close(inline.release)
	require.NoError(t, <-done)

	assert.Equal(t, [][]string{{"0001"}, {"0002"}, {"0003"}}, inline.processed)
	assert.Equal(t, 1, inline.ends)
	assert.Zero(t, sched.Pending())

	queued, err = worker.QueueStart(ctx)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestChainedJob_RunSyncReleasesLeaseOnAbort(t *testing.T) {
	ctx := context.Background()
	steps := newFakeSteps(3, 1)
	steps.failOnBatch = 1
	steps.failErr = errors.New("disk full")
	job, sched := newTestJob(steps, 1)

	require.Error(t, job.RunSync(ctx))
	assert.Zero(t, sched.Pending())

	running, err := job.IsRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)
}
