// Package queue runs the job chains on asynq, so every batch is a task
// persisted in Redis and a run survives worker restarts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"feedsync/internal/jobs"

	"github.com/hibiken/asynq"
	"go.uber.org/multierr"
)

// QueueName is the asynq queue every feedsync task goes to.
const QueueName = "feedsync"

const listPageSize = 100

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type inspector interface {
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

type lister func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

// Scheduler implements jobs.Scheduler on an asynq queue.
type Scheduler struct {
	client    enqueuer
	inspector inspector
	queue     string
}

var _ jobs.Scheduler = (*Scheduler)(nil)

// NewScheduler connects to the Redis instance at redisURL.
func NewScheduler(redisURL string) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Scheduler{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     QueueName,
	}, nil
}

func (s *Scheduler) Enqueue(ctx context.Context, task jobs.Task) error {
	payload, err := EncodeArgs(task.Args)
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(task.Hook, payload), TaskOptions(task, s.queue)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) && task.UniqueKey != "" {
		stale, cerr := s.clearFinished(task.UniqueKey)
		if cerr != nil {
			return cerr
		}
		if stale {
			_, err = s.client.EnqueueContext(ctx, asynq.NewTask(task.Hook, payload), TaskOptions(task, s.queue)...)
		}
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return jobs.ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// clearFinished deletes the task holding id when it is archived or completed.
// Such a task still owns its id in redis and would refuse every new task with
// that unique key. It reports whether the id is free to reuse.
func (s *Scheduler) clearFinished(id string) (bool, error) {
	info, err := s.inspector.GetTaskInfo(s.queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect task %s: %w", id, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}

	if err := s.inspector.DeleteTask(s.queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("failed to delete finished task %s: %w", id, err)
	}
	return true, nil
}

func (s *Scheduler) IsScheduled(ctx context.Context, hook string) (bool, error) {
	for _, list := range []lister{s.inspector.ListPendingTasks, s.inspector.ListScheduledTasks, s.inspector.ListActiveTasks} {
		tasks, err := s.collect(list, hook)
		if err != nil {
			return false, err
		}
		if len(tasks) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Unschedule deletes pending and delayed tasks for hook. Running tasks finish.
func (s *Scheduler) Unschedule(ctx context.Context, hook string) error {
	for _, list := range []lister{s.inspector.ListPendingTasks, s.inspector.ListScheduledTasks} {
		tasks, err := s.collect(list, hook)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := s.inspector.DeleteTask(s.queue, t.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
				return fmt.Errorf("failed to delete task %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

func (s *Scheduler) collect(list lister, hook string) ([]*asynq.TaskInfo, error) {
	var out []*asynq.TaskInfo
	for page := 1; ; page++ {
		tasks, err := list(s.queue, asynq.PageSize(listPageSize), asynq.Page(page))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}
		for _, t := range tasks {
			if t.Type == hook {
				out = append(out, t)
			}
		}
		if len(tasks) < listPageSize {
			return out, nil
		}
	}
}

func (s *Scheduler) Close() error {
	return multierr.Append(s.client.Close(), s.inspector.Close())
}

// TaskOptions maps a jobs.Task onto asynq options. Tasks never retry: a failed
// batch aborts its run.
func TaskOptions(task jobs.Task, queue string) []asynq.Option {
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(0)}
	if task.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(task.Delay))
	}
	if task.UniqueKey != "" {
		opts = append(opts, asynq.TaskID(task.UniqueKey))
	}
	return opts
}

func EncodeArgs(args jobs.Args) ([]byte, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task args: %w", err)
	}
	return payload, nil
}

// DecodeArgs accepts an empty payload, as sent by the periodic heartbeat.
func DecodeArgs(payload []byte) (jobs.Args, error) {
	var args jobs.Args
	if len(payload) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return jobs.Args{}, fmt.Errorf("failed to parse task args: %w", err)
	}
	return args, nil
}
