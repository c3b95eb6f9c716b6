package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedsync/internal/jobs"
	"feedsync/internal/logger"

	"github.com/hibiken/asynq"
)

// Server executes feedsync tasks through the handlers registered on a jobs.Mux.
type Server struct {
	server *asynq.Server
	mux    *jobs.Mux
	logger *logger.Logger
}

func NewServer(redisURL string, concurrency int, mux *jobs.Mux, log *logger.Logger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("Task failed", "hook", task.Type(), "error", err)
		}),
		ShutdownTimeout: 30 * time.Second,
	})

	return &Server{server: srv, mux: mux, logger: log}, nil
}

// ServeMux routes every hook registered on the jobs mux to Handle.
func (s *Server) ServeMux() *asynq.ServeMux {
	m := asynq.NewServeMux()
	for _, hook := range s.mux.Hooks() {
		m.HandleFunc(hook, s.Handle)
	}
	return m
}

// Handle decodes the task args and dispatches to the jobs mux.
func (s *Server) Handle(ctx context.Context, task *asynq.Task) error {
	args, err := DecodeArgs(task.Payload())
	if err != nil {
		return fmt.Errorf("%s: %w: %w", task.Type(), err, asynq.SkipRetry)
	}

	err = s.mux.Dispatch(ctx, task.Type(), args)
	if errors.Is(err, jobs.ErrUnknownHook) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run processes tasks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.ServeMux()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.logger.Info("Task server started", "queue", QueueName, "hooks", len(s.mux.Hooks()))

	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// Heartbeat enqueues a task on a fixed interval.
type Heartbeat struct {
	scheduler *asynq.Scheduler
	hook      string
	interval  time.Duration
	logger    *logger.Logger
}

func NewHeartbeat(redisURL, hook string, interval time.Duration, log *logger.Logger) (*Heartbeat, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(CronSpec(interval), asynq.NewTask(hook, nil), asynq.Queue(QueueName), asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("failed to register heartbeat: %w", err)
	}

	return &Heartbeat{scheduler: scheduler, hook: hook, interval: interval, logger: log}, nil
}

func (h *Heartbeat) Run(ctx context.Context) error {
	if err := h.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}
	h.logger.Info("Heartbeat started", "hook", h.hook, "interval", h.interval.String())

	<-ctx.Done()
	h.scheduler.Shutdown()
	return nil
}

// CronSpec turns an interval into an asynq cron spec, at least one minute.
func CronSpec(interval time.Duration) string {
	if interval < time.Minute {
		interval = time.Minute
	}
	return "@every " + interval.String()
}
