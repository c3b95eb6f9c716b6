package feed

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"feedsync/internal/config"
	"feedsync/internal/events"
	"feedsync/internal/jobs"
	"feedsync/internal/logger"
	"feedsync/internal/options"

	"golang.org/x/sync/singleflight"
)

// HeartbeatHook re-checks the recurring schedule of every feed.
const HeartbeatHook = "feedsync_heartbeat_hourly"

// RequestParam is the query parameter the download endpoint is selected by.
const RequestParam = "feedsync-api"

// Notifier is told about every promoted feed file.
type Notifier interface {
	Notify(ctx context.Context, downloadURL, feedType string) string
}

// Mirror keeps a copy of promoted feed files elsewhere.
type Mirror interface {
	Mirror(ctx context.Context, feedType, filePath string) error
}

type Deps struct {
	Options   options.Store
	Scheduler jobs.Scheduler
	Mux       *jobs.Mux
	Sources   map[string]RecordSource
	Notifier  Notifier
	Mirror    Mirror
	Events    events.Publisher
	Recorder  jobs.RunRecorder
	// Types overrides FeedTypes.
	Types  []string
	Logger *logger.Logger
}

// Registry owns the feed definitions of the process.
type Registry struct {
	cfg      *config.Config
	deps     Deps
	logger   *logger.Logger
	defs     map[string]*Definition
	order    []string
	byAction map[string]*Definition

	secrets sync.Map
	group   singleflight.Group
}

func NewRegistry(cfg *config.Config, deps Deps) (*Registry, error) {
	if deps.Options == nil || deps.Scheduler == nil || deps.Mux == nil {
		return nil, errors.New("feed registry needs an options store, a scheduler and a mux")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}

	r := &Registry{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		defs:     make(map[string]*Definition),
		byAction: make(map[string]*Definition),
	}

	factory := &Factory{
		cfg:      cfg,
		sources:  deps.Sources,
		sched:    deps.Scheduler,
		recorder: deps.Recorder,
		secret:   r.Secret,
		complete: r.completeFunc,
		logger:   deps.Logger,
	}

	types := deps.Types
	if len(types) == 0 {
		types = FeedTypes
	}
	for _, name := range types {
		def, err := factory.Create(name)
		if err != nil {
			return nil, err
		}
		r.defs[name] = def
		r.order = append(r.order, name)
		r.byAction[def.RequestAction()] = def

		def.Job.Register(deps.Mux)
		deps.Mux.Handle(def.RegenerateAction(), r.recurringHandler(def))
		deps.Mux.Handle(def.CompletedAction(), r.completedHandler(def))
	}
	deps.Mux.Handle(HeartbeatHook, func(ctx context.Context, _ jobs.Args) error {
		return r.ScheduleFeedGeneration(ctx)
	})

	return r, nil
}

func (r *Registry) Definition(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}
	return def, nil
}

// Definitions returns every definition in registration order.
func (r *Registry) Definitions() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

func (r *Registry) ByRequestAction(action string) (*Definition, bool) {
	def, ok := r.byAction[action]
	return def, ok
}

func secretKey(name string) string {
	return "feedsync_feed_secret_" + name
}

// Secret returns the feed's secret, creating it on first use. Once stored a
// secret never changes.
func (r *Registry) Secret(ctx context.Context, name string) (string, error) {
	if s, ok := r.secrets.Load(name); ok {
		return s.(string), nil
	}

	stored, ok, err := r.deps.Options.Get(ctx, secretKey(name))
	if err != nil {
		return "", err
	}
	if !ok || stored == "" {
		candidate, err := newSecret()
		if err != nil {
			return "", err
		}
		stored, err = r.deps.Options.CreateIfAbsent(ctx, secretKey(name), candidate)
		if err != nil {
			return "", err
		}
	}

	r.secrets.Store(name, stored)
	return stored, nil
}

// CheckSecret compares candidate with the stored secret in constant time. A
// feed that has no secret yet rejects every candidate.
func (r *Registry) CheckSecret(ctx context.Context, name, candidate string) error {
	var stored string
	if s, ok := r.secrets.Load(name); ok {
		stored = s.(string)
	} else {
		value, ok, err := r.deps.Options.Get(ctx, secretKey(name))
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		stored = value
	}

	if candidate == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate feed secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DownloadURL is the URL the remote catalog pulls the feed from.
func (r *Registry) DownloadURL(ctx context.Context, name string) (string, error) {
	def, err := r.Definition(name)
	if err != nil {
		return "", err
	}
	secret, err := r.Secret(ctx, name)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set(RequestParam, def.RequestAction())
	q.Set("secret", secret)
	return r.cfg.BaseURL + "/?" + q.Encode(), nil
}

// Regenerate queues a one-off run. It reports false when a run is already in
// progress.
func (r *Registry) Regenerate(ctx context.Context, name string) (bool, error) {
	def, err := r.Definition(name)
	if err != nil {
		return false, err
	}
	return def.Job.QueueStart(ctx)
}

// RegenerateNow runs a full regeneration inline. Concurrent callers for the
// same feed share one run.
func (r *Registry) RegenerateNow(ctx context.Context, name string) error {
	def, err := r.Definition(name)
	if err != nil {
		return err
	}
	_, err, _ = r.group.Do(name, func() (interface{}, error) {
		return nil, def.Job.RunSync(ctx)
	})
	return err
}

// ScheduleFeedGeneration makes sure every enabled feed has its recurring task
// queued and every disabled feed has none.
func (r *Registry) ScheduleFeedGeneration(ctx context.Context) error {
	for _, def := range r.Definitions() {
		hook := def.RegenerateAction()

		if !def.Enabled {
			if err := r.deps.Scheduler.Unschedule(ctx, hook); err != nil {
				return fmt.Errorf("failed to unschedule %s: %w", hook, err)
			}
			continue
		}

		scheduled, err := r.deps.Scheduler.IsScheduled(ctx, hook)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", hook, err)
		}
		if scheduled {
			continue
		}

		if err := r.deps.Scheduler.Enqueue(ctx, jobs.Task{Hook: hook}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", hook, err)
		}
		r.logger.Info("Feed generation scheduled", "feed", def.Name, "interval", def.Interval.String())
	}
	return nil
}

// recurringHandler starts a run and queues the next occurrence.
func (r *Registry) recurringHandler(def *Definition) jobs.HandlerFunc {
	return func(ctx context.Context, _ jobs.Args) error {
		if !def.Enabled {
			return nil
		}

		if _, err := def.Job.QueueStart(ctx); err != nil {
			r.logger.Error("Failed to start feed generation", "feed", def.Name, "error", err)
		}

		next := jobs.Task{Hook: def.RegenerateAction(), Delay: def.Interval}
		if err := r.deps.Scheduler.Enqueue(ctx, next); err != nil {
			return fmt.Errorf("failed to reschedule %s: %w", def.Name, err)
		}
		return nil
	}
}

func (r *Registry) completeFunc(name string) CompleteFunc {
	return func(ctx context.Context, args jobs.Args) error {
		def, err := r.Definition(name)
		if err != nil {
			return err
		}
		return r.deps.Scheduler.Enqueue(ctx, jobs.Task{Hook: def.CompletedAction(), Args: args})
	}
}

// completedHandler publishes a promoted feed: mirror copy, upload request and
// events. None of these failures touch the promoted file.
func (r *Registry) completedHandler(def *Definition) jobs.HandlerFunc {
	return func(ctx context.Context, args jobs.Args) error {
		log := r.logger.With("feed", def.Name, "run_id", args.RunID)

		path, err := def.Writer.FilePath(ctx)
		if err != nil {
			return err
		}

		if r.deps.Mirror != nil {
			if err := r.deps.Mirror.Mirror(ctx, def.Name, path); err != nil {
				log.Warn("Failed to mirror feed file", "error", err)
			}
		}

		file, err := def.File(ctx)
		if err != nil {
			log.Warn("Failed to stat feed file", "error", err)
		}
		r.publish(ctx, log, events.Event{
			Type:     events.TypeFeedGenerated,
			FeedType: def.Name,
			RunID:    args.RunID,
			Data:     map[string]interface{}{"bytes": file.Size},
		})

		if r.deps.Notifier == nil {
			return nil
		}
		downloadURL, err := r.DownloadURL(ctx, def.Name)
		if err != nil {
			return err
		}
		if uploadID := r.deps.Notifier.Notify(ctx, downloadURL, def.Name); uploadID != "" {
			r.publish(ctx, log, events.Event{
				Type:     events.TypeFeedUploaded,
				FeedType: def.Name,
				RunID:    args.RunID,
				UploadID: uploadID,
			})
		}
		return nil
	}
}

func (r *Registry) publish(ctx context.Context, log *logger.Logger, event events.Event) {
	if err := r.deps.Events.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish feed event", "type", event.Type, "error", err)
	}
}
