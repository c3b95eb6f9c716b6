// Package app wires the feedsync components shared by the api and worker
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/connectors/woocommerce"
	"feedsync/internal/database"
	"feedsync/internal/events"
	"feedsync/internal/feed"
	"feedsync/internal/graphapi"
	"feedsync/internal/jobs"
	"feedsync/internal/logger"
	"feedsync/internal/mirror"
	"feedsync/internal/options"
	"feedsync/internal/queue"
	"feedsync/internal/sources"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	optionsPrefix = "feedsync:"

	memoryPollInterval = time.Second
)

type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *database.Database
	Mux       *jobs.Mux
	Scheduler jobs.Scheduler
	// Memory is set when SCHEDULER_MODE=memory.
	Memory   *jobs.MemoryScheduler
	Registry *feed.Registry
	History  *feed.History
	Uploads  *feed.UploadNotifier
	Events   events.Publisher
	Changes  events.Publisher

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log, Mux: jobs.NewMux()}
	if err := a.init(ctx); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Config, a.Logger

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	store, err := a.optionsStore(ctx)
	if err != nil {
		return err
	}

	if err := a.scheduler(); err != nil {
		return err
	}

	a.History = feed.NewHistory(db.DB, log)

	api := graphapi.NewClient(cfg.GraphAPIURL, cfg.GraphAPIVersion, cfg.GraphAccessToken, log)
	a.Uploads = feed.NewUploadNotifier(api, cfg.CommercePartnerID, a.History, cfg.NotifyTimeout, log)

	a.Events = events.NewPublisher(cfg.KafkaBrokers, cfg.FeedEventsTopic, log)
	a.Changes = events.NewPublisher(cfg.KafkaBrokers, cfg.CatalogEventsTopic, log)
	a.closers = append(a.closers, a.Events.Close, a.Changes.Close)

	deps := feed.Deps{
		Options:   store,
		Scheduler: a.Scheduler,
		Mux:       a.Mux,
		Sources:   a.sources(),
		Notifier:  a.Uploads,
		Events:    a.Events,
		Recorder:  a.History,
		Logger:    log,
	}

	if cfg.S3Bucket != "" {
		m, err := mirror.New(ctx, cfg.S3Bucket, cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion)
		if err != nil {
			return err
		}
		deps.Mirror = m
		log.Info("Mirroring feed files to S3", "bucket", cfg.S3Bucket)
	}

	a.Registry, err = feed.NewRegistry(cfg, deps)
	return err
}

func (a *App) optionsStore(ctx context.Context) (options.Store, error) {
	if a.Config.OptionsBackend != config.OptionsBackendRedis {
		return options.NewGormStore(a.DB.DB), nil
	}

	store, err := options.NewRedisStoreFromURL(ctx, a.Config.RedisURL, optionsPrefix)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) scheduler() error {
	if a.Config.SchedulerMode == config.SchedulerModeMemory {
		a.Memory = jobs.NewMemoryScheduler(a.Mux, a.Logger)
		a.Scheduler = a.Memory
		return nil
	}

	sched, err := queue.NewScheduler(a.Config.RedisURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, sched.Close)
	a.Scheduler = sched
	return nil
}

func (a *App) sources() map[string]feed.RecordSource {
	var products feed.RecordSource = sources.NewProductSource(a.DB.DB)
	if a.Config.ProductSource == config.ProductSourceWooCommerce {
		products = sources.NewWooCommerceSource(woocommerce.New(a.Config, a.Logger))
		a.Logger.Info("Reading products from WooCommerce", "url", a.Config.WooCommerceURL)
	}

	return map[string]feed.RecordSource{
		feed.FeedTypeProducts:   products,
		feed.FeedTypePromotions: sources.NewPromotionSource(a.DB.DB),
	}
}

// RunMemory drives the in-process scheduler: due tasks are polled and the
// heartbeat task is queued every HeartbeatInterval. It returns when ctx is
// cancelled.
func (a *App) RunMemory(ctx context.Context) error {
	if a.Memory == nil {
		return fmt.Errorf("scheduler mode is %s", a.Config.SchedulerMode)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Memory.Run(ctx, memoryPollInterval)
	})
	g.Go(func() error {
		interval := a.Config.HeartbeatInterval
		if interval <= 0 {
			interval = time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				err := a.Memory.Enqueue(ctx, jobs.Task{Hook: feed.HeartbeatHook, UniqueKey: feed.HeartbeatHook})
				if err != nil && !errors.Is(err, jobs.ErrDuplicateTask) {
					a.Logger.Warn("Failed to queue heartbeat", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// Close releases every connection New opened, in reverse order.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
