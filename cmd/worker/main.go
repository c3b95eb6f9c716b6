package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"feedsync/internal/app"
	"feedsync/internal/config"
	"feedsync/internal/feed"
	"feedsync/internal/logger"
	"feedsync/internal/queue"
	"feedsync/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if cfg.SchedulerMode != config.SchedulerModeAsynq {
		log.Fatal("The worker needs SCHEDULER_MODE=asynq; in memory mode the api process runs feed jobs")
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", "error", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close resources", "error", err)
		}
	}()

	server, err := queue.NewServer(cfg.RedisURL, cfg.WorkerConcurrency, a.Mux, logger)
	if err != nil {
		logger.Fatal("Failed to create task server", "error", err)
	}
	heartbeat, err := queue.NewHeartbeat(cfg.RedisURL, feed.HeartbeatHook, cfg.HeartbeatInterval, logger)
	if err != nil {
		logger.Fatal("Failed to create heartbeat", "error", err)
	}

	if err := a.Registry.ScheduleFeedGeneration(ctx); err != nil {
		logger.Error("Failed to schedule feed generation", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return heartbeat.Run(ctx) })

	// catalog change events are optional
	if cfg.KafkaBrokers != "" {
		w := worker.New(cfg, logger, a.Registry)
		g.Go(func() error {
			defer w.Stop()
			return w.Start(ctx)
		})
	}

	logger.Info("Starting worker...")
	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
	}
	logger.Info("Worker stopped")
}
