package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/api"
	"feedsync/internal/app"
	"feedsync/internal/config"
	"feedsync/internal/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire database, scheduler and feeds
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", "error", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close resources", "error", err)
		}
	}()

	// Initialize API server
	server := api.New(cfg, logger, a.DB, api.Services{
		Registry: a.Registry,
		History:  a.History,
		Uploads:  a.Uploads,
		Changes:  a.Changes,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	// without asynq the api process runs the feed jobs itself
	if a.Memory != nil {
		if err := a.Registry.ScheduleFeedGeneration(ctx); err != nil {
			logger.Error("Failed to schedule feed generation", "error", err)
		}
		g.Go(func() error {
			return a.RunMemory(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
	}
	logger.Info("Server stopped")
}
