package feed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/jobs"
	"feedsync/internal/logger"
)

const (
	FeedTypeProducts   = "products"
	FeedTypePromotions = "promotions"

	DefaultBatchSize = 500
	DefaultInterval  = 24 * time.Hour
	MinInterval      = 2 * time.Second

	jobPrefix = "generate_feed_"
)

// FeedTypes are the feeds every registry builds.
var FeedTypes = []string{FeedTypeProducts, FeedTypePromotions}

// Definition binds a feed type to its source, writer and job.
type Definition struct {
	Name      string
	Source    RecordSource
	Writer    FileWriter
	Generator *Generator
	Job       *jobs.ChainedJob
	Interval  time.Duration
	BatchSize int
	Enabled   bool
}

func (d *Definition) RegenerateAction() string {
	return "feedsync_regenerate_feed_" + d.Name
}

// RequestAction is the value of the feedsync-api query parameter that asks
// for this feed's file.
func (d *Definition) RequestAction() string {
	return "feedsync_get_feed_data_" + d.Name
}

func (d *Definition) CompletedAction() string {
	return "feedsync_feed_generation_completed_" + d.Name
}

// FileInfo describes the public file without exposing its secret-derived name.
type FileInfo struct {
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"modified_at,omitempty"`
}

func (d *Definition) File(ctx context.Context) (FileInfo, error) {
	path, err := d.Writer.FilePath(ctx)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, storageErr("stat", path, err)
	}
	return FileInfo{Exists: true, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Factory builds definitions for a registry.
type Factory struct {
	cfg      *config.Config
	sources  map[string]RecordSource
	sched    jobs.Scheduler
	recorder jobs.RunRecorder
	secret   func(ctx context.Context, name string) (string, error)
	complete func(name string) CompleteFunc
	logger   *logger.Logger
}

func (f *Factory) Create(name string) (*Definition, error) {
	source, ok := f.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
	}

	feedCfg := f.cfg.Feed(name)

	batchSize := feedCfg.BatchSize
	if batchSize == 0 || batchSize < jobs.Unbounded {
		batchSize = DefaultBatchSize
	}

	interval := feedCfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}

	writer := NewCSVFileWriter(f.cfg.FeedDir, name, func(ctx context.Context) (string, error) {
		return f.secret(ctx, name)
	}, f.logger)

	generator := NewGenerator(name, source, writer, batchSize, f.complete(name), f.logger)

	var opts []jobs.Option
	if f.recorder != nil {
		opts = append(opts, jobs.WithRecorder(f.recorder))
	}
	job := jobs.NewChainedJob(jobPrefix+name, batchSize, generator, f.sched, f.logger, opts...)

	return &Definition{
		Name:      name,
		Source:    source,
		Writer:    writer,
		Generator: generator,
		Job:       job,
		Interval:  interval,
		BatchSize: batchSize,
		Enabled:   feedCfg.IsEnabled(),
	}, nil
}
