package feed

import (
	"context"
	"fmt"

	"feedsync/internal/jobs"
	"feedsync/internal/logger"

	"go.uber.org/multierr"
)

// CompleteFunc runs after the feed file has been promoted.
type CompleteFunc func(ctx context.Context, args jobs.Args) error

// Generator drives one feed type through a chained job: the start step
// prepares the temp file, every batch appends rows and the end step promotes
// the file.
type Generator struct {
	feedType   string
	source     RecordSource
	writer     FileWriter
	batchSize  int
	onComplete CompleteFunc
	logger     *logger.Logger
}

var (
	_ jobs.Steps          = (*Generator)(nil)
	_ jobs.FailureHandler = (*Generator)(nil)
)

func NewGenerator(feedType string, source RecordSource, writer FileWriter, batchSize int, onComplete CompleteFunc, log *logger.Logger) *Generator {
	return &Generator{
		feedType:   feedType,
		source:     source,
		writer:     writer,
		batchSize:  batchSize,
		onComplete: onComplete,
		logger:     log.With("feed", feedType),
	}
}

func (g *Generator) HandleStart(ctx context.Context, args jobs.Args) error {
	if err := g.writer.CreateDirectory(); err != nil {
		return err
	}
	g.writer.ProtectDirectory()

	if err := g.writer.PrepareTemp(ctx, g.source.Header()); err != nil {
		return err
	}

	g.logger.Info("Feed generation started", "run_id", args.RunID)
	return nil
}

func (g *Generator) GetBatch(ctx context.Context, batchNumber int, args jobs.Args) ([]jobs.Item, error) {
	records, err := g.source.GetBatch(ctx, batchNumber, g.batchSize, args.Cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s records: %w", g.feedType, err)
	}

	items := make([]jobs.Item, len(records))
	for i, r := range records {
		items[i] = r
	}
	return items, nil
}

func (g *Generator) ProcessBatch(ctx context.Context, items []jobs.Item, args jobs.Args) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		record, ok := item.(Record)
		if !ok {
			return fmt.Errorf("item %s is not a feed record", item.Key())
		}
		rows = append(rows, record.Row())
	}
	return g.writer.Append(ctx, rows)
}

func (g *Generator) HandleEnd(ctx context.Context, args jobs.Args) error {
	if err := g.writer.Promote(ctx); err != nil {
		return err
	}

	g.logger.Info("Feed generation completed", "run_id", args.RunID)

	if g.onComplete != nil {
		if err := g.onComplete(ctx, args); err != nil {
			g.logger.Warn("Feed completion hook failed", "run_id", args.RunID, "error", err)
		}
	}
	return nil
}

// HandleFailure discards the temp file after storage failures. Other failures
// leave it in place; the next start truncates it.
func (g *Generator) HandleFailure(ctx context.Context, args jobs.Args, err error) {
	if !IsStorageError(err) {
		return
	}
	if derr := g.writer.Discard(ctx); derr != nil {
		g.logger.Error("Failed to discard temp feed file", "run_id", args.RunID, "error", multierr.Combine(err, derr))
	}
}
