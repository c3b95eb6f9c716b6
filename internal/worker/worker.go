package worker

import (
	"context"
	"errors"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/events"
	"feedsync/internal/logger"
	"feedsync/internal/worker/processors"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker consumes catalog events and hands them to the event processor.
type Worker struct {
	config    *config.Config
	logger    *logger.Logger
	reader    messageReader
	processor *processors.EventProcessor
}

func New(cfg *config.Config, logger *logger.Logger, regenerator processors.Regenerator) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        events.SplitBrokers(cfg.KafkaBrokers),
		GroupID:        "feedsync-worker",
		Topic:          cfg.CatalogEventsTopic,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})

	return &Worker{
		config:    cfg,
		logger:    logger,
		reader:    reader,
		processor: processors.NewEventProcessor(regenerator, logger),
	}
}

// Start reads until ctx is cancelled. Messages are committed once processed;
// malformed or failing messages are logged and skipped.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Worker started, listening for events...", "topic", w.config.CatalogEventsTopic)

	for {
		message, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Failed to read message", "error", err)
			continue
		}

		w.logger.Debug("Received message", "offset", message.Offset, "key", string(message.Key))

		event, err := events.Decode(message)
		if err != nil {
			w.logger.Error("Failed to parse event", "error", err)
		} else if err := w.processor.Process(ctx, event); err != nil {
			w.logger.Error("Failed to process event", "type", event.Type, "error", err)
		}

		if err := w.reader.CommitMessages(ctx, message); err != nil && ctx.Err() == nil {
			w.logger.Error("Failed to commit message", "error", err)
		}
	}
}

func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	if err := w.reader.Close(); err != nil {
		w.logger.Warn("Failed to close reader", "error", err)
	}
}
