package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"feedsync/internal/events"
	"feedsync/internal/logger"
)

// Regenerator starts feed runs.
type Regenerator interface {
	Regenerate(ctx context.Context, feedType string) (bool, error)
}

// catalog entities whose change events make a feed stale
var changeFeeds = map[string]string{
	"product":   "products",
	"promotion": "promotions",
}

var changeActions = map[string]bool{"created": true, "updated": true, "deleted": true}

type EventProcessor struct {
	regenerator Regenerator
	logger      *logger.Logger
}

func NewEventProcessor(regenerator Regenerator, logger *logger.Logger) *EventProcessor {
	return &EventProcessor{
		regenerator: regenerator,
		logger:      logger,
	}
}

// Process handles feed.regenerate requests and catalog change notifications.
// Other event types are ignored.
func (ep *EventProcessor) Process(ctx context.Context, event events.Event) error {
	var feedType string
	if event.Type == events.TypeFeedRegenerate {
		feedType = event.FeedType
	} else {
		entity, action, ok := strings.Cut(event.Type, ".")
		if !ok || !changeActions[action] || changeFeeds[entity] == "" {
			ep.logger.Debug("Ignoring event", "type", event.Type)
			return nil
		}
		feedType = changeFeeds[entity]
	}

	if feedType == "" {
		return errors.New("event names no feed type")
	}

	queued, err := ep.regenerator.Regenerate(ctx, feedType)
	if err != nil {
		return fmt.Errorf("failed to regenerate %s: %w", feedType, err)
	}

	ep.logger.Info("Feed regeneration requested", "feed", feedType, "queued", queued, "event", event.Type)
	return nil
}
