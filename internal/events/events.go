// Package events publishes feed lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/logger"

	"github.com/segmentio/kafka-go"
)

const (
	TypeFeedGenerated  = "feed.generated"
	TypeFeedUploaded   = "feed.uploaded"
	TypeFeedRegenerate = "feed.regenerate"
)

type Event struct {
	Type      string                 `json:"type"`
	FeedType  string                 `json:"feed_type"`
	RunID     string                 `json:"run_id,omitempty"`
	UploadID  string                 `json:"upload_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

// KafkaPublisher writes events keyed by feed type, so the events of one feed
// stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

func NewKafkaPublisher(brokers, topic string, logger *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(SplitBrokers(brokers)...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

// NewPublisher returns a Kafka publisher, or a NopPublisher when brokers is
// empty.
func NewPublisher(brokers, topic string, logger *logger.Logger) Publisher {
	if strings.TrimSpace(brokers) == "" {
		logger.Info("No Kafka brokers configured, feed events are disabled")
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic, logger)
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := Encode(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	p.logger.Debug("Event published", "type", event.Type, "feed", event.FeedType)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode turns an event into a Kafka message.
func Encode(event Event) (kafka.Message, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{Key: []byte(event.FeedType), Value: value, Time: event.Timestamp}, nil
}

// Decode parses a message produced by Encode.
func Decode(msg kafka.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, fmt.Errorf("failed to parse event: %w", err)
	}
	if event.FeedType == "" {
		event.FeedType = string(msg.Key)
	}
	return event, nil
}

func SplitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
