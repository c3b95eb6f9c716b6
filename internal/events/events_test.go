package events

import (
	"context"
	"testing"
	"time"

	"feedsync/internal/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := Encode(Event{Type: TypeFeedGenerated, FeedType: "products", RunID: "r1", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, []byte("products"), msg.Key)

	event, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, TypeFeedGenerated, event.Type)
	assert.Equal(t, "r1", event.RunID)
	assert.True(t, ts.Equal(event.Timestamp))
}

func TestDecode_FeedTypeFromKey(t *testing.T) {
	event, err := Decode(kafka.Message{Key: []byte("promotions"), Value: []byte(`{"type":"feed.regenerate"}`)})
	require.NoError(t, err)
	assert.Equal(t, "promotions", event.FeedType)

	_, err = Decode(kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestNewPublisher_NoBrokers(t *testing.T) {
	p := NewPublisher("  ", "feed-events", logger.NewNop())
	require.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypeFeedUploaded}))
	assert.NoError(t, p.Close())
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}
