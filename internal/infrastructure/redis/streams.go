package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OutcomeStream carries terminal payment outcomes for downstream consumers.
const OutcomeStream = "terminal:outcomes"

// defaultMaxLen caps a stream at roughly this many entries.
const defaultMaxLen = 100_000

type StreamProducer struct {
	client *redis.Client
	maxLen int64
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client, maxLen: defaultMaxLen}
}

// Publish appends one event to stream and returns its entry id.
func (p *StreamProducer) Publish(ctx context.Context, stream, key, eventType string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"key":        key,
			"event_type": eventType,
			"payload":    string(payload),
			"timestamp":  time.Now().Unix(),
		},
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return id, nil
}
