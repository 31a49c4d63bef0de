package target

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamAdder is the part of a redis client used by the stream sink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// NewRedisStreamSink appends every event to stream as fields key, topic and
// data. maxLen > 0 trims the stream approximately.
func NewRedisStreamSink[T Message](client StreamAdder, stream string, maxLen int64) (Sink[T], error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfiguration)
	}
	if stream == "" {
		return nil, fmt.Errorf("%w: redis stream is empty", ErrInvalidConfiguration)
	}

	return func(ctx context.Context, batch []T) error {
		for _, event := range batch {
			data, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to encode event %s: %w", event.Key(), err)
			}
			args := &redis.XAddArgs{
				Stream: stream,
				Values: map[string]interface{}{
					"key":   event.Key(),
					"topic": event.Topic(),
					"data":  string(data),
				},
			}
			if maxLen > 0 {
				args.MaxLen = maxLen
				args.Approx = true
			}
			if err := client.XAdd(ctx, args).Err(); err != nil {
				return fmt.Errorf("xadd %s: %w", stream, err)
			}
		}
		return nil
	}, nil
}
