package target

import (
	"context"

	"go.uber.org/zap"
)

// NewLogSink logs every event at info level.
func NewLogSink[T Message](logger *zap.Logger) Sink[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("target")

	return func(_ context.Context, batch []T) error {
		for _, event := range batch {
			logger.Info("message forwarded",
				zap.String("key", event.Key()),
				zap.String("topic", event.Topic()),
				zap.Any("event", event),
			)
		}
		return nil
	}
}
