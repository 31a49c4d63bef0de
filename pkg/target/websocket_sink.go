package target

import (
	"context"
	"fmt"

	ws "github.com/0xmhha/xchain-watcher/pkg/target/websocket"
)

// NewWebSocketSink queues every event on hub. Delivery to subscribers is
// best effort; a full or stopped hub fails the batch.
func NewWebSocketSink[T Message](hub *ws.Hub) (Sink[T], error) {
	if hub == nil {
		return nil, fmt.Errorf("%w: websocket hub is nil", ErrInvalidConfiguration)
	}
	return func(_ context.Context, batch []T) error {
		for _, event := range batch {
			if err := hub.Broadcast(&ws.Event{Topic: event.Topic(), Key: event.Key(), Data: event}); err != nil {
				return fmt.Errorf("broadcast %s: %w", event.Key(), err)
			}
		}
		return nil
	}, nil
}
