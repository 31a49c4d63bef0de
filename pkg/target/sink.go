// Package target holds the sinks a pipeline forwards mapped events to.
package target

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned when a sink cannot be built.
var ErrInvalidConfiguration = errors.New("invalid target configuration")

// Sink forwards one batch. A nil error means the whole batch was accepted.
type Sink[T any] func(ctx context.Context, batch []T) error

// Message is implemented by events forwarded to keyed targets.
type Message interface {
	// Key identifies the message for dedup and partitioning
	Key() string
	// Topic groups messages on fan-out targets
	Topic() string
}

// Fanout forwards each batch to every sink in order and stops at the first
// failure.
func Fanout[T any](sinks ...Sink[T]) Sink[T] {
	return func(ctx context.Context, batch []T) error {
		for i, sink := range sinks {
			if err := sink(ctx, batch); err != nil {
				return fmt.Errorf("sink %d: %w", i, err)
			}
		}
		return nil
	}
}

// Discard accepts every batch.
func Discard[T any]() Sink[T] {
	return func(context.Context, []T) error { return nil }
}
