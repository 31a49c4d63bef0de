package target

import (
	"context"
	"sync"
)

// MemorySink keeps one copy of every event, keyed by message key. A batch
// delivered twice leaves the store unchanged.
type MemorySink[T Message] struct {
	mu         sync.RWMutex
	order      []string
	events     map[string]T
	deliveries int
	duplicates int
}

// NewMemorySink returns an empty store.
func NewMemorySink[T Message]() *MemorySink[T] {
	return &MemorySink[T]{events: make(map[string]T)}
}

// Sink returns the forwarding function of the store.
func (m *MemorySink[T]) Sink() Sink[T] {
	return m.Forward
}

// Forward stores every event of batch whose key has not been seen.
func (m *MemorySink[T]) Forward(_ context.Context, batch []T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries++
	for _, event := range batch {
		key := event.Key()
		if _, ok := m.events[key]; ok {
			m.duplicates++
			continue
		}
		m.events[key] = event
		m.order = append(m.order, key)
	}
	return nil
}

// Events returns the stored events in first-delivery order.
func (m *MemorySink[T]) Events() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.events[key])
	}
	return out
}

// Len returns the number of distinct events.
func (m *MemorySink[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Deliveries returns the number of batches forwarded.
func (m *MemorySink[T]) Deliveries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deliveries
}

// Duplicates returns the number of events absorbed because their key was
// already stored.
func (m *MemorySink[T]) Duplicates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duplicates
}
