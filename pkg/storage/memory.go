package storage

import (
	"context"
	"sync"

	"github.com/0xmhha/xchain-watcher/pkg/keys"
)

// MemoryMetadata keeps metadata in process memory.
type MemoryMetadata[M any] struct {
	mu     sync.RWMutex
	values map[string]M
}

// NewMemoryMetadata returns an empty in-memory repository.
func NewMemoryMetadata[M any]() *MemoryMetadata[M] {
	return &MemoryMetadata[M]{values: make(map[string]M)}
}

// Get returns the value stored for id.
func (m *MemoryMetadata[M]) Get(_ context.Context, id string) (M, bool, error) {
	var zero M
	if err := validateID(id); err != nil {
		return zero, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[id]
	return v, ok, nil
}

// Save replaces the value stored for id.
func (m *MemoryMetadata[M]) Save(_ context.Context, id string, value M) error {
	if err := validateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[id] = value
	return nil
}

// MemoryBlockIndex keeps the block index in process memory.
type MemoryBlockIndex struct {
	mu     sync.RWMutex
	chains map[string]map[string][]string
}

var _ BlockIndex = (*MemoryBlockIndex)(nil)

// NewMemoryBlockIndex returns an empty block index.
func NewMemoryBlockIndex() *MemoryBlockIndex {
	return &MemoryBlockIndex{chains: make(map[string]map[string][]string)}
}

// SaveBlocks merges blocks into the index of chain.
func (m *MemoryBlockIndex) SaveBlocks(_ context.Context, chain string, blocks *keys.MessagesByBlock) error {
	if blocks == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.chains[chain]
	if !ok {
		idx = make(map[string][]string)
		m.chains[chain] = idx
	}
	for k, v := range blocks.Map() {
		idx[k] = v
	}
	return nil
}

// Blocks returns a copy of the index of chain.
func (m *MemoryBlockIndex) Blocks(_ context.Context, chain string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.chains[chain]))
	for k, v := range m.chains[chain] {
		out[k] = append([]string{}, v...)
	}
	return out, nil
}
