package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/keys"
)

// PebbleConfig holds pebble tuning.
type PebbleConfig struct {
	// Path to the database directory
	Path string

	// Cache size in MB
	Cache int

	// MaxOpenFiles is the maximum number of open files
	MaxOpenFiles int

	// WriteBuffer size in MB
	WriteBuffer int
}

// DefaultPebbleConfig returns the default configuration for path.
func DefaultPebbleConfig(path string) *PebbleConfig {
	return &PebbleConfig{
		Path:         path,
		Cache:        64,
		MaxOpenFiles: 500,
		WriteBuffer:  16,
	}
}

// Validate checks the configuration.
func (c *PebbleConfig) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 || c.MaxOpenFiles < 0 || c.WriteBuffer < 0 {
		return errors.New("pebble sizes cannot be negative")
	}
	return nil
}

// PebbleStore is a pebble database holding metadata and the block index.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger
	closed atomic.Bool
}

var _ BlockIndex = (*PebbleStore)(nil)

// NewPebbleStore opens (or creates) the database at cfg.Path.
func NewPebbleStore(cfg *PebbleConfig, logger *zap.Logger) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &pebble.Options{
		MaxOpenFiles: cfg.MaxOpenFiles,
		MemTableSize: uint64(cfg.WriteBuffer) << 20,
	}
	if cfg.Cache > 0 {
		cache := pebble.NewCache(int64(cfg.Cache) << 20)
		defer cache.Unref()
		opts.Cache = cache
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("opened pebble store", zap.String("path", cfg.Path))
	return &PebbleStore{db: db, logger: logger.Named("pebble")}, nil
}

func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, false, err
	}
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

func (s *PebbleStore) set(key, value []byte) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SaveBlocks writes every block of the grouping in one synced batch.
func (s *PebbleStore) SaveBlocks(_ context.Context, chain string, blocks *keys.MessagesByBlock) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if blocks == nil || blocks.Len() == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, blockKey := range blocks.Keys() {
		msgs, _ := blocks.Get(blockKey)
		value, err := json.Marshal(msgs)
		if err != nil {
			return fmt.Errorf("failed to encode block %s: %w", blockKey, err)
		}
		if err := batch.Set(BlockIndexKey(chain, blockKey), value, nil); err != nil {
			return fmt.Errorf("failed to stage block %s: %w", blockKey, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block index: %w", err)
	}
	return nil
}

// Blocks returns every indexed block of chain.
func (s *PebbleStore) Blocks(_ context.Context, chain string) (map[string][]string, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	prefix := BlockIndexPrefix(chain)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementPrefix(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[string][]string)
	for iter.First(); iter.Valid(); iter.Next() {
		blockKey := strings.TrimPrefix(string(iter.Key()), string(prefix))
		var msgs []string
		if err := json.Unmarshal(iter.Value(), &msgs); err != nil {
			return nil, fmt.Errorf("%w: block %s: %v", ErrInvalidData, blockKey, err)
		}
		out[blockKey] = msgs
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate block index: %w", err)
	}
	return out, nil
}

// PebbleMetadata stores JSON-encoded metadata values in a PebbleStore.
type PebbleMetadata[M any] struct {
	store *PebbleStore
}

// NewPebbleMetadata returns a metadata repository over store.
func NewPebbleMetadata[M any](store *PebbleStore) *PebbleMetadata[M] {
	return &PebbleMetadata[M]{store: store}
}

// Get returns the value stored for id.
func (m *PebbleMetadata[M]) Get(_ context.Context, id string) (M, bool, error) {
	var zero M
	if err := validateID(id); err != nil {
		return zero, false, err
	}
	raw, ok, err := m.store.get(MetadataKey(id))
	if err != nil || !ok {
		return zero, false, err
	}
	var value M
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("%w: metadata %s: %v", ErrInvalidData, id, err)
	}
	return value, true, nil
}

// Save replaces the value stored for id.
func (m *PebbleMetadata[M]) Save(_ context.Context, id string, value M) error {
	if err := validateID(id); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", id, err)
	}
	return m.store.set(MetadataKey(id), raw)
}
