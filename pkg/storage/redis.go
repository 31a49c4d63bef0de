package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/0xmhha/xchain-watcher/internal/config"
)

// NewRedisClient creates a standalone or cluster client from cfg. It does
// not dial; call Ping to verify connectivity.
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("redis: no addresses configured")
	}

	if cfg.ClusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	}

	// Standalone mode uses the first address
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}), nil
}

// RedisMetadata stores JSON-encoded metadata values under prefix:<id>.
type RedisMetadata[M any] struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisMetadata returns a metadata repository over client.
func NewRedisMetadata[M any](client redis.UniversalClient, prefix string) *RedisMetadata[M] {
	return &RedisMetadata[M]{client: client, prefix: prefix}
}

func (r *RedisMetadata[M]) key(id string) string {
	if r.prefix == "" {
		return string(MetadataKey(id))
	}
	return r.prefix + ":" + string(MetadataKey(id))
}

// Get returns the value stored for id.
func (r *RedisMetadata[M]) Get(ctx context.Context, id string) (M, bool, error) {
	var zero M
	if err := validateID(id); err != nil {
		return zero, false, err
	}
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", id, err)
	}
	var value M
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("%w: metadata %s: %v", ErrInvalidData, id, err)
	}
	return value, true, nil
}

// Save replaces the value stored for id. Values never expire.
func (r *RedisMetadata[M]) Save(ctx context.Context, id string, value M) error {
	if err := validateID(id); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", id, err)
	}
	if err := r.client.Set(ctx, r.key(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}
