// Package storage persists watcher metadata: job cursors and, optionally,
// the block → message keys grouping of every processed window.
package storage

import (
	"context"
	"errors"

	"github.com/0xmhha/xchain-watcher/pkg/keys"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage is closed")

	// ErrInvalidData is returned when a stored value cannot be decoded.
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidID is returned for empty metadata ids.
	ErrInvalidID = errors.New("invalid metadata id")
)

// MetadataRepository stores one metadata value per id. Get reports absence
// with ok == false rather than an error.
type MetadataRepository[M any] interface {
	Get(ctx context.Context, id string) (value M, ok bool, err error)
	Save(ctx context.Context, id string, value M) error
}

// BlockIndex records which messages each processed block contained.
type BlockIndex interface {
	SaveBlocks(ctx context.Context, chain string, blocks *keys.MessagesByBlock) error
	Blocks(ctx context.Context, chain string) (map[string][]string, error)
}

func validateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return nil
}
