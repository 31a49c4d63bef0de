// Package chain defines what a chain family has to provide so the watcher
// can follow it: a repository over the network's RPC or indexer surface and
// an extractor turning raw records into canonical messages.
package chain

import (
	"context"
	"time"

	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// Repository exposes a chain through a uniform fetch contract.
//
// GetRawRecordsInRange returns every matching record of the window. When a
// provider paginates, the implementation follows continuation tokens until
// they are exhausted; if it cannot, it returns a transient error rather
// than a truncated result.
type Repository[R any] interface {
	GetFinalizedHeight(ctx context.Context, commitment string) (uint64, error)
	GetRawRecordsInRange(ctx context.Context, window types.BlockWindow) ([]R, error)
}

// BlockTimer is implemented by repositories that can report a block's time.
type BlockTimer interface {
	GetBlockTimestamp(ctx context.Context, block uint64) (time.Time, error)
}

// Extractor turns one raw record into zero or more canonical messages.
// parentTxHash is empty for top-level records. Extract is pure: identical
// inputs always yield identical outputs.
type Extractor[R any] interface {
	Extract(record R, parentTxHash string) ([]types.CanonicalMessage, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc[R any] func(record R, parentTxHash string) ([]types.CanonicalMessage, error)

// Extract calls f.
func (f ExtractorFunc[R]) Extract(record R, parentTxHash string) ([]types.CanonicalMessage, error) {
	return f(record, parentTxHash)
}

// Family names a supported chain family.
type Family string

const (
	FamilyAlgorand Family = "algorand"
	FamilyEVM      Family = "evm"
)
