// Package types defines the job definitions, cursors and canonical messages
// shared by every watcher package.
package types

import (
	"fmt"
	"time"
)

// Cursor marks the last block a job has fully processed and dispatched.
type Cursor struct {
	Chain              string    `json:"chain"`
	LastProcessedBlock uint64    `json:"lastProcessedBlock"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// BlockWindow is an inclusive range of blocks.
type BlockWindow struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Size returns the number of blocks covered by the window.
func (w BlockWindow) Size() uint64 {
	if w.To < w.From {
		return 0
	}
	return w.To - w.From + 1
}

// Contains reports whether block lies within the window.
func (w BlockWindow) Contains(block uint64) bool {
	return block >= w.From && block <= w.To
}

// Validate checks that the window is non-empty, never crosses the finalized
// height and fits within maxBatch blocks.
func (w BlockWindow) Validate(finalized, maxBatch uint64) error {
	if w.To < w.From {
		return fmt.Errorf("empty window [%d,%d]", w.From, w.To)
	}
	if w.To > finalized {
		return fmt.Errorf("window [%d,%d] exceeds finalized height %d", w.From, w.To, finalized)
	}
	if w.Size() > maxBatch {
		return fmt.Errorf("window [%d,%d] exceeds max batch size %d", w.From, w.To, maxBatch)
	}
	return nil
}

func (w BlockWindow) String() string {
	return fmt.Sprintf("[%d,%d]", w.From, w.To)
}

// CanonicalMessage is the chain-independent form of one cross-chain message.
type CanonicalMessage struct {
	Chain       string    `json:"chain"`
	TxHash      string    `json:"txHash"`
	Emitter     string    `json:"emitter"`
	Sequence    string    `json:"sequence"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     []byte    `json:"payload"`
	BlockKey    string    `json:"blockKey"`
	MessageKey  string    `json:"messageKey"`
}
