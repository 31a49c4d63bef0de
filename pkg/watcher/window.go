package watcher

import (
	"math"

	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// ComputeWindow returns the window starting at next: [next, min(finalized,
// next+maxBatch-1)]. ok is false when next is beyond finalized or maxBatch
// is zero.
func ComputeWindow(next, finalized, maxBatch uint64) (window types.BlockWindow, ok bool) {
	if maxBatch == 0 || next > finalized {
		return types.BlockWindow{}, false
	}
	to := finalized
	if next <= math.MaxUint64-(maxBatch-1) && next+maxBatch-1 < finalized {
		to = next + maxBatch - 1
	}
	return types.BlockWindow{From: next, To: to}, true
}

// NextWindow returns the window following lastProcessed.
func NextWindow(lastProcessed, finalized, maxBatch uint64) (types.BlockWindow, bool) {
	if lastProcessed >= finalized {
		return types.BlockWindow{}, false
	}
	return ComputeWindow(lastProcessed+1, finalized, maxBatch)
}
