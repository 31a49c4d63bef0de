// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"math/big"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// NewTestLogger creates a logger that writes through t.Log at warn level and above
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// NewTestJob returns a normalized job polling chainName every second in
// windows of at most ten blocks.
func NewTestJob(id, chainName string, targets ...string) types.JobDefinition {
	return types.NewJobDefinition(types.JobDefinition{
		ID:           id,
		Chain:        chainName,
		Interval:     time.Second,
		MaxBatchSize: 10,
		Targets:      targets,
	})
}

// NewTestHeader creates a header at height whose timestamp is derived from the height
func NewTestHeader(height uint64) *ethtypes.Header {
	return &ethtypes.Header{
		Number: new(big.Int).SetUint64(height),
		Time:   1_700_000_000 + height,
	}
}

// Uint64Ptr returns a pointer to v
func Uint64Ptr(v uint64) *uint64 {
	return &v
}

// WaitFor polls cond until it holds or two seconds pass
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
