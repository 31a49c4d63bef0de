package watcher_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/chain/algorand"
	"github.com/0xmhha/xchain-watcher/pkg/handler"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/storage"
	"github.com/0xmhha/xchain-watcher/pkg/target"
	"github.com/0xmhha/xchain-watcher/pkg/types"
	"github.com/0xmhha/xchain-watcher/pkg/watcher"
)

const appID = 42

type staticRepo struct {
	finalized uint64
	txs       []algorand.Transaction
}

func (r staticRepo) GetFinalizedHeight(context.Context, string) (uint64, error) {
	return r.finalized, nil
}

func (r staticRepo) GetRawRecordsInRange(_ context.Context, w types.BlockWindow) ([]algorand.Transaction, error) {
	var out []algorand.Transaction
	for _, tx := range r.txs {
		if w.Contains(tx.ConfirmedRound) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func publish(t *testing.T, id string, round uint64, sequence []byte) algorand.Transaction {
	t.Helper()
	sender, err := algorand.EncodeAddress(bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)
	return algorand.Transaction{
		ID:             id,
		TxType:         algorand.TxTypeAppCall,
		Sender:         sender,
		ConfirmedRound: round,
		RoundTime:      1_700_000_000 + int64(round),
		Logs:           []string{base64.StdEncoding.EncodeToString(sequence)},
		ApplicationTransaction: &algorand.ApplicationTransaction{
			ApplicationID: appID,
			ApplicationArgs: []string{
				base64.StdEncoding.EncodeToString([]byte("publishMessage")),
				base64.StdEncoding.EncodeToString([]byte("payload-" + id)),
			},
		},
	}
}

func TestScheduler_IdempotentReprocessing(t *testing.T) {
	job := types.NewJobDefinition(types.JobDefinition{
		ID:           "poll-algorand",
		Chain:        "algorand",
		Interval:     time.Second,
		MaxBatchSize: 100,
		StartBlock:   func() *uint64 { v := uint64(10); return &v }(),
	})
	repo := staticRepo{
		finalized: 50,
		txs: []algorand.Transaction{
			publish(t, "TX1", 12, []byte{0x01, 0x02}),
			publish(t, "TX2", 20, []byte{0x01, 0x03}),
			publish(t, "TX3", 30, []byte{0x01, 0x04}),
		},
	}
	extractor, err := algorand.NewExtractor(job.Chain, appID)
	require.NoError(t, err)

	sink := target.NewMemorySink[handler.MessageFoundEvent]()
	var forwarded [][]handler.MessageFoundEvent
	record := func(ctx context.Context, batch []handler.MessageFoundEvent) error {
		forwarded = append(forwarded, batch)
		return sink.Forward(ctx, batch)
	}
	statRepo := stats.NewPromStatRepository("test", nil)
	pipeline := handler.NewPipeline(handler.ConfigFromJob(job), handler.NewMessageMapper(job.Protocol), record, statRepo)

	run := func(metadata storage.MetadataRepository[types.Cursor]) watcher.TickResult {
		s, err := watcher.NewScheduler[algorand.Transaction](job, repo, extractor, watcher.Dispatcher{pipeline}, metadata, statRepo, zap.NewNop())
		require.NoError(t, err)
		res, err := s.Tick(context.Background())
		require.NoError(t, err)
		return res
	}

	first := run(storage.NewMemoryMetadata[types.Cursor]())
	// A crash before the commit is modelled by a fresh cursor store.
	second := run(storage.NewMemoryMetadata[types.Cursor]())

	assert.Equal(t, first.Window, second.Window)
	assert.Equal(t, 3, first.Messages)

	require.Len(t, forwarded, 2)
	assert.Equal(t, forwarded[0], forwarded[1], "reprocessing yields identical batches")

	assert.Equal(t, 3, sink.Len())
	assert.Equal(t, 3, sink.Duplicates())
	assert.Equal(t, "258", sink.Events()[0].Attributes.Sequence)
	assert.Equal(t, "259", sink.Events()[1].Attributes.Sequence)

	count, ok := statRepo.Value("process_source_event", map[string]string{
		stats.LabelJob:        job.ID,
		stats.LabelChain:      job.Chain,
		stats.LabelProtocol:   "wormhole",
		stats.LabelCommitment: types.CommitmentFinalized,
	})
	require.True(t, ok)
	assert.Equal(t, 6.0, count)
}
