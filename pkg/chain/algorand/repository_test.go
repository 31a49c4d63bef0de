package algorand

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

type fakeIndexer struct {
	t            *testing.T
	pages        map[string]ApplicationLogsPage
	transactions map[string]Transaction
	lastRound    uint64
	currentRound uint64
	failures     atomic.Int32
	logCalls     atomic.Int32
}

func (f *fakeIndexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	var body any
	switch {
	case r.URL.Path == "/v2/status":
		assert.Equal(f.t, "algod-token", r.Header.Get(algodTokenHeader))
		body = statusResponse{LastRound: f.lastRound}
	case r.URL.Path == "/v2/applications/42/logs":
		f.logCalls.Add(1)
		assert.Equal(f.t, "indexer-token", r.Header.Get(indexerTokenHeader))
		assert.Equal(f.t, "100", r.URL.Query().Get("min-round"))
		assert.Equal(f.t, "200", r.URL.Query().Get("max-round"))
		page := f.pages[r.URL.Query().Get("next")]
		page.CurrentRound = f.currentRound
		body = page
	case r.URL.Path == "/v2/transactions":
		var txs []Transaction
		if tx, ok := f.transactions[r.URL.Query().Get("txid")]; ok {
			txs = append(txs, tx)
		}
		body = transactionsResponse{Transactions: txs}
	case r.URL.Path == "/v2/blocks/200":
		body = Block{Round: 200, Timestamp: 1_700_000_000}
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func newFakeIndexer(t *testing.T) *fakeIndexer {
	return &fakeIndexer{
		t:            t,
		lastRound:    12345,
		currentRound: 12345,
		pages: map[string]ApplicationLogsPage{
			"": {
				LogData:   []ApplicationLog{{TxID: "A"}, {TxID: "B"}},
				NextToken: "page-2",
			},
			"page-2": {
				LogData:   []ApplicationLog{{TxID: "B"}, {TxID: "C"}},
				NextToken: "page-3",
			},
			"page-3": {},
		},
		transactions: map[string]Transaction{
			"A": {ID: "A", TxType: TxTypeAppCall},
			"B": {ID: "B", TxType: TxTypeAppCall},
			"C": {ID: "C", TxType: TxTypeAppCall},
		},
	}
}

func newTestRepository(t *testing.T, handler http.Handler) *Repository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.AlgodURL = srv.URL
	cfg.AlgodToken = "algod-token"
	cfg.IndexerURL = srv.URL + "/"
	cfg.IndexerToken = "indexer-token"
	cfg.AppID = testAppID
	cfg.RPS = 1000
	cfg.RetryDelay = time.Millisecond

	client, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	repo, err := NewRepository(client, cfg.AppID, zap.NewNop())
	require.NoError(t, err)
	return repo
}

func TestRepository_GetFinalizedHeight(t *testing.T) {
	repo := newTestRepository(t, newFakeIndexer(t))

	height, err := repo.GetFinalizedHeight(context.Background(), types.CommitmentFinalized)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), height)
}

func TestRepository_PaginatesToExhaustion(t *testing.T) {
	idx := newFakeIndexer(t)
	repo := newTestRepository(t, idx)

	txs, err := repo.GetRawRecordsInRange(context.Background(), types.BlockWindow{From: 100, To: 200})
	require.NoError(t, err)

	var ids []string
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)
	assert.Equal(t, int32(3), idx.logCalls.Load())
}

func TestRepository_RetriesServerErrors(t *testing.T) {
	idx := newFakeIndexer(t)
	idx.failures.Store(2)
	repo := newTestRepository(t, idx)

	height, err := repo.GetFinalizedHeight(context.Background(), types.CommitmentFinalized)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), height)
}

func TestRepository_MissingTransactionIsTransient(t *testing.T) {
	idx := newFakeIndexer(t)
	delete(idx.transactions, "C")
	repo := newTestRepository(t, idx)

	_, err := repo.GetRawRecordsInRange(context.Background(), types.BlockWindow{From: 100, To: 200})
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
}

func TestRepository_RepeatedTokenIsTransient(t *testing.T) {
	idx := newFakeIndexer(t)
	idx.pages["page-3"] = ApplicationLogsPage{LogData: []ApplicationLog{{TxID: "C"}}, NextToken: "page-2"}
	repo := newTestRepository(t, idx)

	_, err := repo.GetRawRecordsInRange(context.Background(), types.BlockWindow{From: 100, To: 200})
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
}

func TestRepository_LaggingIndexerIsTransient(t *testing.T) {
	idx := newFakeIndexer(t)
	idx.currentRound = 150
	repo := newTestRepository(t, idx)

	_, err := repo.GetRawRecordsInRange(context.Background(), types.BlockWindow{From: 100, To: 200})
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
	assert.Contains(t, err.Error(), "round 150")
	assert.Equal(t, int32(1), idx.logCalls.Load())

	idx.currentRound = 200
	txs, err := repo.GetRawRecordsInRange(context.Background(), types.BlockWindow{From: 100, To: 200})
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestRepository_ExhaustedRetriesAreTransient(t *testing.T) {
	idx := newFakeIndexer(t)
	idx.failures.Store(100)
	repo := newTestRepository(t, idx)

	_, err := repo.GetFinalizedHeight(context.Background(), types.CommitmentFinalized)
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
}

func TestRepository_UnauthorizedIsConfiguration(t *testing.T) {
	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))

	_, err := repo.GetFinalizedHeight(context.Background(), types.CommitmentFinalized)
	require.Error(t, err)
	assert.True(t, chain.IsConfiguration(err))
}

func TestRepository_RejectedTokenAfterSuccessIsTransient(t *testing.T) {
	var rejected atomic.Bool
	idx := newFakeIndexer(t)
	repo := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejected.Load() {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		idx.ServeHTTP(w, r)
	}))

	_, err := repo.GetFinalizedHeight(context.Background(), types.CommitmentFinalized)
	require.NoError(t, err)

	rejected.Store(true)
	_, err = repo.GetFinalizedHeight(context.Background(), types.CommitmentFinalized)
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
	assert.False(t, chain.IsConfiguration(err))
}

func TestRepository_GetBlockTimestamp(t *testing.T) {
	repo := newTestRepository(t, newFakeIndexer(t))

	ts, err := repo.GetBlockTimestamp(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), ts)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing algod", func(c *Config) { c.AlgodURL = "" }},
		{"missing indexer", func(c *Config) { c.IndexerURL = "" }},
		{"bad scheme", func(c *Config) { c.IndexerURL = "ftp://indexer" }},
		{"missing app", func(c *Config) { c.AppID = 0 }},
		{"zero rps", func(c *Config) { c.RPS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AlgodURL = "http://algod:4001"
			cfg.IndexerURL = "http://indexer:8980"
			cfg.AppID = 1
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, chain.IsConfiguration(err))
		})
	}
}
