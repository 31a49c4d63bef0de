package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/config"
	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/chain/algorand"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/storage"
	"github.com/0xmhha/xchain-watcher/pkg/target"
	"github.com/0xmhha/xchain-watcher/pkg/types"
	"github.com/0xmhha/xchain-watcher/pkg/watcher"
)

const jobsYAML = `
jobs:
  - id: poll-algorand
    chain: algorand
    targets: [memory]
  - id: poll-sepolia
    chain: Sepolia
    interval: 12s
    commitment: safe
    filter:
      addresses: ["0x4a8bc80Ed5a4067f1CCf107057b8270E0cC11A78"]
    targets: [log, memory]
`

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Algorand.AlgodURL = "http://127.0.0.1:4001"
	cfg.Algorand.IndexerURL = "http://127.0.0.1:8980"
	cfg.Algorand.AppID = 86525623
	cfg.EVM.Chains = map[string]config.EVMChainConfig{
		"sepolia": {RPCEndpoint: "http://127.0.0.1:1", ChainID: 11155111, Timeout: time.Second},
	}
	return cfg
}

func newTestRepository(t *testing.T, cfg *config.Config) *Repository {
	t.Helper()
	r, err := NewRepository(cfg, Dependencies{
		Metadata: storage.NewMemoryMetadata[types.Cursor](),
		Stats:    stats.NewPromStatRepository("test", nil),
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestParse_Defaults(t *testing.T) {
	r := newTestRepository(t, testConfig())

	jobs, err := Parse([]byte(jobsYAML), r.Defaults())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	alg := jobs[0]
	assert.Equal(t, uint64(algorand.MaxBatchSize), alg.MaxBatchSize)
	assert.Equal(t, r.cfg.Jobs.DefaultInterval, alg.Interval)
	assert.Equal(t, types.CommitmentFinalized, alg.Commitment)

	evmJob := jobs[1]
	assert.Equal(t, "sepolia", evmJob.Chain)
	assert.Equal(t, r.cfg.Jobs.DefaultBatch, evmJob.MaxBatchSize)
	assert.Equal(t, 12*time.Second, evmJob.Interval)
	assert.Equal(t, types.CommitmentSafe, evmJob.Commitment)
	assert.Equal(t, []string{"0x4a8bc80ed5a4067f1ccf107057b8270e0cc11a78"}, evmJob.Filter.Addresses)
}

func TestParse_Errors(t *testing.T) {
	defaults := Defaults{Interval: time.Second, MaxBatchSize: 10}
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "jobs: [:"},
		{"no jobs", "jobs: []"},
		{"missing id", "jobs:\n  - chain: algorand\n"},
		{"bad commitment", "jobs:\n  - id: a\n    chain: algorand\n    commitment: pending\n"},
		{"duplicate id", "jobs:\n  - id: a\n    chain: algorand\n  - id: a\n    chain: sepolia\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), defaults)
			require.Error(t, err)
			assert.True(t, chain.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestGetJobDefinitions(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.File = filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(cfg.Jobs.File, []byte(jobsYAML), 0o600))

	jobs, err := newTestRepository(t, cfg).GetJobDefinitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	cfg.Jobs.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = newTestRepository(t, cfg).GetJobDefinitions(context.Background())
	assert.True(t, chain.IsConfiguration(err))
}

func TestNewRepository_Validation(t *testing.T) {
	_, err := NewRepository(nil, Dependencies{}, nil)
	assert.True(t, chain.IsConfiguration(err))

	_, err = NewRepository(testConfig(), Dependencies{Stats: stats.NewPromStatRepository("test", nil)}, nil)
	assert.True(t, chain.IsConfiguration(err))
}

func TestFamily(t *testing.T) {
	r := newTestRepository(t, testConfig())

	f, ok := r.Family("Algorand")
	assert.True(t, ok)
	assert.Equal(t, chain.FamilyAlgorand, f)

	f, ok = r.Family("sepolia")
	assert.True(t, ok)
	assert.Equal(t, chain.FamilyEVM, f)

	_, ok = r.Family("solana")
	assert.False(t, ok)
}

func job(id, chainName string, targets ...string) types.JobDefinition {
	return types.NewJobDefinition(types.JobDefinition{
		ID:           id,
		Chain:        chainName,
		Interval:     time.Second,
		MaxBatchSize: 10,
		Targets:      targets,
		Filter:       types.Filter{Addresses: []string{"0x4a8bc80Ed5a4067f1CCf107057b8270E0cC11A78"}},
	})
}

func TestGetHandlers(t *testing.T) {
	r := newTestRepository(t, testConfig())

	handlers, err := r.GetHandlers(job("a", "algorand", "memory", "LOG"))
	require.NoError(t, err)
	assert.Len(t, handlers, 2)
	require.NotNil(t, r.deps.Targets.Memory)

	tests := []struct {
		name    string
		targets []string
	}{
		{"no targets", nil},
		{"unknown target", []string{"smtp"}},
		{"kafka not configured", []string{"kafka"}},
		{"redis not configured", []string{"redis"}},
		{"websocket not configured", []string{"websocket"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.GetHandlers(job("a", "algorand", tt.targets...))
			require.Error(t, err)
			assert.True(t, chain.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestGetHandlers_ForwardToMemory(t *testing.T) {
	r := newTestRepository(t, testConfig())

	handlers, err := r.GetHandlers(job("a", "algorand", "memory"))
	require.NoError(t, err)

	msgs := []types.CanonicalMessage{{
		Chain:      "algorand",
		Emitter:    "emitter",
		Sequence:   "1",
		MessageKey: "algorand/emitter/1",
		TxHash:     "TX",
	}}
	require.NoError(t, watcher.Dispatcher(handlers).HandleMessages(context.Background(), msgs))
	assert.Equal(t, 1, r.deps.Targets.Memory.Len())
}

func TestGetSource_Algorand(t *testing.T) {
	r := newTestRepository(t, testConfig())

	src, err := r.GetSource(context.Background(), job("poll-algorand", "algorand", "memory"))
	require.NoError(t, err)
	assert.Equal(t, "poll-algorand", src.Job().ID)
	assert.Equal(t, watcher.StateIdle, src.Status().State)

	_, isCloser := src.(io.Closer)
	assert.False(t, isCloser)
}

func TestGetSource_Errors(t *testing.T) {
	r := newTestRepository(t, testConfig())

	_, err := r.GetSource(context.Background(), job("a", "solana", "memory"))
	assert.True(t, chain.IsConfiguration(err))

	_, err = r.GetSource(context.Background(), job("a", "algorand", "nowhere"))
	assert.True(t, chain.IsConfiguration(err))

	cfg := testConfig()
	cfg.Algorand.AppID = 0
	_, err = newTestRepository(t, cfg).GetSource(context.Background(), job("a", "algorand", "memory"))
	assert.True(t, chain.IsConfiguration(err))
}

// rpcServer answers eth_chainId with chainID.
func rpcServer(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var call struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(req.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"jsonrpc": "2.0", "id": call.ID}
		if call.Method == "eth_chainId" {
			resp["result"] = chainID
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetSource_EVM(t *testing.T) {
	srv := rpcServer(t, "0xaa36a7")
	cfg := testConfig()
	cfg.EVM.Chains["sepolia"] = config.EVMChainConfig{RPCEndpoint: srv.URL, ChainID: 11155111, Timeout: time.Second}

	src, err := newTestRepository(t, cfg).GetSource(context.Background(), job("poll-sepolia", "sepolia", "memory"))
	require.NoError(t, err)
	assert.Equal(t, "sepolia", src.Status().Chain)

	closer, ok := src.(io.Closer)
	require.True(t, ok)
	assert.NoError(t, closer.Close())
}

func TestGetSource_EVMChainMismatch(t *testing.T) {
	srv := rpcServer(t, "0x1")
	cfg := testConfig()
	cfg.EVM.Chains["sepolia"] = config.EVMChainConfig{RPCEndpoint: srv.URL, ChainID: 11155111, Timeout: time.Second}

	_, err := newTestRepository(t, cfg).GetSource(context.Background(), job("poll-sepolia", "sepolia", "memory"))
	require.Error(t, err)
	assert.True(t, chain.IsConfiguration(err))
}

func TestEVMFilter(t *testing.T) {
	topic := common.HexToHash("0x01")

	addrs, topics, err := evmFilter(types.Filter{Addresses: []string{"0x4a8bc80ed5a4067f1ccf107057b8270e0cc11a78"}}, topic)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress("0x4a8bc80ed5a4067f1ccf107057b8270e0cc11a78")}, addrs)
	assert.Equal(t, []common.Hash{topic}, topics)

	_, topics, err = evmFilter(types.Filter{Topics: []string{"0x02"}}, topic)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{common.HexToHash("0x02")}, topics)

	_, _, err = evmFilter(types.Filter{Addresses: []string{"not-an-address"}}, topic)
	assert.True(t, chain.IsConfiguration(err))
}

var _ target.StreamAdder = (*noStream)(nil)

type noStream struct{ target.StreamAdder }

func TestTargets_Redis(t *testing.T) {
	targets := &Targets{Redis: &noStream{}}
	_, err := targets.Sink(TargetRedis)
	assert.True(t, chain.IsConfiguration(err), "empty stream name")

	targets.Stream = "watcher:messages"
	sink, err := targets.Sink(TargetRedis)
	require.NoError(t, err)
	assert.NotNil(t, sink)
}
