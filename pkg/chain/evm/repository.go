package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// DefaultMaxLogRange bounds the block span of a single eth_getLogs call.
const DefaultMaxLogRange = 2000

// API is the subset of Client used by Repository.
type API interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BatchGetHeaders(ctx context.Context, numbers []uint64) ([]*ethtypes.Header, error)
}

// Record is one log together with the time of its block.
type Record struct {
	Log       ethtypes.Log
	BlockTime uint64
}

// RepositoryConfig selects the logs the repository returns.
type RepositoryConfig struct {
	Addresses   []common.Address
	Topics      []common.Hash
	MaxLogRange uint64
}

// Repository implements chain.Repository over an EVM JSON-RPC endpoint.
type Repository struct {
	api    API
	cfg    RepositoryConfig
	logger *zap.Logger
}

var (
	_ chain.Repository[Record] = (*Repository)(nil)
	_ chain.BlockTimer         = (*Repository)(nil)
)

// NewRepository returns a repository reading logs of cfg.Addresses.
func NewRepository(api API, cfg RepositoryConfig, logger *zap.Logger) (*Repository, error) {
	if api == nil {
		return nil, chain.Configurationf("evm: client is required")
	}
	if len(cfg.Addresses) == 0 {
		return nil, chain.Configurationf("evm: at least one contract address is required")
	}
	if cfg.MaxLogRange == 0 {
		cfg.MaxLogRange = DefaultMaxLogRange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{api: api, cfg: cfg, logger: logger.Named("evm-repository")}, nil
}

// CommitmentBlockNumber maps a commitment level to the block tag used to
// query its height.
func CommitmentBlockNumber(commitment string) (rpc.BlockNumber, error) {
	switch commitment {
	case types.CommitmentLatest:
		return rpc.LatestBlockNumber, nil
	case types.CommitmentSafe:
		return rpc.SafeBlockNumber, nil
	case types.CommitmentFinalized, "":
		return rpc.FinalizedBlockNumber, nil
	default:
		return 0, chain.Configurationf("evm: unknown commitment %q", commitment)
	}
}

// GetFinalizedHeight returns the height of the block tagged by commitment.
func (r *Repository) GetFinalizedHeight(ctx context.Context, commitment string) (uint64, error) {
	tag, err := CommitmentBlockNumber(commitment)
	if err != nil {
		return 0, err
	}
	header, err := r.api.HeaderByNumber(ctx, big.NewInt(tag.Int64()))
	if err != nil {
		return 0, chain.Transient(err)
	}
	if header == nil || header.Number == nil {
		return 0, chain.Transient(fmt.Errorf("no %s header", commitment))
	}
	return header.Number.Uint64(), nil
}

// GetRawRecordsInRange returns the logs of the window in chain order,
// splitting the window into chunks of at most MaxLogRange blocks.
func (r *Repository) GetRawRecordsInRange(ctx context.Context, window types.BlockWindow) ([]Record, error) {
	var logs []ethtypes.Log
	for from := window.From; from <= window.To; {
		to := from + r.cfg.MaxLogRange - 1
		if to > window.To || to < from {
			to = window.To
		}

		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: r.cfg.Addresses,
		}
		if len(r.cfg.Topics) > 0 {
			q.Topics = [][]common.Hash{r.cfg.Topics}
		}

		chunk, err := r.api.FilterLogs(ctx, q)
		if err != nil {
			return nil, chain.Transient(err)
		}
		for _, l := range chunk {
			if !l.Removed {
				logs = append(logs, l)
			}
		}

		if to == window.To {
			break
		}
		from = to + 1
	}

	times, err := r.blockTimes(ctx, logs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	records := make([]Record, 0, len(logs))
	for _, l := range logs {
		records = append(records, Record{Log: l, BlockTime: times[l.BlockNumber]})
	}

	r.logger.Debug("fetched logs",
		zap.Stringer("window", window),
		zap.Int("logs", len(records)),
		zap.Int("blocks", len(times)),
	)
	return records, nil
}

// GetBlockTimestamp returns the time of block.
func (r *Repository) GetBlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	header, err := r.api.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return time.Time{}, chain.Transient(err)
	}
	if header == nil {
		return time.Time{}, chain.Transient(fmt.Errorf("block %d not found", block))
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (r *Repository) blockTimes(ctx context.Context, logs []ethtypes.Log) (map[uint64]uint64, error) {
	times := make(map[uint64]uint64)
	var numbers []uint64
	for _, l := range logs {
		if _, ok := times[l.BlockNumber]; ok {
			continue
		}
		times[l.BlockNumber] = 0
		numbers = append(numbers, l.BlockNumber)
	}
	if len(numbers) == 0 {
		return times, nil
	}

	headers, err := r.api.BatchGetHeaders(ctx, numbers)
	if err != nil {
		return nil, chain.Transient(err)
	}
	if len(headers) != len(numbers) {
		return nil, chain.Transient(fmt.Errorf("requested %d headers, got %d", len(numbers), len(headers)))
	}
	for i, h := range headers {
		times[numbers[i]] = h.Time
	}
	return times, nil
}
