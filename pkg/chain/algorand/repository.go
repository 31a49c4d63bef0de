package algorand

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// MaxBatchSize is the default window size for algorand jobs. The indexer
// paginates through arbitrarily large ranges.
const MaxBatchSize = 100_000

// API is the subset of Client used by Repository.
type API interface {
	Status(ctx context.Context) (uint64, error)
	LookupApplicationLogs(ctx context.Context, appID, minRound, maxRound uint64, next string) (*ApplicationLogsPage, error)
	SearchTransaction(ctx context.Context, txID string) (*Transaction, error)
	LookupBlock(ctx context.Context, round uint64) (*Block, error)
}

// Repository implements chain.Repository for algorand.
type Repository struct {
	api    API
	appID  uint64
	logger *zap.Logger
}

var (
	_ chain.Repository[Transaction] = (*Repository)(nil)
	_ chain.BlockTimer              = (*Repository)(nil)
)

// NewRepository returns a repository reading application appID through api.
func NewRepository(api API, appID uint64, logger *zap.Logger) (*Repository, error) {
	if api == nil {
		return nil, chain.Configurationf("algorand: client is required")
	}
	if appID == 0 {
		return nil, chain.Configurationf("algorand: app id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{api: api, appID: appID, logger: logger.Named("algorand-repository")}, nil
}

// GetFinalizedHeight returns algod's last round. Algorand has instant
// finality so every commitment level maps to the same height.
func (r *Repository) GetFinalizedHeight(ctx context.Context, _ string) (uint64, error) {
	round, err := r.api.Status(ctx)
	if err != nil {
		return 0, wrap(err, "get status")
	}
	return round, nil
}

// GetRawRecordsInRange returns every transaction of the window that
// emitted a log from the configured application.
func (r *Repository) GetRawRecordsInRange(ctx context.Context, window types.BlockWindow) ([]Transaction, error) {
	ids, err := r.transactionIDs(ctx, window)
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := r.api.SearchTransaction(ctx, id)
		if err != nil {
			return nil, wrap(err, "search transaction "+id)
		}
		if tx == nil {
			return nil, chain.Transient(fmt.Errorf("transaction %s listed in application logs but not indexed", id))
		}
		txs = append(txs, *tx)
	}

	r.logger.Debug("fetched transactions",
		zap.Stringer("window", window),
		zap.Int("txids", len(ids)),
		zap.Int("transactions", len(txs)),
	)
	return txs, nil
}

// GetBlockTimestamp returns the time of round.
func (r *Repository) GetBlockTimestamp(ctx context.Context, round uint64) (time.Time, error) {
	block, err := r.api.LookupBlock(ctx, round)
	if err != nil {
		return time.Time{}, wrap(err, fmt.Sprintf("lookup block %d", round))
	}
	return time.Unix(block.Timestamp, 0).UTC(), nil
}

// transactionIDs pages through the application logs of the window until the
// indexer stops returning a continuation token. A page served by an indexer
// that lags behind the window end is retried rather than read as empty.
func (r *Repository) transactionIDs(ctx context.Context, window types.BlockWindow) ([]string, error) {
	var (
		ids    []string
		seen   = make(map[string]struct{})
		tokens = make(map[string]struct{})
		next   string
		pages  int
	)
	for {
		page, err := r.api.LookupApplicationLogs(ctx, r.appID, window.From, window.To, next)
		if err != nil {
			return nil, wrap(err, fmt.Sprintf("lookup application logs page %d", pages))
		}
		pages++
		if page.CurrentRound < window.To {
			return nil, chain.Transient(fmt.Errorf("indexer at round %d has not reached window end %d", page.CurrentRound, window.To))
		}

		for _, entry := range page.LogData {
			if entry.TxID == "" {
				continue
			}
			if _, ok := seen[entry.TxID]; ok {
				continue
			}
			seen[entry.TxID] = struct{}{}
			ids = append(ids, entry.TxID)
		}

		next = page.NextToken
		if next == "" || len(page.LogData) == 0 {
			break
		}
		if _, ok := tokens[next]; ok {
			return nil, chain.Transient(fmt.Errorf("indexer repeated continuation token %q", next))
		}
		tokens[next] = struct{}{}
	}
	return ids, nil
}

func wrap(err error, op string) error {
	if chain.IsConfiguration(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return chain.Transient(fmt.Errorf("%s: %w", op, err))
}
