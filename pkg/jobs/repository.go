package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/config"
	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/chain/algorand"
	"github.com/0xmhha/xchain-watcher/pkg/chain/evm"
	"github.com/0xmhha/xchain-watcher/pkg/handler"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/storage"
	"github.com/0xmhha/xchain-watcher/pkg/types"
	"github.com/0xmhha/xchain-watcher/pkg/watcher"
)

// Dependencies are the shared collaborators of every job.
type Dependencies struct {
	Metadata storage.MetadataRepository[types.Cursor]
	// Blocks is optional
	Blocks  storage.BlockIndex
	Stats   stats.StatRepository
	Targets *Targets
}

// Repository resolves job definitions into sources and handlers.
type Repository struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger
}

// NewRepository returns a repository over cfg.
func NewRepository(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, chain.Configurationf("jobs: config is required")
	}
	if deps.Metadata == nil {
		return nil, chain.Configurationf("jobs: metadata repository is required")
	}
	if deps.Stats == nil {
		return nil, chain.Configurationf("jobs: stat repository is required")
	}
	if deps.Targets == nil {
		deps.Targets = &Targets{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Targets.Logger == nil {
		deps.Targets.Logger = logger
	}
	return &Repository{cfg: cfg, deps: deps, logger: logger.Named("jobs")}, nil
}

// Family resolves a chain name to its family. Every name configured under
// evm.chains is an EVM chain.
func (r *Repository) Family(chainName string) (chain.Family, bool) {
	name := strings.ToLower(strings.TrimSpace(chainName))
	if name == string(chain.FamilyAlgorand) {
		return chain.FamilyAlgorand, true
	}
	if _, ok := r.evmChain(name); ok {
		return chain.FamilyEVM, true
	}
	return "", false
}

func (r *Repository) evmChain(name string) (config.EVMChainConfig, bool) {
	for key, c := range r.cfg.EVM.Chains {
		if strings.EqualFold(key, name) {
			return c, true
		}
	}
	return config.EVMChainConfig{}, false
}

// Defaults returns the defaults applied to loaded job definitions.
func (r *Repository) Defaults() Defaults {
	return Defaults{
		Interval:     r.cfg.Jobs.DefaultInterval,
		MaxBatchSize: r.cfg.Jobs.DefaultBatch,
		FamilyBatch:  map[chain.Family]uint64{chain.FamilyAlgorand: algorand.MaxBatchSize},
		Family:       r.Family,
	}
}

// GetJobDefinitions loads the configured jobs file.
func (r *Repository) GetJobDefinitions(_ context.Context) ([]types.JobDefinition, error) {
	jobs, err := LoadFile(r.cfg.Jobs.File, r.Defaults())
	if err != nil {
		return nil, err
	}
	r.logger.Info("loaded job definitions", zap.Int("count", len(jobs)), zap.String("file", r.cfg.Jobs.File))
	return jobs, nil
}

// GetHandlers builds one message pipeline per target of job.
func (r *Repository) GetHandlers(job types.JobDefinition) ([]watcher.Handler, error) {
	if len(job.Targets) == 0 {
		return nil, chain.Configurationf("%w: job %s has no targets", types.ErrInvalidJob, job.ID)
	}
	cfg := handler.ConfigFromJob(job)
	mapper := handler.NewMessageMapper(job.Protocol)

	handlers := make([]watcher.Handler, 0, len(job.Targets))
	for _, name := range job.Targets {
		sink, err := r.deps.Targets.Sink(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
		handlers = append(handlers, handler.NewPipeline(cfg, mapper, sink, r.deps.Stats))
	}
	return handlers, nil
}

// GetSource builds the scheduler of job. The returned source implements
// io.Closer when it holds a connection.
func (r *Repository) GetSource(ctx context.Context, job types.JobDefinition) (watcher.Source, error) {
	family, ok := r.Family(job.Chain)
	if !ok {
		return nil, chain.Configurationf("%w: job %s: unknown chain %q", types.ErrInvalidJob, job.ID, job.Chain)
	}
	handlers, err := r.GetHandlers(job)
	if err != nil {
		return nil, err
	}

	switch family {
	case chain.FamilyAlgorand:
		return r.algorandSource(job, watcher.Dispatcher(handlers))
	case chain.FamilyEVM:
		return r.evmSource(ctx, job, watcher.Dispatcher(handlers))
	default:
		return nil, chain.Configurationf("%w: job %s: unsupported family %s", types.ErrInvalidJob, job.ID, family)
	}
}

func (r *Repository) options() []watcher.Option {
	opts := []watcher.Option{watcher.WithBackoff(r.cfg.Backoff)}
	if r.deps.Blocks != nil {
		opts = append(opts, watcher.WithBlockIndex(r.deps.Blocks))
	}
	return opts
}

func (r *Repository) algorandSource(job types.JobDefinition, h watcher.Handler) (watcher.Source, error) {
	ac := r.cfg.Algorand
	client, err := algorand.NewClient(&algorand.Config{
		AlgodURL:     ac.AlgodURL,
		AlgodToken:   ac.AlgodToken,
		IndexerURL:   ac.IndexerURL,
		IndexerToken: ac.IndexerToken,
		AppID:        ac.AppID,
		RPS:          ac.RPS,
		Burst:        ac.Burst,
		Timeout:      ac.Timeout,
		MaxRetries:   ac.MaxRetries,
		RetryDelay:   ac.RetryDelay,
	}, r.logger)
	if err != nil {
		return nil, err
	}
	repo, err := algorand.NewRepository(client, ac.AppID, r.logger)
	if err != nil {
		return nil, err
	}
	extractor, err := algorand.NewExtractor(job.Chain, ac.AppID, algorand.WithExtractorLogger(r.logger))
	if err != nil {
		return nil, err
	}
	s, err := watcher.NewScheduler[algorand.Transaction](job, repo, extractor, h, r.deps.Metadata, r.deps.Stats, r.logger, r.options()...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) evmSource(ctx context.Context, job types.JobDefinition, h watcher.Handler) (watcher.Source, error) {
	cc, _ := r.evmChain(job.Chain)
	chainID := cc.ChainID
	if chainID == 0 {
		chainID = job.ChainID
	}

	extractor, err := evm.NewExtractor(job.Chain, job.ABI, job.Filter)
	if err != nil {
		return nil, err
	}
	addresses, topics, err := evmFilter(job.Filter, extractor.Topic())
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}

	client, err := evm.NewClient(ctx, &evm.ClientConfig{
		Endpoint: cc.RPCEndpoint,
		ChainID:  chainID,
		Timeout:  cc.Timeout,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}
	repo, err := evm.NewRepository(client, evm.RepositoryConfig{
		Addresses:   addresses,
		Topics:      topics,
		MaxLogRange: cc.MaxLogRange,
	}, r.logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	s, err := watcher.NewScheduler[evm.Record](job, repo, extractor, h, r.deps.Metadata, r.deps.Stats, r.logger, r.options()...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &closingSource{Source: s, close: client.Close}, nil
}

// evmFilter converts filter addresses and topics to their go-ethereum
// types. An empty topic list selects the message event.
func evmFilter(f types.Filter, eventTopic common.Hash) ([]common.Address, []common.Hash, error) {
	addresses := make([]common.Address, 0, len(f.Addresses))
	for _, a := range f.Addresses {
		if !common.IsHexAddress(a) {
			return nil, nil, chain.Configurationf("%w: invalid address %q", types.ErrInvalidJob, a)
		}
		addresses = append(addresses, common.HexToAddress(a))
	}
	if len(f.Topics) == 0 {
		return addresses, []common.Hash{eventTopic}, nil
	}
	topics := make([]common.Hash, 0, len(f.Topics))
	for _, t := range f.Topics {
		topics = append(topics, common.HexToHash(t))
	}
	return addresses, topics, nil
}

type closingSource struct {
	watcher.Source
	close func()
}

// Close releases the source's connection.
func (s *closingSource) Close() error {
	s.close()
	return nil
}
