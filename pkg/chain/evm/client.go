package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/constants"
	"github.com/0xmhha/xchain-watcher/pkg/chain"
)

// ClientConfig holds the connection settings of one EVM endpoint.
type ClientConfig struct {
	Endpoint string
	ChainID  uint64
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client wraps the go-ethereum JSON-RPC clients. Every call is bounded by
// the configured timeout.
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	endpoint  string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient dials cfg.Endpoint and verifies the remote chain id. Failures
// here are configuration errors: the chain loop cannot start without its
// endpoint.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, chain.Configurationf("evm: client config is required")
	}
	if cfg.Endpoint == "" {
		return nil, chain.Configurationf("evm: endpoint is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, chain.Configuration(fmt.Errorf("evm: dial %s: %w", cfg.Endpoint, err))
	}

	c := &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  cfg.Endpoint,
		timeout:   timeout,
		logger:    logger,
	}

	remote, err := c.ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, chain.Configuration(fmt.Errorf("evm: ping %s: %w", cfg.Endpoint, err))
	}
	if cfg.ChainID != 0 && remote.Uint64() != cfg.ChainID {
		rpcClient.Close()
		return nil, chain.Configurationf("evm: endpoint %s serves chain id %s, expected %d", cfg.Endpoint, remote, cfg.ChainID)
	}

	logger.Info("connected to EVM RPC",
		zap.String("endpoint", cfg.Endpoint),
		zap.Stringer("chainId", remote),
	)
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// HeaderByNumber returns a header. Negative numbers select the latest, safe
// and finalized tags as defined by rpc.BlockNumber.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	header, err := c.ethClient.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get header %v: %w", number, err)
	}
	return header, nil
}

// FilterLogs runs eth_getLogs.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	logs, err := c.ethClient.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs [%v,%v]: %w", q.FromBlock, q.ToBlock, err)
	}
	return logs, nil
}

// BatchGetHeaders fetches the headers of numbers in one batch request.
func (c *Client) BatchGetHeaders(ctx context.Context, numbers []uint64) ([]*ethtypes.Header, error) {
	if len(numbers) == 0 {
		return nil, nil
	}

	headers := make([]*ethtypes.Header, len(numbers))
	batch := make([]rpc.BatchElem, len(numbers))
	for i, num := range numbers {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{fmt.Sprintf("0x%x", num), false},
			Result: &headers[i],
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}

	for i, elem := range batch {
		if elem.Error != nil {
			c.logger.Error("failed to fetch header in batch",
				zap.Uint64("block_number", numbers[i]),
				zap.Error(elem.Error))
			return nil, fmt.Errorf("failed to fetch header %d: %w", numbers[i], elem.Error)
		}
		if headers[i] == nil {
			return nil, fmt.Errorf("header %d not found", numbers[i])
		}
	}
	return headers, nil
}
