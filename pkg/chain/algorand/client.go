package algorand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
)

const (
	algodTokenHeader   = "X-Algo-API-Token"
	indexerTokenHeader = "X-Indexer-API-Token"
)

// Config holds the algod and indexer endpoints and client tuning.
type Config struct {
	AlgodURL     string        `yaml:"algod_url" json:"algodUrl"`
	AlgodToken   string        `yaml:"algod_token" json:"-"`
	IndexerURL   string        `yaml:"indexer_url" json:"indexerUrl"`
	IndexerToken string        `yaml:"indexer_token" json:"-"`
	AppID        uint64        `yaml:"app_id" json:"appId"`
	RPS          float64       `yaml:"rps" json:"rps"`
	Burst        int           `yaml:"burst" json:"burst"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries   int           `yaml:"max_retries" json:"maxRetries"`
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retryDelay"`
}

// DefaultConfig returns a Config with client tuning defaults and no endpoints.
func DefaultConfig() *Config {
	return &Config{
		RPS:        10,
		Burst:      10,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Validate reports missing endpoints or application id as configuration errors.
func (c *Config) Validate() error {
	if c.AlgodURL == "" {
		return chain.Configurationf("algorand: algod url is required")
	}
	if c.IndexerURL == "" {
		return chain.Configurationf("algorand: indexer url is required")
	}
	for _, raw := range []string{c.AlgodURL, c.IndexerURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return chain.Configurationf("algorand: invalid endpoint %q", raw)
		}
	}
	if c.AppID == 0 {
		return chain.Configurationf("algorand: app id is required")
	}
	if c.RPS <= 0 {
		return chain.Configurationf("algorand: rps must be positive")
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from %s: %s", e.Code, e.URL, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client talks to algod and the indexer over their REST APIs.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// reached holds the base URLs that answered at least one request.
	reached sync.Map
}

// NewClient validates cfg and returns a rate-limited client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, chain.Configurationf("algorand: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		logger:     logger.Named("algorand-client"),
	}, nil
}

// Status returns the last round known to algod.
func (c *Client) Status(ctx context.Context) (uint64, error) {
	var resp statusResponse
	if err := c.get(ctx, c.cfg.AlgodURL, algodTokenHeader, c.cfg.AlgodToken, "/v2/status", nil, &resp); err != nil {
		return 0, err
	}
	return resp.LastRound, nil
}

// LookupApplicationLogs returns one page of logs emitted by appID within
// [minRound, maxRound].
func (c *Client) LookupApplicationLogs(ctx context.Context, appID, minRound, maxRound uint64, next string) (*ApplicationLogsPage, error) {
	q := url.Values{}
	q.Set("min-round", strconv.FormatUint(minRound, 10))
	q.Set("max-round", strconv.FormatUint(maxRound, 10))
	if next != "" {
		q.Set("next", next)
	}
	path := "/v2/applications/" + strconv.FormatUint(appID, 10) + "/logs"

	var page ApplicationLogsPage
	if err := c.get(ctx, c.cfg.IndexerURL, indexerTokenHeader, c.cfg.IndexerToken, path, q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchTransaction looks a transaction up by id. It returns nil when the
// indexer does not know the transaction.
func (c *Client) SearchTransaction(ctx context.Context, txID string) (*Transaction, error) {
	q := url.Values{}
	q.Set("txid", txID)

	var resp transactionsResponse
	if err := c.get(ctx, c.cfg.IndexerURL, indexerTokenHeader, c.cfg.IndexerToken, "/v2/transactions", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Transactions) == 0 {
		return nil, nil
	}
	return &resp.Transactions[0], nil
}

// LookupBlock returns the header of round.
func (c *Client) LookupBlock(ctx context.Context, round uint64) (*Block, error) {
	q := url.Values{}
	q.Set("header-only", "true")

	var block Block
	path := "/v2/blocks/" + strconv.FormatUint(round, 10)
	if err := c.get(ctx, c.cfg.IndexerURL, indexerTokenHeader, c.cfg.IndexerToken, path, q, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (c *Client) get(ctx context.Context, base, header, token, path string, query url.Values, out any) error {
	endpoint := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * time.Duration(attempt)
			c.logger.Debug("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.do(ctx, endpoint, header, token, out)
		if lastErr == nil {
			c.reached.Store(base, struct{}{})
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.retryable() {
			if statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden {
				return c.authError(base, lastErr)
			}
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("request %s failed after %d attempts: %w", path, c.cfg.MaxRetries+1, lastErr)
}

// authError classifies a rejected token. A token refused on first contact
// is a configuration fault. Once the endpoint has accepted it, a refusal is
// treated as a proxy or rotation hiccup and retried.
func (c *Client) authError(base string, err error) error {
	if _, ok := c.reached.Load(base); ok {
		c.logger.Warn("endpoint rejected a previously accepted token",
			zap.String("endpoint", base),
			zap.Error(err),
		)
		return chain.Transient(err)
	}
	return chain.Configuration(err)
}

func (c *Client) do(ctx context.Context, endpoint, header, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(header, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: req.URL.Path, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
