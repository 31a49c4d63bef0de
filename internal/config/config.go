package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/xchain-watcher/internal/constants"
)

// Config holds the process configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Algorand AlgorandConfig `yaml:"algorand"`
	EVM      EVMConfig      `yaml:"evm"`
	API      APIConfig      `yaml:"api"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Backoff  BackoffConfig  `yaml:"backoff"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects and tunes the cursor store
type StorageConfig struct {
	// Backend is one of pebble, redis, memory
	Backend string `yaml:"backend"`
	// Path is the pebble database directory
	Path string `yaml:"path"`
	// Cache size in MB
	Cache int `yaml:"cache"`
	// BlockIndex enables persisting the block → message keys grouping
	BlockIndex bool `yaml:"block_index"`
}

// RedisConfig holds the redis connection used by the redis storage backend
// and the redis stream target
type RedisConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Password     string        `yaml:"password,omitempty"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ClusterMode  bool          `yaml:"cluster_mode"`
	// KeyPrefix namespaces cursor keys
	KeyPrefix string `yaml:"key_prefix"`
	// Stream is the stream the redis target appends to
	Stream string `yaml:"stream"`
	// StreamMaxLen caps the stream length (approximate trimming); 0 disables
	StreamMaxLen int64 `yaml:"stream_max_len"`
}

// KafkaConfig holds the kafka target configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	ClientID     string        `yaml:"client_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// RequiredAcks is one of none, one, all
	RequiredAcks string `yaml:"required_acks"`
	// Compression is one of none, gzip, snappy, lz4, zstd
	Compression string `yaml:"compression"`
}

// AlgorandConfig holds the algod and indexer endpoints
type AlgorandConfig struct {
	AlgodURL     string        `yaml:"algod_url"`
	AlgodToken   string        `yaml:"algod_token,omitempty"`
	IndexerURL   string        `yaml:"indexer_url"`
	IndexerToken string        `yaml:"indexer_token,omitempty"`
	AppID        uint64        `yaml:"app_id"`
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// EVMConfig maps an EVM chain name to its endpoint
type EVMConfig struct {
	Chains map[string]EVMChainConfig `yaml:"chains"`
}

// EVMChainConfig holds one EVM endpoint
type EVMChainConfig struct {
	RPCEndpoint string        `yaml:"rpc_endpoint"`
	ChainID     uint64        `yaml:"chain_id"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLogRange uint64        `yaml:"max_log_range"`
}

// APIConfig holds the HTTP server configuration
type APIConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	EnableWebSocket bool     `yaml:"enable_websocket"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxWSClients    int      `yaml:"max_ws_clients"`
}

// JobsConfig points at the job definitions file and holds job defaults
type JobsConfig struct {
	File            string        `yaml:"file"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	DefaultBatch    uint64        `yaml:"default_batch"`
}

// BackoffConfig holds the retry policy of every watcher loop
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every zero value with its default
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = constants.DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = constants.DefaultLogFormat
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = constants.DefaultStorageBackend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = constants.DefaultStoragePath
	}
	if c.Storage.Cache == 0 {
		c.Storage.Cache = constants.DefaultStorageCacheMB
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = constants.DefaultRedisPoolSize
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = constants.DefaultRedisDialTimeout
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = constants.DefaultRedisReadTimeout
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = constants.DefaultRedisWriteTimeout
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = constants.DefaultRedisKeyPrefix
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = constants.DefaultRedisStream
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = constants.DefaultKafkaTopic
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = constants.DefaultKafkaClientID
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = constants.DefaultKafkaBatchSize
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = constants.DefaultKafkaBatchTimeout
	}
	if c.Kafka.RequiredAcks == "" {
		c.Kafka.RequiredAcks = "all"
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = "none"
	}

	if c.Algorand.RPS == 0 {
		c.Algorand.RPS = constants.DefaultAlgorandRPS
	}
	if c.Algorand.Burst == 0 {
		c.Algorand.Burst = constants.DefaultAlgorandBurst
	}
	if c.Algorand.Timeout == 0 {
		c.Algorand.Timeout = constants.DefaultRequestTimeout
	}
	if c.Algorand.MaxRetries == 0 {
		c.Algorand.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Algorand.RetryDelay == 0 {
		c.Algorand.RetryDelay = constants.DefaultRetryDelay
	}

	for name, chain := range c.EVM.Chains {
		if chain.Timeout == 0 {
			chain.Timeout = constants.DefaultRequestTimeout
		}
		if chain.MaxLogRange == 0 {
			chain.MaxLogRange = constants.DefaultMaxLogRange
		}
		c.EVM.Chains[name] = chain
	}

	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.MaxWSClients == 0 {
		c.API.MaxWSClients = constants.DefaultMaxWSClients
	}

	if c.Jobs.File == "" {
		c.Jobs.File = constants.DefaultJobsFile
	}
	if c.Jobs.DefaultInterval == 0 {
		c.Jobs.DefaultInterval = constants.DefaultPollInterval
	}
	if c.Jobs.DefaultBatch == 0 {
		c.Jobs.DefaultBatch = constants.DefaultMaxBatchSize
	}

	if c.Backoff.Initial == 0 {
		c.Backoff.Initial = constants.DefaultBackoffInitial
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = constants.DefaultBackoffMax
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = constants.DefaultBackoffMultiplier
	}
}

// LoadFromEnv overrides configuration with WATCHER_* environment variables
func (c *Config) LoadFromEnv() error {
	// Log configuration
	if level := os.Getenv("WATCHER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("WATCHER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Storage configuration
	if backend := os.Getenv("WATCHER_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if path := os.Getenv("WATCHER_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if index := os.Getenv("WATCHER_STORAGE_BLOCK_INDEX"); index != "" {
		val, err := strconv.ParseBool(index)
		if err != nil {
			return fmt.Errorf("invalid WATCHER_STORAGE_BLOCK_INDEX: %w", err)
		}
		c.Storage.BlockIndex = val
	}

	// Redis configuration
	if addrs := os.Getenv("WATCHER_REDIS_ADDRESSES"); addrs != "" {
		c.Redis.Addresses = splitList(addrs)
	}
	if password := os.Getenv("WATCHER_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	// Kafka configuration
	if brokers := os.Getenv("WATCHER_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("WATCHER_KAFKA_TOPIC"); topic != "" {
		c.Kafka.Topic = topic
	}

	// Algorand configuration
	if v := os.Getenv("WATCHER_ALGORAND_ALGOD_URL"); v != "" {
		c.Algorand.AlgodURL = v
	}
	if v := os.Getenv("WATCHER_ALGORAND_ALGOD_TOKEN"); v != "" {
		c.Algorand.AlgodToken = v
	}
	if v := os.Getenv("WATCHER_ALGORAND_INDEXER_URL"); v != "" {
		c.Algorand.IndexerURL = v
	}
	if v := os.Getenv("WATCHER_ALGORAND_INDEXER_TOKEN"); v != "" {
		c.Algorand.IndexerToken = v
	}
	if v := os.Getenv("WATCHER_ALGORAND_APP_ID"); v != "" {
		val, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WATCHER_ALGORAND_APP_ID: %w", err)
		}
		c.Algorand.AppID = val
	}

	// API configuration
	if enabled := os.Getenv("WATCHER_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid WATCHER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("WATCHER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("WATCHER_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid WATCHER_API_PORT: %w", err)
		}
		c.API.Port = val
	}

	// Jobs configuration
	if file := os.Getenv("WATCHER_JOBS_FILE"); file != "" {
		c.Jobs.File = file
	}
	if interval := os.Getenv("WATCHER_JOBS_DEFAULT_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid WATCHER_JOBS_DEFAULT_INTERVAL: %w", err)
		}
		c.Jobs.DefaultInterval = duration
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	switch c.Storage.Backend {
	case "pebble":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the pebble backend")
		}
	case "redis":
		if len(c.Redis.Addresses) == 0 {
			return fmt.Errorf("redis storage backend selected but no redis addresses configured")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage backend %q, must be one of: pebble, redis, memory", c.Storage.Backend)
	}
	if c.Storage.BlockIndex && c.Storage.Backend == "redis" {
		return fmt.Errorf("block index requires the pebble or memory storage backend")
	}

	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis pool size cannot be negative")
	}

	validAcks := map[string]bool{"none": true, "one": true, "all": true}
	if !validAcks[c.Kafka.RequiredAcks] {
		return fmt.Errorf("invalid kafka required_acks %q, must be one of: none, one, all", c.Kafka.RequiredAcks)
	}
	validCompression := map[string]bool{"none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true}
	if !validCompression[c.Kafka.Compression] {
		return fmt.Errorf("invalid kafka compression %q", c.Kafka.Compression)
	}

	for _, raw := range []string{c.Algorand.AlgodURL, c.Algorand.IndexerURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			return fmt.Errorf("invalid algorand endpoint %q", raw)
		}
	}
	if c.Algorand.RPS < 0 {
		return fmt.Errorf("algorand rps cannot be negative")
	}

	for name, chain := range c.EVM.Chains {
		if chain.RPCEndpoint == "" {
			return fmt.Errorf("evm chain %q: rpc_endpoint is required", name)
		}
	}

	if c.API.Enabled && (c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort) {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}

	if c.Jobs.File == "" {
		return fmt.Errorf("jobs file is required")
	}
	if c.Jobs.DefaultInterval <= 0 {
		return fmt.Errorf("default job interval must be positive")
	}

	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("backoff initial must be positive and not exceed max")
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1")
	}

	return nil
}

// Load reads the configuration in the following order:
// 1. Defaults
// 2. File (if provided)
// 3. Environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
