package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultWebSocketPath is the default WebSocket endpoint path
	DefaultWebSocketPath = "/ws"

	// DefaultMaxWSClients caps concurrent websocket subscribers
	DefaultMaxWSClients = 1000
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "watcher"

// Logging Constants
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Storage Constants
const (
	// DefaultStorageBackend is the default cursor store
	DefaultStorageBackend = "pebble"

	// DefaultStoragePath is the default pebble directory
	DefaultStoragePath = "./data"

	// DefaultStorageCacheMB is the default pebble block cache size
	DefaultStorageCacheMB = 64
)

// Redis Constants
const (
	DefaultRedisPoolSize     = 10
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultRedisReadTimeout  = 3 * time.Second
	DefaultRedisWriteTimeout = 3 * time.Second
	DefaultRedisKeyPrefix    = "xchain-watcher"
	DefaultRedisStream       = "xchain-messages"
)

// Kafka Constants
const (
	DefaultKafkaTopic        = "xchain-messages"
	DefaultKafkaClientID     = "xchain-watcher"
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchTimeout = 10 * time.Millisecond
)

// Chain Client Constants
const (
	// DefaultRequestTimeout bounds one RPC or indexer request
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries of one network call
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the base delay between retries of one network call
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultAlgorandRPS is the indexer request budget per second
	DefaultAlgorandRPS = 10

	// DefaultAlgorandBurst is the indexer request burst
	DefaultAlgorandBurst = 10

	// DefaultMaxLogRange bounds the span of one eth_getLogs call
	DefaultMaxLogRange = 2000
)

// Watcher Constants
const (
	// DefaultJobsFile is the job definitions file
	DefaultJobsFile = "jobs.yaml"

	// DefaultPollInterval is the wait between polls when no new block is final
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxBatchSize is the default window size
	DefaultMaxBatchSize = 100

	// DefaultBackoffInitial is the first retry delay after a failed window
	DefaultBackoffInitial = time.Second

	// DefaultBackoffMax caps the retry delay
	DefaultBackoffMax = 2 * time.Minute

	// DefaultBackoffMultiplier grows the retry delay
	DefaultBackoffMultiplier = 2.0

	// DefaultStopTimeout bounds how long a watcher gets to finish its window
	DefaultStopTimeout = 30 * time.Second

	// DefaultHealthCheckInterval is the interval of the health checker
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultStallChecks is the number of health checks without progress
	// after which a lagging job is reported stalled
	DefaultStallChecks = 10
)
