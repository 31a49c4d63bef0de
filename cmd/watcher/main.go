package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/config"
	"github.com/0xmhha/xchain-watcher/internal/constants"
	"github.com/0xmhha/xchain-watcher/internal/logger"
	"github.com/0xmhha/xchain-watcher/pkg/api"
	"github.com/0xmhha/xchain-watcher/pkg/jobs"
	"github.com/0xmhha/xchain-watcher/pkg/multichain"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/storage"
	"github.com/0xmhha/xchain-watcher/pkg/target"
	ws "github.com/0xmhha/xchain-watcher/pkg/target/websocket"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		jobsFile    = flag.String("jobs", "", "Path to the job definitions file (YAML)")
		backend     = flag.String("storage", "", "Cursor storage backend (pebble, redis, memory)")
		dbPath      = flag.String("db", "", "Pebble database path")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
		enableAPI   = flag.Bool("api", false, "Enable API server")
		apiHost     = flag.String("api-host", "", "API server host")
		apiPort     = flag.Int("api-port", 0, "API server port")
		enableWS    = flag.Bool("websocket", false, "Enable the WebSocket message feed")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("xchain-watcher version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *jobsFile, *backend, *dbPath, *logLevel, *logFormat)
	applyAPIFlags(cfg, *enableAPI, *apiHost, *apiPort, *enableWS)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	instanceID := uuid.NewString()
	log, err := logger.New(logger.Config{
		Level:         cfg.Log.Level,
		Format:        cfg.Log.Format,
		InitialFields: map[string]interface{}{"instance": instanceID},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting watcher",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("jobs_file", cfg.Jobs.File),
	)

	if err := run(cfg, instanceID, log); err != nil {
		log.Error("Watcher stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Watcher stopped")
}

func run(cfg *config.Config, instanceID string, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn("Failed to close resource", zap.Error(err))
			}
		}
	}()

	// Redis is shared by the redis storage backend and the redis target.
	var redisClient redis.UniversalClient
	if len(cfg.Redis.Addresses) > 0 {
		client, err := storage.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		closers = append(closers, client)
		redisClient = client
	}

	metadata, blocks, err := openStorage(cfg, redisClient, log)
	if err != nil {
		return err
	}
	if c, ok := metadata.(io.Closer); ok {
		closers = append(closers, c)
	}

	statRepo := stats.NewPromStatRepository(constants.MetricsNamespace, log)

	targets := &jobs.Targets{
		InstanceID:   instanceID,
		Stream:       cfg.Redis.Stream,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
		Logger:       log,
	}
	if redisClient != nil {
		targets.Redis = redisClient
	}
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := target.NewKafkaWriter(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka writer: %w", err)
		}
		closers = append(closers, writer)
		targets.Kafka = writer
	}

	var wsServer *ws.Server
	if cfg.API.EnableWebSocket {
		hub := ws.NewHub(cfg.API.MaxWSClients, log)
		go hub.Run()
		defer hub.Stop()
		targets.Hub = hub
		wsServer = ws.NewServer(hub, cfg.API.AllowedOrigins, log)
	}

	repo, err := jobs.NewRepository(cfg, jobs.Dependencies{
		Metadata: metadata,
		Blocks:   blocks,
		Stats:    statRepo,
		Targets:  targets,
	}, log)
	if err != nil {
		return err
	}

	manager, err := multichain.NewManager(nil, repo, statRepo, log)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start jobs: %w", err)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(cfg.API, manager, api.Options{
			Gatherer:  statRepo.Registry(),
			WebSocket: wsServer,
		}, log)
		if err != nil {
			return err
		}
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case <-manager.Done():
		log.Warn("Every job has exited")
	}

	log.Info("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultStopTimeout)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop jobs gracefully", zap.Error(err))
	}

	for _, info := range manager.ListJobs() {
		log.Info("Final job state",
			zap.String("job", info.ID),
			zap.String("chain", info.Chain),
			zap.String("status", string(info.Status)),
			zap.Uint64("last_block", info.LastBlock),
			zap.String("error", info.LastError),
		)
	}
	if !manager.Healthy() {
		return errors.New("one or more jobs stopped on a fault")
	}
	return nil
}

// openStorage returns the cursor store of the configured backend and the
// optional block index.
func openStorage(cfg *config.Config, redisClient redis.UniversalClient, log *zap.Logger) (storage.MetadataRepository[types.Cursor], storage.BlockIndex, error) {
	switch cfg.Storage.Backend {
	case "pebble":
		pcfg := storage.DefaultPebbleConfig(cfg.Storage.Path)
		pcfg.Cache = cfg.Storage.Cache
		store, err := storage.NewPebbleStore(pcfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		log.Info("Storage initialized", zap.String("backend", "pebble"), zap.String("path", cfg.Storage.Path))
		var blocks storage.BlockIndex
		if cfg.Storage.BlockIndex {
			blocks = store
		}
		return &pebbleCursors{PebbleMetadata: storage.NewPebbleMetadata[types.Cursor](store), store: store}, blocks, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis storage backend selected but no redis client configured")
		}
		log.Info("Storage initialized", zap.String("backend", "redis"))
		return storage.NewRedisMetadata[types.Cursor](redisClient, cfg.Redis.KeyPrefix), nil, nil
	default:
		log.Warn("Using in-memory storage; cursors are lost on restart")
		var blocks storage.BlockIndex
		if cfg.Storage.BlockIndex {
			blocks = storage.NewMemoryBlockIndex()
		}
		return storage.NewMemoryMetadata[types.Cursor](), blocks, nil
	}
}

// pebbleCursors closes the pebble store it reads from.
type pebbleCursors struct {
	*storage.PebbleMetadata[types.Cursor]
	store *storage.PebbleStore
}

func (p *pebbleCursors) Close() error {
	return p.store.Close()
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, jobsFile, backend, dbPath, logLevel, logFormat string) {
	if jobsFile != "" {
		cfg.Jobs.File = jobsFile
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// applyAPIFlags applies API-related command-line flags to configuration
func applyAPIFlags(cfg *config.Config, enableAPI bool, apiHost string, apiPort int, enableWebSocket bool) {
	if enableAPI {
		cfg.API.Enabled = true
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
	if enableWebSocket {
		cfg.API.EnableWebSocket = true
	}
}
