package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Storage.Backend != "pebble" {
		t.Errorf("Expected default storage backend 'pebble', got %q", cfg.Storage.Backend)
	}
	if cfg.Jobs.DefaultInterval != 5*time.Second {
		t.Errorf("Expected default interval 5s, got %v", cfg.Jobs.DefaultInterval)
	}
	if cfg.Backoff.Multiplier != 2 {
		t.Errorf("Expected default backoff multiplier 2, got %v", cfg.Backoff.Multiplier)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name:    "invalid storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite" },
			wantErr: true,
			errMsg:  "invalid storage backend",
		},
		{
			name:    "redis backend without addresses",
			mutate:  func(c *Config) { c.Storage.Backend = "redis" },
			wantErr: true,
			errMsg:  "no redis addresses",
		},
		{
			name: "block index on redis",
			mutate: func(c *Config) {
				c.Storage.Backend = "redis"
				c.Redis.Addresses = []string{"localhost:6379"}
				c.Storage.BlockIndex = true
			},
			wantErr: true,
			errMsg:  "block index",
		},
		{
			name:    "invalid kafka acks",
			mutate:  func(c *Config) { c.Kafka.RequiredAcks = "some" },
			wantErr: true,
			errMsg:  "required_acks",
		},
		{
			name:    "invalid algorand endpoint",
			mutate:  func(c *Config) { c.Algorand.IndexerURL = "indexer" },
			wantErr: true,
			errMsg:  "invalid algorand endpoint",
		},
		{
			name: "evm chain without endpoint",
			mutate: func(c *Config) {
				c.EVM.Chains = map[string]EVMChainConfig{"ethereum": {}}
			},
			wantErr: true,
			errMsg:  "rpc_endpoint is required",
		},
		{
			name: "invalid API port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: true,
			errMsg:  "invalid API port",
		},
		{
			name: "backoff initial above max",
			mutate: func(c *Config) {
				c.Backoff.Initial = time.Minute
				c.Backoff.Max = time.Second
			},
			wantErr: true,
			errMsg:  "backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

// TestLoadFromEnv tests loading configuration from environment variables
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WATCHER_LOG_LEVEL", "debug")
	t.Setenv("WATCHER_STORAGE_BACKEND", "memory")
	t.Setenv("WATCHER_REDIS_ADDRESSES", "a:6379, b:6379,")
	t.Setenv("WATCHER_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WATCHER_ALGORAND_APP_ID", "842125965")
	t.Setenv("WATCHER_API_PORT", "9090")
	t.Setenv("WATCHER_JOBS_DEFAULT_INTERVAL", "250ms")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q, want memory", cfg.Storage.Backend)
	}
	if len(cfg.Redis.Addresses) != 2 || cfg.Redis.Addresses[1] != "b:6379" {
		t.Errorf("Redis.Addresses = %v", cfg.Redis.Addresses)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Algorand.AppID != 842125965 {
		t.Errorf("Algorand.AppID = %d", cfg.Algorand.AppID)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d", cfg.API.Port)
	}
	if cfg.Jobs.DefaultInterval != 250*time.Millisecond {
		t.Errorf("Jobs.DefaultInterval = %v", cfg.Jobs.DefaultInterval)
	}
}

// TestLoadFromEnvInvalid tests invalid environment values
func TestLoadFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"WATCHER_ALGORAND_APP_ID":       "abc",
		"WATCHER_API_PORT":              "port",
		"WATCHER_API_ENABLED":           "maybe",
		"WATCHER_JOBS_DEFAULT_INTERVAL": "soon",
		"WATCHER_STORAGE_BLOCK_INDEX":   "yes please",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := NewConfig()
			err := cfg.LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q does not name %s", err.Error(), key)
			}
		})
	}
}

// TestLoad tests the full loading sequence with a file and env overrides
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: warn
  format: console
storage:
  backend: memory
algorand:
  algod_url: http://algod:4001
  indexer_url: http://indexer:8980
  app_id: 842125965
evm:
  chains:
    ethereum:
      rpc_endpoint: http://geth:8545
      chain_id: 1
jobs:
  file: /etc/watcher/jobs.yaml
backoff:
  initial: 2s
  max: 1m
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("WATCHER_LOG_LEVEL", "error")

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "error" {
		t.Errorf("env should override file: Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, want console", cfg.Log.Format)
	}
	if cfg.Algorand.AppID != 842125965 {
		t.Errorf("Algorand.AppID = %d", cfg.Algorand.AppID)
	}
	eth, ok := cfg.EVM.Chains["ethereum"]
	if !ok {
		t.Fatal("ethereum chain missing")
	}
	if eth.MaxLogRange == 0 || eth.Timeout == 0 {
		t.Errorf("evm chain defaults not applied: %+v", eth)
	}
	if cfg.Backoff.Initial != 2*time.Second || cfg.Backoff.Max != time.Minute {
		t.Errorf("Backoff = %+v", cfg.Backoff)
	}
	if cfg.Jobs.File != "/etc/watcher/jobs.yaml" {
		t.Errorf("Jobs.File = %q", cfg.Jobs.File)
	}
}

// TestLoadMissingFile tests loading a missing file
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("unexpected error: %v", err)
	}
}
