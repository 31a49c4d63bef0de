package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		enabled zapcore.Level
	}{
		{name: "defaults", cfg: Config{}, enabled: zapcore.InfoLevel},
		{name: "debug console", cfg: Config{Level: "debug", Format: "console"}, enabled: zapcore.DebugLevel},
		{name: "warn json", cfg: Config{Level: "warn", Format: "json"}, enabled: zapcore.WarnLevel},
		{name: "invalid level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "invalid format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %v should be enabled", tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("level %v should be disabled", tt.enabled-1)
			}
		})
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should return a no-op logger")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info("hello")
	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
}

func TestWithJob(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithComponent(WithJob(zap.New(core), "poll-algorand", "algorand"), "scheduler")

	logger.Info("tick")

	entry := logs.All()[0]
	fields := entry.ContextMap()
	if fields["job"] != "poll-algorand" || fields["chain"] != "algorand" || fields["component"] != "scheduler" {
		t.Errorf("unexpected fields: %v", fields)
	}
}
