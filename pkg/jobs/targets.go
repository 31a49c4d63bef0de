package jobs

import (
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/handler"
	"github.com/0xmhha/xchain-watcher/pkg/target"
	ws "github.com/0xmhha/xchain-watcher/pkg/target/websocket"
)

// Target names accepted in job definitions.
const (
	TargetKafka     = "kafka"
	TargetRedis     = "redis"
	TargetWebSocket = "websocket"
	TargetLog       = "log"
	TargetMemory    = "memory"
)

// Targets holds the shared backends job sinks are built from. A nil
// backend makes its target name unusable.
type Targets struct {
	InstanceID   string
	Kafka        target.MessageWriter
	Redis        target.StreamAdder
	Stream       string
	StreamMaxLen int64
	Hub          *ws.Hub
	Memory       *target.MemorySink[handler.MessageFoundEvent]
	Logger       *zap.Logger
}

// Sink returns the sink registered under name.
func (t *Targets) Sink(name string) (target.Sink[handler.MessageFoundEvent], error) {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch name {
	case TargetKafka:
		if t.Kafka == nil {
			return nil, chain.Configurationf("%w: kafka is not configured", target.ErrInvalidConfiguration)
		}
		return target.NewKafkaSink[handler.MessageFoundEvent](t.Kafka, t.InstanceID, logger), nil
	case TargetRedis:
		if t.Redis == nil {
			return nil, chain.Configurationf("%w: redis is not configured", target.ErrInvalidConfiguration)
		}
		sink, err := target.NewRedisStreamSink[handler.MessageFoundEvent](t.Redis, t.Stream, t.StreamMaxLen)
		if err != nil {
			return nil, chain.Configuration(err)
		}
		return sink, nil
	case TargetWebSocket:
		sink, err := target.NewWebSocketSink[handler.MessageFoundEvent](t.Hub)
		if err != nil {
			return nil, chain.Configuration(err)
		}
		return sink, nil
	case TargetLog:
		return target.NewLogSink[handler.MessageFoundEvent](logger), nil
	case TargetMemory:
		if t.Memory == nil {
			t.Memory = target.NewMemorySink[handler.MessageFoundEvent]()
		}
		return t.Memory.Sink(), nil
	default:
		return nil, chain.Configurationf("%w: unknown target %q", target.ErrInvalidConfiguration, name)
	}
}
