package target

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/config"
)

// Kafka header names set on every message.
const (
	HeaderInstanceID = "instance-id"
	HeaderTopic      = "topic"
)

// MessageWriter is the part of *kafka.Writer used by the kafka sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer: WriteMessages returns once
// the brokers acknowledged the batch.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no kafka brokers configured", ErrInvalidConfiguration)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: no kafka topic configured", ErrInvalidConfiguration)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: requiredAcks(cfg.RequiredAcks),
		Async:        false,
	}
	if c, ok := compression(cfg.Compression); ok {
		w.Compression = c
	}
	if cfg.ClientID != "" {
		w.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return w, nil
}

func requiredAcks(v string) kafka.RequiredAcks {
	switch v {
	case "none":
		return kafka.RequireNone
	case "one":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func compression(v string) (kafka.Compression, bool) {
	switch v {
	case "gzip":
		return kafka.Gzip, true
	case "snappy":
		return kafka.Snappy, true
	case "lz4":
		return kafka.Lz4, true
	case "zstd":
		return kafka.Zstd, true
	default:
		return 0, false
	}
}

// NewKafkaSink writes each event as one JSON message keyed by its message
// key, so retries of a window land on the same partition.
func NewKafkaSink[T Message](w MessageWriter, instanceID string, logger *zap.Logger) Sink[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kafka")

	return func(ctx context.Context, batch []T) error {
		if len(batch) == 0 {
			return nil
		}
		msgs := make([]kafka.Message, 0, len(batch))
		for _, event := range batch {
			value, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to encode event %s: %w", event.Key(), err)
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(event.Key()),
				Value: value,
				Headers: []kafka.Header{
					{Key: HeaderInstanceID, Value: []byte(instanceID)},
					{Key: HeaderTopic, Value: []byte(event.Topic())},
				},
			})
		}
		if err := w.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("failed to write %d kafka messages: %w", len(msgs), err)
		}
		logger.Debug("kafka batch written", zap.Int("count", len(msgs)))
		return nil
	}
}
