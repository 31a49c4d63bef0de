package target

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xmhha/xchain-watcher/internal/config"
	ws "github.com/0xmhha/xchain-watcher/pkg/target/websocket"
)

type testEvent struct {
	ID    string `json:"id"`
	Chain string `json:"chain"`
}

func (e testEvent) Key() string   { return e.ID }
func (e testEvent) Topic() string { return e.Chain }

func batch(ids ...string) []testEvent {
	out := make([]testEvent, 0, len(ids))
	for _, id := range ids {
		out = append(out, testEvent{ID: id, Chain: "algorand"})
	}
	return out
}

// ===== Fakes =====

type fakeWriter struct {
	calls [][]kafka.Message
	err   error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, msgs)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", nil)
}

// ===== Kafka =====

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink[testEvent](w, "instance-1", zap.NewNop())

	require.NoError(t, sink(context.Background(), batch("algorand/aa/1", "algorand/aa/2")))
	require.Len(t, w.calls, 1)
	require.Len(t, w.calls[0], 2)

	msg := w.calls[0][0]
	assert.Equal(t, "algorand/aa/1", string(msg.Key))
	var decoded testEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "algorand/aa/1", decoded.ID)
	assert.Equal(t, []kafka.Header{
		{Key: HeaderInstanceID, Value: []byte("instance-1")},
		{Key: HeaderTopic, Value: []byte("algorand")},
	}, msg.Headers)

	require.NoError(t, sink(context.Background(), nil))
	assert.Len(t, w.calls, 1, "empty batch is not written")
}

func TestKafkaSink_Error(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := NewKafkaSink[testEvent](w, "i", nil)
	assert.Error(t, sink(context.Background(), batch("k")))
}

func TestNewKafkaWriter(t *testing.T) {
	_, err := NewKafkaWriter(config.KafkaConfig{Topic: "t"})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	_, err = NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	w, err := NewKafkaWriter(config.KafkaConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "xchain",
		ClientID:    "watcher",
		Compression: "zstd",
	})
	require.NoError(t, err)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.False(t, w.Async)
	assert.NoError(t, w.Close())
}

func TestRequiredAcks(t *testing.T) {
	assert.Equal(t, kafka.RequireNone, requiredAcks("none"))
	assert.Equal(t, kafka.RequireOne, requiredAcks("one"))
	assert.Equal(t, kafka.RequireAll, requiredAcks("all"))
	assert.Equal(t, kafka.RequireAll, requiredAcks(""))
}

// ===== Redis stream =====

func TestRedisStreamSink(t *testing.T) {
	stream := &fakeStream{}
	sink, err := NewRedisStreamSink[testEvent](stream, "messages", 1000)
	require.NoError(t, err)

	require.NoError(t, sink(context.Background(), batch("a", "b")))
	require.Len(t, stream.args, 2)
	assert.Equal(t, "messages", stream.args[0].Stream)
	assert.Equal(t, int64(1000), stream.args[0].MaxLen)
	assert.True(t, stream.args[0].Approx)

	values, ok := stream.args[1].Values.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "b", values["key"])
	assert.Equal(t, "algorand", values["topic"])
}

func TestRedisStreamSink_Errors(t *testing.T) {
	_, err := NewRedisStreamSink[testEvent](nil, "s", 0)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	_, err = NewRedisStreamSink[testEvent](&fakeStream{}, "", 0)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	sink, err := NewRedisStreamSink[testEvent](&fakeStream{err: errors.New("down")}, "s", 0)
	require.NoError(t, err)
	assert.Error(t, sink(context.Background(), batch("a")))
}

// ===== Memory =====

func TestMemorySink_Dedup(t *testing.T) {
	m := NewMemorySink[testEvent]()
	sink := m.Sink()

	require.NoError(t, sink(context.Background(), batch("a", "b")))
	require.NoError(t, sink(context.Background(), batch("a", "b", "c")))

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 2, m.Deliveries())
	assert.Equal(t, 2, m.Duplicates())
	assert.Equal(t, batch("a", "b", "c"), m.Events())
}

// ===== Log =====

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink[testEvent](zap.New(core))

	require.NoError(t, sink(context.Background(), batch("a", "b")))
	entries := logs.FilterMessage("message forwarded").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ContextMap()["key"])
}

// ===== Fanout =====

func TestFanout(t *testing.T) {
	first := NewMemorySink[testEvent]()
	second := NewMemorySink[testEvent]()
	sink := Fanout(first.Sink(), second.Sink())

	require.NoError(t, sink(context.Background(), batch("a")))
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 1, second.Len())

	failing := Fanout(func(context.Context, []testEvent) error { return errors.New("boom") }, first.Sink())
	assert.Error(t, failing(context.Background(), batch("b")))
	assert.Equal(t, 1, first.Len(), "later sinks are skipped after a failure")

	assert.NoError(t, Discard[testEvent]()(context.Background(), batch("x")))
}

// ===== WebSocket =====

func TestWebSocketSink(t *testing.T) {
	_, err := NewWebSocketSink[testEvent](nil)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	hub := ws.NewHub(10, zap.NewNop())
	go hub.Run()

	sink, err := NewWebSocketSink[testEvent](hub)
	require.NoError(t, err)
	require.NoError(t, sink(context.Background(), batch("a", "b")))

	hub.Stop()
	time.Sleep(10 * time.Millisecond)
	err = sink(context.Background(), batch("c"))
	assert.True(t, errors.Is(err, ws.ErrHubStopped))
}
