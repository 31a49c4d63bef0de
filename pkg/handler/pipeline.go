// Package handler maps canonical messages to target events, counts them and
// forwards each window's batch to a sink.
package handler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/logger"
	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/target"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// ErrDispatch matches every error returned by Pipeline.Handle when the sink
// rejected a batch.
var ErrDispatch = chain.ErrDispatch

// Config is the per-job configuration of a pipeline.
type Config struct {
	ID         string
	Chain      string
	ChainID    uint64
	Commitment string
	MetricName string
	Filter     types.Filter
	Emitters   []string
	ABI        string
}

// ConfigFromJob builds a pipeline configuration from a job definition.
func ConfigFromJob(job types.JobDefinition) Config {
	return Config{
		ID:         job.ID,
		Chain:      job.Chain,
		ChainID:    job.ChainID,
		Commitment: job.Commitment,
		MetricName: job.MetricName,
		Filter:     job.Filter,
		Emitters:   job.Emitters,
		ABI:        job.ABI,
	}
}

func (c Config) normalize() Config {
	c.Chain = strings.ToLower(strings.TrimSpace(c.Chain))
	c.Filter = c.Filter.Normalize()
	c.Emitters = types.FoldSet(c.Emitters)
	if c.MetricName == "" {
		c.MetricName = "process_source_event"
	}
	return c
}

// Event is a mapped message. Protocol labels the counter of each event.
type Event interface {
	Protocol() string
}

// Mapper projects a canonical message. ok is false when the message does not
// concern this pipeline.
type Mapper[T Event] func(cfg Config, msg types.CanonicalMessage) (event T, ok bool)

// Pipeline maps, filters, counts and forwards canonical messages.
type Pipeline[T Event] struct {
	cfg    Config
	mapper Mapper[T]
	sink   target.Sink[T]
	stats  stats.StatRepository
}

// NewPipeline returns a pipeline. The filter of cfg is lower-cased here even
// when the caller already did so.
func NewPipeline[T Event](cfg Config, mapper Mapper[T], sink target.Sink[T], repo stats.StatRepository) *Pipeline[T] {
	return &Pipeline[T]{
		cfg:    cfg.normalize(),
		mapper: mapper,
		sink:   sink,
		stats:  repo,
	}
}

// Config returns the normalized configuration.
func (p *Pipeline[T]) Config() Config {
	return p.cfg
}

// Handle maps msgs, counts every surviving event and forwards the survivors
// to the sink in a single call. The surviving batch is returned even when
// the sink fails.
func (p *Pipeline[T]) Handle(ctx context.Context, msgs []types.CanonicalMessage) ([]T, error) {
	events := make([]T, 0, len(msgs))
	for _, msg := range msgs {
		event, ok := p.mapper(p.cfg, msg)
		if !ok {
			continue
		}
		p.report(event.Protocol())
		events = append(events, event)
	}

	if err := p.sink(ctx, events); err != nil {
		return events, chain.Dispatch(fmt.Errorf("forward %d events for job %s: %w", len(events), p.cfg.ID, err))
	}
	logger.FromContext(ctx).Debug("forwarded events",
		zap.Int("events", len(events)),
		zap.Int("filtered", len(msgs)-len(events)),
	)
	return events, nil
}

// HandleMessages satisfies watcher.Handler.
func (p *Pipeline[T]) HandleMessages(ctx context.Context, msgs []types.CanonicalMessage) error {
	_, err := p.Handle(ctx, msgs)
	return err
}

func (p *Pipeline[T]) report(protocol string) {
	if p.stats == nil {
		return
	}
	p.stats.Count(p.cfg.MetricName, map[string]string{
		stats.LabelJob:        p.cfg.ID,
		stats.LabelChain:      p.cfg.Chain,
		stats.LabelProtocol:   protocol,
		stats.LabelCommitment: p.cfg.Commitment,
	})
}
