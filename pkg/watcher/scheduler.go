package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/config"
	"github.com/0xmhha/xchain-watcher/internal/logger"
	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/keys"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/storage"
	"github.com/0xmhha/xchain-watcher/pkg/types"
)

// Metric ids reported by every scheduler, labelled by job and chain.
const (
	MetricLastBlock         = "watcher_last_block"
	MetricFinalizedHeight   = "watcher_finalized_height"
	MetricWindowSize        = "watcher_window_size"
	MetricMessagesExtracted = "watcher_messages_extracted"
	MetricRecordsDropped    = "watcher_records_dropped"
	MetricBackoffTotal      = "watcher_backoff_total"
)

// ErrNilDependency is returned by NewScheduler when a required
// collaborator is missing.
var ErrNilDependency = errors.New("required dependency is nil")

// Handler receives the messages of one window. A nil error means every
// message was forwarded.
type Handler interface {
	HandleMessages(ctx context.Context, msgs []types.CanonicalMessage) error
}

// Dispatcher forwards a window to every handler of a job and fails on the
// first handler error.
type Dispatcher []Handler

// HandleMessages calls every handler in order.
func (d Dispatcher) HandleMessages(ctx context.Context, msgs []types.CanonicalMessage) error {
	for i, h := range d {
		if err := h.HandleMessages(ctx, msgs); err != nil {
			return fmt.Errorf("handler %d: %w", i, err)
		}
	}
	return nil
}

// Status is a snapshot of a scheduler for health reporting.
type Status struct {
	Job        string    `json:"job"`
	Chain      string    `json:"chain"`
	State      State     `json:"state"`
	LastBlock  uint64    `json:"lastBlock"`
	HasCursor  bool      `json:"hasCursor"`
	Finalized  uint64    `json:"finalized"`
	LastError  string    `json:"lastError,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Commitment string    `json:"commitment"`
}

// Source is a long-running job loop.
type Source interface {
	Job() types.JobDefinition
	Run(ctx context.Context) error
	Status() Status
}

// TickResult describes one Tick.
type TickResult struct {
	// Idle is true when no new finalized block was available
	Idle      bool
	Finalized uint64
	Window    types.BlockWindow
	Messages  int
	Dropped   int
}

type options struct {
	blocks  storage.BlockIndex
	backoff config.BackoffConfig
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*options)

// WithBlockIndex persists the block grouping of every committed window.
func WithBlockIndex(idx storage.BlockIndex) Option {
	return func(o *options) { o.blocks = idx }
}

// WithBackoff sets the retry policy of failed windows.
func WithBackoff(cfg config.BackoffConfig) Option {
	return func(o *options) { o.backoff = cfg }
}

// WithSleep replaces the wait used between ticks.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithClock replaces time.Now for cursor timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Scheduler runs the fetch, extract, dispatch and commit loop of one job
// over a chain family whose raw records have type R.
type Scheduler[R any] struct {
	job       types.JobDefinition
	repo      chain.Repository[R]
	extractor chain.Extractor[R]
	handler   Handler
	metadata  storage.MetadataRepository[types.Cursor]
	blocks    storage.BlockIndex
	stats     stats.StatRepository
	backoff   *Backoff
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    *zap.Logger
	labels    map[string]string

	mu        sync.RWMutex
	state     State
	lastErr   error
	cursor    types.Cursor
	hasCursor bool
	finalized uint64
	updatedAt time.Time
}

var _ Source = (*Scheduler[any])(nil)

// NewScheduler returns a scheduler for job. job must already be valid.
func NewScheduler[R any](
	job types.JobDefinition,
	repo chain.Repository[R],
	extractor chain.Extractor[R],
	handler Handler,
	metadata storage.MetadataRepository[types.Cursor],
	statRepo stats.StatRepository,
	log *zap.Logger,
	opts ...Option,
) (*Scheduler[R], error) {
	if err := job.Validate(); err != nil {
		return nil, chain.Configuration(err)
	}
	switch {
	case repo == nil:
		return nil, chain.Configurationf("%w: repository", ErrNilDependency)
	case extractor == nil:
		return nil, chain.Configurationf("%w: extractor", ErrNilDependency)
	case handler == nil:
		return nil, chain.Configurationf("%w: handler", ErrNilDependency)
	case metadata == nil:
		return nil, chain.Configurationf("%w: metadata repository", ErrNilDependency)
	case statRepo == nil:
		return nil, chain.Configurationf("%w: stat repository", ErrNilDependency)
	}
	if log == nil {
		log = zap.NewNop()
	}

	o := options{sleep: sleepContext, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Scheduler[R]{
		job:       job,
		repo:      repo,
		extractor: extractor,
		handler:   handler,
		metadata:  metadata,
		blocks:    o.blocks,
		stats:     statRepo,
		backoff:   NewBackoff(o.backoff),
		sleep:     o.sleep,
		now:       o.now,
		logger:    logger.WithJob(logger.WithComponent(log, "scheduler"), job.ID, job.Chain),
		labels:    map[string]string{stats.LabelJob: job.ID, stats.LabelChain: job.Chain},
		state:     StateIdle,
	}, nil
}

// Job returns the job definition.
func (s *Scheduler[R]) Job() types.JobDefinition {
	return s.job
}

// State returns the current phase.
func (s *Scheduler[R]) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the error of the last failed tick, or nil once a tick
// succeeded again.
func (s *Scheduler[R]) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Cursor returns the last committed cursor. ok is false before the first
// commit or load.
func (s *Scheduler[R]) Cursor() (types.Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, s.hasCursor
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler[R]) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Job:        s.job.ID,
		Chain:      s.job.Chain,
		State:      s.state,
		LastBlock:  s.cursor.LastProcessedBlock,
		HasCursor:  s.hasCursor,
		Finalized:  s.finalized,
		UpdatedAt:  s.updatedAt,
		Commitment: s.job.Commitment,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler[R]) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.updatedAt = s.now()
}

func (s *Scheduler[R]) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Run ticks until ctx is canceled or a configuration error stops the job.
// Cancellation is observed between windows only: a window in progress is
// always completed or failed before Run returns.
func (s *Scheduler[R]) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.String("commitment", s.job.Commitment),
		zap.Uint64("max_batch_size", s.job.MaxBatchSize),
		zap.Duration("interval", s.job.Interval),
	)
	stats.SetDegraded(s.stats, s.job.ID, s.job.Chain, false)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopped", zap.Error(err))
			return err
		}

		res, err := s.Tick(context.WithoutCancel(ctx))

		var wait time.Duration
		switch {
		case err == nil && res.Idle:
			s.backoff.Reset()
			wait = s.job.Interval
		case err == nil:
			s.backoff.Reset()
			continue
		case chain.IsConfiguration(err):
			s.setState(StateStopped)
			stats.SetDegraded(s.stats, s.job.ID, s.job.Chain, true)
			s.logger.Error("scheduler stopped on configuration error", zap.Error(err))
			return err
		default:
			s.setState(StateBackoff)
			s.stats.Count(MetricBackoffTotal, s.labels)
			wait = s.backoff.Next()
			s.logger.Warn("window failed, backing off",
				zap.String("class", string(chain.Classify(err))),
				zap.Int("attempt", s.backoff.Attempts()),
				zap.Duration("delay", wait),
				zap.Error(err),
			)
		}

		if err := s.sleep(ctx, wait); err != nil {
			s.logger.Info("scheduler stopped", zap.Error(err))
			return err
		}
	}
}

// Tick processes at most one window. The cursor is committed only after
// every handler accepted the window's messages.
func (s *Scheduler[R]) Tick(ctx context.Context) (TickResult, error) {
	res, err := s.tick(ctx)
	s.setError(err)
	if err == nil {
		s.setState(StateIdle)
	}
	return res, err
}

func (s *Scheduler[R]) tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	s.setState(StateFetching)
	finalized, err := s.repo.GetFinalizedHeight(ctx, s.job.Commitment)
	if err != nil {
		return res, fmt.Errorf("get finalized height: %w", err)
	}
	res.Finalized = finalized
	s.mu.Lock()
	s.finalized = finalized
	s.mu.Unlock()
	s.stats.Measure(MetricFinalizedHeight, float64(finalized), s.labels)

	next, err := s.nextBlock(ctx, finalized)
	if err != nil {
		return res, err
	}
	window, ok := ComputeWindow(next, finalized, s.job.MaxBatchSize)
	if !ok {
		res.Idle = true
		s.logger.Debug("no new finalized block",
			zap.Uint64("next", next),
			zap.Uint64("finalized", finalized),
		)
		return res, nil
	}
	res.Window = window
	s.stats.Measure(MetricWindowSize, float64(window.Size()), s.labels)

	records, err := s.repo.GetRawRecordsInRange(ctx, window)
	if err != nil {
		return res, fmt.Errorf("fetch window %s: %w", window, err)
	}

	s.setState(StateExtracting)
	msgs, dropped := s.extract(records)
	res.Messages = len(msgs)
	res.Dropped = dropped

	grouping := keys.GroupByBlock(msgs)
	if err := s.ensureToBlock(ctx, grouping, window.To); err != nil {
		return res, fmt.Errorf("window %s: %w", window, err)
	}

	if len(msgs) > 0 {
		s.setState(StateDispatching)
		if err := s.handler.HandleMessages(ctx, msgs); err != nil {
			return res, fmt.Errorf("dispatch window %s: %w", window, err)
		}
	}

	s.setState(StateCommitting)
	if s.blocks != nil {
		if err := s.blocks.SaveBlocks(ctx, s.job.Chain, grouping); err != nil {
			return res, fmt.Errorf("save block index %s: %w", window, err)
		}
	}
	cursor := types.Cursor{Chain: s.job.Chain, LastProcessedBlock: window.To, UpdatedAt: s.now().UTC()}
	if err := s.metadata.Save(ctx, s.job.ID, cursor); err != nil {
		return res, fmt.Errorf("commit cursor %d: %w", window.To, err)
	}
	s.mu.Lock()
	s.cursor = cursor
	s.hasCursor = true
	s.mu.Unlock()

	s.stats.Measure(MetricLastBlock, float64(window.To), s.labels)
	if len(msgs) > 0 {
		s.stats.Count(MetricMessagesExtracted, s.labels, float64(len(msgs)))
	}

	s.logger.Info("window committed",
		zap.Stringer("window", window),
		zap.Int("records", len(records)),
		zap.Int("messages", len(msgs)),
		zap.Int("dropped", dropped),
	)
	return res, nil
}

// nextBlock returns the first block of the next window. Without a stored
// cursor the job starts at its configured start block, or at the current
// finalized height when none is set.
func (s *Scheduler[R]) nextBlock(ctx context.Context, finalized uint64) (uint64, error) {
	cursor, ok, err := s.metadata.Get(ctx, s.job.ID)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		s.mu.Lock()
		s.cursor = cursor
		s.hasCursor = true
		s.mu.Unlock()
		return cursor.LastProcessedBlock + 1, nil
	}
	if s.job.StartBlock != nil {
		return *s.job.StartBlock, nil
	}
	return finalized, nil
}

// extract runs the extractor over every record. Malformed records are
// dropped and counted; any other extractor error drops the record too.
func (s *Scheduler[R]) extract(records []R) ([]types.CanonicalMessage, int) {
	var (
		msgs    []types.CanonicalMessage
		dropped int
	)
	for i, record := range records {
		out, err := s.extractor.Extract(record, "")
		if err != nil {
			dropped++
			s.logger.Warn("dropping record",
				zap.Int("index", i),
				zap.Bool("malformed", chain.IsMalformed(err)),
				zap.Error(err),
			)
			continue
		}
		msgs = append(msgs, out...)
	}
	if dropped > 0 {
		s.stats.Count(MetricRecordsDropped, s.labels, float64(dropped))
	}
	return msgs, dropped
}

// ensureToBlock records the window's last block in the grouping even when
// it carried no message. Repositories that cannot time blocks skip it.
func (s *Scheduler[R]) ensureToBlock(ctx context.Context, grouping *keys.MessagesByBlock, to uint64) error {
	timer, ok := s.repo.(chain.BlockTimer)
	if !ok {
		return nil
	}
	ts, err := timer.GetBlockTimestamp(ctx, to)
	if err != nil {
		return fmt.Errorf("get time of block %d: %w", to, err)
	}
	grouping.Ensure(keys.BlockKey(to, ts))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
