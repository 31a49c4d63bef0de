package multichain

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/logger"
	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/types"
	"github.com/0xmhha/xchain-watcher/pkg/watcher"
)

// WatcherInstance runs the source of one job.
type WatcherInstance struct {
	Job types.JobDefinition

	source watcher.Source
	stats  stats.StatRepository

	// State
	status      InstanceStatus
	statusMu    sync.RWMutex
	startedAt   *time.Time
	stoppedAt   *time.Time
	lastError   error
	lastErrorAt *time.Time

	logger *zap.Logger
}

// NewWatcherInstance creates an instance for job. source may be nil when
// it could not be built; such an instance is reported as stopped.
func NewWatcherInstance(job types.JobDefinition, source watcher.Source, statRepo stats.StatRepository, log *zap.Logger) *WatcherInstance {
	if log == nil {
		log = zap.NewNop()
	}
	return &WatcherInstance{
		Job:    job,
		source: source,
		stats:  statRepo,
		status: StatusRegistered,
		logger: logger.WithJob(log, job.ID, job.Chain),
	}
}

// Run runs the source until ctx is cancelled or the source stops on a
// fault. Faults are recorded on the instance, not returned, so sibling
// instances keep running.
func (wi *WatcherInstance) Run(ctx context.Context) error {
	wi.statusMu.Lock()
	if wi.status == StatusRunning {
		wi.statusMu.Unlock()
		return ErrJobAlreadyRunning
	}
	if wi.source == nil {
		wi.statusMu.Unlock()
		return nil
	}
	now := time.Now()
	wi.startedAt = &now
	wi.stoppedAt = nil
	wi.setStatusLocked(StatusRunning)
	wi.statusMu.Unlock()

	wi.logger.Info("starting watcher instance",
		zap.String("commitment", wi.Job.Commitment),
		zap.Strings("targets", wi.Job.Targets),
	)

	err := wi.source.Run(logger.WithLogger(ctx, wi.logger))
	switch {
	case err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil:
		wi.setStatus(StatusStopped)
		wi.logger.Info("watcher instance stopped")
	case chain.IsConfiguration(err):
		wi.fail(NewChainError(wi.Job.ID, wi.Job.Chain, ErrJobStopped, err))
		wi.logger.Error("watcher instance stopped on configuration error", zap.Error(err))
	default:
		wi.fail(NewChainError(wi.Job.ID, wi.Job.Chain, ErrJobStopped, err))
		wi.logger.Error("watcher instance exited", zap.Error(err))
	}
	return nil
}

// Close releases the source's resources.
func (wi *WatcherInstance) Close() error {
	if c, ok := wi.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Status returns the current status of the instance.
func (wi *WatcherInstance) Status() InstanceStatus {
	wi.statusMu.RLock()
	defer wi.statusMu.RUnlock()
	return wi.status
}

// LastError returns the fault that stopped the instance, if any.
func (wi *WatcherInstance) LastError() error {
	wi.statusMu.RLock()
	defer wi.statusMu.RUnlock()
	return wi.lastError
}

// Healthy reports whether the instance is running or waiting to run.
func (wi *WatcherInstance) Healthy() bool {
	wi.statusMu.RLock()
	failed := wi.lastError != nil
	wi.statusMu.RUnlock()
	if failed {
		return false
	}
	return wi.source == nil || !wi.source.Status().State.IsTerminal()
}

// Info returns the instance info.
func (wi *WatcherInstance) Info() *InstanceInfo {
	info := &InstanceInfo{
		ID:         wi.Job.ID,
		Chain:      wi.Job.Chain,
		Protocol:   wi.Job.Protocol,
		Commitment: wi.Job.Commitment,
		Targets:    wi.Job.Targets,
	}
	if wi.source != nil {
		st := wi.source.Status()
		info.State = st.State
		info.LastBlock = st.LastBlock
		info.HasCursor = st.HasCursor
		info.Finalized = st.Finalized
		info.LastError = st.LastError
	}

	wi.statusMu.RLock()
	defer wi.statusMu.RUnlock()
	info.Status = wi.status
	info.StartedAt = wi.startedAt
	info.StoppedAt = wi.stoppedAt
	if wi.lastError != nil {
		info.LastError = wi.lastError.Error()
	}
	return info
}

// HealthCheck reports the health of the instance.
func (wi *WatcherInstance) HealthCheck() *HealthStatus {
	status := &HealthStatus{
		JobID:     wi.Job.ID,
		Chain:     wi.Job.Chain,
		Status:    wi.Status(),
		IsHealthy: wi.Healthy(),
		CheckedAt: time.Now(),
	}

	if wi.source != nil {
		st := wi.source.Status()
		status.State = st.State
		status.LastBlock = st.LastBlock
		status.Finalized = st.Finalized
		if st.HasCursor && st.Finalized > st.LastBlock {
			status.SyncLag = st.Finalized - st.LastBlock
		}
		if st.LastError != "" {
			status.LastError = st.LastError
		}
	}

	wi.statusMu.RLock()
	if wi.startedAt != nil && wi.status == StatusRunning {
		status.Uptime = time.Since(*wi.startedAt)
	}
	if wi.lastError != nil {
		status.LastError = wi.lastError.Error()
		status.LastErrorTime = wi.lastErrorAt
		status.ErrorClass = ErrorClass(wi.lastError)
	}
	wi.statusMu.RUnlock()

	return status
}

// fail records err and marks the job degraded.
func (wi *WatcherInstance) fail(err error) {
	wi.statusMu.Lock()
	now := time.Now()
	wi.lastError = err
	wi.lastErrorAt = &now
	wi.stoppedAt = &now
	wi.setStatusLocked(StatusStopped)
	wi.statusMu.Unlock()

	if wi.stats != nil {
		stats.SetDegraded(wi.stats, wi.Job.ID, wi.Job.Chain, true)
	}
}

// setStatus sets the instance status (thread-safe).
func (wi *WatcherInstance) setStatus(status InstanceStatus) {
	wi.statusMu.Lock()
	defer wi.statusMu.Unlock()
	if status == StatusStopped {
		now := time.Now()
		wi.stoppedAt = &now
	}
	wi.setStatusLocked(status)
}

// setStatusLocked sets the instance status (must hold lock).
func (wi *WatcherInstance) setStatusLocked(status InstanceStatus) {
	if wi.status != status {
		wi.logger.Info("status changed",
			zap.String("from", string(wi.status)),
			zap.String("to", string(status)),
		)
		wi.status = status
	}
}
