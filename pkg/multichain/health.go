package multichain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/pkg/stats"
)

// Metrics published by the health checker.
const (
	SyncLagMetric = "watcher_sync_lag"
	StalledMetric = "watcher_stalled"
)

// progress is the last block a running job had reached and how many
// consecutive checks it has stayed there while behind.
type progress struct {
	lastBlock uint64
	idle      int
}

// HealthChecker periodically publishes the sync lag of every job and flags
// running jobs whose cursor stays put while finalized blocks are pending.
type HealthChecker struct {
	manager     *Manager
	interval    time.Duration
	stallChecks int
	stats       stats.StatRepository
	logger      *zap.Logger

	mu       sync.Mutex
	progress map[string]*progress

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewHealthChecker creates a health checker. statRepo may be nil.
func NewHealthChecker(manager *Manager, interval time.Duration, stallChecks int, statRepo stats.StatRepository, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		manager:     manager,
		interval:    interval,
		stallChecks: stallChecks,
		stats:       statRepo,
		logger:      logger.Named("health"),
		progress:    make(map[string]*progress),
	}
}

// Start begins periodic health checking.
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancelFunc = context.WithCancel(ctx)

	hc.wg.Add(1)
	go hc.run(ctx)

	hc.logger.Info("health checker started",
		zap.Duration("interval", hc.interval),
		zap.Int("stall_checks", hc.stallChecks),
	)
}

// Stop stops the health checker.
func (hc *HealthChecker) Stop() {
	if hc.cancelFunc != nil {
		hc.cancelFunc()
	}
	hc.wg.Wait()
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.checkAll()
		}
	}
}

// checkAll publishes lag and stall gauges for every job and returns how many
// jobs are healthy and how many are not.
func (hc *HealthChecker) checkAll() (healthy, unhealthy int) {
	for jobID, status := range hc.manager.HealthCheck() {
		stalled := hc.observe(status)
		if hc.stats != nil {
			labels := map[string]string{stats.LabelJob: jobID, stats.LabelChain: status.Chain}
			hc.stats.Measure(SyncLagMetric, float64(status.SyncLag), labels)
			v := 0.0
			if stalled {
				v = 1
			}
			hc.stats.Measure(StalledMetric, v, labels)
		}

		if status.IsHealthy {
			healthy++
			continue
		}
		unhealthy++
		hc.logger.Warn("job unhealthy",
			zap.String("job", jobID),
			zap.String("chain", status.Chain),
			zap.String("status", string(status.Status)),
			zap.String("error", status.LastError),
		)
	}

	hc.logger.Debug("health check complete",
		zap.Int("healthy", healthy),
		zap.Int("unhealthy", unhealthy),
	)
	return healthy, unhealthy
}

// observe updates the progress of one job and reports whether it is
// stalled. Zero stallChecks disables stall detection.
func (hc *HealthChecker) observe(status *HealthStatus) bool {
	if hc.stallChecks <= 0 {
		return false
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()

	p, ok := hc.progress[status.JobID]
	if !ok || status.Status != StatusRunning || status.SyncLag == 0 || status.LastBlock != p.lastBlock {
		hc.progress[status.JobID] = &progress{lastBlock: status.LastBlock}
		return false
	}

	p.idle++
	if p.idle < hc.stallChecks {
		return false
	}
	if p.idle == hc.stallChecks {
		hc.logger.Warn("job stalled",
			zap.String("job", status.JobID),
			zap.String("chain", status.Chain),
			zap.Uint64("last_block", status.LastBlock),
			zap.Uint64("finalized", status.Finalized),
			zap.String("state", string(status.State)),
		)
	}
	return true
}

// Stalled reports whether jobID was stalled at the last check.
func (hc *HealthChecker) Stalled(jobID string) bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	p, ok := hc.progress[jobID]
	return ok && hc.stallChecks > 0 && p.idle >= hc.stallChecks
}

// CheckJob performs a health check on one job.
func (hc *HealthChecker) CheckJob(jobID string) (*HealthStatus, error) {
	instance, err := hc.manager.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	return instance.HealthCheck(), nil
}
