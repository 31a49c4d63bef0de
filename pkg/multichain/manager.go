package multichain

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/xchain-watcher/pkg/stats"
	"github.com/0xmhha/xchain-watcher/pkg/types"
	"github.com/0xmhha/xchain-watcher/pkg/watcher"
)

// JobSource provides the jobs a manager runs.
type JobSource interface {
	GetJobDefinitions(ctx context.Context) ([]types.JobDefinition, error)
	GetSource(ctx context.Context, job types.JobDefinition) (watcher.Source, error)
}

// Manager runs one watcher instance per job and reports their health.
type Manager struct {
	config        *ManagerConfig
	jobs          JobSource
	registry      *Registry
	healthChecker *HealthChecker
	stats         stats.StatRepository
	logger        *zap.Logger

	cancelFunc context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex

	isRunning bool
}

// NewManager creates a new manager over jobs.
func NewManager(config *ManagerConfig, jobs JobSource, statRepo stats.StatRepository, logger *zap.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if jobs == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:   config,
		jobs:     jobs,
		registry: NewRegistry(logger),
		stats:    statRepo,
		logger:   logger.Named("multichain"),
	}
	m.healthChecker = NewHealthChecker(m, config.HealthCheckInterval, config.StallChecks, statRepo, m.logger)

	return m, nil
}

// Start loads the job definitions and starts one instance per job. A job
// whose source cannot be built is registered as stopped; the others still
// start. Only a failure to load the definitions is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return nil
	}

	defs, err := m.jobs.GetJobDefinitions(ctx)
	if err != nil {
		return err
	}

	m.logger.Info("starting watcher manager", zap.Int("jobCount", len(defs)))

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	for _, def := range defs {
		instance, err := m.register(ctx, def)
		if err != nil {
			m.logger.Error("failed to register job", zap.String("job", def.ID), zap.Error(err))
			continue
		}
		group.Go(func() error {
			return instance.Run(groupCtx)
		})
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	m.cancelFunc = cancel
	m.done = done
	m.isRunning = true

	m.healthChecker.Start(runCtx)

	m.logger.Info("watcher manager started",
		zap.Int("running", m.registry.CountByStatus(StatusRunning)),
		zap.Int("stopped", m.registry.CountByStatus(StatusStopped)),
	)
	return nil
}

func (m *Manager) register(ctx context.Context, def types.JobDefinition) (*WatcherInstance, error) {
	if m.registry.Exists(def.ID) {
		return nil, ErrJobAlreadyExists
	}

	source, err := m.jobs.GetSource(ctx, def)
	if err != nil {
		source = nil
	}
	instance := NewWatcherInstance(def, source, m.stats, m.logger)
	if regErr := m.registry.Register(instance); regErr != nil {
		return nil, regErr
	}
	if err != nil {
		instance.fail(NewChainError(def.ID, def.Chain, ErrSourceInitFailed, err))
		m.logger.Error("failed to build job source", zap.String("job", def.ID), zap.Error(err))
	} else if m.stats != nil {
		stats.SetDegraded(m.stats, def.ID, def.Chain, false)
	}
	return instance, nil
}

// Done is closed once every instance has exited.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// Stop cancels every instance and waits for their current windows to
// finish, bounded by ctx and the configured stop timeout.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	done := m.done
	m.mu.Unlock()

	m.logger.Info("stopping watcher manager")

	m.healthChecker.Stop()
	m.cancelFunc()

	ctx, cancel := context.WithTimeout(ctx, m.config.StopTimeout)
	defer cancel()

	var err error
	select {
	case <-done:
		m.logger.Info("watcher manager stopped gracefully")
	case <-ctx.Done():
		m.logger.Warn("watcher manager stop timed out")
		err = ErrOperationTimeout
	}

	for _, instance := range m.registry.List() {
		if cerr := instance.Close(); cerr != nil {
			m.logger.Warn("failed to close job source", zap.String("job", instance.Job.ID), zap.Error(cerr))
		}
	}
	return err
}

// GetJob returns an instance by job ID.
func (m *Manager) GetJob(jobID string) (*WatcherInstance, error) {
	return m.registry.Get(jobID)
}

// ListJobs returns information for all instances.
func (m *Manager) ListJobs() []*InstanceInfo {
	instances := m.registry.List()
	infos := make([]*InstanceInfo, 0, len(instances))
	for _, instance := range instances {
		infos = append(infos, instance.Info())
	}
	return infos
}

// HealthCheck returns health status for all instances.
func (m *Manager) HealthCheck() map[string]*HealthStatus {
	instances := m.registry.List()
	statuses := make(map[string]*HealthStatus, len(instances))
	for _, instance := range instances {
		statuses[instance.Job.ID] = instance.HealthCheck()
	}
	return statuses
}

// Healthy reports whether no instance has stopped on a fault.
func (m *Manager) Healthy() bool {
	for _, instance := range m.registry.List() {
		if !instance.Healthy() {
			return false
		}
	}
	return true
}

// JobCount returns the number of registered jobs.
func (m *Manager) JobCount() int {
	return m.registry.Count()
}

// RunningJobCount returns the number of running instances.
func (m *Manager) RunningJobCount() int {
	return m.registry.CountByStatus(StatusRunning)
}
