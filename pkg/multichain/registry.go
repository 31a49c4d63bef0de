package multichain

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages the registration of watcher instances.
type Registry struct {
	jobs   map[string]*WatcherInstance
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates a new instance registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		jobs:   make(map[string]*WatcherInstance),
		logger: logger.Named("registry"),
	}
}

// Register adds an instance to the registry.
func (r *Registry) Register(instance *WatcherInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[instance.Job.ID]; exists {
		return ErrJobAlreadyExists
	}

	r.jobs[instance.Job.ID] = instance
	r.logger.Debug("job registered",
		zap.String("job", instance.Job.ID),
		zap.String("chain", instance.Job.Chain),
	)

	return nil
}

// Unregister removes an instance from the registry.
func (r *Registry) Unregister(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[jobID]; !exists {
		return ErrJobNotFound
	}

	delete(r.jobs, jobID)
	r.logger.Debug("job unregistered", zap.String("job", jobID))

	return nil
}

// Get returns an instance by job ID.
func (r *Registry) Get(jobID string) (*WatcherInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, exists := r.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	return instance, nil
}

// List returns all registered instances ordered by job ID.
func (r *Registry) List() []*WatcherInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*WatcherInstance, 0, len(r.jobs))
	for _, instance := range r.jobs {
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Job.ID < instances[j].Job.ID
	})

	return instances
}

// ListByStatus returns instances with the given status.
func (r *Registry) ListByStatus(status InstanceStatus) []*WatcherInstance {
	var instances []*WatcherInstance
	for _, instance := range r.List() {
		if instance.Status() == status {
			instances = append(instances, instance)
		}
	}
	return instances
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// CountByStatus returns the count of instances with the given status.
func (r *Registry) CountByStatus(status InstanceStatus) int {
	return len(r.ListByStatus(status))
}

// Exists checks if a job is registered.
func (r *Registry) Exists(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.jobs[jobID]
	return exists
}
