package multichain

import (
	"fmt"
	"time"

	"github.com/0xmhha/xchain-watcher/internal/constants"
)

// ManagerConfig defines the configuration for the Manager.
type ManagerConfig struct {
	// HealthCheckInterval is how often instance health is logged (default: 30s).
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty" json:"healthCheckInterval,omitempty"`
	// StopTimeout bounds how long Stop waits for running windows (default: 30s).
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty" json:"stopTimeout,omitempty"`
	// StallChecks is the number of consecutive health checks without cursor
	// progress, while finalized blocks are pending, after which a running job
	// is reported stalled. Zero disables stall detection.
	StallChecks int `yaml:"stall_checks,omitempty" json:"stallChecks,omitempty"`
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		HealthCheckInterval: constants.DefaultHealthCheckInterval,
		StopTimeout:         constants.DefaultStopTimeout,
		StallChecks:         constants.DefaultStallChecks,
	}
}

// Validate validates the manager configuration.
func (c *ManagerConfig) Validate() error {
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: health_check_interval must be positive", ErrInvalidConfig)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop_timeout must be positive", ErrInvalidConfig)
	}
	if c.StallChecks < 0 {
		return fmt.Errorf("%w: stall_checks must not be negative", ErrInvalidConfig)
	}
	return nil
}
