// Package multichain runs one watcher instance per job and reports their
// health. Instances share nothing but the stat repository.
package multichain

import (
	"time"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
	"github.com/0xmhha/xchain-watcher/pkg/watcher"
)

// InstanceStatus represents the lifecycle state of a watcher instance.
type InstanceStatus string

const (
	// StatusRegistered indicates the instance has been registered but not started.
	StatusRegistered InstanceStatus = "registered"
	// StatusRunning indicates the instance loop is running.
	StatusRunning InstanceStatus = "running"
	// StatusStopped indicates the loop has exited. LastError is set when
	// it exited on a fault rather than on shutdown.
	StatusStopped InstanceStatus = "stopped"
)

// HealthStatus represents the health of one watcher instance.
type HealthStatus struct {
	JobID         string         `json:"jobId"`
	Chain         string         `json:"chain"`
	Status        InstanceStatus `json:"status"`
	State         watcher.State  `json:"state,omitempty"`
	IsHealthy     bool           `json:"isHealthy"`
	LastBlock     uint64         `json:"lastBlock"`
	Finalized     uint64         `json:"finalized"`
	SyncLag       uint64         `json:"syncLag"`
	LastError     string         `json:"lastError,omitempty"`
	ErrorClass    chain.Class    `json:"errorClass,omitempty"`
	LastErrorTime *time.Time     `json:"lastErrorTime,omitempty"`
	Uptime        time.Duration  `json:"uptime"`
	CheckedAt     time.Time      `json:"checkedAt"`
}

// InstanceInfo contains read-only information about a registered instance.
type InstanceInfo struct {
	ID         string         `json:"id"`
	Chain      string         `json:"chain"`
	Protocol   string         `json:"protocol"`
	Commitment string         `json:"commitment"`
	Targets    []string       `json:"targets"`
	Status     InstanceStatus `json:"status"`
	State      watcher.State  `json:"state,omitempty"`
	LastBlock  uint64         `json:"lastBlock"`
	HasCursor  bool           `json:"hasCursor"`
	Finalized  uint64         `json:"finalized"`
	LastError  string         `json:"lastError,omitempty"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	StoppedAt  *time.Time     `json:"stoppedAt,omitempty"`
}
