package multichain

import (
	"errors"
	"fmt"

	"github.com/0xmhha/xchain-watcher/pkg/chain"
)

// Sentinel errors for the multichain package.
var (
	// Instance lifecycle errors
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyExists  = errors.New("job already exists")
	ErrJobAlreadyRunning = errors.New("job is already running")

	// Initialization errors
	ErrSourceInitFailed = errors.New("failed to initialize source")
	ErrJobStopped       = errors.New("job stopped")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Operation errors
	ErrOperationTimeout = errors.New("operation timed out")
)

// ChainError records why a job's loop ended: the lifecycle sentinel in Op,
// the underlying cause in Err and the failure class of that cause.
type ChainError struct {
	JobID string
	Chain string
	Op    error
	Err   error
	Class chain.Class
}

// NewChainError creates a new chain error.
func NewChainError(jobID, chainName string, op error, err error) *ChainError {
	return &ChainError{
		JobID: jobID,
		Chain: chainName,
		Op:    op,
		Err:   err,
		Class: chain.Classify(err),
	}
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s (%s): %v: %v", e.JobID, e.Chain, e.Op, e.Err)
	}
	return fmt.Sprintf("job %s (%s): %v", e.JobID, e.Chain, e.Op)
}

// Unwrap returns the underlying error.
func (e *ChainError) Unwrap() error {
	return e.Err
}

// Is checks if the target error matches.
func (e *ChainError) Is(target error) bool {
	return errors.Is(e.Op, target) || errors.Is(e.Err, target)
}

// ErrorClass returns the failure class recorded for err, or the class of err
// itself when it is not a ChainError.
func ErrorClass(err error) chain.Class {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return chain.Classify(err)
}
