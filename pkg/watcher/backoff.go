package watcher

import (
	"math"
	"time"

	"github.com/0xmhha/xchain-watcher/internal/config"
	"github.com/0xmhha/xchain-watcher/internal/constants"
)

// Backoff yields exponentially growing delays: Initial, Initial*Multiplier,
// ... capped at Max. It is not safe for concurrent use.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	attempt    int
}

// NewBackoff returns a backoff for cfg. Zero fields take their defaults.
func NewBackoff(cfg config.BackoffConfig) *Backoff {
	b := &Backoff{
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
	}
	if b.initial <= 0 {
		b.initial = constants.DefaultBackoffInitial
	}
	if b.max <= 0 {
		b.max = constants.DefaultBackoffMax
	}
	if b.max < b.initial {
		b.max = b.initial
	}
	if b.multiplier < 1 {
		b.multiplier = constants.DefaultBackoffMultiplier
	}
	return b
}

// Next returns the delay before the next retry.
func (b *Backoff) Next() time.Duration {
	d := float64(b.initial) * math.Pow(b.multiplier, float64(b.attempt))
	b.attempt++
	if d >= float64(b.max) || math.IsInf(d, 0) {
		return b.max
	}
	return time.Duration(d)
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}
