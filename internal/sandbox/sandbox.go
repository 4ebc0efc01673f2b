// Package sandbox executes candidate VRL scripts against sample log lines
// inside an isolated Vector runtime and reports a structured outcome. A
// script that fails is a normal outcome; only a broken runtime (missing
// binary, unreachable Docker daemon) surfaces as an error.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"vrlforge/internal/vrl"
)

// ErrInfrastructure marks faults of the execution environment itself, as
// opposed to faults of the candidate script. Callers match it with
// errors.Is and must not count such a run against the retry budget.
var ErrInfrastructure = errors.New("sandbox infrastructure unavailable")

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs one candidate script against the sample inputs.
//
// The returned error is non-nil only for infrastructure faults or caller
// cancellation; every script-level failure, including timeouts, is encoded
// in the outcome. Implementations must release whatever sandbox resources
// they acquired before returning, on every path.
type Executor interface {
	Execute(ctx context.Context, script string, sample vrl.SampleInput, timeout time.Duration) (vrl.ExecutionOutcome, error)
}

// =============================================================================
// SLOT LIMITER
// =============================================================================

// Limiter bounds the number of concurrently running sandboxes and tracks
// execution statistics. It wraps any Executor.
type Limiter struct {
	inner  Executor
	slots  *semaphore.Weighted
	logger *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// Stats counts sandbox activity since construction.
type Stats struct {
	Executions int           `json:"executions"`
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
	Timeouts   int           `json:"timeouts"`
	InfraFails int           `json:"infra_fails"`
	TotalTime  time.Duration `json:"total_time"`
}

// NewLimiter wraps inner with a concurrency bound. limit <= 0 is treated
// as 1.
func NewLimiter(inner Executor, limit int, logger *zap.Logger) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		inner:  inner,
		slots:  semaphore.NewWeighted(int64(limit)),
		logger: logger,
	}
}

// Execute acquires a slot, delegates, and releases the slot regardless of
// how the delegate returns.
func (l *Limiter) Execute(ctx context.Context, script string, sample vrl.SampleInput, timeout time.Duration) (vrl.ExecutionOutcome, error) {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return vrl.ExecutionOutcome{}, fmt.Errorf("acquiring sandbox slot: %w", err)
	}
	defer l.slots.Release(1)

	start := time.Now()
	outcome, err := l.inner.Execute(ctx, script, sample, timeout)
	l.record(outcome, err, time.Since(start))
	return outcome, err
}

func (l *Limiter) record(outcome vrl.ExecutionOutcome, err error, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Executions++
	l.stats.TotalTime += elapsed
	switch {
	case errors.Is(err, ErrInfrastructure):
		l.stats.InfraFails++
	case err != nil:
		// cancellation, not counted in any outcome bucket
	case outcome.Status == vrl.StatusSuccess:
		l.stats.Successes++
	case outcome.Status == vrl.StatusTimeout:
		l.stats.Timeouts++
	default:
		l.stats.Failures++
	}
}

// GetStats returns a snapshot of the counters.
func (l *Limiter) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}
