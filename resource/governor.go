// Package resource enforces the engine's resource bounds: the memory budget,
// the request concurrency gate, and background IO throttling.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the governor's limits.
type Config struct {
	// MemoryBudgetBytes caps the engine's estimated memory usage.
	// 0 disables the cap (usage is still tracked).
	MemoryBudgetBytes int64

	// MaxConcurrency caps simultaneously executing requests. Excess
	// requests are rejected, not queued.
	MaxConcurrency int64

	// IOLimitBytesPerSec throttles snapshot archive uploads. 0 disables
	// throttling.
	IOLimitBytesPerSec int64
}

// Governor tracks and enforces the configured limits.
type Governor struct {
	budgetBytes int64
	usedBytes   atomic.Int64

	gate     *semaphore.Weighted
	inFlight atomic.Int64

	ioLimiter *rate.Limiter
}

// NewGovernor creates a governor from cfg.
func NewGovernor(cfg Config) *Governor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	g := &Governor{
		budgetBytes: cfg.MemoryBudgetBytes,
		gate:        semaphore.NewWeighted(cfg.MaxConcurrency),
	}
	if cfg.IOLimitBytesPerSec > 0 {
		g.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return g
}

// TryAdmit attempts to admit one request without queueing. On success the
// returned release function must be called exactly once.
func (g *Governor) TryAdmit() (func(), bool) {
	if !g.gate.TryAcquire(1) {
		return nil, false
	}
	g.inFlight.Add(1)
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			g.inFlight.Add(-1)
			g.gate.Release(1)
		}
	}, true
}

// InFlight returns the number of currently admitted requests.
func (g *Governor) InFlight() int64 { return g.inFlight.Load() }

// TryReserveBytes attempts to grow the memory estimate by n bytes without
// exceeding the budget. With no budget configured the estimate still grows.
func (g *Governor) TryReserveBytes(n int64) bool {
	if n <= 0 {
		return true
	}
	if g.budgetBytes == 0 {
		g.usedBytes.Add(n)
		return true
	}
	for {
		current := g.usedBytes.Load()
		next := current + n
		if next < 0 || next > g.budgetBytes {
			return false
		}
		if g.usedBytes.CompareAndSwap(current, next) {
			return true
		}
	}
}

// ReleaseBytes shrinks the memory estimate.
func (g *Governor) ReleaseBytes(n int64) {
	if n <= 0 {
		return
	}
	for {
		current := g.usedBytes.Load()
		next := current - n
		if next < 0 {
			next = 0
		}
		if g.usedBytes.CompareAndSwap(current, next) {
			return
		}
	}
}

// UsedBytes returns the current memory estimate.
func (g *Governor) UsedBytes() int64 { return g.usedBytes.Load() }

// BudgetBytes returns the configured budget (0 = unlimited).
func (g *Governor) BudgetBytes() int64 { return g.budgetBytes }

// WaitIO blocks until the IO limiter allows n bytes.
func (g *Governor) WaitIO(ctx context.Context, n int) error {
	if g.ioLimiter == nil || n <= 0 {
		return nil
	}
	// WaitN caps n at the limiter burst.
	burst := g.ioLimiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := g.ioLimiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
