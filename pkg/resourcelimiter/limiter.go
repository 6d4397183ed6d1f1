// Package resourcelimiter enforces the CPU/memory/wall-clock budgets
// of spec §4.5 around a single script execution. It mirrors the
// teacher's timeout-and-monitor shape used around LLM calls
// (pkg/llm/client.go's context-deadline pattern), generalized to also
// poll RSS via gopsutil and apply soft rlimits via golang.org/x/sys
// where the host platform supports it.
package resourcelimiter

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// Limits describes the resource budget for one execution region.
type Limits struct {
	CPUSeconds       float64
	MemoryMB         int64
	WallClockTimeout time.Duration
	MemoryPollPeriod time.Duration

	// MaxRecursionDepth is spec §6's executor.max_recursion_depth. The
	// limiter does not enforce it directly — Go has no safe hook into an
	// opaque Script's call stack (spec §1) — but carries it through so a
	// real script interpreter wired in as a ScriptFactory can read it
	// off the same Limits value the rest of the budget comes from.
	MaxRecursionDepth int
}

// Usage reports what was actually observed during a Run, regardless of
// whether a limit was exceeded.
type Usage struct {
	PeakRSSBytes uint64
	Elapsed      time.Duration
}

// Limiter enforces Limits around arbitrary work via Run.
type Limiter struct {
	limits Limits
}

// New builds a Limiter for the given budget.
func New(limits Limits) *Limiter {
	if limits.MemoryPollPeriod <= 0 {
		limits.MemoryPollPeriod = 100 * time.Millisecond
	}
	return &Limiter{limits: limits}
}

// Run executes fn under the configured wall-clock timeout and memory
// ceiling, applying the process's soft rlimits for CPU time where the
// platform supports it. It returns a ResourceLimit error (spec §7) the
// moment any budget is exceeded; fn is not forcibly killed (Go offers
// no safe mid-function preemption), but the caller's deadline-aware
// code is expected to observe ctx.Done() promptly.
func (l *Limiter) Run(ctx context.Context, fn func(ctx context.Context) error) (Usage, error) {
	restoreCPU, err := applyCPURlimit(l.limits.CPUSeconds)
	if err != nil {
		return Usage{}, cairnerrors.ResourceLimit("RLIMIT_UNAVAILABLE", "failed to apply CPU rlimit", err)
	}
	defer restoreCPU()

	runCtx := ctx
	var cancel context.CancelFunc
	if l.limits.WallClockTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.limits.WallClockTimeout)
		defer cancel()
	}
	// The memory poller cancels runCtx as soon as RSS exceeds the budget.
	runCtx, cancelRun := context.WithCancel(runCtx)
	defer cancelRun()

	start := time.Now()
	var peakRSS atomic.Uint64

	memCtx, stopMemPoll := context.WithCancel(runCtx)
	defer stopMemPoll()
	memDone := make(chan struct{})
	var memErr atomic.Value // stores *cairnerrors.Error

	go pollMemory(memCtx, l.limits.MemoryMB, l.limits.MemoryPollPeriod, &peakRSS, &memErr, cancelRun, memDone)

	fnDone := make(chan error, 1)
	go func() {
		fnDone <- fn(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-fnDone:
	case <-runCtx.Done():
		stopMemPoll()
		<-memDone
		usage := Usage{PeakRSSBytes: peakRSS.Load(), Elapsed: time.Since(start)}
		if v := memErr.Load(); v != nil {
			return usage, v.(*cairnerrors.Error)
		}
		if ctx.Err() == nil {
			return usage, cairnerrors.ResourceLimit("EXECUTION_TIMEOUT", "execution exceeded wall-clock budget", runCtx.Err())
		}
		return usage, runCtx.Err()
	}

	stopMemPoll()
	<-memDone

	usage := Usage{PeakRSSBytes: peakRSS.Load(), Elapsed: time.Since(start)}
	if v := memErr.Load(); v != nil {
		return usage, v.(*cairnerrors.Error)
	}
	return usage, runErr
}

// pollMemory samples the current process's RSS every period until ctx
// is cancelled, recording the peak, and the first time it exceeds maxMB
// (0 disables the check) stores a ResourceLimit error into memErr and
// calls onExceed.
func pollMemory(ctx context.Context, maxMB int64, period time.Duration, peak *atomic.Uint64, memErr *atomic.Value, onExceed func(), done chan<- struct{}) {
	defer close(done)

	proc, err := gopsprocess.NewProcess(int32(os.Getpid()))
	if err != nil {
		return // memory polling is best-effort; absence of gopsutil support is not fatal
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			memInfo, err := proc.MemInfoWithContext(ctx)
			if err != nil {
				continue
			}
			for {
				cur := peak.Load()
				if memInfo.RSS <= cur || peak.CompareAndSwap(cur, memInfo.RSS) {
					break
				}
			}
			if maxMB > 0 && memInfo.RSS > uint64(maxMB)*1024*1024 {
				memErr.Store(cairnerrors.ResourceLimit("MEMORY_LIMIT_EXCEEDED", "resident set size exceeded configured budget", nil).
					WithContext("rss_bytes", memInfo.RSS).
					WithContext("max_mb", maxMB))
				onExceed()
				return
			}
		}
	}
}

// applyCPURlimit is implemented per-OS in rlimit_unix.go/rlimit_other.go.
// It returns a restore function that must be called once the region
// completes.
var applyCPURlimit = func(seconds float64) (restore func(), err error) {
	return platformApplyCPURlimit(seconds)
}
