package orchestrator

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
)

// orphanState tracks orphan-detection metrics, grounded on the
// teacher's orphanState (pkg/queue/orphan.go).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// runOrphanDetection periodically scans for agents stuck in a
// non-terminal, non-QUEUED state whose StateChangedAt is older than
// cfg.OrphanThreshold and marks them ERRORED. This resolves spec's
// Ambiguous Source Behavior (1): the runtime recovers automatically
// instead of waiting on an operator.
func (o *Orchestrator) runOrphanDetection(ctx context.Context) {
	defer o.wg.Done()

	interval := o.cfg.OrphanDetectionInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.detectAndRecoverOrphans(ctx)
		}
	}
}

func (o *Orchestrator) detectAndRecoverOrphans(ctx context.Context) {
	threshold := o.cfg.OrphanThreshold
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	cutoff := time.Now().Add(-threshold)

	active, err := o.store.ListActive(ctx)
	if err != nil {
		slog.Error("orphan detection: failed to list active agents", "error", err)
		return
	}

	recovered := 0
	for _, rec := range active {
		if rec.State == lifecycle.StateQueued {
			continue // still legitimately waiting for a worker
		}
		if rec.StateChangedAt.After(cutoff) {
			continue // recently active, not stale
		}

		_, err := o.store.UpdateAtomic(ctx, rec.AgentID, func(r *lifecycle.Record) error {
			if r.State.Terminal() {
				return nil // already resolved by the time we got the lock
			}
			r.State = lifecycle.StateErrored
			r.Error = "orphaned: no state change observed within the orphan threshold"
			r.StateChangedAt = time.Now().UTC()
			return nil
		})
		if err != nil {
			slog.Error("failed to recover orphaned agent", "agent_id", rec.AgentID, "error", err)
			continue
		}
		slog.Warn("orphaned agent marked errored", "agent_id", rec.AgentID, "last_state", rec.State)
		recovered++
	}

	o.orphans.mu.Lock()
	o.orphans.lastScan = time.Now()
	o.orphans.recovered += recovered
	o.orphans.mu.Unlock()
}
