package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/agentcontext"
	"github.com/codeready-toolchain/cairn/pkg/codeprovider"
	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/pqueue"
)

// workerState tracks one worker goroutine's health, grounded on the
// teacher's Worker struct (pkg/queue/worker.go).
type workerState struct {
	id string

	mu              sync.RWMutex
	status          WorkerStatus
	currentAgentID  string
	agentsProcessed int
	lastActivity    time.Time
}

func (w *workerState) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          w.status,
		CurrentAgentID:  w.currentAgentID,
		AgentsProcessed: w.agentsProcessed,
		LastActivity:    w.lastActivity,
	}
}

func (w *workerState) setStatus(status WorkerStatus, agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentAgentID = agentID
	w.lastActivity = time.Now()
}

// runWorker is the main per-goroutine loop: dequeue, acquire a
// concurrency slot, drive one agent through its phases, release.
func (o *Orchestrator) runWorker(ctx context.Context, w *workerState) {
	defer o.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-o.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
		}

		task, ok := o.queue.DequeueWait()
		if !ok {
			// Queue closed: shutdown is underway.
			return
		}

		select {
		case o.sem <- struct{}{}:
		case <-o.stopCh:
			// Put the task back conceptually by leaving its persisted
			// record in StateQueued; Initialize will re-enqueue it on
			// the next startup.
			return
		}

		w.setStatus(WorkerStatusWorking, task.ID)
		o.processAgent(ctx, w, task)
		w.setStatus(WorkerStatusIdle, "")
		<-o.sem

		w.mu.Lock()
		w.agentsProcessed++
		w.mu.Unlock()
	}
}

// processAgent drives one agent from GENERATING through SUBMITTING,
// leaving it parked at REVIEWING for an operator accept/reject.
func (o *Orchestrator) processAgent(ctx context.Context, w *workerState, task pqueue.Task) {
	agentCtx, cancel := context.WithTimeout(ctx, o.timeoutOrDefault())
	defer cancel()

	log := slog.With("agent_id", task.ID, "worker_id", w.id)

	ac := agentcontext.New(task.ID, task.Text, int(task.Priority), cancel)
	o.registry.Add(ac)
	defer o.registry.Remove(task.ID)

	if !o.transition(agentCtx, task.ID, lifecycle.StateGenerating, ac) {
		return
	}

	patch, err := o.provider.Generate(agentCtx, codeprovider.Request{AgentID: task.ID, Task: task.Text})
	if err != nil {
		o.fail(agentCtx, task.ID, ac, "generation failed: "+err.Error())
		return
	}
	ac.SetGeneratedPatch([]byte(patch.ScriptBody))

	if !o.transition(agentCtx, task.ID, lifecycle.StateExecuting, ac) {
		return
	}

	ext, err := o.externalsFor(task.ID)
	if err != nil {
		o.fail(agentCtx, task.ID, ac, "workspace open failed: "+err.Error())
		return
	}

	sc := o.newScript(patch)
	if err := sc.Check(); err != nil {
		o.fail(agentCtx, task.ID, ac, "script check failed: "+err.Error())
		return
	}

	// Run inside the resource-limited region of spec §4.5: wall-clock,
	// memory, and (where supported) CPU-time budgets all apply only to
	// this call, not to generation or submission.
	usage, err := o.limiter.Run(agentCtx, func(runCtx context.Context) error {
		return sc.Run(runCtx, ext)
	})
	if err != nil {
		o.fail(agentCtx, task.ID, ac, "script execution failed: "+err.Error())
		return
	}
	log.Debug("script execution finished within resource budget",
		"peak_rss_bytes", usage.PeakRSSBytes, "elapsed", usage.Elapsed)

	result := ext.Result()
	if result == nil {
		o.fail(agentCtx, task.ID, ac, "script completed without calling submit_result")
		return
	}

	if !o.transition(agentCtx, task.ID, lifecycle.StateSubmitting, ac) {
		return
	}

	if err := o.materializeSubmission(task.ID); err != nil {
		o.fail(agentCtx, task.ID, ac, "materializing submission to review staging failed: "+err.Error())
		return
	}

	submission := &lifecycle.Submission{
		Summary:      result.Summary,
		ChangedFiles: result.ChangedFiles,
		SubmittedAt:  time.Now().UTC(),
	}
	ac.SetSubmission(submission)

	_, err = o.store.UpdateAtomic(agentCtx, task.ID, func(r *lifecycle.Record) error {
		if !r.State.CanTransition(lifecycle.StateReviewing) {
			return cairnerrors.AgentState("INVALID_TRANSITION",
				"cannot transition agent "+task.ID+" from "+string(r.State)+" to "+string(lifecycle.StateReviewing), nil)
		}
		r.State = lifecycle.StateReviewing
		r.StateChangedAt = time.Now().UTC()
		r.Submission = submission
		return nil
	})
	if err != nil {
		log.Error("failed to persist submission", "error", err)
		o.fail(context.Background(), task.ID, ac, "failed to persist submission: "+err.Error())
		return
	}
	ac.SetState(lifecycle.StateReviewing)
	log.Info("agent parked at review", "summary", submission.Summary)
}

// transition advances both the persisted record and the in-memory
// context to next, failing the agent if the store rejects the move.
func (o *Orchestrator) transition(ctx context.Context, agentID string, next lifecycle.State, ac *agentcontext.Context) bool {
	_, err := o.store.UpdateAtomic(ctx, agentID, func(r *lifecycle.Record) error {
		if !r.State.CanTransition(next) {
			return cairnerrors.AgentState("INVALID_TRANSITION",
				"cannot transition agent "+agentID+" from "+string(r.State)+" to "+string(next), nil)
		}
		r.State = next
		r.StateChangedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		o.fail(context.Background(), agentID, ac, "state transition to "+string(next)+" failed: "+err.Error())
		return false
	}
	ac.SetState(next)
	return true
}

// fail marks the agent ERRORED, using a background context since the
// agent's own context may already be cancelled or timed out.
func (o *Orchestrator) fail(ctx context.Context, agentID string, ac *agentcontext.Context, reason string) {
	slog.Error("agent failed", "agent_id", agentID, "reason", reason)
	if ac != nil {
		ac.SetError(reason)
		ac.SetState(lifecycle.StateErrored)
	}
	_, err := o.store.UpdateAtomic(ctx, agentID, func(r *lifecycle.Record) error {
		r.State = lifecycle.StateErrored
		r.StateChangedAt = time.Now().UTC()
		r.Error = reason
		return nil
	})
	if err != nil {
		slog.Error("failed to persist errored state", "agent_id", agentID, "error", err)
	}
}

func (o *Orchestrator) timeoutOrDefault() time.Duration {
	if o.cfg.AgentTimeout > 0 {
		return o.cfg.AgentTimeout
	}
	return 10 * time.Minute
}
