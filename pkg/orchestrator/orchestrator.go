package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/agentcontext"
	"github.com/codeready-toolchain/cairn/pkg/codeprovider"
	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/externals"
	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/pqueue"
	"github.com/codeready-toolchain/cairn/pkg/resourcelimiter"
	"github.com/codeready-toolchain/cairn/pkg/safety"
	"github.com/codeready-toolchain/cairn/pkg/script"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
	"github.com/google/uuid"
)

// ScriptFactory builds the Script a worker should run from a generated
// patch; tests and cmd/cairn wire this to script.Reference or a real
// interpreter.
type ScriptFactory func(patch codeprovider.Patch) script.Script

// Orchestrator is the runtime's single worker loop: it owns the
// priority queue, the lifecycle store, the in-memory agent registry,
// and the workspace manager, and drives every agent from QUEUED to a
// terminal state.
type Orchestrator struct {
	cfg Config

	queue     *pqueue.Queue
	store     *lifecycle.Store
	registry  *agentcontext.Registry
	wsMgr     *workspace.Manager
	provider  codeprovider.Provider
	newScript ScriptFactory
	engine    *safety.Engine
	limiter   *resourcelimiter.Limiter

	overlayRoot string
	stagingRoot string

	sem chan struct{} // counting semaphore bounding MaxConcurrentAgents

	workers  []*workerState
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	orphans orphanState

	started bool
	mu      sync.Mutex
}

// Deps bundles the Orchestrator's collaborators, all of which have
// narrow, independently-testable responsibilities.
type Deps struct {
	Store        *lifecycle.Store
	WorkspaceMgr *workspace.Manager
	Provider     codeprovider.Provider
	NewScript    ScriptFactory
	Engine       *safety.Engine
	OverlayRoot  string
	// StagingRoot is cairn_home/workspaces: the review-staging
	// materialization root the SUBMITTING phase writes into (spec §4.3
	// item 3) and reject_agent deletes (spec §4.3's reject semantics).
	// Empty disables materialization, useful for tests that never
	// inspect staged files.
	StagingRoot string
	QueueSize   int
}

// New builds an Orchestrator. If deps.Provider is nil, codeprovider.Stub{}
// is used; if deps.NewScript is nil, script.Reference is used.
func New(cfg Config, deps Deps) *Orchestrator {
	provider := deps.Provider
	if provider == nil {
		provider = codeprovider.Stub{}
	}
	newScript := deps.NewScript
	if newScript == nil {
		newScript = func(patch codeprovider.Patch) script.Script {
			return script.Reference{Body: patch.ScriptBody}
		}
	}
	engine := deps.Engine
	if engine == nil {
		engine = safety.DefaultEngine()
	}

	return &Orchestrator{
		cfg:         cfg,
		queue:       pqueue.New(deps.QueueSize),
		store:       deps.Store,
		registry:    agentcontext.NewRegistry(),
		wsMgr:       deps.WorkspaceMgr,
		provider:    provider,
		newScript:   newScript,
		engine:      engine,
		limiter:     resourcelimiter.New(cfg.ResourceLimits),
		overlayRoot: deps.OverlayRoot,
		stagingRoot: deps.StagingRoot,
		sem:         make(chan struct{}, cfg.MaxConcurrentAgents),
		stopCh:      make(chan struct{}),
	}
}

// Initialize performs crash recovery (spec Ambiguous Source Behavior 1):
// it loads every non-terminal record from the store, re-enqueues
// QUEUED agents, and marks any agent caught mid-flight (GENERATING,
// EXECUTING, SUBMITTING, REVIEWING) as ERRORED, since no in-memory
// AgentContext survives a process restart to resume them.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading active records at startup: %w", err)
	}

	for _, rec := range active {
		if rec.State == lifecycle.StateQueued {
			if err := o.queue.Enqueue(rec.AgentID, rec.Task, pqueue.Priority(rec.Priority), rec.CreatedAt); err != nil {
				slog.Error("failed to re-enqueue queued agent at startup", "agent_id", rec.AgentID, "error", err)
			}
			continue
		}

		slog.Warn("marking mid-flight agent as errored after restart",
			"agent_id", rec.AgentID, "state", rec.State)
		_, err := o.store.UpdateAtomic(ctx, rec.AgentID, func(r *lifecycle.Record) error {
			r.State = lifecycle.StateErrored
			r.Error = "orphaned: orchestrator restarted while agent was in flight"
			r.StateChangedAt = time.Now().UTC()
			return nil
		})
		if err != nil {
			slog.Error("failed to mark restart orphan as errored", "agent_id", rec.AgentID, "error", err)
		}
	}

	return nil
}

// Start spawns the configured worker goroutines and the orphan
// detection loop. It is safe to call only once; subsequent calls are
// no-ops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	for i := 0; i < o.cfg.WorkerCount; i++ {
		w := &workerState{
			id:     fmt.Sprintf("worker-%d", i),
			status: WorkerStatusIdle,
		}
		o.workers = append(o.workers, w)
		o.wg.Add(1)
		go o.runWorker(ctx, w)
	}

	o.wg.Add(1)
	go o.runOrphanDetection(ctx)

	slog.Info("orchestrator started", "worker_count", o.cfg.WorkerCount)
}

// Shutdown signals every worker and the orphan scanner to stop and
// waits up to cfg.GracefulShutdownTimeout for in-flight agents to
// reach a safe stopping point.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	// Closing the queue wakes workers blocked in DequeueWait so they can
	// exit instead of waiting out the timeout below.
	o.queue.Close()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	timeout := o.cfg.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		slog.Info("orchestrator shut down gracefully")
	case <-time.After(timeout):
		slog.Warn("orchestrator shutdown timed out waiting for workers")
	}

	if o.wsMgr != nil {
		if err := o.wsMgr.CloseAll(); err != nil {
			slog.Error("failed to close all workspaces during shutdown", "error", err)
		}
	}
}

// SubmitCommand dispatches one command envelope (spec §6) and returns
// its result, used by both the HTTP surface and the signal-file
// ingress. The legacy "spawn" alias (spec §6) is normalized to a queue
// command at HIGH priority before dispatch.
func (o *Orchestrator) SubmitCommand(ctx context.Context, cmd Command) (any, error) {
	if cmd.Type == "spawn" {
		cmd.Type = CommandQueue
		cmd.Priority = int(pqueue.High)
	}

	switch cmd.Type {
	case CommandQueue:
		agentID, err := o.enqueue(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return CommandResult{CommandType: cmd.Type, OK: true, AgentID: agentID}, nil
	case CommandAccept:
		return nil, o.accept(ctx, cmd.AgentID)
	case CommandReject:
		return nil, o.reject(ctx, cmd.AgentID, cmd.Reason)
	case CommandStatus:
		return o.status(ctx, cmd.AgentID)
	case CommandListAgents:
		return o.listAgents(ctx)
	default:
		return nil, cairnerrors.Fatal("UNKNOWN_COMMAND", "unrecognized command type: "+string(cmd.Type), nil)
	}
}

// SpawnAgent is the convenience entry point of spec §4.3 for QUEUE
// commands: it assigns a fresh agent_id (google/uuid, mirroring the
// teacher's session.Manager) and returns it once the record is
// durably queued.
func (o *Orchestrator) SpawnAgent(ctx context.Context, task string, priority int) (string, error) {
	agentID := uuid.New().String()
	_, err := o.enqueue(ctx, Command{AgentID: agentID, Task: task, Priority: priority})
	if err != nil {
		return "", err
	}
	return agentID, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, cmd Command) (string, error) {
	if cmd.Task == "" {
		return "", cairnerrors.Fatal("MISSING_TASK", "queue command requires a non-empty task", nil)
	}
	agentID := cmd.AgentID
	if agentID == "" {
		agentID = uuid.New().String()
	}
	priority := cmd.Priority
	if priority == 0 {
		priority = int(pqueue.Normal)
	}

	now := time.Now().UTC()
	rec := &lifecycle.Record{
		AgentID:        agentID,
		Task:           cmd.Task,
		Priority:       priority,
		State:          lifecycle.StateQueued,
		CreatedAt:      now,
		StateChangedAt: now,
		DBPath:         fmt.Sprintf("agentfs/%s.db", agentID),
	}
	if err := o.store.Save(ctx, rec); err != nil {
		return "", err
	}

	if err := o.queue.Enqueue(agentID, cmd.Task, pqueue.Priority(priority), now); err != nil {
		return "", err
	}
	return agentID, nil
}

func (o *Orchestrator) accept(ctx context.Context, agentID string) error {
	return o.finalizeReview(ctx, agentID, lifecycle.StateAccepted, "")
}

func (o *Orchestrator) reject(ctx context.Context, agentID, reason string) error {
	return o.finalizeReview(ctx, agentID, lifecycle.StateRejected, reason)
}

func (o *Orchestrator) finalizeReview(ctx context.Context, agentID string, next lifecycle.State, reason string) error {
	rec, err := o.store.Load(ctx, agentID)
	if err != nil {
		return err
	}
	if rec.State != lifecycle.StateReviewing {
		return cairnerrors.AgentState("INVALID_TRANSITION",
			fmt.Sprintf("agent %s is in state %s, expected %s", agentID, rec.State, lifecycle.StateReviewing), nil)
	}

	if next == lifecycle.StateAccepted {
		if err := o.mergeWorkspace(agentID); err != nil {
			return err
		}
	}

	_, err = o.store.UpdateAtomic(ctx, agentID, func(r *lifecycle.Record) error {
		if !r.State.CanTransition(next) {
			return cairnerrors.AgentState("INVALID_TRANSITION",
				fmt.Sprintf("cannot transition agent %s from %s to %s", agentID, r.State, next), nil)
		}
		r.State = next
		r.StateChangedAt = time.Now().UTC()
		if reason != "" {
			r.Error = reason
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ac, getErr := o.registry.Get(agentID); getErr == nil {
		ac.SetState(next)
	}

	if next == lifecycle.StateRejected {
		if o.wsMgr != nil {
			if pair, err := o.wsMgr.Open(agentID, o.overlayRoot); err == nil {
				if err := pair.Reset(); err != nil {
					slog.Error("failed to reset overlay on reject", "agent_id", agentID, "error", err)
				}
			}
		}
		if o.stagingRoot != "" {
			if err := os.RemoveAll(o.stagingDir(agentID)); err != nil {
				slog.Error("failed to remove review staging directory on reject", "agent_id", agentID, "error", err)
			}
		}
	}

	if o.wsMgr != nil {
		_ = o.wsMgr.Close(agentID)
	}
	return nil
}

// stagingDir is the review-staging materialization path for agentID
// (spec §4.3 item 3: "cairn_home/workspaces/{agent_id}/").
func (o *Orchestrator) stagingDir(agentID string) string {
	return filepath.Join(o.stagingRoot, agentID)
}

// materializeSubmission copies the agent overlay's changed files into
// its review staging directory so a human reviewer can inspect them
// without touching stable (spec §4.3 item 3). A no-op when the
// orchestrator was built without a StagingRoot.
func (o *Orchestrator) materializeSubmission(agentID string) error {
	if o.stagingRoot == "" || o.wsMgr == nil {
		return nil
	}
	pair, err := o.wsMgr.Open(agentID, o.overlayRoot)
	if err != nil {
		return err
	}
	return pair.Materialize(o.stagingDir(agentID))
}

func (o *Orchestrator) mergeWorkspace(agentID string) error {
	if o.wsMgr == nil {
		return nil
	}
	pair, err := o.wsMgr.Open(agentID, o.overlayRoot)
	if err != nil {
		return err
	}
	failedPath, err := pair.MergeInto(o.stableRoot())
	if err != nil {
		return cairnerrors.Fatal("MERGE_FAILED", "merging overlay for agent "+agentID+" at "+failedPath, err)
	}
	return nil
}

func (o *Orchestrator) stableRoot() string {
	// The Manager already knows its stable root; exposing it here keeps
	// MergeInto's call site free of a second configuration value.
	return o.wsMgr.StableRoot()
}

func (o *Orchestrator) status(ctx context.Context, agentID string) (*lifecycle.Record, error) {
	return o.store.Load(ctx, agentID)
}

func (o *Orchestrator) listAgents(ctx context.Context) ([]AgentSummary, error) {
	records, err := o.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AgentSummary, 0, len(records))
	for _, r := range records {
		out = append(out, AgentSummary{
			AgentID:        r.AgentID,
			Task:           r.Task,
			State:          r.State,
			CreatedAt:      r.CreatedAt,
			StateChangedAt: r.StateChangedAt,
		})
	}
	return out, nil
}

// Health reports the orchestrator's current aggregate health, grounded
// on the teacher's WorkerPool.Health.
func (o *Orchestrator) Health(ctx context.Context) PoolHealth {
	active, err := o.store.ListActive(ctx)
	activeCount := len(active)
	if err != nil {
		slog.Error("failed to query active agents for health check", "error", err)
	}

	o.mu.Lock()
	stats := make([]WorkerHealth, len(o.workers))
	activeWorkers := 0
	for i, w := range o.workers {
		h := w.health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}
	o.mu.Unlock()

	o.orphans.mu.Lock()
	lastScan := o.orphans.lastScan
	recovered := o.orphans.recovered
	o.orphans.mu.Unlock()

	return PoolHealth{
		IsHealthy:        err == nil && len(o.workers) > 0,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(o.workers),
		ActiveAgents:     activeCount,
		MaxConcurrent:    o.cfg.MaxConcurrentAgents,
		QueueDepth:       o.queue.Size(),
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}

// externalsFor builds the external function table for one agent's run.
func (o *Orchestrator) externalsFor(agentID string) (*externals.Table, error) {
	pair, err := o.wsMgr.Open(agentID, o.overlayRoot)
	if err != nil {
		return nil, err
	}
	return externals.New(agentID, pair, o.engine, slog.Default()), nil
}
