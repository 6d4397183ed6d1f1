package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/codeprovider"
	"github.com/codeready-toolchain/cairn/pkg/externals"
	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
	"github.com/codeready-toolchain/cairn/pkg/resourcelimiter"
	"github.com/codeready-toolchain/cairn/pkg/script"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
	"github.com/codeready-toolchain/cairn/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFileScript writes one file into the agent overlay and submits it,
// exercising spec scenarios S3 (happy-path accept) and S4 (rejection
// cleanup) end to end.
type writeFileScript struct {
	path    string
	content string
}

func (s writeFileScript) Check() error { return nil }

func (s writeFileScript) Run(ctx context.Context, ext *externals.Table) error {
	if err := ext.WriteFile(s.path, []byte(s.content)); err != nil {
		return err
	}
	return ext.SubmitResult("done", []string{s.path})
}

// slowScript sleeps past any configured wall-clock budget before ever
// calling submit_result, exercising spec scenario S5.
type slowScript struct{ sleep time.Duration }

func (s slowScript) Check() error { return nil }

func (s slowScript) Run(ctx context.Context, ext *externals.Table) error {
	select {
	case <-time.After(s.sleep):
		return ext.SubmitResult("too slow", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *lifecycle.Store) {
	o, store, _, _, _ := newOrchestratorWithWorkspaces(t, nil)
	return o, store
}

// newOrchestratorWithWorkspaces is newOrchestrator plus access to the
// stable, overlay, and staging roots, for tests that inspect filesystem
// side effects (accept-merge, reject cleanup, review staging).
func newOrchestratorWithWorkspaces(t *testing.T, newScript orchestrator.ScriptFactory) (*orchestrator.Orchestrator, *lifecycle.Store, string, string, string) {
	db, schema := util.SetupTestDatabase(t)
	store, err := lifecycle.OpenFromDB(context.Background(), db, schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stableRoot := t.TempDir()
	overlayRoot := t.TempDir()
	stagingRoot := t.TempDir()
	wsMgr := workspace.NewManager(stableRoot, 16)

	cfg := orchestrator.Config{
		WorkerCount:             2,
		MaxConcurrentAgents:     2,
		AgentTimeout:            5 * time.Second,
		GracefulShutdownTimeout: 2 * time.Second,
		OrphanDetectionInterval: time.Hour, // disabled for this test's timescale
		OrphanThreshold:         time.Hour,
	}

	o := orchestrator.New(cfg, orchestrator.Deps{
		Store:        store,
		WorkspaceMgr: wsMgr,
		Provider:     codeprovider.Stub{},
		NewScript:    newScript,
		OverlayRoot:  overlayRoot,
		StagingRoot:  stagingRoot,
		QueueSize:    100,
	})
	return o, store, stableRoot, overlayRoot, stagingRoot
}

func TestQueueThenAgentReachesReview(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Initialize(ctx))
	o.Start(ctx)
	defer o.Shutdown()

	_, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-1",
		Task:    "write a function",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(ctx, "agent-1")
		return err == nil && rec.State == lifecycle.StateReviewing
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAcceptTransitionsToAccepted(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Initialize(ctx))
	o.Start(ctx)
	defer o.Shutdown()

	_, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-2",
		Task:    "write a function",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(ctx, "agent-2")
		return err == nil && rec.State == lifecycle.StateReviewing
	}, 5*time.Second, 20*time.Millisecond)

	_, err = o.SubmitCommand(ctx, orchestrator.Command{Type: orchestrator.CommandAccept, AgentID: "agent-2"})
	require.NoError(t, err)

	rec, err := store.Load(ctx, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateAccepted, rec.State)
}

func TestRejectTransitionsToRejectedWithReason(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Initialize(ctx))
	o.Start(ctx)
	defer o.Shutdown()

	_, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-3",
		Task:    "write a function",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(ctx, "agent-3")
		return err == nil && rec.State == lifecycle.StateReviewing
	}, 5*time.Second, 20*time.Millisecond)

	_, err = o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandReject,
		AgentID: "agent-3",
		Reason:  "does not meet requirements",
	})
	require.NoError(t, err)

	rec, err := store.Load(ctx, "agent-3")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRejected, rec.State)
	assert.Equal(t, "does not meet requirements", rec.Error)
}

func TestAcceptRejectsWrongState(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &lifecycle.Record{
		AgentID:        "agent-4",
		Task:           "task",
		Priority:       2,
		State:          lifecycle.StateQueued,
		CreatedAt:      now,
		StateChangedAt: now,
		DBPath:         "agentfs/agent-4.db",
	}
	require.NoError(t, store.Save(ctx, rec))

	_, err := o.SubmitCommand(ctx, orchestrator.Command{Type: orchestrator.CommandAccept, AgentID: "agent-4"})
	require.Error(t, err)
}

func TestExecutionTimeoutEndsAgentErrored(t *testing.T) {
	db, schema := util.SetupTestDatabase(t)
	store, err := lifecycle.OpenFromDB(context.Background(), db, schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wsMgr := workspace.NewManager(t.TempDir(), 16)
	cfg := orchestrator.Config{
		WorkerCount:             1,
		MaxConcurrentAgents:     1,
		AgentTimeout:            5 * time.Second,
		GracefulShutdownTimeout: 2 * time.Second,
		OrphanDetectionInterval: time.Hour,
		OrphanThreshold:         time.Hour,
		ResourceLimits: resourcelimiter.Limits{
			WallClockTimeout: 20 * time.Millisecond,
		},
	}

	o := orchestrator.New(cfg, orchestrator.Deps{
		Store:        store,
		WorkspaceMgr: wsMgr,
		Provider:     codeprovider.Stub{},
		NewScript: func(codeprovider.Patch) script.Script {
			return slowScript{sleep: 200 * time.Millisecond}
		},
		OverlayRoot: t.TempDir(),
		QueueSize:   10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Initialize(ctx))
	o.Start(ctx)
	defer o.Shutdown()

	_, err = o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-timeout",
		Task:    "sleep too long",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(ctx, "agent-timeout")
		return err == nil && rec.State == lifecycle.StateErrored
	}, 5*time.Second, 20*time.Millisecond)

	rec, err := store.Load(ctx, "agent-timeout")
	require.NoError(t, err)
	assert.True(t, strings.Contains(strings.ToLower(rec.Error), "timeout"))
}

func TestSpawnAgentAssignsIDAndQueues(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx := context.Background()

	agentID, err := o.SpawnAgent(ctx, "write a function", 0)
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	rec, err := store.Load(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateQueued, rec.State)
}

func TestSubmitCommandQueueWithoutAgentIDGetsAssignedOne(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()

	result, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type: orchestrator.CommandQueue,
		Task: "write a function",
	})
	require.NoError(t, err)

	cr, ok := result.(orchestrator.CommandResult)
	require.True(t, ok)
	assert.True(t, cr.OK)
	assert.NotEmpty(t, cr.AgentID)
}

func TestAcceptMergesSubmittedFileIntoStable(t *testing.T) {
	o, store, stableRoot, _, stagingRoot := newOrchestratorWithWorkspaces(t, func(codeprovider.Patch) script.Script {
		return writeFileScript{path: "hello.py", content: "hello"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Initialize(ctx))
	o.Start(ctx)
	defer o.Shutdown()

	_, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-s3",
		Task:    "write hello.py",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(ctx, "agent-s3")
		return err == nil && rec.State == lifecycle.StateReviewing
	}, 5*time.Second, 20*time.Millisecond)

	staged, err := os.ReadFile(filepath.Join(stagingRoot, "agent-s3", "hello.py"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(staged))

	_, err = os.Stat(filepath.Join(stableRoot, "hello.py"))
	assert.True(t, os.IsNotExist(err), "stable workspace must not contain hello.py before accept")

	_, err = o.SubmitCommand(ctx, orchestrator.Command{Type: orchestrator.CommandAccept, AgentID: "agent-s3"})
	require.NoError(t, err)

	stableContent, err := os.ReadFile(filepath.Join(stableRoot, "hello.py"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(stableContent))

	rec, err := store.Load(ctx, "agent-s3")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateAccepted, rec.State)
}

func TestRejectRemovesReviewStagingDirectory(t *testing.T) {
	o, store, _, overlayRoot, stagingRoot := newOrchestratorWithWorkspaces(t, func(codeprovider.Patch) script.Script {
		return writeFileScript{path: "note.txt", content: "draft"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Initialize(ctx))
	o.Start(ctx)
	defer o.Shutdown()

	_, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-s4",
		Task:    "write note.txt",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := store.Load(ctx, "agent-s4")
		return err == nil && rec.State == lifecycle.StateReviewing
	}, 5*time.Second, 20*time.Millisecond)

	_, err = os.Stat(filepath.Join(stagingRoot, "agent-s4", "note.txt"))
	require.NoError(t, err)

	_, err = o.SubmitCommand(ctx, orchestrator.Command{Type: orchestrator.CommandReject, AgentID: "agent-s4"})
	require.NoError(t, err)

	rec, err := store.Load(ctx, "agent-s4")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRejected, rec.State)

	_, err = os.Stat(filepath.Join(stagingRoot, "agent-s4"))
	assert.True(t, os.IsNotExist(err), "review staging directory must be removed after reject")

	entries, err := os.ReadDir(filepath.Join(overlayRoot, "agent-s4"))
	require.NoError(t, err)
	assert.Empty(t, entries, "overlay must be reset (emptied) on reject")
}

func TestListAgentsReturnsQueuedAgent(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()

	_, err := o.SubmitCommand(ctx, orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-5",
		Task:    "task",
	})
	require.NoError(t, err)

	result, err := o.SubmitCommand(ctx, orchestrator.Command{Type: orchestrator.CommandListAgents})
	require.NoError(t, err)

	summaries, ok := result.([]orchestrator.AgentSummary)
	require.True(t, ok)

	found := false
	for _, s := range summaries {
		if s.AgentID == "agent-5" {
			found = true
		}
	}
	assert.True(t, found)
}
