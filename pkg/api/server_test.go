package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/api"
	"github.com/codeready-toolchain/cairn/pkg/codeprovider"
	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
	"github.com/codeready-toolchain/cairn/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*api.Server, *lifecycle.Store) {
	db, schema := util.SetupTestDatabase(t)
	store, err := lifecycle.OpenFromDB(context.Background(), db, schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wsMgr := workspace.NewManager(t.TempDir(), 16)
	cfg := orchestrator.Config{
		WorkerCount:         2,
		MaxConcurrentAgents: 2,
		AgentTimeout:        5 * time.Second,
	}
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Store:        store,
		WorkspaceMgr: wsMgr,
		Provider:     codeprovider.Stub{},
		OverlayRoot:  t.TempDir(),
		QueueSize:    50,
	})

	return api.NewServer(orch), store
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	api.TestServeHTTP(srv, rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitQueueCommandPersistsRecord(t *testing.T) {
	srv, store := newTestServer(t)

	body, err := json.Marshal(orchestrator.Command{
		Type:    orchestrator.CommandQueue,
		AgentID: "agent-http-1",
		Task:    "do it",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.TestServeHTTP(srv, rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result orchestrator.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, "agent-http-1", result.AgentID)

	loaded, err := store.Load(context.Background(), "agent-http-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateQueued, loaded.State)
}

func TestSubmitQueueCommandWithoutAgentIDGetsAssignedOne(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(orchestrator.Command{
		Type: orchestrator.CommandQueue,
		Task: "do it without an explicit id",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.TestServeHTTP(srv, rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result orchestrator.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.NotEmpty(t, result.AgentID)
}

func TestGetAgentNotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agents/does-not-exist", nil)
	rec := httptest.NewRecorder()

	api.TestServeHTTP(srv, rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
