package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeUsesDefaultsWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultOrchestratorConfig().WorkerCount, cfg.Orchestrator.WorkerCount)
	assert.Equal(t, DefaultExecutorConfig().MemoryMB, cfg.Executor.MemoryMB)
	assert.True(t, cfg.Signals.Enabled)
}

func TestInitializeMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := []byte("orchestrator:\n  worker_count: 9\nexecutor:\n  memory_mb: 1024\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cairn.yaml"), yamlBody, 0o644))

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Orchestrator.WorkerCount)
	assert.Equal(t, 1024, cfg.Executor.MemoryMB)
	// Unset fields still fall back to defaults.
	assert.Equal(t, DefaultOrchestratorConfig().MaxConcurrentAgents, cfg.Orchestrator.MaxConcurrentAgents)
}

func TestInitializeEnvOverridesBeatYAML(t *testing.T) {
	dir := t.TempDir()
	yamlBody := []byte("orchestrator:\n  worker_count: 9\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cairn.yaml"), yamlBody, 0o644))

	t.Setenv("CAIRN_ORCHESTRATOR_WORKER_COUNT", "20")

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Orchestrator.WorkerCount)
}

func TestInitializeRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	yamlBody := []byte("orchestrator:\n  worker_count: -1\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cairn.yaml"), yamlBody, 0o644))

	_, err := Initialize(dir)
	require.Error(t, err)
}
