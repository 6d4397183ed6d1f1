package signals_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
	"github.com/codeready-toolchain/cairn/pkg/signals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	received []orchestrator.Command
}

func (f *fakeDispatcher) SubmitCommand(_ context.Context, cmd orchestrator.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, cmd)
	return nil, nil
}

func (f *fakeDispatcher) commands() []orchestrator.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]orchestrator.Command, len(f.received))
	copy(out, f.received)
	return out
}

func writeSignal(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestScanOnceDispatchesAndDeletesJSONBody(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "cmd-1.json", `{"type":"queue","task":"do the thing","priority":3}`)

	fd := &fakeDispatcher{}
	p := signals.New(dir, fd, 0)
	p.ScanOnce()

	cmds := fd.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, orchestrator.CommandQueue, cmds[0].Type)
	assert.Equal(t, "do the thing", cmds[0].Task)
	assert.Equal(t, 3, cmds[0].Priority)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanOnceAppliesLegacyAcceptPrefix(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "accept-agent-42.json", `{}`)

	fd := &fakeDispatcher{}
	p := signals.New(dir, fd, 0)
	p.ScanOnce()

	cmds := fd.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, orchestrator.CommandAccept, cmds[0].Type)
	assert.Equal(t, "agent-42", cmds[0].AgentID)
}

func TestScanOnceLegacySpawnPrefixMapsToSpawnType(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "spawn-anything.json", `{"task":"urgent fix"}`)

	fd := &fakeDispatcher{}
	p := signals.New(dir, fd, 0)
	p.ScanOnce()

	cmds := fd.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, orchestrator.CommandType("spawn"), cmds[0].Type)
	assert.Equal(t, "urgent fix", cmds[0].Task)
}

func TestScanOnceDiscardsUnparseableFile(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "bad.json", `not json`)

	fd := &fakeDispatcher{}
	p := signals.New(dir, fd, 0)
	p.ScanOnce()

	assert.Empty(t, fd.commands())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanOnceIgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "README.md", `not a command`)

	fd := &fakeDispatcher{}
	p := signals.New(dir, fd, 0)
	p.ScanOnce()

	assert.Empty(t, fd.commands())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
