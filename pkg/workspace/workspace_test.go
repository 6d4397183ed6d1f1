package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/safety"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*workspace.Pair, string) {
	stable := t.TempDir()
	overlay := t.TempDir()
	p, err := workspace.NewPair(stable, overlay)
	require.NoError(t, err)
	return p, stable
}

func TestReadFallsThroughToStable(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(stable, "a.txt"), []byte("stable-content"), 0o644))

	data, err := p.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "stable-content", string(data))
}

func TestWriteShadowsStableWithoutMutatingIt(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(stable, "a.txt"), []byte("stable-content"), 0o644))

	require.NoError(t, p.Write("a.txt", []byte("overlay-content")))

	data, err := p.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "overlay-content", string(data))

	raw, err := os.ReadFile(filepath.Join(stable, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "stable-content", string(raw))
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	p, _ := newPair(t)
	_, err := p.Read("missing.txt")
	require.Error(t, err)
	var cerr *errors.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "PATH_NOT_FOUND", cerr.Code)
}

func TestPathTraversalRejected(t *testing.T) {
	p, _ := newPair(t)

	_, err := p.Read("../outside.txt")
	require.Error(t, err)
	var cerr *errors.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, errors.KindPathValidation, cerr.Kind)
	assert.Equal(t, "PATH_TRAVERSAL", cerr.Code)

	err = p.Write("/etc/passwd", []byte("x"))
	require.Error(t, err)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "PATH_ABSOLUTE", cerr.Code)
}

func TestListDirUnionsLayersWithOverlayWinning(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(stable, "shared.txt"), []byte("stable"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stable, "only-stable.txt"), []byte("x"), 0o644))
	require.NoError(t, p.Write("shared.txt", []byte("overlay")))
	require.NoError(t, p.Write("only-overlay.txt", []byte("y")))

	names, err := p.ListDir(".")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shared.txt", "only-stable.txt", "only-overlay.txt"}, names)
}

func TestMergeIntoCopiesChangedFilesToStable(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, p.Write("new/nested.txt", []byte("merged")))

	failed, err := p.MergeInto(stable)
	require.NoError(t, err)
	assert.Empty(t, failed)

	raw, err := os.ReadFile(filepath.Join(stable, "new", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "merged", string(raw))
}

func TestMaterializeCopiesChangedFilesToStagingDir(t *testing.T) {
	p, _ := newPair(t)
	require.NoError(t, p.Write("hello.py", []byte("hello")))
	require.NoError(t, p.Write("nested/note.txt", []byte("draft")))

	staging := filepath.Join(t.TempDir(), "workspaces", "agent-1")
	require.NoError(t, p.Materialize(staging))

	raw, err := os.ReadFile(filepath.Join(staging, "hello.py"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	raw, err = os.ReadFile(filepath.Join(staging, "nested", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "draft", string(raw))
}

func TestMaterializeClearsPriorStagingContent(t *testing.T) {
	p, _ := newPair(t)
	staging := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staging, "stale.txt"), []byte("old"), 0o644))

	require.NoError(t, p.Write("fresh.txt", []byte("new")))
	require.NoError(t, p.Materialize(staging))

	_, err := os.Stat(filepath.Join(staging, "stale.txt"))
	assert.True(t, os.IsNotExist(err))

	raw, err := os.ReadFile(filepath.Join(staging, "fresh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(raw))
}

func TestResetDiscardsOverlayContent(t *testing.T) {
	p, _ := newPair(t)
	require.NoError(t, p.Write("scratch.txt", []byte("gone-soon")))

	require.NoError(t, p.Reset())

	exists, err := p.Exists("scratch.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSearchContentFindsMatchesAcrossLayers(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(stable, "stable.go"), []byte("func Foo() {}\nfunc Bar() {}\n"), 0o644))
	require.NoError(t, p.Write("overlay.go", []byte("func Baz() {}\n")))

	engine := safety.DefaultEngine()
	results, err := p.SearchContent(engine, `^func \w+`, ".")
	require.NoError(t, err)

	assert.Contains(t, results, "stable.go")
	assert.Contains(t, results, "overlay.go")
	assert.Len(t, results["stable.go"], 2)
}

func TestSearchContentOverlayShadowsStableEvenWithoutMatch(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(stable, "shadowed.go"), []byte("func Foo() {}\n"), 0o644))
	// Overlay shadows the same path but its content does not match the
	// pattern; the stable match must still be hidden (P5).
	require.NoError(t, p.Write("shadowed.go", []byte("no functions here\n")))

	engine := safety.DefaultEngine()
	results, err := p.SearchContent(engine, `^func \w+`, ".")
	require.NoError(t, err)

	assert.NotContains(t, results, "shadowed.go")
}

func TestSearchFilesIsOverlayOnlyAndGlobMatched(t *testing.T) {
	p, stable := newPair(t)
	require.NoError(t, os.WriteFile(filepath.Join(stable, "stable.go"), []byte("x"), 0o644))
	require.NoError(t, p.Write("overlay.go", []byte("x")))
	require.NoError(t, p.Write("nested/deep.go", []byte("x")))
	require.NoError(t, p.Write("overlay.txt", []byte("x")))

	matches, err := p.SearchFiles("*.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"nested/deep.go", "overlay.go"}, matches)
}
