package script_test

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/cairn/pkg/externals"
	"github.com/codeready-toolchain/cairn/pkg/safety"
	"github.com/codeready-toolchain/cairn/pkg/script"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceCheckRejectsEmptyBody(t *testing.T) {
	err := script.Reference{}.Check()
	require.Error(t, err)
}

func TestReferenceRunSubmitsResult(t *testing.T) {
	ws, err := workspace.NewPair(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	ext := externals.New("agent-1", ws, safety.DefaultEngine(), nil)

	s := script.Reference{Body: "do the thing"}
	require.NoError(t, s.Check())
	require.NoError(t, s.Run(context.Background(), ext))

	require.NotNil(t, ext.Result())
	assert.Contains(t, ext.Result().Summary, "do the thing")
}
