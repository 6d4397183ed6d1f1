package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Fatal("WORKSPACE_WRITE_FAILED", "could not write overlay file", cause)

	assert.Contains(t, err.Error(), "WORKSPACE_WRITE_FAILED")
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, stderrors.Is(err, cause))
}

func TestVersionConflictCarriesContext(t *testing.T) {
	err := VersionConflict("agent-1", 3, 5)

	assert.Equal(t, KindVersionConflict, err.Kind)
	assert.Equal(t, 3, err.Context["expected_version"])
	assert.Equal(t, 5, err.Context["actual_version"])
	assert.True(t, Is(err, KindVersionConflict))
	assert.False(t, Is(err, KindFatal))
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := Security("PATH_ESCAPE", "path escapes workspace root", nil)
	decorated := base.WithContext("path", "/etc/passwd")

	assert.Nil(t, base.Context)
	assert.Equal(t, "/etc/passwd", decorated.Context["path"])
}
