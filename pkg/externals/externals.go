// Package externals implements the capability-limited function table a
// running Script may call (spec §4.6): file I/O and search scoped to
// one agent's workspace.Pair, plus submit_result and log. It is
// grounded on the teacher's MCP tool dispatch shape
// (pkg/mcp/executor.go's name-to-handler map with per-call argument
// validation), replacing the MCP wire protocol with direct Go calls
// since the Script boundary is in-process, not out-of-process.
package externals

import (
	"log/slog"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/safety"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
)

// MaxFileSizeBytes caps a single write_file call (spec §4.6: "rejects
// content > MAX_FILE_SIZE_BYTES"), guarding the agent overlay against a
// runaway script filling disk with one write.
const MaxFileSizeBytes = 10 << 20 // 10 MiB

// Result is submitted by a script via submit_result, capturing what the
// orchestrator needs to transition the agent to SUBMITTING/REVIEWING.
type Result struct {
	Summary      string
	ChangedFiles []string
}

// Table is the set of external functions available to one agent's
// running script. Every method enforces the workspace path policy
// before touching the filesystem.
type Table struct {
	agentID string
	ws      *workspace.Pair
	engine  *safety.Engine
	log     *slog.Logger

	result *Result
}

// New builds a Table scoped to one agent's workspace pair.
func New(agentID string, ws *workspace.Pair, engine *safety.Engine, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{agentID: agentID, ws: ws, engine: engine, log: logger}
}

// ReadFile reads path from the agent's overlay, falling through to stable.
func (t *Table) ReadFile(path string) ([]byte, error) {
	return t.ws.Read(path)
}

// WriteFile writes path into the agent's overlay, rejecting content
// larger than MaxFileSizeBytes per spec §4.6.
func (t *Table) WriteFile(path string, content []byte) error {
	if len(content) > MaxFileSizeBytes {
		return cairnerrors.ResourceLimit("FILE_TOO_LARGE",
			"write_file content exceeds the maximum file size", nil).
			WithContext("path", path).
			WithContext("size_bytes", len(content)).
			WithContext("max_bytes", MaxFileSizeBytes)
	}
	return t.ws.Write(path, content)
}

// ListDir lists the union of both workspace layers at path.
func (t *Table) ListDir(path string) ([]string, error) {
	return t.ws.ListDir(path)
}

// FileExists reports whether path exists in either layer.
func (t *Table) FileExists(path string) (bool, error) {
	return t.ws.Exists(path)
}

// SearchFiles returns every relative path in the agent's overlay (the
// stable layer is not searched) whose path matches glob.
func (t *Table) SearchFiles(glob string) ([]string, error) {
	return t.ws.SearchFiles(glob)
}

// SearchContent greps file content under path for pattern.
func (t *Table) SearchContent(pattern, path string) (map[string][]string, error) {
	return t.ws.SearchContent(t.engine, pattern, path)
}

// SubmitResult records the script's final result. Only the first call
// per script execution takes effect, matching spec §4.2's one-shot
// submission semantics; subsequent calls return an AgentState error.
func (t *Table) SubmitResult(summary string, changedFiles []string) error {
	if t.result != nil {
		return cairnerrors.AgentState("RESULT_ALREADY_SUBMITTED", "submit_result called more than once", nil)
	}
	t.result = &Result{Summary: summary, ChangedFiles: changedFiles}
	return nil
}

// Result returns the submitted result, if any.
func (t *Table) Result() *Result {
	return t.result
}

// Log emits a script-originated log line tagged with the owning agent ID.
func (t *Table) Log(level, msg string) {
	switch level {
	case "error":
		t.log.Error(msg, "agent_id", t.agentID)
	case "warn":
		t.log.Warn(msg, "agent_id", t.agentID)
	case "debug":
		t.log.Debug(msg, "agent_id", t.agentID)
	default:
		t.log.Info(msg, "agent_id", t.agentID)
	}
}
