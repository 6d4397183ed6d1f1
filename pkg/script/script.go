// Package script defines the Script boundary of spec §1: the opaque
// unit of generated code the EXECUTING phase runs against an
// externals.Table. Spec §1 marks the script runtime itself out of
// scope; this package supplies the narrow interface the orchestrator
// depends on plus a reference implementation good enough to exercise
// the full lifecycle without a real sandboxed interpreter.
package script

import (
	"context"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/externals"
)

// Script is one agent's generated, runnable unit of work.
type Script interface {
	// Check performs a fast, side-effect-free validation pass (syntax,
	// obviously-missing capabilities) before Run is attempted.
	Check() error
	// Run executes the script body against the given external function
	// table, returning once the script calls submit_result or fails.
	Run(ctx context.Context, ext *externals.Table) error
}

// Reference is a minimal Script that always calls submit_result with a
// fixed summary, used to exercise the orchestrator's EXECUTING/
// SUBMITTING phases without a real code interpreter.
type Reference struct {
	Body string
}

// Check implements Script; the reference implementation accepts any
// non-empty body.
func (r Reference) Check() error {
	if r.Body == "" {
		return cairnerrors.AgentExecution("EMPTY_SCRIPT_BODY", "script body is empty", nil)
	}
	return nil
}

// Run implements Script by submitting a fixed result derived from the
// body, simulating a script that reads nothing and writes nothing.
func (r Reference) Run(ctx context.Context, ext *externals.Table) error {
	if err := ctx.Err(); err != nil {
		return cairnerrors.AgentExecution("EXECUTION_CANCELLED", "execution context cancelled", err)
	}
	return ext.SubmitResult("completed: "+r.Body, nil)
}
