// Package codeprovider defines the narrow boundary between the
// orchestrator's GENERATING phase and whatever produces an agent's
// code (an LLM call, a template, a human-in-the-loop queue). It is
// grounded on the teacher's pkg/llm/client.go Client interface shape
// (a single Generate-style method returning a typed result or error),
// with the grpc/protobuf transport dropped since no provider backend
// was retrieved alongside the teacher (see DESIGN.md) and replaced by
// an in-process interface plus a deterministic stub good enough to
// exercise the orchestrator end to end.
package codeprovider

import (
	"context"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
)

// Request carries what a Provider needs to generate code for one agent.
type Request struct {
	AgentID string
	Task    string
}

// Patch is the generated output: an opaque script body the orchestrator
// hands to a Script implementation for EXECUTING.
type Patch struct {
	ScriptBody string
}

// Provider generates code for a queued task. Implementations must
// respect ctx cancellation promptly; the orchestrator derives ctx from
// the agent's configured timeout.
type Provider interface {
	Generate(ctx context.Context, req Request) (Patch, error)
}

// Stub is a deterministic Provider useful for tests and for running the
// orchestrator without a real generation backend wired in. It echoes
// the task back as a no-op script body.
type Stub struct{}

// Generate implements Provider by returning a fixed, deterministic
// patch derived from the request. Its only failure is a Provider error
// (GENERATION_CANCELLED) when ctx is already done.
func (Stub) Generate(ctx context.Context, req Request) (Patch, error) {
	if err := ctx.Err(); err != nil {
		return Patch{}, cairnerrors.Provider("GENERATION_CANCELLED", "generation context cancelled", err)
	}
	return Patch{ScriptBody: "# generated for: " + req.Task}, nil
}
