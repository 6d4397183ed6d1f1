// Package agentcontext implements the AgentContext runtime handle of
// spec §3: the live, mutable state the orchestrator advances as a
// spawned agent moves through generation, execution, submission, and
// review. It is grounded on the teacher's session handle
// (pkg/session/types.go's Session struct: guarded mutable state plus a
// stored cancelFunc) generalized from chat messages to the agent
// lifecycle fields the runtime actually needs.
package agentcontext

import (
	"context"
	"sync"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
)

// Context is one spawned agent's live, thread-safe runtime state. A
// Context always has a backing lifecycle.Record; Context adds the
// transient, never-persisted fields (generated code, cancellation) the
// orchestrator needs while the agent is in flight.
type Context struct {
	mu sync.RWMutex

	agentID  string
	task     string
	priority int

	state lifecycle.State

	generatedPatch []byte // transient: set after GENERATING, never persisted
	submission     *lifecycle.Submission
	lastError      string

	createdAt time.Time
	cancel    context.CancelFunc
}

// New creates a Context for a freshly queued agent. cancel is the
// CancelFunc for the context.Context the orchestrator derives to run
// this agent's phases; Cancel() invokes it.
func New(agentID, task string, priority int, cancel context.CancelFunc) *Context {
	return &Context{
		agentID:   agentID,
		task:      task,
		priority:  priority,
		state:     lifecycle.StateQueued,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
	}
}

func (c *Context) AgentID() string {
	return c.agentID
}

func (c *Context) Task() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.task
}

func (c *Context) Priority() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priority
}

func (c *Context) State() lifecycle.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions the context's in-memory state. Callers are
// responsible for validating the transition against
// lifecycle.State.CanTransition before calling this (the orchestrator
// validates once, against the persisted record, to avoid duplicating
// the check here).
func (c *Context) SetState(s lifecycle.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// SetGeneratedPatch stores the code produced by the GENERATING phase.
func (c *Context) SetGeneratedPatch(patch []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generatedPatch = patch
}

// GeneratedPatch returns the most recently generated patch, if any.
func (c *Context) GeneratedPatch() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generatedPatch
}

// SetSubmission records the REVIEWING-phase submission summary.
func (c *Context) SetSubmission(s *lifecycle.Submission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submission = s
}

// Submission returns the recorded submission, if any.
func (c *Context) Submission() *lifecycle.Submission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.submission
}

// SetError records the last error observed for this agent.
func (c *Context) SetError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = msg
}

// LastError returns the last recorded error message, if any.
func (c *Context) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Cancel invokes the context's cancellation function, if one was set.
// It is safe to call multiple times.
func (c *Context) Cancel() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot is an immutable, point-in-time view of a Context's public
// fields, suitable for status queries and JSON responses.
type Snapshot struct {
	AgentID   string          `json:"agent_id"`
	Task      string          `json:"task"`
	Priority  int             `json:"priority"`
	State     lifecycle.State `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	LastError string          `json:"error,omitempty"`
}

// Snapshot returns a copy of the context's externally-visible state.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		AgentID:   c.agentID,
		Task:      c.task,
		Priority:  c.priority,
		State:     c.state,
		CreatedAt: c.createdAt,
		LastError: c.lastError,
	}
}
