package agentcontext

import (
	"sync"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
)

// Registry is the orchestrator's in-memory table of live Contexts,
// grounded on the teacher's session Manager (pkg/session/manager.go):
// a guarded map keyed by ID, with Add/Get/Remove/List.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Context
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Context)}
}

// Add registers ctx, replacing any existing entry for the same agent ID.
func (r *Registry) Add(ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ctx.AgentID()] = ctx
}

// Get returns the Context for agentID, or a Lifecycle error if absent.
func (r *Registry) Get(agentID string) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.byID[agentID]
	if !ok {
		return nil, cairnerrors.Lifecycle("AGENT_NOT_FOUND", "no in-memory context for agent "+agentID, nil)
	}
	return ctx, nil
}

// Remove drops agentID from the registry. It is a no-op if absent.
func (r *Registry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, agentID)
}

// List returns a snapshot slice of every registered Context.
func (r *Registry) List() []*Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Context, 0, len(r.byID))
	for _, ctx := range r.byID {
		out = append(out, ctx)
	}
	return out
}

// Len reports the number of registered contexts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
