// Package lifecycle implements the durable, versioned LifecycleRecord
// store: optimistic-concurrency CRUD over Postgres via pgx, grounded on
// the teacher's pkg/database/client.go connection/migration pattern
// with entgo.io/ent removed in favor of hand-written SQL (see DESIGN.md).
package lifecycle

import "time"

// State is the agent's position in the lifecycle state machine.
type State string

const (
	StateQueued     State = "QUEUED"
	StateGenerating State = "GENERATING"
	StateExecuting  State = "EXECUTING"
	StateSubmitting State = "SUBMITTING"
	StateReviewing  State = "REVIEWING"
	StateAccepted   State = "ACCEPTED"
	StateRejected   State = "REJECTED"
	StateErrored    State = "ERRORED"
)

// Terminal reports whether a state never transitions further.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateErrored:
		return true
	default:
		return false
	}
}

// validEdges encodes the forward-only transition graph of spec §3.
var validEdges = map[State]map[State]bool{
	StateQueued:     {StateGenerating: true, StateErrored: true},
	StateGenerating: {StateExecuting: true, StateErrored: true},
	StateExecuting:  {StateSubmitting: true, StateErrored: true},
	StateSubmitting: {StateReviewing: true, StateErrored: true},
	StateReviewing:  {StateAccepted: true, StateRejected: true, StateErrored: true},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	edges, ok := validEdges[s]
	if !ok {
		return false
	}
	return edges[next]
}

// Submission is the singleton record a script writes via submit_result.
type Submission struct {
	Summary      string    `json:"summary"`
	ChangedFiles []string  `json:"changed_files"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Record is the durable per-agent metadata owned exclusively by the
// lifecycle store. In-memory AgentContext objects are caches of the
// same identity and must be kept in sync with it.
type Record struct {
	AgentID        string
	Task           string
	Priority       int
	State          State
	CreatedAt      time.Time
	StateChangedAt time.Time
	DBPath         string
	Submission     *Submission
	Error          string
	Version        int
}

// Clone returns a deep-enough copy safe to mutate independently.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Submission != nil {
		sub := *r.Submission
		sub.ChangedFiles = append([]string(nil), r.Submission.ChangedFiles...)
		cp.Submission = &sub
	}
	return &cp
}
