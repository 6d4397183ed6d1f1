// Package orchestrator implements the worker loop of spec §4.3: it
// dequeues priority tasks, drives each agent through
// GENERATING→EXECUTING→SUBMITTING→REVIEWING, and applies operator
// accept/reject decisions. It is grounded on the teacher's
// pkg/queue/pool.go (WorkerPool: fixed goroutine pool, session
// cancel registry, health reporting) and pkg/queue/worker.go (poll
// loop, heartbeat, graceful shutdown), generalized from a DB-polled
// session queue to an in-memory priority queue feeding a versioned
// lifecycle store.
package orchestrator

import (
	"time"

	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/resourcelimiter"
)

// CommandType discriminates the command envelope of spec §6.
type CommandType string

const (
	CommandQueue      CommandType = "queue"
	CommandAccept     CommandType = "accept"
	CommandReject     CommandType = "reject"
	CommandStatus     CommandType = "status"
	CommandListAgents CommandType = "list_agents"
)

// Command is the discriminated-union envelope the API, signal-file
// ingress, and tests all funnel through.
type Command struct {
	Type     CommandType `json:"type"`
	AgentID  string      `json:"agent_id,omitempty"`
	Task     string      `json:"task,omitempty"`
	Priority int         `json:"priority,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Config bounds the orchestrator's concurrency and timing, grounded on
// the teacher's config.QueueConfig.
type Config struct {
	WorkerCount             int
	MaxConcurrentAgents     int
	PollInterval            time.Duration
	PollIntervalJitter      time.Duration
	AgentTimeout            time.Duration
	GracefulShutdownTimeout time.Duration
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration

	// ResourceLimits bounds the EXECUTING phase's CPU/memory/wall-clock
	// budget (spec §4.5). Zero value disables every limit except
	// wall-clock, which also falls back to AgentTimeout.
	ResourceLimits resourcelimiter.Limits
}

// WorkerStatus mirrors the teacher's WorkerStatus enum.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth reports one worker goroutine's current activity.
type WorkerHealth struct {
	ID              string       `json:"id"`
	Status          WorkerStatus `json:"status"`
	CurrentAgentID  string       `json:"current_agent_id,omitempty"`
	AgentsProcessed int          `json:"agents_processed"`
	LastActivity    time.Time    `json:"last_activity"`
}

// PoolHealth reports the orchestrator's aggregate health, grounded on
// the teacher's PoolHealth struct.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveAgents     int            `json:"active_agents"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// CommandResult is the normalized response shape of spec §6 for
// commands that do not already have a richer natural payload (queue
// returns the assigned agent_id; accept/reject return no payload on
// success and an error otherwise).
type CommandResult struct {
	CommandType CommandType `json:"command_type"`
	OK          bool        `json:"ok"`
	AgentID     string      `json:"agent_id,omitempty"`
}

// AgentSummary is the list_agents response shape.
type AgentSummary struct {
	AgentID        string          `json:"agent_id"`
	Task           string          `json:"task"`
	State          lifecycle.State `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	StateChangedAt time.Time       `json:"state_changed_at"`
}
