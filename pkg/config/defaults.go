package config

import "time"

// OrchestratorConfig controls the worker pool that drains the priority
// queue and drives agents through their lifecycle.
type OrchestratorConfig struct {
	// WorkerCount is the number of goroutines concurrently dequeuing tasks.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentAgents bounds the number of agents actively executing
	// at once, enforced by a counting semaphore independent of WorkerCount.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// WorkspaceCacheSize bounds the workspace manager's LRU of open
	// per-agent overlay handles (§4.4).
	WorkspaceCacheSize int `yaml:"workspace_cache_size"`

	// PollInterval is copied into orchestrator.Config. Workers block on
	// the queue rather than polling it, so the worker loop does not read it.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is copied into orchestrator.Config alongside
	// PollInterval; the worker loop does not read it either.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// AgentTimeout bounds how long a single agent may run before being
	// cancelled and marked ERRORED.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// GracefulShutdownTimeout bounds how long Shutdown waits for
	// in-flight agents to finish before returning.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often the crash-recovery scan runs.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long an agent may go without a state change
	// before the scan marks it ERRORED.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// MaxQueueSize bounds the priority queue's capacity (§4.1/§5); 0
	// means unbounded.
	MaxQueueSize int `yaml:"max_queue_size"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		WorkerCount:             4,
		MaxConcurrentAgents:     4,
		WorkspaceCacheSize:      32,
		PollInterval:            250 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		AgentTimeout:            15 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
		OrphanDetectionInterval: 1 * time.Minute,
		OrphanThreshold:         3 * time.Minute,
		MaxQueueSize:            100,
	}
}

// ExecutorConfig bounds the resources a single Script invocation may consume.
type ExecutorConfig struct {
	CPUSeconds       int           `yaml:"cpu_seconds"`
	MemoryMB         int           `yaml:"memory_mb"`
	WallClockTimeout time.Duration `yaml:"wall_clock_timeout"`
	MemoryPollPeriod time.Duration `yaml:"memory_poll_period"`

	// MaxRecursionDepth bounds a script interpreter's call-stack depth
	// (spec §6). The core has no interpreter of its own (spec §1 treats
	// Script as opaque), so this value is threaded through to
	// resourcelimiter.Limits, unused by the reference Script but available
	// to whatever real interpreter is plugged in as a ScriptFactory.
	MaxRecursionDepth int `yaml:"max_recursion_depth"`
}

// DefaultExecutorConfig returns the built-in resource-limit defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		CPUSeconds:        30,
		MemoryMB:          512,
		WallClockTimeout:  60 * time.Second,
		MemoryPollPeriod:  200 * time.Millisecond,
		MaxRecursionDepth: 1000,
	}
}

// PathsConfig locates the runtime's persisted state on disk.
type PathsConfig struct {
	// CairnHome is the root directory for signals/, workspaces/, and
	// agentfs/. Lifecycle records live in Postgres (DatabaseConfig), not
	// under CairnHome.
	CairnHome string `yaml:"cairn_home"`

	// StableWorkspace is the read-only base workspace agents overlay.
	StableWorkspace string `yaml:"stable_workspace"`
}

// DefaultPathsConfig returns the built-in path defaults (relative to CWD).
func DefaultPathsConfig() *PathsConfig {
	return &PathsConfig{
		CairnHome:       "./.cairn",
		StableWorkspace: ".",
	}
}

// SignalsConfig controls the signal-file ingress poller.
type SignalsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultSignalsConfig returns the built-in signal-polling defaults.
func DefaultSignalsConfig() *SignalsConfig {
	return &SignalsConfig{
		Enabled:      true,
		PollInterval: 500 * time.Millisecond,
	}
}

// DatabaseConfig holds the lifecycle store's Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "cairn",
		Password:        "cairn",
		Database:        "cairn",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// APIConfig controls the thin command-surface HTTP listener.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultAPIConfig returns the built-in API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Enabled: true,
		Addr:    ":8080",
	}
}
