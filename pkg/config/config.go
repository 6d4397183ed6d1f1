package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the orchestrator, lifecycle store, resource limiter,
// and API server at construction time.
type Config struct {
	configDir string

	Paths        *PathsConfig
	Orchestrator *OrchestratorConfig
	Executor     *ExecutorConfig
	Signals      *SignalsConfig
	Database     *DatabaseConfig
	API          *APIConfig
}

// ConfigDir returns the directory Initialize loaded configuration from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	Workers             int
	MaxConcurrentAgents int
	SignalPollingOn     bool
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Workers:             c.Orchestrator.WorkerCount,
		MaxConcurrentAgents: c.Orchestrator.MaxConcurrentAgents,
		SignalPollingOn:     c.Signals.Enabled,
	}
}
