package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// cairnYAMLConfig mirrors the on-disk cairn.yaml file. Every section is
// optional; anything left unset falls back to the built-in default.
type cairnYAMLConfig struct {
	Paths        *PathsConfig        `yaml:"paths"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Executor     *ExecutorConfig     `yaml:"executor"`
	Signals      *SignalsConfig      `yaml:"signals"`
	Database     *DatabaseConfig     `yaml:"database"`
	API          *APIConfig          `yaml:"api"`
}

// Initialize loads cairn.yaml (if present) from configDir, merges it over
// the built-in defaults, applies CAIRN_* environment overrides, and
// returns a ready-to-use Config.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"workers", stats.Workers,
		"max_concurrent_agents", stats.MaxConcurrentAgents,
		"signal_polling", stats.SignalPollingOn)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	yamlCfg, err := loadYAMLFile(configDir)
	if err != nil {
		return nil, err
	}

	paths := DefaultPathsConfig()
	orchestrator := DefaultOrchestratorConfig()
	executor := DefaultExecutorConfig()
	signals := DefaultSignalsConfig()
	database := DefaultDatabaseConfig()
	api := DefaultAPIConfig()

	if yamlCfg.Paths != nil {
		if err := mergeOverride(paths, yamlCfg.Paths); err != nil {
			return nil, err
		}
	}
	if yamlCfg.Orchestrator != nil {
		if err := mergeOverride(orchestrator, yamlCfg.Orchestrator); err != nil {
			return nil, err
		}
	}
	if yamlCfg.Executor != nil {
		if err := mergeOverride(executor, yamlCfg.Executor); err != nil {
			return nil, err
		}
	}
	if yamlCfg.Signals != nil {
		if err := mergeOverride(signals, yamlCfg.Signals); err != nil {
			return nil, err
		}
	}
	if yamlCfg.Database != nil {
		if err := mergeOverride(database, yamlCfg.Database); err != nil {
			return nil, err
		}
	}
	if yamlCfg.API != nil {
		if err := mergeOverride(api, yamlCfg.API); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(paths, orchestrator, executor)

	return &Config{
		configDir:    configDir,
		Paths:        paths,
		Orchestrator: orchestrator,
		Executor:     executor,
		Signals:      signals,
		Database:     database,
		API:          api,
	}, nil
}

// loadYAMLFile reads cairn.yaml from configDir. A missing file is not an
// error — it just means every section uses its built-in default.
func loadYAMLFile(configDir string) (*cairnYAMLConfig, error) {
	path := filepath.Join(configDir, "cairn.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cairnYAMLConfig{}, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var cfg cairnYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &cfg, nil
}

// applyEnvOverrides applies CAIRN_ORCHESTRATOR_*, CAIRN_EXECUTOR_*, and
// CAIRN_PATHS_* environment variables over the merged configuration, the
// final pass in the precedence order: defaults < YAML < environment.
func applyEnvOverrides(paths *PathsConfig, orchestrator *OrchestratorConfig, executor *ExecutorConfig) {
	if v := os.Getenv("CAIRN_PATHS_CAIRN_HOME"); v != "" {
		paths.CairnHome = v
	}
	if v := os.Getenv("CAIRN_PATHS_STABLE_WORKSPACE"); v != "" {
		paths.StableWorkspace = v
	}

	if v, ok := envInt("CAIRN_ORCHESTRATOR_WORKER_COUNT"); ok {
		orchestrator.WorkerCount = v
	}
	if v, ok := envInt("CAIRN_ORCHESTRATOR_MAX_CONCURRENT_AGENTS"); ok {
		orchestrator.MaxConcurrentAgents = v
	}
	if v, ok := envInt("CAIRN_ORCHESTRATOR_WORKSPACE_CACHE_SIZE"); ok {
		orchestrator.WorkspaceCacheSize = v
	}
	if v, ok := envDuration("CAIRN_ORCHESTRATOR_AGENT_TIMEOUT"); ok {
		orchestrator.AgentTimeout = v
	}
	if v, ok := envInt("CAIRN_ORCHESTRATOR_MAX_QUEUE_SIZE"); ok {
		orchestrator.MaxQueueSize = v
	}

	if v, ok := envInt("CAIRN_EXECUTOR_CPU_SECONDS"); ok {
		executor.CPUSeconds = v
	}
	if v, ok := envInt("CAIRN_EXECUTOR_MEMORY_MB"); ok {
		executor.MemoryMB = v
	}
	if v, ok := envDuration("CAIRN_EXECUTOR_WALL_CLOCK_TIMEOUT"); ok {
		executor.WallClockTimeout = v
	}
	if v, ok := envInt("CAIRN_EXECUTOR_MAX_RECURSION_DEPTH"); ok {
		executor.MaxRecursionDepth = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer environment override, ignoring", "name", name, "value", raw)
		return 0, false
	}
	return v, true
}

func envDuration(name string) (time.Duration, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration environment override, ignoring", "name", name, "value", raw)
		return 0, false
	}
	return d, true
}

// validate performs basic sanity checks on loaded configuration.
func validate(cfg *Config) error {
	if cfg.Orchestrator.WorkerCount <= 0 {
		return NewValidationError("orchestrator", "worker_count", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Orchestrator.MaxConcurrentAgents <= 0 {
		return NewValidationError("orchestrator", "max_concurrent_agents", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Executor.MemoryMB <= 0 {
		return NewValidationError("executor", "memory_mb", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Executor.MaxRecursionDepth <= 0 {
		return NewValidationError("executor", "max_recursion_depth", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Orchestrator.MaxQueueSize < 0 {
		return NewValidationError("orchestrator", "max_queue_size", "", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if cfg.Paths.CairnHome == "" {
		return NewValidationError("paths", "cairn_home", "", ErrMissingRequiredField)
	}
	return nil
}
