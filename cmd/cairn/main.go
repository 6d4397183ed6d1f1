// Command cairn runs the agent orchestration runtime's process
// entrypoint: it loads configuration, connects the lifecycle store,
// starts the worker loop, the signal-file ingress poller, and the thin
// HTTP command surface, then blocks until an OS signal requests a
// graceful shutdown. Grounded on the teacher's cmd/tarsy/main.go
// wiring shape (flag-selected config dir, godotenv, gin setup).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/api"
	"github.com/codeready-toolchain/cairn/pkg/codeprovider"
	"github.com/codeready-toolchain/cairn/pkg/config"
	"github.com/codeready-toolchain/cairn/pkg/lifecycle"
	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
	"github.com/codeready-toolchain/cairn/pkg/resourcelimiter"
	"github.com/codeready-toolchain/cairn/pkg/signals"
	"github.com/codeready-toolchain/cairn/pkg/version"
	"github.com/codeready-toolchain/cairn/pkg/workspace"
	"github.com/joho/godotenv"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	configureLogging()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	if err := run(*configDir); err != nil {
		slog.Error("cairn exited with error", "error", err)
		os.Exit(1)
	}
}

// configureLogging installs the process-wide slog.Logger: JSON by
// default, or a human-readable text handler when CAIRN_LOG_FORMAT=text
// (a developer watching the console), per the ambient logging stack.
func configureLogging() {
	var handler slog.Handler
	if getEnv("CAIRN_LOG_FORMAT", "json") == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func run(configDir string) error {
	slog.Info("starting cairn", "version", version.Full(), "config_dir", configDir)

	cfg, err := config.Initialize(configDir)
	if err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := lifecycle.Open(ctx, lifecycle.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open lifecycle store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("error closing lifecycle store", "error", err)
		}
	}()
	slog.Info("connected to lifecycle store", "host", cfg.Database.Host, "database", cfg.Database.Database)

	stableRoot := cfg.Paths.StableWorkspace
	if err := os.MkdirAll(stableRoot, 0o755); err != nil {
		return fmt.Errorf("prepare stable workspace directory: %w", err)
	}
	overlayRoot := filepath.Join(cfg.Paths.CairnHome, "agentfs")
	if err := os.MkdirAll(overlayRoot, 0o755); err != nil {
		return fmt.Errorf("prepare agent workspace directory: %w", err)
	}
	stagingRoot := filepath.Join(cfg.Paths.CairnHome, "workspaces")
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return fmt.Errorf("prepare review staging directory: %w", err)
	}
	wsMgr := workspace.NewManager(stableRoot, cfg.Orchestrator.WorkspaceCacheSize)

	orch := orchestrator.New(orchestrator.Config{
		WorkerCount:             cfg.Orchestrator.WorkerCount,
		MaxConcurrentAgents:     cfg.Orchestrator.MaxConcurrentAgents,
		PollInterval:            cfg.Orchestrator.PollInterval,
		PollIntervalJitter:      cfg.Orchestrator.PollIntervalJitter,
		AgentTimeout:            cfg.Orchestrator.AgentTimeout,
		GracefulShutdownTimeout: cfg.Orchestrator.GracefulShutdownTimeout,
		OrphanDetectionInterval: cfg.Orchestrator.OrphanDetectionInterval,
		OrphanThreshold:         cfg.Orchestrator.OrphanThreshold,
		ResourceLimits: resourcelimiter.Limits{
			CPUSeconds:        float64(cfg.Executor.CPUSeconds),
			MemoryMB:          int64(cfg.Executor.MemoryMB),
			WallClockTimeout:  cfg.Executor.WallClockTimeout,
			MemoryPollPeriod:  cfg.Executor.MemoryPollPeriod,
			MaxRecursionDepth: cfg.Executor.MaxRecursionDepth,
		},
	}, orchestrator.Deps{
		Store:        store,
		WorkspaceMgr: wsMgr,
		Provider:     codeprovider.Stub{},
		OverlayRoot:  overlayRoot,
		StagingRoot:  stagingRoot,
		QueueSize:    cfg.Orchestrator.MaxQueueSize,
	})

	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("orchestrator crash recovery: %w", err)
	}
	orch.Start(ctx)
	slog.Info("orchestrator started",
		"worker_count", cfg.Orchestrator.WorkerCount,
		"max_concurrent_agents", cfg.Orchestrator.MaxConcurrentAgents)

	if cfg.Signals.Enabled {
		signalsDir := filepath.Join(cfg.Paths.CairnHome, "signals")
		poller := signals.New(signalsDir, orch, cfg.Signals.PollInterval)
		go poller.Run(ctx)
		slog.Info("signal-file ingress enabled", "dir", signalsDir, "poll_interval", cfg.Signals.PollInterval)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(orch)
		go func() {
			slog.Info("HTTP command surface listening", "addr", cfg.API.Addr)
			if err := server.Start(cfg.API.Addr); err != nil {
				slog.Error("HTTP server stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, shutting down gracefully")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error shutting down HTTP server", "error", err)
		}
	}

	orch.Shutdown()
	slog.Info("cairn shut down")
	return nil
}
