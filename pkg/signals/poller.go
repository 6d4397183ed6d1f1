// Package signals implements the file-based command ingress of spec
// §6: JSON command envelopes dropped into cairn_home/signals/*.json
// are picked up by polling, dispatched through the orchestrator's
// SubmitCommand, and deleted. Legacy filename prefixes
// (spawn-/queue-/accept-/reject-) supply the command type — and, for
// accept/reject, the agent_id — when the JSON body omits them. The
// poll-plus-jitter loop shape is grounded on the teacher's
// pkg/queue/worker.go poll loop, generalized from DB polling to a
// directory scan.
package signals

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
)

// legacySpawn is the alias spec §6 maps to a QUEUE command at HIGH
// priority; Orchestrator.SubmitCommand itself normalizes it, so the
// poller only needs to recognize the filename prefix.
const legacySpawn orchestrator.CommandType = "spawn"

// Dispatcher is the narrow slice of *orchestrator.Orchestrator the
// poller depends on, letting tests substitute a fake.
type Dispatcher interface {
	SubmitCommand(ctx context.Context, cmd orchestrator.Command) (any, error)
}

// Poller watches a directory for *.json command files and dispatches
// each one exactly once before deleting it.
type Poller struct {
	dir      string
	dispatch Dispatcher
	interval time.Duration
}

// New builds a Poller over dir, dispatching decoded commands to
// dispatch every interval (default 500ms, matching
// config.DefaultSignalsConfig).
func New(dir string, dispatch Dispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{dir: dir, dispatch: dispatch, interval: interval}
}

// Run polls dir until ctx is cancelled. The first tick is jittered
// within one interval so that, if several orchestrator instances ever
// shared a signals directory, their scans would not lock-step.
func (p *Poller) Run(ctx context.Context) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		slog.Error("failed to create signals directory", "dir", p.dir, "error", err)
		return
	}

	jitter := time.Duration(rand.Int63n(int64(p.interval)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("signal poller shutting down")
			return
		case <-timer.C:
			p.ScanOnce()
			timer.Reset(p.interval)
		}
	}
}

// ScanOnce processes every *.json file currently in the signals
// directory once, exported so tests and a manual "drain" operator
// command can trigger a scan without waiting for the ticker.
func (p *Poller) ScanOnce() {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		slog.Error("failed to list signals directory", "dir", p.dir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		p.processFile(entry.Name())
	}
}

func (p *Poller) processFile(name string) {
	path := filepath.Join(p.dir, name)
	log := slog.With("path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("failed to read signal file", "error", err)
		return
	}

	cmd, err := parseCommand(name, data)
	if err != nil {
		log.Error("failed to parse signal file, discarding", "error", err)
		if rmErr := os.Remove(path); rmErr != nil {
			log.Error("failed to discard unparseable signal file", "error", rmErr)
		}
		return
	}

	if _, err := p.dispatch.SubmitCommand(context.Background(), cmd); err != nil {
		log.Error("signal command failed", "command_type", cmd.Type, "agent_id", cmd.AgentID, "error", err)
	}

	if err := os.Remove(path); err != nil {
		log.Error("failed to remove processed signal file", "error", err)
	}
}

// parseCommand decodes the JSON body and applies the legacy
// filename-prefix fallback: a name like "accept-agent-123.json"
// supplies type=accept and agent_id=agent-123 when the JSON body
// itself is empty or partial.
func parseCommand(filename string, data []byte) (orchestrator.Command, error) {
	var cmd orchestrator.Command
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		if err := json.Unmarshal(data, &cmd); err != nil {
			return orchestrator.Command{}, err
		}
	}

	base := strings.TrimSuffix(filename, ".json")
	prefixType, rest, ok := splitLegacyPrefix(base)
	if !ok {
		return cmd, nil
	}

	if cmd.Type == "" {
		cmd.Type = prefixType
	}
	if cmd.AgentID == "" && (prefixType == orchestrator.CommandAccept || prefixType == orchestrator.CommandReject) {
		cmd.AgentID = rest
	}

	return cmd, nil
}

var legacyPrefixes = []struct {
	prefix string
	typ    orchestrator.CommandType
}{
	{"spawn-", legacySpawn},
	{"queue-", orchestrator.CommandQueue},
	{"accept-", orchestrator.CommandAccept},
	{"reject-", orchestrator.CommandReject},
}

func splitLegacyPrefix(base string) (orchestrator.CommandType, string, bool) {
	for _, lp := range legacyPrefixes {
		if strings.HasPrefix(base, lp.prefix) {
			return lp.typ, strings.TrimPrefix(base, lp.prefix), true
		}
	}
	return "", "", false
}
