// Package workspace implements the two-layer stable/agent overlay model
// of spec §4.4. It is deliberately minimal: spec §1 marks the
// underlying KV/file Workspace library itself out of scope, so this
// package supplies the one capability-limited reference implementation
// the rest of the runtime needs, generalized from the teacher's
// resource-registry idiom (pkg/queue/pool.go's guarded maps) onto a
// filesystem overlay.
package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/safety"
)

// Pair is one agent's read/write overlay atop a read-mostly stable
// workspace, as defined by spec §3/§4.4.
type Pair struct {
	mu      sync.RWMutex
	stable  string // stable workspace root
	overlay string // agent-private overlay root
}

// NewPair creates an overlay rooted at overlayDir atop stableDir. Both
// directories are created if absent.
func NewPair(stableDir, overlayDir string) (*Pair, error) {
	if err := os.MkdirAll(stableDir, 0o755); err != nil {
		return nil, cairnerrors.Fatal("WORKSPACE_INIT_FAILED", "create stable workspace", err)
	}
	if err := os.MkdirAll(overlayDir, 0o755); err != nil {
		return nil, cairnerrors.Fatal("WORKSPACE_INIT_FAILED", "create agent overlay", err)
	}
	return &Pair{stable: stableDir, overlay: overlayDir}, nil
}

// validateRelPath enforces the path policy of spec §4.6: POSIX-relative,
// no ".." components, "/" accepted as a root synonym for list-style ops.
func validateRelPath(path string, allowRoot bool) (string, error) {
	if allowRoot && (path == "" || path == "/" || path == ".") {
		return ".", nil
	}
	if filepath.IsAbs(path) {
		return "", cairnerrors.PathValidation("PATH_ABSOLUTE", "absolute paths are not permitted: "+path, nil)
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return "", cairnerrors.PathValidation("PATH_TRAVERSAL", "path escapes workspace root: "+path, nil)
		}
	}
	return clean, nil
}

// Read returns the agent overlay's content for path if present, else
// falls through to stable, else a not-found error.
func (p *Pair) Read(path string) ([]byte, error) {
	rel, err := validateRelPath(path, false)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(p.overlay, rel))
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, cairnerrors.Fatal("WORKSPACE_READ_FAILED", "read overlay file", err)
	}

	data, err = os.ReadFile(filepath.Join(p.stable, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cairnerrors.Fatal("PATH_NOT_FOUND", "path not found in overlay or stable: "+path, nil)
		}
		return nil, cairnerrors.Fatal("WORKSPACE_READ_FAILED", "read stable file", err)
	}
	return data, nil
}

// Write writes content into the agent overlay only; stable is never
// touched except during the orchestrator's accept-merge.
func (p *Pair) Write(path string, content []byte) error {
	rel, err := validateRelPath(path, false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dest := filepath.Join(p.overlay, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return cairnerrors.Fatal("WORKSPACE_WRITE_FAILED", "create overlay directory", err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return cairnerrors.Fatal("WORKSPACE_WRITE_FAILED", "write overlay file", err)
	}
	return nil
}

// Exists reports whether path is present in either layer.
func (p *Pair) Exists(path string) (bool, error) {
	rel, err := validateRelPath(path, false)
	if err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(p.overlay, rel)); err == nil {
		return true, nil
	}
	_, err = os.Stat(filepath.Join(p.stable, rel))
	return err == nil, nil
}

// ListDir unions entries of both layers at path; conflicting names take
// the agent (overlay) version.
func (p *Pair) ListDir(path string) ([]string, error) {
	rel, err := validateRelPath(path, true)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string

	add := func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if _, ok := seen[e.Name()]; ok {
				continue
			}
			seen[e.Name()] = struct{}{}
			names = append(names, e.Name())
		}
	}

	// Agent layer first so it "wins" the seen-set on name collisions.
	add(filepath.Join(p.overlay, rel))
	add(filepath.Join(p.stable, rel))

	sort.Strings(names)
	return names, nil
}

// ChangedPaths enumerates every relative path present in the agent
// overlay, used by the orchestrator's accept-merge (overlay.list_changes).
func (p *Pair) ChangedPaths() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	err := filepath.Walk(p.overlay, func(fullPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.overlay, fullPath)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, cairnerrors.Fatal("WORKSPACE_LIST_FAILED", "walk overlay", err)
	}
	sort.Strings(out)
	return out, nil
}

// SearchFiles walks the agent overlay only (never stable) and returns
// every relative path whose full slash-form matches glob, per spec
// §4.6 (search_files is overlay-only, unlike the union-scoped
// list_dir/search_content). glob follows path/filepath.Match syntax;
// a pattern without a "/" is also tried against the base name alone,
// so "*.go" matches "pkg/foo.go" the way a recursive find would.
func (p *Pair) SearchFiles(glob string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	err := filepath.Walk(p.overlay, func(fullPath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.overlay, fullPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		matched, err := filepath.Match(glob, rel)
		if err != nil {
			return cairnerrors.Security("REGEX_DANGEROUS_PATTERN", "invalid search_files glob: "+glob, err)
		}
		if !matched && !strings.Contains(glob, "/") {
			matched, _ = filepath.Match(glob, filepath.Base(rel))
		}
		if matched {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// MergeInto copies every changed overlay path into stableRoot (the
// stable workspace root) at the same relative path. On the first copy failure
// it stops and returns the failing path alongside the error, matching
// spec §4.3's accept-semantics contract (no automatic rollback).
func (p *Pair) MergeInto(stableRoot string) (failedPath string, err error) {
	changed, err := p.ChangedPaths()
	if err != nil {
		return "", err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, rel := range changed {
		src := filepath.Join(p.overlay, rel)
		dst := filepath.Join(stableRoot, rel)

		data, readErr := os.ReadFile(src)
		if readErr != nil {
			return rel, cairnerrors.Fatal("MERGE_FAILED", "read overlay source", readErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(dst), 0o755); mkErr != nil {
			return rel, cairnerrors.Fatal("MERGE_FAILED", "create stable directory", mkErr)
		}
		if writeErr := os.WriteFile(dst, data, 0o644); writeErr != nil {
			return rel, cairnerrors.Fatal("MERGE_FAILED", "write stable file", writeErr)
		}
	}

	return "", nil
}

// Materialize copies every changed overlay path into destRoot (a review
// staging directory, spec §4.3's "workspaces/{agent_id}/") so a human
// reviewer can inspect submitted files without touching stable. destRoot
// is created if absent; a prior materialization at the same path is
// wiped first so re-running SUBMITTING never leaves stale files behind.
func (p *Pair) Materialize(destRoot string) error {
	changed, err := p.ChangedPaths()
	if err != nil {
		return err
	}

	if err := os.RemoveAll(destRoot); err != nil {
		return cairnerrors.Fatal("WORKSPACE_MATERIALIZE_FAILED", "clear staging directory", err)
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return cairnerrors.Fatal("WORKSPACE_MATERIALIZE_FAILED", "create staging directory", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, rel := range changed {
		src := filepath.Join(p.overlay, rel)
		dst := filepath.Join(destRoot, rel)

		data, readErr := os.ReadFile(src)
		if readErr != nil {
			return cairnerrors.Fatal("WORKSPACE_MATERIALIZE_FAILED", "read overlay source "+rel, readErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(dst), 0o755); mkErr != nil {
			return cairnerrors.Fatal("WORKSPACE_MATERIALIZE_FAILED", "create staging directory for "+rel, mkErr)
		}
		if writeErr := os.WriteFile(dst, data, 0o644); writeErr != nil {
			return cairnerrors.Fatal("WORKSPACE_MATERIALIZE_FAILED", "write staging file "+rel, writeErr)
		}
	}

	return nil
}

// Reset discards all overlay content, returning the agent workspace to
// an empty overlay atop stable.
func (p *Pair) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := os.ReadDir(p.overlay)
	if err != nil {
		return cairnerrors.Fatal("WORKSPACE_RESET_FAILED", "read overlay root", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.overlay, e.Name())); err != nil {
			return cairnerrors.Fatal("WORKSPACE_RESET_FAILED", "remove overlay entry", err)
		}
	}
	return nil
}

// Close releases any resources held by the pair. The filesystem-backed
// implementation holds none, but Close exists so callers (and the LRU
// cache) have a uniform lifecycle hook.
func (p *Pair) Close() error {
	return nil
}

// SearchContent scans both layers for pattern using the safe regex
// engine, with agent-layer matches hiding same-path stable matches, per
// spec §4.4/§4.6.
func (p *Pair) SearchContent(engine *safety.Engine, pattern, path string) (map[string][]string, error) {
	rel, err := validateRelPath(path, true)
	if err != nil {
		return nil, err
	}

	re, err := engine.Compile(pattern)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	results := make(map[string][]string)
	seenPaths := make(map[string]bool)

	searchLayer := func(root string, isOverlay bool) error {
		return filepath.Walk(filepath.Join(root, rel), func(fullPath string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				if os.IsNotExist(walkErr) {
					return nil
				}
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			relPath, err := filepath.Rel(root, fullPath)
			if err != nil {
				return err
			}
			relPath = filepath.ToSlash(relPath)
			if isOverlay {
				// Every overlay path shadows the same stable path, whether
				// or not it matches the pattern itself (P5): existence in
				// the overlay hides stable, not a successful match there.
				seenPaths[relPath] = true
			} else if seenPaths[relPath] {
				return nil
			}

			file, err := os.Open(fullPath)
			if err != nil {
				return nil
			}
			defer file.Close()

			var matches []string
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				ok, err := engine.MatchString(re, line)
				if err != nil {
					continue // per-line timeout: skip the offending line and continue
				}
				if ok {
					matches = append(matches, line)
				}
			}
			if len(matches) > 0 {
				results[relPath] = matches
			}
			return nil
		})
	}

	if err := searchLayer(p.overlay, true); err != nil {
		return nil, cairnerrors.Fatal("WORKSPACE_SEARCH_FAILED", "search overlay", err)
	}
	if err := searchLayer(p.stable, false); err != nil {
		return nil, cairnerrors.Fatal("WORKSPACE_SEARCH_FAILED", "search stable", err)
	}

	return results, nil
}
